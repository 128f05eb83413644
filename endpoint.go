package mooli

import (
	"bytes"
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/document"
)

type EndpointSet struct {
	Chat       endpoint.Endpoint
	Upload     endpoint.Endpoint
	Ingest     endpoint.Endpoint
	Receive    endpoint.Endpoint
	TaskStatus endpoint.Endpoint
}

func MakeEndpoints(svc Service) EndpointSet {
	return EndpointSet{
		Chat:       ChatEndpoint(svc),
		Upload:     UploadEndpoint(svc),
		Ingest:     IngestEndpoint(svc),
		Receive:    ReceiveEndpoint(svc),
		TaskStatus: TaskStatusEndpoint(svc),
	}
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Message string `json:"message"`
}

func ChatEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ChatRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		answer, err := svc.Chat(ctx, req.Message)
		if err != nil {
			return nil, err
		}

		return ChatResponse{Message: answer}, nil
	}
}

type UploadRequest struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

func UploadEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(UploadRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Upload(ctx, req.Name, bytes.NewReader(req.Data))
	}
}

type IngestRequest struct {
	Document document.Ref `json:"document"`
	Index    string       `json:"index,omitempty"`
}

func IngestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(IngestRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Ingest(ctx, req.Document, req.Index)
	}
}

type ReceiveRequest struct {
	Platform channel.Platform `json:"platform"`
	Payload  []byte           `json:"payload"`
}

func ReceiveEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ReceiveRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Receive(ctx, req.Platform, req.Payload)
	}
}

func TaskStatusEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		taskID, ok := request.(string)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.TaskStatus(ctx, taskID)
	}
}
