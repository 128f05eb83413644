package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/mooli"
	"github.com/flarexio/mooli/document"
	"github.com/flarexio/mooli/pipeline"
)

// ChatTimeout bounds a remote answer, which includes a completion call.
const ChatTimeout = 2 * time.Minute

// MakeEndpoints builds client endpoints for a Mooli served under prefix.
// Uploads carry file bodies and are not offered over NATS.
func MakeEndpoints(nc *nats.Conn, prefix string) *mooli.EndpointSet {
	return &mooli.EndpointSet{
		Chat:       ChatEndpoint(nc, prefix+".chat"),
		Ingest:     IngestEndpoint(nc, prefix+".ingest"),
		Receive:    ReceiveEndpoint(nc, prefix+".receive"),
		TaskStatus: TaskStatusEndpoint(nc, prefix+".task_status"),
	}
}

func requestMsg(ctx context.Context, nc *nats.Conn, topic string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(ctx, topic, data)
	if err != nil {
		return nil, err
	}

	if err := Error(msg); err != nil {
		return nil, err
	}

	return msg, nil
}

func ChatEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(mooli.ChatRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		msg, err := requestMsg(ctx, nc, topic, data, ChatTimeout)
		if err != nil {
			return nil, err
		}

		var resp mooli.ChatResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return nil, err
		}

		return resp, nil
	}
}

func IngestEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(mooli.IngestRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		msg, err := requestMsg(ctx, nc, topic, data, nats.DefaultTimeout)
		if err != nil {
			return nil, err
		}

		var receipt mooli.Receipt
		if err := json.Unmarshal(msg.Data, &receipt); err != nil {
			return nil, err
		}

		return &receipt, nil
	}
}

func ReceiveEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(mooli.ReceiveRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		msg, err := requestMsg(ctx, nc, topic, data, nats.DefaultTimeout)
		if err != nil {
			return nil, err
		}

		var receipt mooli.Receipt
		if err := json.Unmarshal(msg.Data, &receipt); err != nil {
			return nil, err
		}

		return &receipt, nil
	}
}

func TaskStatusEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		taskID, ok := request.(string)
		if !ok {
			return nil, errors.New("invalid request")
		}

		msg, err := requestMsg(ctx, nc, topic, []byte(taskID), nats.DefaultTimeout)
		if err != nil {
			return nil, err
		}

		var status mooli.TaskStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			return nil, err
		}

		return &status, nil
	}
}

const (
	codeInvalidRequest    = "400"
	codeNotFound          = "404"
	codeUnsupportedFormat = "415"
	codeFailed            = "417"
	codeNotSupported      = "501"
)

// ErrorCode maps a service error onto a micro error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, mooli.ErrInvalidTaskID):
		return codeNotFound

	case errors.Is(err, mooli.ErrInvalidRequest), errors.Is(err, pipeline.ErrEmptyQuery):
		return codeInvalidRequest

	case errors.Is(err, document.ErrUnsupportedFormat):
		return codeUnsupportedFormat

	case errors.Is(err, mooli.ErrNotSupported):
		return codeNotSupported

	default:
		return codeFailed
	}
}

// Error restores the service error carried by a micro error response.
func Error(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	var sentinel error
	switch code {
	case codeNotFound:
		sentinel = mooli.ErrInvalidTaskID

	case codeInvalidRequest:
		sentinel = mooli.ErrInvalidRequest

	case codeUnsupportedFormat:
		sentinel = document.ErrUnsupportedFormat

	case codeNotSupported:
		sentinel = mooli.ErrNotSupported

	default:
		return errors.New(code + ":" + description)
	}

	return fmt.Errorf("%w: %s", sentinel, description)
}
