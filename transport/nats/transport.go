package nats

import (
	"context"
	"encoding/json"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/mooli"
)

func ChatHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req mooli.ChatRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error(codeInvalidRequest, err.Error(), nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(ErrorCode(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

func IngestHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req mooli.IngestRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error(codeInvalidRequest, err.Error(), nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(ErrorCode(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

func ReceiveHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req mooli.ReceiveRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error(codeInvalidRequest, err.Error(), nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, req)
		if err != nil {
			r.Error(ErrorCode(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

func TaskStatusHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		taskID := string(r.Data())
		if taskID == "" {
			r.Error(codeNotFound, "task id is required", nil)
			return
		}

		ctx := context.Background()
		resp, err := endpoint(ctx, taskID)
		if err != nil {
			r.Error(ErrorCode(err), err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}
