package mooli

import (
	"context"
	"errors"
	"io"

	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/document"
)

// ProxyMiddleware turns a remote EndpointSet into a local Service.
func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return nil
}

func (mw *proxyMiddleware) Chat(ctx context.Context, message string) (string, error) {
	resp, err := mw.endpoints.Chat(ctx, ChatRequest{Message: message})
	if err != nil {
		return "", err
	}

	answer, ok := resp.(ChatResponse)
	if !ok {
		return "", errors.New("invalid response type")
	}

	return answer.Message, nil
}

func (mw *proxyMiddleware) Upload(ctx context.Context, name string, r io.Reader) (*Receipt, error) {
	if mw.endpoints.Upload == nil {
		return nil, ErrNotSupported
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	resp, err := mw.endpoints.Upload(ctx, UploadRequest{Name: name, Data: data})
	if err != nil {
		return nil, err
	}

	return receipt(resp)
}

func (mw *proxyMiddleware) Ingest(ctx context.Context, ref document.Ref, index string) (*Receipt, error) {
	resp, err := mw.endpoints.Ingest(ctx, IngestRequest{Document: ref, Index: index})
	if err != nil {
		return nil, err
	}

	return receipt(resp)
}

func (mw *proxyMiddleware) Receive(ctx context.Context, platform channel.Platform, raw []byte) (*Receipt, error) {
	resp, err := mw.endpoints.Receive(ctx, ReceiveRequest{Platform: platform, Payload: raw})
	if err != nil {
		return nil, err
	}

	return receipt(resp)
}

func (mw *proxyMiddleware) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	resp, err := mw.endpoints.TaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}

	status, ok := resp.(*TaskStatus)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return status, nil
}

func receipt(resp any) (*Receipt, error) {
	r, ok := resp.(*Receipt)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return r, nil
}
