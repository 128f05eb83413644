package channel

import (
	"context"
	"encoding/json"
	"strings"
)

// Web serves the synchronous chat UI: the reply is the HTTP response
// itself, so delivery has nothing to do.
type Web struct{}

func NewWeb() *Web {
	return &Web{}
}

func (w *Web) Platform() Platform {
	return PlatformWeb
}

func (w *Web) Normalize(raw []byte) (Message, error) {
	var req struct {
		Message string `json:"message"`
		Sender  string `json:"sender"`
	}

	if err := json.Unmarshal(raw, &req); err != nil {
		return Message{}, reject(err.Error())
	}

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return Message{}, reject("missing message")
	}

	sender := req.Sender
	if sender == "" {
		sender = "web"
	}

	return Message{
		Platform: PlatformWeb,
		Text:     text,
		Sender:   sender,
	}, nil
}

func (w *Web) Deliver(ctx context.Context, target json.RawMessage, text string) error {
	return nil
}
