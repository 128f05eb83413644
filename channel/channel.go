// Package channel normalizes inbound chat platform payloads and delivers
// answers back to the conversation they came from.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrReject          = errors.New("message rejected")
	ErrDeliveryFailure = errors.New("delivery failed")
	ErrUnknownPlatform = errors.New("unknown platform")
)

// FallbackMessage answers inbound payloads that cannot be turned into a
// question.
const FallbackMessage = "Sorry, I could not read that message. Please send your question as plain text."

type Platform string

const (
	PlatformSlack Platform = "slack"
	PlatformTeams Platform = "teams"
	PlatformWeb   Platform = "web"
)

// Message is a normalized inbound message. Target is the opaque reply
// address, consumed once by Deliver.
type Message struct {
	Platform Platform        `json:"platform"`
	ID       string          `json:"id,omitempty"`
	Text     string          `json:"text"`
	Sender   string          `json:"sender"`
	Target   json.RawMessage `json:"target,omitempty"`
}

type Adapter interface {
	Platform() Platform
	Normalize(raw []byte) (Message, error)
	Deliver(ctx context.Context, target json.RawMessage, text string) error
}

const DefaultDeliverTimeout = 30 * time.Second

type Config struct {
	Slack          SlackConfig   `yaml:"slack"`
	Teams          TeamsConfig   `yaml:"teams"`
	DeliverTimeout time.Duration `yaml:"deliverTimeout"`
}

type Adapters struct {
	Slack *Slack
	Teams *Teams
	Web   *Web
}

func (a Adapters) Lookup(p Platform) (Adapter, error) {
	switch p {
	case PlatformSlack:
		if a.Slack != nil {
			return a.Slack, nil
		}

	case PlatformTeams:
		if a.Teams != nil {
			return a.Teams, nil
		}

	case PlatformWeb:
		if a.Web != nil {
			return a.Web, nil
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}

	return nil, fmt.Errorf("%w: %s is not configured", ErrUnknownPlatform, p)
}

func reject(reason string) error {
	return fmt.Errorf("%w: %s", ErrReject, reason)
}

func deliveryFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
}
