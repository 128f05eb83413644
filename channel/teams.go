package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultTeamsTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	DefaultTeamsScope    = "https://api.botframework.com/.default"
)

type TeamsConfig struct {
	AppID       string `yaml:"appID"`
	AppPassword string `yaml:"appPassword"`
	TokenURL    string `yaml:"tokenURL"`
}

type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Conversation struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// Activity holds the Bot Framework activity fields used here.
type Activity struct {
	Type         string        `json:"type"`
	ID           string        `json:"id,omitempty"`
	ServiceURL   string        `json:"serviceUrl,omitempty"`
	ChannelID    string        `json:"channelId,omitempty"`
	From         *Account      `json:"from,omitempty"`
	Recipient    *Account      `json:"recipient,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Text         string        `json:"text,omitempty"`
	ReplyToID    string        `json:"replyToId,omitempty"`
}

// ConversationReference addresses a proactive reply. It can only be
// captured from an inbound activity.
type ConversationReference struct {
	ActivityID   string       `json:"activityId,omitempty"`
	User         Account      `json:"user"`
	Bot          Account      `json:"bot"`
	Conversation Conversation `json:"conversation"`
	ChannelID    string       `json:"channelId"`
	ServiceURL   string       `json:"serviceUrl"`
}

type Teams struct {
	client *http.Client
}

func NewTeams(ctx context.Context, cfg TeamsConfig) *Teams {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTeamsTokenURL
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppPassword,
		TokenURL:     tokenURL,
		Scopes:       []string{DefaultTeamsScope},
	}

	base := &http.Client{Timeout: 30 * time.Second}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	client := cc.Client(ctx)
	client.Timeout = 30 * time.Second

	return &Teams{client: client}
}

func (t *Teams) Platform() Platform {
	return PlatformTeams
}

func (t *Teams) Normalize(raw []byte) (Message, error) {
	var a Activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return Message{}, reject(err.Error())
	}

	if a.Type != "message" {
		return Message{}, reject("unsupported activity type " + a.Type)
	}

	text := strings.TrimSpace(a.Text)
	if text == "" {
		return Message{}, reject("missing text")
	}

	if a.From == nil || a.From.ID == "" {
		return Message{}, reject("missing sender")
	}

	if a.Conversation == nil || a.Conversation.ID == "" {
		return Message{}, reject("missing conversation.id")
	}

	if a.ServiceURL == "" {
		return Message{}, reject("missing serviceUrl")
	}

	ref := ConversationReference{
		ActivityID:   a.ID,
		User:         *a.From,
		Conversation: *a.Conversation,
		ChannelID:    a.ChannelID,
		ServiceURL:   a.ServiceURL,
	}

	if a.Recipient != nil {
		ref.Bot = *a.Recipient
	}

	target, err := json.Marshal(ref)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Platform: PlatformTeams,
		ID:       a.ID,
		Text:     text,
		Sender:   a.From.ID,
		Target:   target,
	}, nil
}

// Deliver posts a proactive message into the referenced conversation.
func (t *Teams) Deliver(ctx context.Context, target json.RawMessage, text string) error {
	var ref ConversationReference
	if err := json.Unmarshal(target, &ref); err != nil {
		return deliveryFailure(err)
	}

	if ref.Conversation.ID == "" {
		return deliveryFailure(errors.New("missing conversation.id"))
	}

	base, err := url.Parse(ref.ServiceURL)
	if err != nil || base.Host == "" {
		return deliveryFailure(fmt.Errorf("invalid serviceUrl %q", ref.ServiceURL))
	}

	endpoint := strings.TrimSuffix(ref.ServiceURL, "/") +
		"/v3/conversations/" + url.PathEscape(ref.Conversation.ID) + "/activities"

	bot := ref.Bot
	user := ref.User
	conversation := ref.Conversation

	body, err := json.Marshal(Activity{
		Type:         "message",
		From:         &bot,
		Recipient:    &user,
		Conversation: &conversation,
		ChannelID:    ref.ChannelID,
		Text:         text,
		ReplyToID:    ref.ActivityID,
	})
	if err != nil {
		return deliveryFailure(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return deliveryFailure(err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return deliveryFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return deliveryFailure(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	return nil
}
