package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

type SlackConfig struct {
	BotToken      string `yaml:"botToken"`
	SigningSecret string `yaml:"signingSecret"`
	APIURL        string `yaml:"apiURL"`
}

type Slack struct {
	api           *slack.Client
	signingSecret string
}

func NewSlack(cfg SlackConfig) *Slack {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}

	return &Slack{
		api:           slack.New(cfg.BotToken, opts...),
		signingSecret: cfg.SigningSecret,
	}
}

func (s *Slack) Platform() Platform {
	return PlatformSlack
}

// Verify checks the request signature. Without a signing secret every
// request passes.
func (s *Slack) Verify(header http.Header, body []byte) error {
	if s.signingSecret == "" {
		return nil
	}

	sv, err := slack.NewSecretsVerifier(header, s.signingSecret)
	if err != nil {
		return err
	}

	if _, err := sv.Write(body); err != nil {
		return err
	}

	return sv.Ensure()
}

// Challenge returns the challenge of a url_verification payload.
func (s *Slack) Challenge(raw []byte) (string, bool) {
	event, err := slackevents.ParseEvent(json.RawMessage(raw), slackevents.OptionNoVerifyToken())
	if err != nil || event.Type != slackevents.URLVerification {
		return "", false
	}

	data, ok := event.Data.(*slackevents.EventsAPIURLVerificationEvent)
	if !ok {
		return "", false
	}

	return data.Challenge, true
}

type slackTarget struct {
	Channel string `json:"channel"`
}

func (s *Slack) Normalize(raw []byte) (Message, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(raw), slackevents.OptionNoVerifyToken())
	if err != nil {
		return Message{}, reject(err.Error())
	}

	if event.Type != slackevents.CallbackEvent {
		return Message{}, reject("unsupported event type " + event.Type)
	}

	var eventID string
	if cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}

	var user, text, channel, ts string
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType == "bot_message" {
			return Message{}, reject("bot message")
		}

		if ev.SubType != "" {
			return Message{}, reject("message subtype " + ev.SubType)
		}

		user, text, channel, ts = ev.User, ev.Text, ev.Channel, ev.TimeStamp

	case *slackevents.AppMentionEvent:
		if ev.BotID != "" {
			return Message{}, reject("bot message")
		}

		user, text, channel, ts = ev.User, ev.Text, ev.Channel, ev.TimeStamp

	default:
		return Message{}, reject("unsupported inner event " + event.InnerEvent.Type)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, reject("missing text")
	}

	if user == "" {
		return Message{}, reject("missing user")
	}

	if channel == "" {
		return Message{}, reject("missing channel")
	}

	// A mention arrives both as message and app_mention with different event
	// ids, so the posted message itself identifies the request.
	id := eventID
	if ts != "" {
		id = channel + ":" + ts
	}

	target, err := json.Marshal(slackTarget{Channel: channel})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Platform: PlatformSlack,
		ID:       id,
		Text:     text,
		Sender:   user,
		Target:   target,
	}, nil
}

func (s *Slack) Deliver(ctx context.Context, target json.RawMessage, text string) error {
	var t slackTarget
	if err := json.Unmarshal(target, &t); err != nil {
		return deliveryFailure(err)
	}

	if t.Channel == "" {
		return deliveryFailure(errors.New("missing channel"))
	}

	_, _, err := s.api.PostMessageContext(ctx, t.Channel, slack.MsgOptionText(text, false))
	if err != nil {
		return deliveryFailure(err)
	}

	return nil
}
