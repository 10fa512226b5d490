// Package gateway translates channel-specific payloads into canonical
// envelopes and back. It is a pure translation boundary: no state, no
// delivery, and malformed input never reaches the dialog manager.
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deskbot/internal/domain"

	"github.com/google/uuid"
)

// webPayload is what the web widget posts.
type webPayload struct {
	UserID      string   `json:"userId"`
	Text        string   `json:"text"`
	Attachments [][]byte `json:"attachments,omitempty"`
}

// chatPayload is the normalized shape chat-platform connectors post.
type chatPayload struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channelId,omitempty"`
	UserID    string `json:"userId"`
	Text      string `json:"text"`
}

// emailPayload is produced by the email polling connector.
type emailPayload struct {
	From    string `json:"from"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// apiPayload is the direct API ingress shape.
type apiPayload struct {
	SessionKey string `json:"sessionKey,omitempty"`
	UserID     string `json:"userId"`
	Content    string `json:"content"`
}

// Normalize parses a raw inbound event for the given channel into a
// canonical envelope. Returns domain.ErrMalformedInput when the event cannot
// be parsed or lacks required fields.
func Normalize(raw []byte, ch domain.Channel) (domain.Envelope, error) {
	if !ch.Valid() {
		return domain.Envelope{}, fmt.Errorf("%w: unknown channel %q", domain.ErrMalformedInput, ch)
	}

	env := domain.Envelope{
		Channel:       ch,
		Direction:     domain.Inbound,
		Timestamp:     time.Now(),
		CorrelationID: uuid.NewString(),
	}

	switch ch {
	case domain.ChannelWeb:
		var p webPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return domain.Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}
		if p.UserID == "" || strings.TrimSpace(p.Text) == "" {
			return domain.Envelope{}, fmt.Errorf("%w: web event requires userId and text", domain.ErrMalformedInput)
		}
		env.SessionKey = sessionKey(ch, p.UserID)
		env.Body = p.Text
		env.Attachments = p.Attachments

	case domain.ChannelChat:
		var p chatPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return domain.Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}
		if p.UserID == "" || strings.TrimSpace(p.Text) == "" {
			return domain.Envelope{}, fmt.Errorf("%w: chat event requires userId and text", domain.ErrMalformedInput)
		}
		user := p.UserID
		if p.Platform != "" {
			user = p.Platform + ":" + p.UserID
		}
		env.SessionKey = sessionKey(ch, user)
		env.Body = p.Text

	case domain.ChannelEmail:
		var p emailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return domain.Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}
		if p.From == "" || strings.TrimSpace(p.Body) == "" {
			return domain.Envelope{}, fmt.Errorf("%w: email event requires from and body", domain.ErrMalformedInput)
		}
		env.SessionKey = sessionKey(ch, strings.ToLower(p.From))
		if p.Subject != "" {
			env.Body = p.Subject + "\n" + p.Body
		} else {
			env.Body = p.Body
		}

	case domain.ChannelAPI:
		var p apiPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return domain.Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}
		if strings.TrimSpace(p.Content) == "" {
			return domain.Envelope{}, fmt.Errorf("%w: api event requires content", domain.ErrMalformedInput)
		}
		switch {
		case p.SessionKey != "":
			env.SessionKey = p.SessionKey
		case p.UserID != "":
			env.SessionKey = sessionKey(ch, p.UserID)
		default:
			return domain.Envelope{}, fmt.Errorf("%w: api event requires sessionKey or userId", domain.ErrMalformedInput)
		}
		env.Body = p.Content
	}

	return env, nil
}

// Render converts an outbound envelope into the channel-specific response
// payload.
func Render(env domain.Envelope, ch domain.Channel) ([]byte, error) {
	switch ch {
	case domain.ChannelWeb:
		return json.Marshal(map[string]string{
			"text":          env.Body,
			"correlationId": env.CorrelationID,
		})
	case domain.ChannelChat:
		return json.Marshal(map[string]string{
			"sessionKey": env.SessionKey,
			"text":       env.Body,
		})
	case domain.ChannelEmail:
		return json.Marshal(map[string]string{
			"to":      strings.TrimPrefix(env.SessionKey, string(domain.ChannelEmail)+":"),
			"subject": "Re: your support request",
			"body":    env.Body,
		})
	case domain.ChannelAPI:
		return json.Marshal(map[string]string{
			"sessionKey":    env.SessionKey,
			"content":       env.Body,
			"correlationId": env.CorrelationID,
		})
	}
	return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrMalformedInput, ch)
}

func sessionKey(ch domain.Channel, user string) string {
	return fmt.Sprintf("%s:%s", ch, user)
}
