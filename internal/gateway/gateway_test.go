package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"deskbot/internal/domain"
)

func TestNormalize_Web(t *testing.T) {
	env, err := Normalize([]byte(`{"userId": "u1", "text": "vpn is down"}`), domain.ChannelWeb)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if env.SessionKey != "web:u1" {
		t.Fatalf("session key: %q", env.SessionKey)
	}
	if env.Body != "vpn is down" || env.Direction != domain.Inbound {
		t.Fatalf("envelope: %+v", env)
	}
	if env.CorrelationID == "" {
		t.Fatal("correlation ID not assigned")
	}
}

func TestNormalize_ChatPlatformPrefix(t *testing.T) {
	env, err := Normalize([]byte(`{"platform": "teams", "userId": "u2", "text": "hi"}`), domain.ChannelChat)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if env.SessionKey != "chat:teams:u2" {
		t.Fatalf("session key: %q", env.SessionKey)
	}
}

func TestNormalize_EmailSubjectPrepended(t *testing.T) {
	env, err := Normalize([]byte(`{"from": "Bob@Corp.example", "subject": "printer", "body": "it jams"}`), domain.ChannelEmail)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if env.SessionKey != "email:bob@corp.example" {
		t.Fatalf("session key should lowercase the address: %q", env.SessionKey)
	}
	if env.Body != "printer\nit jams" {
		t.Fatalf("body: %q", env.Body)
	}
}

func TestNormalize_APISessionKeyPassthrough(t *testing.T) {
	env, err := Normalize([]byte(`{"sessionKey": "web:u9", "content": "still broken"}`), domain.ChannelAPI)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if env.SessionKey != "web:u9" {
		t.Fatalf("session key: %q", env.SessionKey)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ch   domain.Channel
	}{
		{"invalid json", `{not json`, domain.ChannelWeb},
		{"missing text", `{"userId": "u1"}`, domain.ChannelWeb},
		{"missing user", `{"text": "hello"}`, domain.ChannelWeb},
		{"blank text", `{"userId": "u1", "text": "   "}`, domain.ChannelWeb},
		{"email without from", `{"body": "hello"}`, domain.ChannelEmail},
		{"api without identity", `{"content": "hello"}`, domain.ChannelAPI},
		{"unknown channel", `{"userId": "u1", "text": "x"}`, domain.Channel("carrier-pigeon")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.raw), tc.ch)
			if !errors.Is(err, domain.ErrMalformedInput) {
				t.Fatalf("expected ErrMalformedInput, got %v", err)
			}
		})
	}
}

func TestRender_PerChannelShapes(t *testing.T) {
	out := domain.Envelope{
		Channel:       domain.ChannelEmail,
		SessionKey:    "email:bob@corp.example",
		Direction:     domain.Outbound,
		Body:          "try turning it off and on",
		CorrelationID: "c-9",
	}

	raw, err := Render(out, domain.ChannelEmail)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["to"] != "bob@corp.example" {
		t.Fatalf("email to: %q", m["to"])
	}
	if !strings.HasPrefix(m["subject"], "Re:") {
		t.Fatalf("email subject: %q", m["subject"])
	}

	raw, err = Render(out, domain.ChannelWeb)
	if err != nil {
		t.Fatalf("render web: %v", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if m["text"] != out.Body || m["correlationId"] != "c-9" {
		t.Fatalf("web shape: %v", m)
	}
}
