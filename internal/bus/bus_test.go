package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"deskbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	b.Publish(domain.Envelope{Channel: domain.ChannelWeb, SessionKey: "web:u1", Body: "hello"})

	select {
	case env := <-b.Subscribe():
		if env.SessionKey != "web:u1" {
			t.Fatalf("wrong session key: %q", env.SessionKey)
		}
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestSendOutbound_RoutesToChannelHandler(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	var mu sync.Mutex
	var got []string
	b.OnOutbound(domain.ChannelWeb, func(env domain.Envelope) {
		mu.Lock()
		got = append(got, env.Body)
		mu.Unlock()
	})

	b.SendOutbound(domain.Envelope{Channel: domain.ChannelWeb, Body: "answer"})
	b.SendOutbound(domain.Envelope{Channel: domain.ChannelEmail, Body: "ignored"}) // no handler

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "answer" {
		t.Fatalf("expected one web delivery, got %v", got)
	}
}

func TestPublishAfterClose_DoesNotPanic(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Publish(domain.Envelope{Channel: domain.ChannelAPI}) // should be a no-op
}

func TestEventBus_EmitAndWildcard(t *testing.T) {
	eb := NewEventBus(testLogger())

	var specific, wildcard int
	eb.On(EventBreakerOpened, func(Event) { specific++ })
	eb.On("*", func(Event) { wildcard++ })

	eb.Emit(Event{Type: EventBreakerOpened, Source: "classifier"})
	eb.Emit(Event{Type: EventBreakerClosed, Source: "classifier"})

	if specific != 1 {
		t.Fatalf("specific handler called %d times, want 1", specific)
	}
	if wildcard != 2 {
		t.Fatalf("wildcard handler called %d times, want 2", wildcard)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testLogger())
	start := time.Now().Add(-time.Second)

	eb.Emit(Event{Type: EventHandoffRequested, Source: "web:u1"})
	eb.Emit(Event{Type: EventHandoffDelivered, Source: "web:u1"})

	all := eb.Replay("*", start)
	if len(all) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(all))
	}
	only := eb.Replay(EventHandoffDelivered, start)
	if len(only) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(only))
	}
}

func TestEventBus_HandlerPanicIsRecovered(t *testing.T) {
	eb := NewEventBus(testLogger())
	eb.On(EventSessionExpired, func(Event) { panic("boom") })

	var after bool
	eb.On(EventSessionExpired, func(Event) { after = true })

	eb.Emit(Event{Type: EventSessionExpired})
	if !after {
		t.Fatal("handler after panicking one was not called")
	}
}
