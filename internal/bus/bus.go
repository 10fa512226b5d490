package bus

import (
	"log/slog"
	"sync"
	"time"

	"deskbot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based envelope bus for in-process communication
// between channel gateways and the orchestrator.
type InMemoryBus struct {
	inbound  chan domain.Envelope
	handlers map[domain.Channel]func(domain.Envelope)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.Envelope, bufferSize),
		handlers: make(map[domain.Channel]func(domain.Envelope)),
		logger:   logger,
	}
}

// Publish enqueues an inbound envelope. Blocks up to 10 seconds if the bus
// is full instead of dropping.
func (b *InMemoryBus) Publish(env domain.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- env:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", env.Channel, "session", env.SessionKey)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- env:
			b.logger.Info("envelope delivered after wait", "channel", env.Channel)
		case <-timer.C:
			b.logger.Error("envelope dropped: bus full for 10s",
				"channel", env.Channel,
				"session", env.SessionKey,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Envelope {
	return b.inbound
}

func (b *InMemoryBus) SendOutbound(env domain.Envelope) {
	b.mu.RLock()
	handler, ok := b.handlers[env.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel",
			"channel", env.Channel,
		)
		return
	}

	handler(env)
}

func (b *InMemoryBus) OnOutbound(channel domain.Channel, handler func(domain.Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
