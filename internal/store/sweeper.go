package store

import (
	"context"
	"log/slog"
	"time"

	"deskbot/internal/bus"
	"deskbot/internal/metrics"
)

// Sweeper evicts expired sessions on a fixed interval. The sweep is
// idempotent: already-expired sessions are never touched again.
type Sweeper struct {
	store    Store
	interval time.Duration
	events   *bus.EventBus
	logger   *slog.Logger
}

func NewSweeper(s Store, interval time.Duration, events *bus.EventBus, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: s, interval: interval, events: events, logger: logger}
}

// Run sweeps until the context is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("session TTL sweeper started", "interval", sw.interval)
	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("session TTL sweeper stopping")
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	evicted, err := sw.store.EvictExpired(ctx, time.Now())
	if err != nil {
		sw.logger.Error("TTL sweep failed", "error", err)
		return
	}
	if evicted == 0 {
		return
	}
	metrics.SessionsExpired.Add(evicted)
	if sw.events != nil {
		sw.events.EmitAsync(bus.Event{
			Type:    bus.EventSessionExpired,
			Source:  "sweeper",
			Payload: map[string]any{"count": evicted},
		})
	}
}
