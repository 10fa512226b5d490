package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"deskbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openStores returns both implementations so every test runs against each.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), testLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func sampleSession(key string) *domain.Session {
	sess := domain.NewSession(key, 30*time.Minute)
	sess.Context["device"] = "laptop"
	sess.Append(domain.TranscriptEntry{
		Direction:     domain.Inbound,
		Body:          "my vpn is broken",
		CorrelationID: "c-1",
		Timestamp:     time.Now(),
	}, 50)
	sess.ConsecutiveNoMatch = 1
	sess.LastSentiment = -0.2
	return sess
}

func TestPutGet_RoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := sampleSession("web:u1")

			if err := s.Put(ctx, in); err != nil {
				t.Fatalf("put: %v", err)
			}
			if in.Version != 1 {
				t.Fatalf("insert should set version 1, got %d", in.Version)
			}

			out, err := s.Get(ctx, "web:u1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if out == nil {
				t.Fatal("session not found after put")
			}
			if out.State != in.State || out.ConsecutiveNoMatch != in.ConsecutiveNoMatch ||
				out.LastSentiment != in.LastSentiment || out.Version != in.Version {
				t.Fatalf("scalar fields differ: %+v vs %+v", out, in)
			}
			if !reflect.DeepEqual(out.Context, in.Context) {
				t.Fatalf("context differs: %v vs %v", out.Context, in.Context)
			}
			if len(out.Transcript) != 1 || out.Transcript[0].Body != "my vpn is broken" {
				t.Fatalf("transcript differs: %+v", out.Transcript)
			}
		})
	}
}

func TestGet_Missing(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			out, err := s.Get(context.Background(), "nope")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if out != nil {
				t.Fatal("expected nil for missing session")
			}
		})
	}
}

func TestPut_VersionConflict(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := sampleSession("chat:u2")
			if err := s.Put(ctx, sess); err != nil {
				t.Fatalf("insert: %v", err)
			}

			// A second writer read the same version and wrote first.
			racer, _ := s.Get(ctx, "chat:u2")
			if err := s.Put(ctx, racer); err != nil {
				t.Fatalf("racer put: %v", err)
			}

			sess.State = domain.StateResponding
			err := s.Put(ctx, sess)
			if !errors.Is(err, domain.ErrVersionConflict) {
				t.Fatalf("expected ErrVersionConflict, got %v", err)
			}
		})
	}
}

func TestPut_DuplicateInsertConflicts(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, sampleSession("api:u3")); err != nil {
				t.Fatalf("insert: %v", err)
			}
			err := s.Put(ctx, sampleSession("api:u3"))
			if !errors.Is(err, domain.ErrVersionConflict) {
				t.Fatalf("expected conflict on duplicate insert, got %v", err)
			}
		})
	}
}

func TestEvictExpired(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			stale := domain.NewSession("web:stale", -time.Minute) // already past expiry
			fresh := domain.NewSession("web:fresh", time.Hour)
			closed := domain.NewSession("web:closed", -time.Minute)
			closed.State = domain.StateClosed

			for _, sess := range []*domain.Session{stale, fresh, closed} {
				if err := s.Put(ctx, sess); err != nil {
					t.Fatalf("put %s: %v", sess.Key, err)
				}
			}

			evicted, err := s.EvictExpired(ctx, time.Now())
			if err != nil {
				t.Fatalf("evict: %v", err)
			}
			if evicted != 1 {
				t.Fatalf("expected 1 eviction, got %d", evicted)
			}

			got, _ := s.Get(ctx, "web:stale")
			if got.State != domain.StateExpired {
				t.Fatalf("stale session not expired: %v", got.State)
			}
			if !got.State.Terminal() {
				t.Fatal("expired must be terminal")
			}

			// Idempotent: a second sweep finds nothing.
			evicted, err = s.EvictExpired(ctx, time.Now())
			if err != nil || evicted != 0 {
				t.Fatalf("second sweep: evicted=%d err=%v", evicted, err)
			}

			got, _ = s.Get(ctx, "web:fresh")
			if got.State != domain.StateIdle {
				t.Fatalf("fresh session touched by sweep: %v", got.State)
			}
		})
	}
}

func TestTranscriptRetention(t *testing.T) {
	sess := domain.NewSession("web:u4", time.Hour)
	for i := 0; i < 10; i++ {
		sess.Append(domain.TranscriptEntry{Body: string(rune('a' + i))}, 5)
	}
	if len(sess.Transcript) != 5 {
		t.Fatalf("retention not applied: %d entries", len(sess.Transcript))
	}
	if sess.Transcript[0].Body != "f" {
		t.Fatalf("oldest entries should be trimmed, first is %q", sess.Transcript[0].Body)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sess := sampleSession("web:u5")
	if err := s.Put(ctx, sess); err != nil {
		t.Fatal(err)
	}

	a, _ := s.Get(ctx, "web:u5")
	a.Context["device"] = "mutated"

	b, _ := s.Get(ctx, "web:u5")
	if b.Context["device"] != "laptop" {
		t.Fatal("store returned shared state")
	}
}
