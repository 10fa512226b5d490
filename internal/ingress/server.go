// Package ingress exposes the HTTP surface: channel message intake with
// signature verification, plus health and metrics endpoints. It is a thin
// shell around the gateway and the orchestrator; all conversation logic
// stays behind the dispatch functions it is constructed with.
package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"deskbot/internal/domain"
	"deskbot/internal/gateway"
	"deskbot/internal/metrics"
)

const (
	maxBodySize = 1 << 20 // 1MB
	syncTimeout = 30 * time.Second
)

// DispatchFunc queues an envelope for asynchronous processing.
type DispatchFunc func(env domain.Envelope) error

// SyncFunc processes an envelope and waits for its response.
type SyncFunc func(ctx context.Context, env domain.Envelope) (domain.Envelope, error)

// HealthFunc reports per-dependency breaker states for the health endpoint.
type HealthFunc func() map[string]string

// ServerConfig configures the ingress HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	Secret          string // HMAC secret for X-Signature-256; empty disables verification
	Dispatch        DispatchFunc
	Sync            SyncFunc
	Health          HealthFunc
	MetricsEnabled  bool
	MetricsEndpoint string
	Logger          *slog.Logger
}

// Server accepts channel messages over HTTP.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MetricsEndpoint == "" {
		cfg.MetricsEndpoint = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/channels/{channel}/messages", s.handleMessage)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.MetricsEnabled {
		mux.HandleFunc("GET "+s.cfg.MetricsEndpoint, metrics.Collector.Handler())
	}
	return mux
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.routes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("ingress server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("ingress server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("ingress server: %w", err)
	}
}

// handleMessage accepts one raw channel event. The default mode queues the
// turn and answers 202; ?wait=true holds the request open for the response.
func (s *Server) handleMessage(rw http.ResponseWriter, r *http.Request) {
	ch := domain.Channel(r.PathValue("channel"))
	if !ch.Valid() {
		writeError(rw, http.StatusNotFound, "unknown channel")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "unreadable body")
		return
	}
	defer r.Body.Close()

	if s.cfg.Secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			writeError(rw, http.StatusUnauthorized, "missing signature")
			return
		}
		if !verifySignature(body, s.cfg.Secret, sig) {
			writeError(rw, http.StatusForbidden, "invalid signature")
			return
		}
	}

	env, err := gateway.Normalize(body, ch)
	if err != nil {
		s.logger.Debug("malformed inbound event", "channel", ch, "err", err)
		writeError(rw, http.StatusBadRequest, "malformed event")
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		s.respondSync(rw, r, env)
		return
	}

	if err := s.cfg.Dispatch(env); err != nil {
		s.writeDispatchError(rw, env, err)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{
		"status":        "accepted",
		"sessionKey":    env.SessionKey,
		"correlationId": env.CorrelationID,
	})
}

func (s *Server) respondSync(rw http.ResponseWriter, r *http.Request, env domain.Envelope) {
	ctx, cancel := context.WithTimeout(r.Context(), syncTimeout)
	defer cancel()

	out, err := s.cfg.Sync(ctx, env)
	if err != nil {
		s.writeDispatchError(rw, env, err)
		return
	}
	raw, err := gateway.Render(out, env.Channel)
	if err != nil {
		s.logger.Error("outbound render failed", "channel", env.Channel, "err", err)
		writeError(rw, http.StatusInternalServerError, "render failed")
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	rw.Write(raw)
}

// writeDispatchError maps the user-visible error taxonomy onto HTTP status
// codes: malformed input 400, capacity 429, terminal session 410.
func (s *Server) writeDispatchError(rw http.ResponseWriter, env domain.Envelope, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		writeError(rw, http.StatusBadRequest, "malformed event")
	case errors.Is(err, domain.ErrSessionOverloaded):
		rw.Header().Set("Retry-After", "5")
		writeError(rw, http.StatusTooManyRequests, "session queue full")
	case errors.Is(err, domain.ErrSessionTerminal):
		writeError(rw, http.StatusGone, "session has ended")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(rw, http.StatusGatewayTimeout, "response timed out")
	default:
		s.logger.Error("dispatch failed", "session", env.SessionKey, "err", err)
		writeError(rw, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.cfg.Health != nil {
		resp["dependencies"] = s.cfg.Health()
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(resp)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}

// verifySignature checks the HMAC-SHA256 signature of the body.
func verifySignature(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
