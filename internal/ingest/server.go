// Package ingest is the HTTP boundary: the webhook verification handshake
// and event intake that feeds the aggregation buffer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sorryformyhair/dmflow/internal/channels/instagram"
	"github.com/sorryformyhair/dmflow/internal/store"
)

// maxBodyBytes bounds webhook request bodies.
const maxBodyBytes = 1 << 20

// Server accepts Instagram webhook traffic and appends fragments to the
// buffer. It acknowledges quickly; all heavy work happens downstream in
// the dispatcher.
type Server struct {
	buffer      store.BufferStore
	verifyToken string
	limiter     *SenderRateLimiter
	httpServer  *http.Server
}

func NewServer(addr string, buffer store.BufferStore, verifyToken string, rateLimitRPM int) *Server {
	s := &Server{
		buffer:      buffer,
		verifyToken: verifyToken,
		limiter:     NewSenderRateLimiter(rateLimitRPM),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook/instagram", s.handleVerify)
	mux.HandleFunc("POST /webhook/instagram", s.handleEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown webhook server: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleVerify answers the platform's subscription handshake: echo the
// challenge when mode and token match.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || token != s.verifyToken {
		slog.Warn("webhook verification rejected", "mode", mode)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	slog.Info("webhook verified")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// handleEvents parses the payload and buffers each fragment. Per-fragment
// store errors are logged but the webhook is still acknowledged: the
// platform retries the whole delivery otherwise, duplicating the fragments
// that did land.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	events, err := instagram.ParseEvents(body)
	if err != nil {
		slog.Warn("unparseable webhook payload", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		if !s.limiter.Allow(ev.SenderID) {
			slog.Warn("sender rate limited", "sender", ev.SenderID)
			continue
		}
		if err := s.buffer.AppendEvent(r.Context(), ev.SenderID, ev.Fragment); err != nil {
			slog.Error("failed to buffer event",
				"sender", ev.SenderID, "type", ev.Fragment.Type, "error", err)
			continue
		}
		slog.Debug("event buffered", "sender", ev.SenderID, "type", ev.Fragment.Type)
	}

	w.WriteHeader(http.StatusOK)
}
