// Package server exposes the hub and the playback controls to windows over
// HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/hub"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

// Server is the daemon's HTTP surface
type Server struct {
	logger *zap.Logger
	addr   string
	hub    *hub.Hub
	state  domain.StateProvider
	ctrl   domain.Controller

	srv      *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a server listening on cfg.ListenAddr once started
func New(
	logger *zap.Logger,
	cfg *config.AppConfig,
	h *hub.Hub,
	state domain.StateProvider,
	ctrl domain.Controller,
) *Server {
	return &Server{
		logger: logger,
		addr:   cfg.ListenAddr,
		hub:    h,
		state:  state,
		ctrl:   ctrl,
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Get("/stores", s.handleListStores)
		r.Get("/stores/{name}", s.handleGetStore)
		r.Delete("/stores/{name}", s.handleClearStore)
		r.Post("/command", s.handleCommand)
		r.Post("/play", s.handlePlay)
	})
	return r
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.cancel = cancel
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		s.logger.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes every window socket and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"windows": len(s.hub.Windows()),
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.GetState())
}

func (s *Server) handleListStores(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stores": s.hub.Stores()})
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !slices.Contains(s.hub.Stores(), name) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", hub.ErrUnknownStore, name))
		return
	}
	writeJSON(w, http.StatusOK, s.hub.RequestHydration(name))
}

func (s *Server) handleClearStore(w http.ResponseWriter, r *http.Request) {
	err := s.hub.ClearStore(chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, hub.ErrUnknownStore):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd domain.Command
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.Command(r.Context(), cmd); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req domain.PlayRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.Play(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrInvalidCommand) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
