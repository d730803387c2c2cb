// Package server wires the board together and exposes it over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/mdns"
	"github.com/redis/go-redis/v9"

	"CollabBoard/internal/config"
	"CollabBoard/internal/export"
	"CollabBoard/internal/mirror"
	boardnet "CollabBoard/internal/net"
	"CollabBoard/internal/rooms"
	"CollabBoard/internal/session"
)

const (
	shutdownTimeout = 5 * time.Second
	healthTimeout   = 2 * time.Second
)

// Server owns the registry, the peer loop and the HTTP listener.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *rooms.Registry
	peers    *boardnet.PeerManager
	protocol *session.Protocol
	mirror   *mirror.RedisMirror // nil when Redis is not configured
	router   *mux.Router
}

// New builds a server from cfg. Nothing listens until Run or Serve.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: rooms.NewRegistry(cfg.Palette),
	}

	limits := boardnet.Limits{
		MaxMessagesPerSecond: cfg.Limits.MaxMessagesPerSecond,
		MaxMessageBytes:      cfg.Limits.MaxMessageBytes,
		SendBufferSize:       cfg.Limits.SendBufferSize,
		WriteTimeout:         cfg.Limits.WriteTimeout,
		PongTimeout:          cfg.Limits.PongTimeout,
	}
	s.peers = boardnet.NewPeerManager(limits, logger.With("component", "transport"))

	var m session.Mirror = session.NopMirror{}
	if cfg.Redis.Enabled() {
		rm, err := mirror.NewRedisMirror(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Prefix, logger.With("component", "mirror"))
		if err != nil {
			return nil, fmt.Errorf("failed to create redis mirror: %w", err)
		}
		s.mirror = rm
		m = rm
	}

	s.protocol = session.New(s.registry, s.peers,
		session.WithMirror(m),
		session.WithLogger(logger.With("component", "session")),
	)
	s.peers.Bind(s.protocol)

	s.router = mux.NewRouter()
	s.router.HandleFunc("/ws", s.peers.ServeWS).Methods(http.MethodGet)
	s.router.HandleFunc("/rooms", s.handleRooms).Methods(http.MethodGet)
	s.router.HandleFunc("/rooms/{room}/export.pdf", s.handleExport).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the room registry.
func (s *Server) Registry() *rooms.Registry { return s.registry }

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down the
// HTTP server, the peer loop, the mirror and the mDNS responder in that
// order. A server can only be served once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go s.peers.Run(loopCtx)

	var responder *mdns.Server
	if s.cfg.MDNS.Enabled {
		port := ln.Addr().(*net.TCPAddr).Port
		var err error
		responder, err = boardnet.Advertise(s.cfg.MDNS.Instance, port, nil)
		if err != nil {
			s.logger.Warn("mDNS advertisement disabled", "error", err)
		} else {
			s.logger.Info("advertising on the local network", "service", boardnet.ServiceType, "port", port)
		}
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.logger.Info("board server listening", "addr", ln.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
	}

	stopLoop()
	<-s.peers.Done()

	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			s.logger.Warn("failed to close redis mirror", "error", err)
		}
	}
	if responder != nil {
		_ = responder.Shutdown()
	}
	s.registry.Close()
	return serveErr
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.registry.Rooms()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	room, ok := s.registry.Room(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := export.RenderPDF(&buf, "Room "+roomID, room.Snapshot()); err != nil {
		s.logger.Error("pdf export failed", "room", roomID, "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", roomID+".pdf"))
	_, _ = buf.WriteTo(w)
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Transport boardnet.MetricsSnapshot `json:"transport"`
	Rooms     int                      `json:"rooms"`
	Mirror    *MirrorStats             `json:"mirror,omitempty"`
}

// MirrorStats reports the Redis mirror counters.
type MirrorStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Transport: s.peers.Metrics().Snapshot(),
		Rooms:     s.registry.Len(),
	}
	if s.mirror != nil {
		resp.Mirror = &MirrorStats{Published: s.mirror.Published(), Dropped: s.mirror.Dropped()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleHealthz returns 200 when the server is up and, if the mirror is
// enabled, Redis answers a ping. Otherwise 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.mirror == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.mirror.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Redis = "disconnected"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Redis = "connected"
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
