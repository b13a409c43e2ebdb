package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-realtime/pkg/core/realtime"
	"github.com/vango-go/vai-realtime/pkg/gateway/config"
	"github.com/vango-go/vai-realtime/pkg/gateway/handlers"
	"github.com/vango-go/vai-realtime/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-realtime/pkg/gateway/metrics"
	"github.com/vango-go/vai-realtime/pkg/gateway/mw"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/session"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	sessions  *session.Manager
}

func New(cfg config.Config, logger *slog.Logger, rt realtime.Runtime) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(cfg.MetricsNamespace)
	}

	mgr, err := session.NewManager(session.Dependencies{
		Runtime: rt,
		Logger:  logger,
		Metrics: m,
		Config: session.Config{
			Agent: realtime.AgentConfig{
				Name:         cfg.AgentName,
				Instructions: cfg.AgentInstructions,
				Voice:        cfg.AgentVoice,
			},
			ConnectTimeout:         cfg.ConnectTimeout,
			MaxAudioFPS:            cfg.MaxAudioFPS,
			MaxAudioBytesPerSecond: cfg.MaxAudioBytesPerSecond,
			InboundBurstSeconds:    cfg.InboundBurstSeconds,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		metrics:   m,
		lifecycle: &lifecycle.Lifecycle{},
		sessions:  mgr,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
	})
	s.mux.Handle("GET /ws/{session_id}", handlers.RealtimeHandler{
		Config:    s.cfg,
		Manager:   s.sessions,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
	})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Metrics(s.metrics, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes /readyz and new /ws/ upgrades report 503.
func (s *Server) SetDraining() {
	if s.lifecycle.Drain() {
		s.logger.Info("draining realtime sessions", "active_sessions", s.sessions.Count())
	}
}

// CloseSessions drains and tears down every live session. Hijacked websocket
// connections are not tracked by http.Server.Shutdown, so this must run
// alongside it.
func (s *Server) CloseSessions(ctx context.Context) error {
	s.SetDraining()
	n, err := s.sessions.CloseAll(ctx)
	if n > 0 {
		s.logger.Info("closed realtime sessions", "count", n)
	}
	return err
}
