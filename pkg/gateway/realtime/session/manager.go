package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
	"github.com/vango-go/vai-realtime/pkg/core/realtime"
	"github.com/vango-go/vai-realtime/pkg/gateway/metrics"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/protocol"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/sessions"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/transport"
)

type Config struct {
	Agent                  realtime.AgentConfig
	ConnectTimeout         time.Duration
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int
}

type Dependencies struct {
	Runtime realtime.Runtime
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Config  Config
	Now     func() time.Time
}

// Manager owns every live session in the process.
type Manager struct {
	runtime realtime.Runtime
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time

	registry *sessions.Registry[*Session]
	pumps    sync.WaitGroup
}

func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Manager{
		runtime:  deps.Runtime,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		cfg:      deps.Config,
		now:      deps.Now,
		registry: sessions.NewRegistry[*Session](),
	}
	m.registry.OnChange(m.metrics.SetActiveSessions)
	return m, nil
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	return m.registry.Count()
}

// Get returns the registered session for id.
func (m *Manager) Get(id string) (*Session, error) {
	return m.registry.Get(id)
}

// Connect creates the runtime session for id and starts its event pump.
// The registry lock is not held while the runtime connects; the id is
// reserved in StateConnecting instead. On error the caller still owns t.
func (m *Manager) Connect(ctx context.Context, id string, t Transport) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}
	if t == nil {
		return nil, fmt.Errorf("transport is required")
	}

	limiter := newInboundAudioLimiter(m.now, m.cfg.MaxAudioFPS, m.cfg.MaxAudioBytesPerSecond, m.cfg.InboundBurstSeconds)
	s := newSession(id, t, limiter, m.now())
	if err := m.registry.Register(id, s); err != nil {
		m.metrics.RecordSessionStart("duplicate")
		return nil, err
	}

	connectCtx, cancelConnect := ctx, context.CancelFunc(func() {})
	if m.cfg.ConnectTimeout > 0 {
		connectCtx, cancelConnect = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	}
	rt, err := m.runtime.Connect(connectCtx, realtime.SessionOptions{SessionID: id, Agent: m.cfg.Agent})
	cancelConnect()
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.closeOnce.Do(func() { close(s.closed) })
		m.registry.CompareAndRemove(id, s)
		m.metrics.RecordSessionStart("runtime_error")

		var rerr *realtime.RuntimeError
		if !errors.As(err, &rerr) {
			err = &realtime.RuntimeError{Backend: m.runtime.Name(), Op: "connect", Err: err}
		}
		return nil, fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
	}

	pumpCtx, cancelPump := context.WithCancel(context.WithoutCancel(ctx))
	pumpDone := make(chan struct{})
	if !s.activate(rt, cancelPump, pumpDone) {
		cancelPump()
		if err := rt.Close(); err != nil {
			m.logger.Warn("realtime runtime close failed", "session_id", id, "error", err)
		}
		m.metrics.RecordSessionStart("canceled")
		return nil, ErrClosedDuringConnect
	}

	m.pumps.Add(1)
	go func() {
		defer m.pumps.Done()
		defer close(pumpDone)
		m.pump(pumpCtx, s, rt)
	}()

	m.metrics.RecordSessionStart("ok")
	m.logger.Info("realtime session started", "session_id", id, "runtime", m.runtime.Name())
	return s, nil
}

// ClientAudio forwards samples to the session's runtime.
func (m *Manager) ClientAudio(ctx context.Context, id string, samples []int16) error {
	s, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	return m.clientAudio(ctx, s, samples)
}

func (m *Manager) clientAudio(ctx context.Context, s *Session, samples []int16) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	rt, ok := s.activeRuntime()
	if !ok {
		return ErrNotFound
	}
	if len(samples) == 0 {
		return nil
	}
	n := len(samples) * pcm.BytesPerSample
	if !s.limiter.Allow(n) {
		return ErrRateLimited
	}
	if err := rt.SendAudio(ctx, pcm.Encode(samples)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var rerr *realtime.RuntimeError
		if !errors.As(err, &rerr) {
			err = &realtime.RuntimeError{Backend: m.runtime.Name(), Op: "send audio", Err: err}
		}
		return err
	}
	m.metrics.RecordAudio("in", n)
	return nil
}

// ClientControl forwards a control frame when the runtime accepts them.
func (m *Manager) ClientControl(ctx context.Context, id string, raw []byte) error {
	s, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	return m.clientControl(ctx, s, raw)
}

func (m *Manager) clientControl(ctx context.Context, s *Session, raw []byte) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	rt, ok := s.activeRuntime()
	if !ok {
		return ErrNotFound
	}
	cs, ok := rt.(realtime.ControlSender)
	if !ok {
		m.logger.Debug("realtime control frame ignored", "session_id", s.id)
		return nil
	}
	if err := cs.SendControl(ctx, raw); err != nil {
		var rerr *realtime.RuntimeError
		if !errors.As(err, &rerr) {
			err = &realtime.RuntimeError{Backend: m.runtime.Name(), Op: "send control", Err: err}
		}
		return err
	}
	return nil
}

// Disconnect tears down the session registered under id and waits until it
// is closed or ctx is done. Disconnecting an unknown id is a no-op.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	s, err := m.registry.Get(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.disconnect(ctx, s, reasonDisconnect)
}

func (m *Manager) disconnect(ctx context.Context, s *Session, reason string) error {
	m.beginTeardown(s, reason)
	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) beginTeardown(s *Session, reason string) {
	s.closeOnce.Do(func() {
		s.markClosing()
		go m.teardown(s, reason)
	})
}

// teardown runs once per session: stop the pump, release the runtime, close
// the transport, then drop the registry entry.
func (m *Manager) teardown(s *Session, reason string) {
	defer close(s.closed)

	s.mu.Lock()
	cancel, done := s.cancelPump, s.pumpDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.sendMu.Lock()
	s.mu.Lock()
	rt := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if rt != nil {
		if err := rt.Close(); err != nil {
			m.logger.Warn("realtime runtime close failed", "session_id", s.id, "error", err)
		}
	}
	s.sendMu.Unlock()

	if err := closeTransport(s.transport, reason); err != nil {
		m.logger.Debug("realtime transport close failed", "session_id", s.id, "error", err)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.cancelPump = nil
	s.pumpDone = nil
	s.mu.Unlock()

	m.registry.CompareAndRemove(s.id, s)

	elapsed := m.now().Sub(s.started)
	m.metrics.RecordSessionEnd(reason, elapsed)
	m.logger.Info("realtime session closed",
		"session_id", s.id,
		"reason", reason,
		"duration_ms", elapsed.Milliseconds(),
	)
}

type statusCloser interface {
	CloseWithStatus(code int, reason string) error
}

func closeTransport(t Transport, reason string) error {
	sc, ok := t.(statusCloser)
	if !ok {
		return t.Close()
	}
	switch reason {
	case reasonShutdown:
		return sc.CloseWithStatus(websocket.CloseGoingAway, "server shutting down")
	case reasonRuntimeError, reasonSerialization:
		return sc.CloseWithStatus(websocket.CloseInternalServerErr, "runtime error")
	case reasonTransportError:
		return sc.CloseWithStatus(websocket.CloseInvalidFramePayloadData, "malformed frame")
	default:
		return sc.CloseWithStatus(websocket.CloseNormalClosure, "")
	}
}

// Serve runs the receive loop for one connection: it connects the session,
// forwards client frames until the transport ends, and tears the session
// down on every exit path.
func (m *Manager) Serve(ctx context.Context, id string, t Transport) error {
	s, err := m.Connect(ctx, id, t)
	if err != nil {
		return err
	}
	logger := m.logger.With("session_id", s.id)

	for {
		frame, err := t.Receive(ctx)
		if err != nil {
			var codecErr *pcm.CodecError
			if errors.As(err, &codecErr) {
				m.metrics.RecordFrameRejected("codec")
				logger.Debug("realtime audio frame rejected", "error", err)
				_ = t.Send(ctx, protocol.ErrorMessage(err.Error()))
				continue
			}
			return m.endServe(ctx, s, err, logger)
		}

		switch f := frame.(type) {
		case protocol.ClientAudio:
			m.metrics.RecordFrameReceived("audio")
			err = m.clientAudio(ctx, s, f.Samples)
		case protocol.ClientControl:
			m.metrics.RecordFrameReceived("control")
			err = m.clientControl(ctx, s, f.Raw)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrRateLimited):
			m.metrics.RecordFrameRejected("rate_limited")
			_ = t.Send(ctx, protocol.ErrorMessage(err.Error()))
		case errors.Is(err, ErrNotFound):
			// The pump ended the session; the transport closes shortly.
			m.metrics.RecordFrameRejected("inactive")
		default:
			logger.Warn("realtime runtime rejected client frame", "error", err)
			_ = t.Send(ctx, protocol.ErrorMessage(err.Error()))
			_ = m.disconnect(context.WithoutCancel(ctx), s, reasonRuntimeError)
			return err
		}
	}
}

func (m *Manager) endServe(ctx context.Context, s *Session, err error, logger *slog.Logger) error {
	waitCtx := context.WithoutCancel(ctx)
	switch {
	case errors.Is(err, io.EOF):
		_ = m.disconnect(waitCtx, s, reasonClientClosed)
		return nil
	case ctx.Err() != nil:
		_ = m.disconnect(waitCtx, s, reasonShutdown)
		return nil
	}

	var decErr *protocol.DecodeError
	if errors.As(err, &decErr) {
		m.metrics.RecordFrameRejected("malformed")
		logger.Warn("realtime client sent malformed frame", "error", err)
		_ = s.transport.Send(ctx, protocol.ErrorMessage(err.Error()))
	} else {
		logger.Warn("realtime transport failed", "error", err)
	}
	_ = m.disconnect(waitCtx, s, reasonTransportError)

	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr
	}
	return &transport.Error{Op: "receive", Err: err}
}

// CloseAll disconnects every session and waits until all are closed or ctx
// is done. It returns the number of sessions that were asked to close.
func (m *Manager) CloseAll(ctx context.Context) (int, error) {
	var all []*Session
	m.registry.Range(func(_ string, s *Session) bool {
		all = append(all, s)
		return true
	})

	for _, s := range all {
		m.beginTeardown(s, reasonShutdown)
	}
	for _, s := range all {
		select {
		case <-s.closed:
		case <-ctx.Done():
			return len(all), ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.pumps.Wait()
	}()
	select {
	case <-done:
		return len(all), nil
	case <-ctx.Done():
		return len(all), ctx.Err()
	}
}
