package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-realtime/pkg/core/realtime"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/protocol"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/transport"
)

type fakeRuntimeSession struct {
	events chan realtime.Event
	errs   chan error
	done   chan struct{}

	mu       sync.Mutex
	audio    [][]byte
	controls [][]byte

	inNext       atomic.Int32
	closeCount   atomic.Int32
	nextAtClose  atomic.Int32
	nextAfterRel atomic.Bool
}

func newFakeRuntimeSession() *fakeRuntimeSession {
	return &fakeRuntimeSession{
		events: make(chan realtime.Event),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (f *fakeRuntimeSession) SendAudio(ctx context.Context, pcm []byte) error {
	_ = ctx
	if f.closeCount.Load() > 0 {
		return realtime.ErrSessionClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeRuntimeSession) Next(ctx context.Context) (realtime.Event, error) {
	if f.closeCount.Load() > 0 {
		f.nextAfterRel.Store(true)
	}
	f.inNext.Add(1)
	defer f.inNext.Add(-1)

	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errs:
		return nil, err
	case <-f.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeRuntimeSession) Close() error {
	f.nextAtClose.Store(f.inNext.Load())
	f.closeCount.Add(1)
	return nil
}

func (f *fakeRuntimeSession) receivedAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

type controlRuntimeSession struct {
	*fakeRuntimeSession
}

func (c controlRuntimeSession) SendControl(ctx context.Context, raw []byte) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, append([]byte(nil), raw...))
	return nil
}

type fakeRuntime struct {
	mu           sync.Mutex
	sessions     map[string]*fakeRuntimeSession
	connectErr   error
	connectBlock chan struct{}
	withControl  bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{sessions: make(map[string]*fakeRuntimeSession)}
}

func (r *fakeRuntime) Name() string { return "fake" }

func (r *fakeRuntime) Connect(ctx context.Context, opts realtime.SessionOptions) (realtime.Session, error) {
	if r.connectBlock != nil {
		select {
		case <-r.connectBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	s := newFakeRuntimeSession()
	r.mu.Lock()
	r.sessions[opts.SessionID] = s
	r.mu.Unlock()
	if r.withControl {
		return controlRuntimeSession{s}, nil
	}
	return s, nil
}

func (r *fakeRuntime) lookup(id string) (*fakeRuntimeSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *fakeRuntime) session(t *testing.T, id string) *fakeRuntimeSession {
	t.Helper()
	s, ok := r.lookup(id)
	if !ok {
		t.Fatalf("no runtime session for %q", id)
	}
	return s
}

type receiveResult struct {
	frame protocol.ClientFrame
	err   error
}

type fakeTransport struct {
	inbound chan receiveResult
	block   chan struct{}

	mu         sync.Mutex
	sent       []protocol.ServerMessage
	closed     bool
	closeCount int
	lateSends  int

	closedCh  chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan receiveResult, 16),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeTransport) Receive(ctx context.Context) (protocol.ClientFrame, error) {
	select {
	case r := <-f.inbound:
		return r.frame, r.err
	case <-f.closedCh:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Send(ctx context.Context, msg protocol.ServerMessage) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.lateSends++
		return &transport.Error{Op: "send", Err: transport.ErrClosed}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.closeCount++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closedCh) })
	return nil
}

func (f *fakeTransport) messages() []protocol.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ServerMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) lateSendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lateSends
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestManager(t *testing.T, rt realtime.Runtime, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(Dependencies{Runtime: rt, Config: cfg})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = m.CloseAll(ctx)
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func pushEvent(t *testing.T, rs *fakeRuntimeSession, ev realtime.Event) {
	t.Helper()
	select {
	case rs.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not pull %T", ev)
	}
}

var errBoom = errors.New("boom")
