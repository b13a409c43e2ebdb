package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vango-go/vai-realtime/pkg/core/realtime"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/protocol"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/sessions"
)

var (
	ErrDuplicateSession    = sessions.ErrDuplicateSession
	ErrNotFound            = sessions.ErrNotFound
	ErrRateLimited         = errors.New("client audio rate limit exceeded")
	ErrInvalidID           = errors.New("session id is required")
	ErrClosedDuringConnect = errors.New("session closed while connecting")
	ErrRuntimeUnavailable  = errors.New("runtime session unavailable")
)

// Transport is the client side of a session. *transport.Conn implements it.
type Transport interface {
	Receive(ctx context.Context) (protocol.ClientFrame, error)
	Send(ctx context.Context, msg protocol.ServerMessage) error
	Close() error
}

type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// End reasons recorded in logs and the session duration metric.
const (
	reasonClientClosed   = "client_closed"
	reasonTransportError = "transport_error"
	reasonRuntimeEnded   = "runtime_ended"
	reasonRuntimeError   = "runtime_error"
	reasonSerialization  = "serialization_error"
	reasonSendFailed     = "send_failed"
	reasonDisconnect     = "disconnect"
	reasonShutdown       = "shutdown"
)

// Session is one client's conversation. It owns its transport and runtime
// session; both are released by the manager's teardown and nowhere else.
type Session struct {
	id        string
	transport Transport
	limiter   *inboundAudioLimiter
	started   time.Time

	mu         sync.Mutex
	state      State
	runtime    realtime.Session
	cancelPump context.CancelFunc
	pumpDone   chan struct{}

	// sendMu is held shared while audio is forwarded to the runtime and
	// exclusively while the runtime is released.
	sendMu sync.RWMutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, t Transport, limiter *inboundAudioLimiter, now time.Time) *Session {
	return &Session{
		id:        id,
		transport: t,
		limiter:   limiter,
		started:   now,
		state:     StateConnecting,
		closed:    make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// activate moves a connecting session to Active with its runtime and pump.
// It fails if teardown started while the runtime was being created.
func (s *Session) activate(rt realtime.Session, cancel context.CancelFunc, done chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.runtime = rt
	s.cancelPump = cancel
	s.pumpDone = done
	s.state = StateActive
	return true
}

func (s *Session) markClosing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting || s.state == StateActive {
		s.state = StateClosing
	}
}

func (s *Session) activeRuntime() (realtime.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.runtime == nil {
		return nil, false
	}
	return s.runtime, true
}
