package realtime

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by Session methods after Close.
var ErrSessionClosed = errors.New("realtime session closed")

// AgentConfig describes the agent a runtime session should run.
type AgentConfig struct {
	Name         string
	Instructions string
	Voice        string
}

// SessionOptions configures one runtime session.
type SessionOptions struct {
	SessionID string
	Agent     AgentConfig
}

// Runtime creates live agent sessions.
type Runtime interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// Connect establishes a new runtime session. The returned session is owned
	// by the caller, which must call Close exactly once.
	Connect(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is one live conversation with the agent runtime.
type Session interface {
	// SendAudio forwards little-endian 16-bit PCM audio to the runtime.
	SendAudio(ctx context.Context, pcm []byte) error
	// Next blocks until the runtime produces an event. It returns io.EOF once
	// the runtime has ended the session and ctx.Err() if ctx is cancelled
	// first. Next must not be called concurrently.
	Next(ctx context.Context) (Event, error)
	// Close releases the runtime session. Pending Next calls return.
	Close() error
}

// ControlSender is implemented by sessions that accept client control
// messages. raw is the client's JSON object, unchanged.
type ControlSender interface {
	SendControl(ctx context.Context, raw []byte) error
}

// RuntimeError reports a failure inside a runtime backend.
type RuntimeError struct {
	Backend string
	Op      string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Backend != "" && e.Op != "":
		return fmt.Sprintf("%s runtime: %s: %v", e.Backend, e.Op, e.Err)
	case e.Backend != "":
		return fmt.Sprintf("%s runtime: %v", e.Backend, e.Err)
	default:
		return fmt.Sprintf("runtime: %v", e.Err)
	}
}

func (e *RuntimeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
