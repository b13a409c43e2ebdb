package realtime

import (
	"context"
	"io"
	"sync"
)

// ReceiveFunc blocks until the provider delivers its next message and returns
// the events translated from it. A message may translate to zero events.
type ReceiveFunc func() ([]Event, error)

// Stream turns a blocking ReceiveFunc into a cancellable event source.
//
// A single reader goroutine calls the ReceiveFunc and hands events over a
// one-slot channel, so at most one translated message is pending while the
// consumer is slow. Stop ends the reader once the underlying receive returns,
// which the owner arranges by closing the provider connection.
type Stream struct {
	events chan Event
	done   chan struct{}

	stopOnce sync.Once

	mu   sync.Mutex
	err  error
	stop bool
}

// NewStream starts the reader goroutine.
func NewStream(recv ReceiveFunc) *Stream {
	s := &Stream{
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
	go s.read(recv)
	return s
}

func (s *Stream) read(recv ReceiveFunc) {
	defer close(s.events)
	for {
		batch, err := recv()
		// nil events are passed on so the consumer reports them.
		for _, ev := range batch {
			select {
			case s.events <- ev:
			case <-s.done:
				s.finish(nil)
				return
			}
		}
		if err != nil {
			s.finish(err)
			return
		}
	}
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop || err == nil {
		err = io.EOF
	}
	s.err = err
}

// Next returns the next event, io.EOF after the stream ended normally or was
// stopped, the receive error otherwise, or ctx.Err() if ctx is done first.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, s.Err()
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the terminal error once the reader has exited, nil before.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop marks the stream as stopped. Receive errors observed afterwards are
// reported as io.EOF.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stop = true
		s.mu.Unlock()
		close(s.done)
	})
}
