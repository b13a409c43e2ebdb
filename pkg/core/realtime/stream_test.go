package realtime

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestStream_DeliversInOrderThenEOF(t *testing.T) {
	batches := [][]Event{
		{AgentStartEvent{Agent: Agent{Name: "a"}}},
		nil,
		{AudioEvent{ItemID: "1"}, AudioEvent{ItemID: "2"}},
		{AudioEndEvent{ItemID: "2"}},
	}
	i := 0
	s := NewStream(func() ([]Event, error) {
		if i >= len(batches) {
			return nil, io.EOF
		}
		b := batches[i]
		i++
		return b, nil
	})

	ctx := context.Background()
	want := []string{TypeAgentStart, TypeAudio, TypeAudio, TypeAudioEnd}
	for n, typ := range want {
		ev, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next #%d error: %v", n, err)
		}
		if ev.Type() != typ {
			t.Fatalf("Next #%d type=%q, want %q", n, ev.Type(), typ)
		}
	}
	if ev, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Next error=%v (ev=%v), want io.EOF", err, ev)
	}
}

func TestStream_ReceiveErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	s := NewStream(func() ([]Event, error) { return nil, boom })
	_, err := s.Next(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Next error=%v, want boom", err)
	}
	_, err = s.Next(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("second Next error=%v, want boom", err)
	}
}

func TestStream_NextHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	s := NewStream(func() ([]Event, error) {
		<-release
		return nil, errors.New("connection closed")
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Next(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Next error=%v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not return after cancellation")
	}
}

func TestStream_StopMapsCloseErrorToEOF(t *testing.T) {
	release := make(chan struct{})
	s := NewStream(func() ([]Event, error) {
		<-release
		return nil, errors.New("use of closed network connection")
	})

	s.Stop()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Next(ctx)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Next error=%v, want io.EOF", err)
	}
}

func TestStream_StopUnblocksPendingHandOff(t *testing.T) {
	s := NewStream(func() ([]Event, error) {
		return []Event{AudioEvent{}, AudioEvent{}, AudioEvent{}}, nil
	})
	s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		_, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			t.Fatalf("Next error=%v, want events then io.EOF", err)
		}
	}
}

func TestStream_NilEventIsDelivered(t *testing.T) {
	sent := false
	s := NewStream(func() ([]Event, error) {
		if sent {
			return nil, io.EOF
		}
		sent = true
		return []Event{AgentStartEvent{}, nil}, nil
	})

	ctx := context.Background()
	if ev, err := s.Next(ctx); err != nil || ev == nil || ev.Type() != TypeAgentStart {
		t.Fatalf("first Next=(%v, %v), want agent-start", ev, err)
	}
	ev, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("second Next error: %v", err)
	}
	if ev != nil {
		t.Fatalf("second Next=%v, want nil event", ev)
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("third Next error=%v, want io.EOF", err)
	}
}
