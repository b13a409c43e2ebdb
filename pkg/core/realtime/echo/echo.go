// Package echo is a local realtime runtime that plays client audio back.
// It needs no credentials and is the default backend for development.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
	"github.com/vango-go/vai-realtime/pkg/core/realtime"
)

const (
	defaultTurnGap    = 600 * time.Millisecond
	defaultSampleRate = 24000
	defaultAgentName  = "Assistant"
)

type Config struct {
	// TurnGap is how long input must pause before the echoed turn ends.
	TurnGap      time.Duration
	SampleRateHz int
}

type Runtime struct {
	cfg Config
}

func New(cfg Config) *Runtime {
	if cfg.TurnGap <= 0 {
		cfg.TurnGap = defaultTurnGap
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = defaultSampleRate
	}
	return &Runtime{cfg: cfg}
}

func (r *Runtime) Name() string { return "echo" }

func (r *Runtime) Connect(ctx context.Context, opts realtime.SessionOptions) (realtime.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := opts.Agent.Name
	if name == "" {
		name = defaultAgentName
	}
	s := &session{
		cfg:     r.cfg,
		agent:   realtime.Agent{Name: name},
		in:      make(chan []byte, 16),
		control: make(chan string, 4),
		out:     make(chan realtime.Event, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type session struct {
	cfg   Config
	agent realtime.Agent

	in      chan []byte
	control chan string
	out     chan realtime.Event

	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) SendAudio(ctx context.Context, buf []byte) error {
	select {
	case <-s.done:
		return realtime.ErrSessionClosed
	default:
	}
	chunk := make([]byte, len(buf))
	copy(chunk, buf)
	select {
	case s.in <- chunk:
		return nil
	case <-s.done:
		return realtime.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendControl accepts {"type":"interrupt"} to cut the current turn short and
// {"type":"hangup"} to end the session.
func (s *session) SendControl(ctx context.Context, raw []byte) error {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &realtime.RuntimeError{Backend: "echo", Op: "control", Err: err}
	}
	select {
	case s.control <- msg.Type:
		return nil
	case <-s.done:
		return realtime.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) Next(ctx context.Context) (realtime.Event, error) {
	select {
	case ev, ok := <-s.out:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *session) emit(evs ...realtime.Event) bool {
	for _, ev := range evs {
		select {
		case s.out <- ev:
		case <-s.done:
			return false
		}
	}
	return true
}

func (s *session) run() {
	defer close(s.out)

	var (
		history realtime.History
		timer   *time.Timer
		timerC  <-chan time.Time
		turn    int
		itemID  string
		turnMS  int
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	endTurn := func(interrupted bool) bool {
		stopTimer()
		if itemID == "" {
			return true
		}
		item := realtime.HistoryItem{
			ItemID: itemID,
			Type:   "message",
			Role:   "assistant",
			Status: "completed",
			Content: []realtime.HistoryContent{{
				Type:       "audio",
				Transcript: fmt.Sprintf("echoed %d ms of audio", turnMS),
			}},
		}
		if interrupted {
			item.Status = "incomplete"
		}
		history.Upsert(item)

		var evs []realtime.Event
		if interrupted {
			evs = append(evs, realtime.AudioInterruptedEvent{ItemID: itemID})
		}
		evs = append(evs,
			realtime.AudioEndEvent{ItemID: itemID},
			realtime.HistoryAddedEvent{Item: item},
			realtime.HistoryUpdatedEvent{History: history.Snapshot()},
			realtime.AgentEndEvent{Agent: s.agent},
		)
		itemID, turnMS = "", 0
		return s.emit(evs...)
	}
	defer stopTimer()

	for {
		select {
		case <-s.done:
			return
		case buf := <-s.in:
			samples, err := pcm.Decode(buf)
			if err != nil {
				if !s.emit(realtime.ErrorEvent{Err: err}) {
					return
				}
				continue
			}
			if itemID == "" {
				turn++
				itemID = fmt.Sprintf("echo_item_%d", turn)
				if !s.emit(realtime.AgentStartEvent{Agent: s.agent}) {
					return
				}
			}
			turnMS += pcm.DurationMS(len(samples), s.cfg.SampleRateHz)
			if !s.emit(realtime.AudioEvent{ItemID: itemID, Samples: samples}) {
				return
			}
			stopTimer()
			timer = time.NewTimer(s.cfg.TurnGap)
			timerC = timer.C
		case <-timerC:
			if !endTurn(false) {
				return
			}
		case typ := <-s.control:
			switch typ {
			case "interrupt":
				if !endTurn(true) {
					return
				}
			case "hangup":
				endTurn(false)
				return
			default:
				if !s.emit(realtime.RawModelEvent{Data: realtime.ModelEvent{Type: typ}}) {
					return
				}
			}
		}
	}
}
