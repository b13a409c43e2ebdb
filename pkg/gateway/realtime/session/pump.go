package session

import (
	"context"
	"errors"
	"io"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
	"github.com/vango-go/vai-realtime/pkg/core/realtime"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/protocol"
)

// pump delivers runtime events to the client in the order the runtime
// produced them. Exactly one event is in flight: a slow client stalls Next.
// Every exit other than cancellation starts the session's teardown.
func (m *Manager) pump(ctx context.Context, s *Session, rt realtime.Session) {
	logger := m.logger.With("session_id", s.id)

	for {
		ev, err := rt.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				logger.Debug("realtime runtime ended session")
				m.beginTeardown(s, reasonRuntimeEnded)
				return
			}
			logger.Warn("realtime runtime failed", "error", err)
			s.markClosing()
			_ = s.transport.Send(ctx, protocol.ErrorMessage(err.Error()))
			m.beginTeardown(s, reasonRuntimeError)
			return
		}

		msg, err := protocol.EncodeEvent(ev)
		if err != nil {
			m.metrics.RecordSerializationFailure()
			logger.Error("realtime event serialization failed", "error", err)
			s.markClosing()
			_ = s.transport.Send(ctx, protocol.ErrorMessage("internal error: "+err.Error()))
			m.beginTeardown(s, reasonSerialization)
			return
		}

		if err := s.transport.Send(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug("realtime event send failed", "type", msg.Type, "error", err)
			m.beginTeardown(s, reasonSendFailed)
			return
		}

		m.metrics.RecordEventSent(msg.Type)
		if audio, ok := ev.(realtime.AudioEvent); ok {
			m.metrics.RecordAudio("out", len(audio.Samples)*pcm.BytesPerSample)
		}
	}
}
