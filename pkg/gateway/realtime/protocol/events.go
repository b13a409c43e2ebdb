package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
	"github.com/vango-go/vai-realtime/pkg/core/realtime"
)

var (
	ErrNilEvent  = errors.New("nil event")
	ErrNoMessage = errors.New("event produced no message")
)

// ServerMessage is one encoded outbound text frame.
type ServerMessage struct {
	Type    string
	Payload []byte
}

// SerializationError reports an event that could not be turned into a wire
// message. Nothing is sent for such an event.
type SerializationError struct {
	EventType string
	Err       error
}

func (e *SerializationError) Error() string {
	if e == nil {
		return ""
	}
	if e.EventType == "" {
		return fmt.Sprintf("serialize event: %v", e.Err)
	}
	return fmt.Sprintf("serialize %s event: %v", e.EventType, e.Err)
}

func (e *SerializationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type ServerAgentEvent struct {
	Type  string `json:"type"`
	Agent string `json:"agent"`
}

type ServerHandoff struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
}

type ServerToolStart struct {
	Type string `json:"type"`
	Tool string `json:"tool"`
}

type ServerToolEnd struct {
	Type   string `json:"type"`
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

type ServerAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ServerNotice is a message with no payload besides its type.
type ServerNotice struct {
	Type string `json:"type"`
}

type ServerHistoryUpdated struct {
	Type    string                 `json:"type"`
	History []realtime.HistoryItem `json:"history"`
}

type ServerGuardrailResult struct {
	Name string `json:"name"`
}

type ServerGuardrailTripped struct {
	Type             string                  `json:"type"`
	GuardrailResults []ServerGuardrailResult `json:"guardrail_results"`
}

type ServerRawModelEventData struct {
	Type string `json:"type"`
}

type ServerRawModelEvent struct {
	Type          string                  `json:"type"`
	RawModelEvent ServerRawModelEventData `json:"raw_model_event"`
}

type ServerError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// EncodeEvent converts a runtime event into its wire message.
func EncodeEvent(ev realtime.Event) (ServerMessage, error) {
	if ev == nil {
		return ServerMessage{}, &SerializationError{Err: ErrNilEvent}
	}
	enc := &eventEncoder{}
	if err := ev.Accept(enc); err != nil {
		return ServerMessage{}, &SerializationError{EventType: ev.Type(), Err: err}
	}
	if enc.msg == nil {
		return ServerMessage{}, &SerializationError{EventType: ev.Type(), Err: ErrNoMessage}
	}
	payload, err := json.Marshal(enc.msg)
	if err != nil {
		return ServerMessage{}, &SerializationError{EventType: ev.Type(), Err: err}
	}
	return ServerMessage{Type: ev.Type(), Payload: payload}, nil
}

// ErrorMessage builds an error frame for failures that are not runtime events.
func ErrorMessage(message string) ServerMessage {
	payload, _ := json.Marshal(ServerError{Type: realtime.TypeError, Error: message})
	return ServerMessage{Type: realtime.TypeError, Payload: payload}
}

type eventEncoder struct {
	msg any
}

var _ realtime.EventVisitor = (*eventEncoder)(nil)

func (e *eventEncoder) VisitAgentStart(ev realtime.AgentStartEvent) error {
	e.msg = ServerAgentEvent{Type: realtime.TypeAgentStart, Agent: ev.Agent.Name}
	return nil
}

func (e *eventEncoder) VisitAgentEnd(ev realtime.AgentEndEvent) error {
	e.msg = ServerAgentEvent{Type: realtime.TypeAgentEnd, Agent: ev.Agent.Name}
	return nil
}

func (e *eventEncoder) VisitHandoff(ev realtime.HandoffEvent) error {
	e.msg = ServerHandoff{Type: realtime.TypeHandoff, From: ev.From.Name, To: ev.To.Name}
	return nil
}

func (e *eventEncoder) VisitToolStart(ev realtime.ToolStartEvent) error {
	e.msg = ServerToolStart{Type: realtime.TypeToolStart, Tool: ev.Tool.Name}
	return nil
}

func (e *eventEncoder) VisitToolEnd(ev realtime.ToolEndEvent) error {
	e.msg = ServerToolEnd{Type: realtime.TypeToolEnd, Tool: ev.Tool.Name, Output: ev.Output}
	return nil
}

func (e *eventEncoder) VisitAudio(ev realtime.AudioEvent) error {
	e.msg = ServerAudio{
		Type:  realtime.TypeAudio,
		Audio: base64.StdEncoding.EncodeToString(pcm.Encode(ev.Samples)),
	}
	return nil
}

func (e *eventEncoder) VisitAudioInterrupted(realtime.AudioInterruptedEvent) error {
	e.msg = ServerNotice{Type: realtime.TypeAudioInterrupted}
	return nil
}

func (e *eventEncoder) VisitAudioEnd(realtime.AudioEndEvent) error {
	e.msg = ServerNotice{Type: realtime.TypeAudioEnd}
	return nil
}

func (e *eventEncoder) VisitHistoryUpdated(ev realtime.HistoryUpdatedEvent) error {
	history := ev.History
	if history == nil {
		history = []realtime.HistoryItem{}
	}
	e.msg = ServerHistoryUpdated{Type: realtime.TypeHistoryUpdated, History: history}
	return nil
}

func (e *eventEncoder) VisitHistoryAdded(realtime.HistoryAddedEvent) error {
	e.msg = ServerNotice{Type: realtime.TypeHistoryAdded}
	return nil
}

func (e *eventEncoder) VisitGuardrailTripped(ev realtime.GuardrailTrippedEvent) error {
	results := make([]ServerGuardrailResult, 0, len(ev.Results))
	for _, r := range ev.Results {
		results = append(results, ServerGuardrailResult{Name: r.Name})
	}
	e.msg = ServerGuardrailTripped{Type: realtime.TypeGuardrailTripped, GuardrailResults: results}
	return nil
}

func (e *eventEncoder) VisitRawModelEvent(ev realtime.RawModelEvent) error {
	e.msg = ServerRawModelEvent{
		Type:          realtime.TypeRawModelEvent,
		RawModelEvent: ServerRawModelEventData{Type: ev.Data.Type},
	}
	return nil
}

func (e *eventEncoder) VisitError(ev realtime.ErrorEvent) error {
	message := "unknown error"
	if ev.Err != nil {
		message = ev.Err.Error()
	}
	e.msg = ServerError{Type: realtime.TypeError, Error: message}
	return nil
}

func (e *eventEncoder) VisitInputAudioTimeout(realtime.InputAudioTimeoutEvent) error {
	e.msg = ServerNotice{Type: realtime.TypeInputAudioTimeout}
	return nil
}
