package realtime

// Event type tags. These are the values of the "type" field on the wire.
const (
	TypeAgentStart        = "agent-start"
	TypeAgentEnd          = "agent-end"
	TypeHandoff           = "handoff"
	TypeToolStart         = "tool-start"
	TypeToolEnd           = "tool-end"
	TypeAudio             = "audio"
	TypeAudioInterrupted  = "audio-interrupted"
	TypeAudioEnd          = "audio-end"
	TypeHistoryUpdated    = "history-updated"
	TypeHistoryAdded      = "history-added"
	TypeGuardrailTripped  = "guardrail-tripped"
	TypeRawModelEvent     = "raw-model-event"
	TypeError             = "error"
	TypeInputAudioTimeout = "input-audio-timeout"
)

// EventTypes lists the type tag of every Event variant.
func EventTypes() []string {
	return []string{
		TypeAgentStart,
		TypeAgentEnd,
		TypeHandoff,
		TypeToolStart,
		TypeToolEnd,
		TypeAudio,
		TypeAudioInterrupted,
		TypeAudioEnd,
		TypeHistoryUpdated,
		TypeHistoryAdded,
		TypeGuardrailTripped,
		TypeRawModelEvent,
		TypeError,
		TypeInputAudioTimeout,
	}
}

// Event is one item produced by a runtime session.
//
// The set of variants is closed: the unexported marker method keeps other
// packages from adding implementations.
type Event interface {
	// Type returns the wire type tag.
	Type() string
	// Accept dispatches to the visitor method for the concrete variant.
	Accept(v EventVisitor) error

	isEvent()
}

// EventVisitor has one method per Event variant.
type EventVisitor interface {
	VisitAgentStart(AgentStartEvent) error
	VisitAgentEnd(AgentEndEvent) error
	VisitHandoff(HandoffEvent) error
	VisitToolStart(ToolStartEvent) error
	VisitToolEnd(ToolEndEvent) error
	VisitAudio(AudioEvent) error
	VisitAudioInterrupted(AudioInterruptedEvent) error
	VisitAudioEnd(AudioEndEvent) error
	VisitHistoryUpdated(HistoryUpdatedEvent) error
	VisitHistoryAdded(HistoryAddedEvent) error
	VisitGuardrailTripped(GuardrailTrippedEvent) error
	VisitRawModelEvent(RawModelEvent) error
	VisitError(ErrorEvent) error
	VisitInputAudioTimeout(InputAudioTimeoutEvent) error
}

// Agent identifies an agent participating in the conversation.
type Agent struct {
	Name string
}

// Tool identifies a tool invoked by an agent.
type Tool struct {
	Name string
}

// GuardrailResult reports one guardrail that tripped.
type GuardrailResult struct {
	Name string
	Info string
}

// ModelEvent is an untyped provider event passed through as-is.
type ModelEvent struct {
	Type string
	Raw  []byte
}

// AgentStartEvent is emitted when an agent begins a turn.
type AgentStartEvent struct {
	Agent Agent
}

// AgentEndEvent is emitted when an agent finishes a turn.
type AgentEndEvent struct {
	Agent Agent
}

// HandoffEvent is emitted when control passes from one agent to another.
type HandoffEvent struct {
	From Agent
	To   Agent
}

// ToolStartEvent is emitted before a tool runs.
type ToolStartEvent struct {
	Agent Agent
	Tool  Tool
}

// ToolEndEvent is emitted after a tool returns. Output is the textual
// rendering of the tool's result.
type ToolEndEvent struct {
	Agent  Agent
	Tool   Tool
	Output string
}

// AudioEvent carries one chunk of assistant audio.
type AudioEvent struct {
	ItemID  string
	Samples []int16
}

// AudioInterruptedEvent is emitted when assistant playback should stop,
// typically because the user started speaking.
type AudioInterruptedEvent struct {
	ItemID string
}

// AudioEndEvent is emitted when the assistant finished producing audio for an item.
type AudioEndEvent struct {
	ItemID string
}

// HistoryUpdatedEvent carries the full ordered conversation history.
type HistoryUpdatedEvent struct {
	History []HistoryItem
}

// HistoryAddedEvent signals that an item was appended to the history.
type HistoryAddedEvent struct {
	Item HistoryItem
}

// GuardrailTrippedEvent is emitted when output guardrails reject a response.
type GuardrailTrippedEvent struct {
	Results []GuardrailResult
	Message string
}

// RawModelEvent passes through a provider event with no dedicated variant.
type RawModelEvent struct {
	Data ModelEvent
}

// ErrorEvent reports a runtime failure that did not end the session.
type ErrorEvent struct {
	Err error
}

// InputAudioTimeoutEvent is emitted when the runtime stopped waiting for input audio.
type InputAudioTimeoutEvent struct{}

func (AgentStartEvent) Type() string        { return TypeAgentStart }
func (AgentEndEvent) Type() string          { return TypeAgentEnd }
func (HandoffEvent) Type() string           { return TypeHandoff }
func (ToolStartEvent) Type() string         { return TypeToolStart }
func (ToolEndEvent) Type() string           { return TypeToolEnd }
func (AudioEvent) Type() string             { return TypeAudio }
func (AudioInterruptedEvent) Type() string  { return TypeAudioInterrupted }
func (AudioEndEvent) Type() string          { return TypeAudioEnd }
func (HistoryUpdatedEvent) Type() string    { return TypeHistoryUpdated }
func (HistoryAddedEvent) Type() string      { return TypeHistoryAdded }
func (GuardrailTrippedEvent) Type() string  { return TypeGuardrailTripped }
func (RawModelEvent) Type() string          { return TypeRawModelEvent }
func (ErrorEvent) Type() string             { return TypeError }
func (InputAudioTimeoutEvent) Type() string { return TypeInputAudioTimeout }

func (e AgentStartEvent) Accept(v EventVisitor) error        { return v.VisitAgentStart(e) }
func (e AgentEndEvent) Accept(v EventVisitor) error          { return v.VisitAgentEnd(e) }
func (e HandoffEvent) Accept(v EventVisitor) error           { return v.VisitHandoff(e) }
func (e ToolStartEvent) Accept(v EventVisitor) error         { return v.VisitToolStart(e) }
func (e ToolEndEvent) Accept(v EventVisitor) error           { return v.VisitToolEnd(e) }
func (e AudioEvent) Accept(v EventVisitor) error             { return v.VisitAudio(e) }
func (e AudioInterruptedEvent) Accept(v EventVisitor) error  { return v.VisitAudioInterrupted(e) }
func (e AudioEndEvent) Accept(v EventVisitor) error          { return v.VisitAudioEnd(e) }
func (e HistoryUpdatedEvent) Accept(v EventVisitor) error    { return v.VisitHistoryUpdated(e) }
func (e HistoryAddedEvent) Accept(v EventVisitor) error      { return v.VisitHistoryAdded(e) }
func (e GuardrailTrippedEvent) Accept(v EventVisitor) error  { return v.VisitGuardrailTripped(e) }
func (e RawModelEvent) Accept(v EventVisitor) error          { return v.VisitRawModelEvent(e) }
func (e ErrorEvent) Accept(v EventVisitor) error             { return v.VisitError(e) }
func (e InputAudioTimeoutEvent) Accept(v EventVisitor) error { return v.VisitInputAudioTimeout(e) }

func (AgentStartEvent) isEvent()        {}
func (AgentEndEvent) isEvent()          {}
func (HandoffEvent) isEvent()           {}
func (ToolStartEvent) isEvent()         {}
func (ToolEndEvent) isEvent()           {}
func (AudioEvent) isEvent()             {}
func (AudioInterruptedEvent) isEvent()  {}
func (AudioEndEvent) isEvent()          {}
func (HistoryUpdatedEvent) isEvent()    {}
func (HistoryAddedEvent) isEvent()      {}
func (GuardrailTrippedEvent) isEvent()  {}
func (RawModelEvent) isEvent()          {}
func (ErrorEvent) isEvent()             {}
func (InputAudioTimeoutEvent) isEvent() {}
