// Package openai runs realtime sessions against the OpenAI Realtime API.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
	"github.com/vango-go/vai-realtime/pkg/core/realtime"
)

const (
	defaultWSBase       = "wss://api.openai.com/v1/realtime"
	defaultModel        = "gpt-realtime"
	defaultVoice        = "alloy"
	defaultSampleRateHz = 24000
	defaultWriteTimeout = 5 * time.Second
	backendName         = "openai"

	toolUnavailable = "tool execution is not available in this session"
)

type Config struct {
	APIKey       string
	Model        string
	BaseWSURL    string
	SampleRateHz int
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

type Runtime struct {
	cfg Config
}

func New(cfg Config) (*Runtime, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = defaultSampleRateHz
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Runtime{cfg: cfg}, nil
}

func (r *Runtime) Name() string { return backendName }

func (r *Runtime) Connect(ctx context.Context, opts realtime.SessionOptions) (realtime.Session, error) {
	wsURL, err := buildWSURL(r.cfg.BaseWSURL, r.cfg.Model)
	if err != nil {
		return nil, &realtime.RuntimeError{Backend: backendName, Op: "connect", Err: err}
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(r.cfg.APIKey))

	conn, resp, err := r.cfg.Dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &realtime.RuntimeError{Backend: backendName, Op: "connect", Err: err}
	}

	agentName := opts.Agent.Name
	if agentName == "" {
		agentName = "Assistant"
	}
	s := &session{
		conn:         conn,
		writeTimeout: r.cfg.WriteTimeout,
		tr:           &translator{agent: realtime.Agent{Name: agentName}},
	}
	if err := s.writeJSON(ctx, sessionUpdate(opts.Agent, r.cfg.Model, r.cfg.SampleRateHz)); err != nil {
		_ = conn.Close()
		return nil, &realtime.RuntimeError{Backend: backendName, Op: "session.update", Err: err}
	}
	s.stream = realtime.NewStream(s.receive)
	return s, nil
}

func sessionUpdate(agent realtime.AgentConfig, model string, rate int) map[string]any {
	voice := agent.Voice
	if voice == "" {
		voice = defaultVoice
	}
	format := map[string]any{"type": "audio/pcm", "rate": rate}
	session := map[string]any{
		"type":              "realtime",
		"model":             model,
		"output_modalities": []string{"audio"},
		"audio": map[string]any{
			"input": map[string]any{
				"format":         format,
				"turn_detection": map[string]any{"type": "server_vad"},
				"transcription":  map[string]any{"model": "whisper-1"},
			},
			"output": map[string]any{
				"format": format,
				"voice":  voice,
			},
		},
	}
	if agent.Instructions != "" {
		session["instructions"] = agent.Instructions
	}
	return map[string]any{
		"type":     "session.update",
		"event_id": newEventID(),
		"session":  session,
	}
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}

func buildWSURL(base, model string) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = defaultWSBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid openai realtime url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	stream       *realtime.Stream
	tr           *translator

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

func (s *session) SendAudio(ctx context.Context, buf []byte) error {
	return s.writeJSON(ctx, map[string]any{
		"type":     "input_audio_buffer.append",
		"event_id": newEventID(),
		"audio":    base64.StdEncoding.EncodeToString(buf),
	})
}

// SendControl maps client control frames onto Realtime API client events:
// "interrupt" cancels the in-progress response, "commit" commits buffered
// input and requests a response.
func (s *session) SendControl(ctx context.Context, raw []byte) error {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &realtime.RuntimeError{Backend: backendName, Op: "control", Err: err}
	}
	switch msg.Type {
	case "interrupt":
		return s.writeJSON(ctx, map[string]any{"type": "response.cancel", "event_id": newEventID()})
	case "commit":
		if err := s.writeJSON(ctx, map[string]any{"type": "input_audio_buffer.commit", "event_id": newEventID()}); err != nil {
			return err
		}
		return s.writeJSON(ctx, map[string]any{"type": "response.create", "event_id": newEventID()})
	default:
		return nil
	}
}

func (s *session) Next(ctx context.Context) (realtime.Event, error) {
	ev, err := s.stream.Next(ctx)
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		return nil, &realtime.RuntimeError{Backend: backendName, Op: "receive", Err: err}
	}
	return ev, err
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.stream != nil {
			s.stream.Stop()
		}
		s.writeMu.Lock()
		s.closed = true
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *session) receive() ([]realtime.Event, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	events, replies := s.tr.translate(data)
	for _, reply := range replies {
		err := s.writeJSON(context.Background(), reply)
		if err != nil {
			if !errors.Is(err, realtime.ErrSessionClosed) {
				events = append(events, realtime.ErrorEvent{Err: err})
			}
			break
		}
	}
	return events, nil
}

func (s *session) writeJSON(ctx context.Context, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return realtime.ErrSessionClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	} else {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteJSON(payload); err != nil {
		return &realtime.RuntimeError{Backend: backendName, Op: "write", Err: err}
	}
	return nil
}

// translator turns Realtime API server events into runtime events. It keeps
// the conversation history the API reports item by item.
type translator struct {
	agent   realtime.Agent
	history realtime.History
}

type serverEvent struct {
	Type   string          `json:"type"`
	ItemID string          `json:"item_id"`
	Delta  string          `json:"delta"`
	Name   string          `json:"name"`
	CallID string          `json:"call_id"`
	Item   json.RawMessage `json:"item"`
	Error  *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Transcript string `json:"transcript"`
}

type item struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
	Content   []struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		Transcript string `json:"transcript"`
	} `json:"content"`
}

func (it item) historyItem() realtime.HistoryItem {
	out := realtime.HistoryItem{
		ItemID:    it.ID,
		Type:      it.Type,
		Role:      it.Role,
		Status:    it.Status,
		Name:      it.Name,
		Arguments: it.Arguments,
		Output:    it.Output,
	}
	for _, c := range it.Content {
		out.Content = append(out.Content, realtime.HistoryContent{Type: c.Type, Text: c.Text, Transcript: c.Transcript})
	}
	return out
}

// translate maps one server event. Client events that must be sent back in
// response, such as tool call outputs, are returned as replies.
func (t *translator) translate(data []byte) (events []realtime.Event, replies []any) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return []realtime.Event{realtime.ErrorEvent{Err: fmt.Errorf("invalid server event: %w", err)}}, nil
	}
	if ev.Type == "response.function_call_arguments.done" {
		return t.refuseToolCall(ev)
	}
	return t.translateEvent(ev, data), nil
}

// refuseToolCall closes a function call the model made with an error output
// so the response can continue.
func (t *translator) refuseToolCall(ev serverEvent) ([]realtime.Event, []any) {
	tool := realtime.Tool{Name: ev.Name}
	output, _ := json.Marshal(map[string]string{"error": toolUnavailable})
	events := []realtime.Event{
		realtime.ToolStartEvent{Agent: t.agent, Tool: tool},
		realtime.ToolEndEvent{Agent: t.agent, Tool: tool, Output: toolUnavailable},
	}
	replies := []any{
		map[string]any{
			"type":     "conversation.item.create",
			"event_id": newEventID(),
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": ev.CallID,
				"output":  string(output),
			},
		},
		map[string]any{"type": "response.create", "event_id": newEventID()},
	}
	return events, replies
}

func (t *translator) translateEvent(ev serverEvent, data []byte) []realtime.Event {

	switch ev.Type {
	case "response.created":
		return []realtime.Event{realtime.AgentStartEvent{Agent: t.agent}}
	case "response.done":
		return []realtime.Event{realtime.AgentEndEvent{Agent: t.agent}}
	case "response.output_audio.delta", "response.audio.delta":
		raw, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return []realtime.Event{realtime.ErrorEvent{Err: fmt.Errorf("invalid audio delta: %w", err)}}
		}
		samples, err := pcm.Decode(raw)
		if err != nil {
			return []realtime.Event{realtime.ErrorEvent{Err: err}}
		}
		return []realtime.Event{realtime.AudioEvent{ItemID: ev.ItemID, Samples: samples}}
	case "response.output_audio.done", "response.audio.done":
		return []realtime.Event{realtime.AudioEndEvent{ItemID: ev.ItemID}}
	case "input_audio_buffer.speech_started":
		return []realtime.Event{realtime.AudioInterruptedEvent{ItemID: ev.ItemID}}
	case "input_audio_buffer.timeout_triggered":
		return []realtime.Event{realtime.InputAudioTimeoutEvent{}}
	case "conversation.item.created", "conversation.item.added", "conversation.item.done", "response.output_item.done":
		var it item
		if err := json.Unmarshal(ev.Item, &it); err != nil {
			return []realtime.Event{realtime.ErrorEvent{Err: fmt.Errorf("invalid item: %w", err)}}
		}
		hi := it.historyItem()
		if t.history.Upsert(hi) {
			return []realtime.Event{
				realtime.HistoryAddedEvent{Item: hi},
				realtime.HistoryUpdatedEvent{History: t.history.Snapshot()},
			}
		}
		return []realtime.Event{realtime.HistoryUpdatedEvent{History: t.history.Snapshot()}}
	case "conversation.item.input_audio_transcription.completed":
		hi, ok := t.history.Get(ev.ItemID)
		if !ok {
			return nil
		}
		content := append([]realtime.HistoryContent(nil), hi.Content...)
		if len(content) == 0 {
			content = []realtime.HistoryContent{{Type: "input_audio"}}
		}
		content[0].Transcript = ev.Transcript
		hi.Content = content
		t.history.Upsert(hi)
		return []realtime.Event{realtime.HistoryUpdatedEvent{History: t.history.Snapshot()}}
	case "error":
		msg := "unknown error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return []realtime.Event{realtime.ErrorEvent{Err: errors.New(msg)}}
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return []realtime.Event{realtime.RawModelEvent{Data: realtime.ModelEvent{Type: ev.Type, Raw: raw}}}
	}
}
