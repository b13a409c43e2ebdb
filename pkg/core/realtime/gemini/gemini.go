// Package gemini runs realtime sessions against the Gemini Live API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
	"github.com/vango-go/vai-realtime/pkg/core/realtime"
)

const (
	defaultModel             = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultAPIVersion        = "v1beta"
	defaultInputSampleRateHz = 16000
	backendName              = "gemini"

	toolUnavailable = "tool execution is not available in this session"
)

type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	APIVersion        string
	InputSampleRateHz int
}

type Runtime struct {
	client *genai.Client
	cfg    Config
}

func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.InputSampleRateHz <= 0 {
		cfg.InputSampleRateHz = defaultInputSampleRateHz
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Runtime{client: client, cfg: cfg}, nil
}

func (r *Runtime) Name() string { return backendName }

func (r *Runtime) Connect(ctx context.Context, opts realtime.SessionOptions) (realtime.Session, error) {
	conf := liveConfig(opts.Agent)

	type result struct {
		sess *genai.Session
		err  error
	}
	// Live.Connect dials without a context.
	done := make(chan result, 1)
	go func() {
		sess, err := r.client.Live.Connect(ctx, r.cfg.Model, conf)
		done <- result{sess: sess, err: err}
	}()

	var live *genai.Session
	select {
	case res := <-done:
		if res.err != nil {
			return nil, &realtime.RuntimeError{Backend: backendName, Op: "connect", Err: res.err}
		}
		live = res.sess
	case <-ctx.Done():
		go func() {
			if res := <-done; res.sess != nil {
				_ = res.sess.Close()
			}
		}()
		return nil, &realtime.RuntimeError{Backend: backendName, Op: "connect", Err: ctx.Err()}
	}

	agentName := opts.Agent.Name
	if agentName == "" {
		agentName = "Assistant"
	}
	s := &session{
		live:     live,
		mimeType: "audio/pcm;rate=" + strconv.Itoa(r.cfg.InputSampleRateHz),
		tr:       &translator{agent: realtime.Agent{Name: agentName}},
	}
	s.stream = realtime.NewStream(s.receive)
	return s, nil
}

func liveConfig(agent realtime.AgentConfig) *genai.LiveConnectConfig {
	conf := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if agent.Instructions != "" {
		conf.SystemInstruction = genai.NewContentFromText(agent.Instructions, genai.RoleUser)
	}
	if agent.Voice != "" {
		conf.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: agent.Voice},
			},
		}
	}
	return conf
}

type session struct {
	live     *genai.Session
	mimeType string
	stream   *realtime.Stream
	tr       *translator

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

func (s *session) SendAudio(ctx context.Context, buf []byte) error {
	return s.send(ctx, "send audio", func() error {
		return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: buf, MIMEType: s.mimeType},
		})
	})
}

// SendControl accepts {"type":"audio-stream-end"} to flush buffered input
// after the client stops streaming.
func (s *session) SendControl(ctx context.Context, raw []byte) error {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &realtime.RuntimeError{Backend: backendName, Op: "control", Err: err}
	}
	if msg.Type != "audio-stream-end" {
		return nil
	}
	return s.send(ctx, "control", func() error {
		return s.live.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
	})
}

func (s *session) send(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return realtime.ErrSessionClosed
	}
	if err := fn(); err != nil {
		return &realtime.RuntimeError{Backend: backendName, Op: op, Err: err}
	}
	return nil
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
		s.stream.Stop()
		s.writeMu.Lock()
		s.closed = true
		s.writeMu.Unlock()
		_ = s.live.Close()
	})
	return nil
}

func (s *session) receive() ([]realtime.Event, error) {
	msg, err := s.live.Receive()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	events, responses := s.tr.translate(msg)
	if len(responses) > 0 {
		err := s.send(context.Background(), "tool response", func() error {
			return s.live.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
		})
		if err != nil && !errors.Is(err, realtime.ErrSessionClosed) {
			events = append(events, realtime.ErrorEvent{Err: err})
		}
	}
	return events, nil
}

// translator turns Live server messages into runtime events. It tracks the
// current turn and keeps transcripts as conversation history.
type translator struct {
	agent   realtime.Agent
	history realtime.History

	turn     int
	inTurn   bool
	userText strings.Builder
	botText  strings.Builder
	dirty    bool
}

func (t *translator) itemID(role string) string {
	return fmt.Sprintf("turn-%d-%s", t.turn, role)
}

func (t *translator) startTurn(out []realtime.Event) []realtime.Event {
	if t.inTurn {
		return out
	}
	t.inTurn = true
	return append(out, realtime.AgentStartEvent{Agent: t.agent})
}

func (t *translator) transcript(out []realtime.Event, role string, b *strings.Builder, text string) []realtime.Event {
	if text == "" {
		return out
	}
	b.WriteString(text)
	item := realtime.HistoryItem{
		ItemID:  t.itemID(role),
		Type:    "message",
		Role:    role,
		Status:  "in_progress",
		Content: []realtime.HistoryContent{{Type: "audio", Transcript: b.String()}},
	}
	if role == "user" {
		item.Content[0].Type = "input_audio"
	}
	if t.history.Upsert(item) {
		return append(out,
			realtime.HistoryAddedEvent{Item: item},
			realtime.HistoryUpdatedEvent{History: t.history.Snapshot()},
		)
	}
	t.dirty = true
	return out
}

func (t *translator) completeItem(role string) {
	item, ok := t.history.Get(t.itemID(role))
	if !ok {
		return
	}
	item.Status = "completed"
	t.history.Upsert(item)
	t.dirty = true
}

func (t *translator) translate(msg *genai.LiveServerMessage) ([]realtime.Event, []*genai.FunctionResponse) {
	if msg == nil {
		return nil, nil
	}
	var out []realtime.Event
	var responses []*genai.FunctionResponse

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil {
			out = t.transcript(out, "user", &t.userText, sc.InputTranscription.Text)
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || !strings.HasPrefix(part.InlineData.MIMEType, "audio/pcm") {
					continue
				}
				out = t.startTurn(out)
				samples, err := pcm.Decode(part.InlineData.Data)
				if err != nil {
					out = append(out, realtime.ErrorEvent{Err: err})
					continue
				}
				out = append(out, realtime.AudioEvent{ItemID: t.itemID("assistant"), Samples: samples})
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out = t.startTurn(out)
			out = t.transcript(out, "assistant", &t.botText, sc.OutputTranscription.Text)
		}
		if sc.Interrupted {
			out = append(out, realtime.AudioInterruptedEvent{ItemID: t.itemID("assistant")})
		}
		if sc.TurnComplete {
			if t.inTurn {
				out = append(out,
					realtime.AudioEndEvent{ItemID: t.itemID("assistant")},
					realtime.AgentEndEvent{Agent: t.agent},
				)
			}
			t.completeItem("user")
			t.completeItem("assistant")
			if t.dirty {
				out = append(out, realtime.HistoryUpdatedEvent{History: t.history.Snapshot()})
			}
			t.turn++
			t.inTurn = false
			t.dirty = false
			t.userText.Reset()
			t.botText.Reset()
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, call := range tc.FunctionCalls {
			if call == nil {
				continue
			}
			tool := realtime.Tool{Name: call.Name}
			out = append(out,
				realtime.ToolStartEvent{Agent: t.agent, Tool: tool},
				realtime.ToolEndEvent{Agent: t.agent, Tool: tool, Output: toolUnavailable},
			)
			responses = append(responses, &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: map[string]any{"error": toolUnavailable},
			})
		}
	}

	switch {
	case msg.SetupComplete != nil:
		out = append(out, raw("setup-complete", msg))
	case msg.GoAway != nil:
		out = append(out, raw("go-away", msg))
	case msg.ToolCallCancellation != nil:
		out = append(out, raw("tool-call-cancellation", msg))
	case msg.SessionResumptionUpdate != nil:
		out = append(out, raw("session-resumption-update", msg))
	case msg.UsageMetadata != nil && len(out) == 0:
		out = append(out, raw("usage-metadata", msg))
	}
	return out, responses
}

func raw(kind string, msg *genai.LiveServerMessage) realtime.Event {
	data, _ := json.Marshal(msg)
	return realtime.RawModelEvent{Data: realtime.ModelEvent{Type: kind, Raw: data}}
}
