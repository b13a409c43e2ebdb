package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
	"github.com/vango-go/vai-realtime/pkg/core/realtime"
)

type fakeServer struct {
	srv      *httptest.Server
	auth     chan string
	model    chan string
	conns    chan *websocket.Conn
	upgrader websocket.Upgrader
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		auth:  make(chan string, 1),
		model: make(chan string, 1),
		conns: make(chan *websocket.Conn, 1),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.auth <- r.Header.Get("Authorization")
		fs.model <- r.URL.Query().Get("model")
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not accept a connection")
		return nil
	}
}

func readClientEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read client event: %v", err)
	}
	return msg
}

func connect(t *testing.T, fs *fakeServer) realtime.Session {
	t.Helper()
	rt, err := New(Config{APIKey: "sk-test", BaseWSURL: fs.wsURL()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := rt.Connect(ctx, realtime.SessionOptions{
		SessionID: "s1",
		Agent:     realtime.AgentConfig{Name: "Assistant", Instructions: "be brief"},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func nextEvent(t *testing.T, sess realtime.Session) realtime.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sess.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return ev
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestBuildWSURL(t *testing.T) {
	got, err := buildWSURL("", "gpt-realtime")
	if err != nil {
		t.Fatalf("buildWSURL: %v", err)
	}
	if got != "wss://api.openai.com/v1/realtime?model=gpt-realtime" {
		t.Fatalf("url=%q", got)
	}

	got, err = buildWSURL("http://localhost:9000/v1/realtime?model=custom", "gpt-realtime")
	if err != nil {
		t.Fatalf("buildWSURL: %v", err)
	}
	if got != "ws://localhost:9000/v1/realtime?model=custom" {
		t.Fatalf("url=%q", got)
	}
}

func TestConnectSendsSessionUpdate(t *testing.T) {
	fs := newFakeServer(t)
	_ = connect(t, fs)
	conn := fs.accept(t)

	if auth := <-fs.auth; auth != "Bearer sk-test" {
		t.Fatalf("authorization=%q", auth)
	}
	if model := <-fs.model; model != defaultModel {
		t.Fatalf("model=%q", model)
	}

	msg := readClientEvent(t, conn)
	if msg["type"] != "session.update" {
		t.Fatalf("type=%v", msg["type"])
	}
	if id, _ := msg["event_id"].(string); !strings.HasPrefix(id, "evt_") {
		t.Fatalf("event_id=%q", id)
	}
	session, _ := msg["session"].(map[string]any)
	if session["instructions"] != "be brief" {
		t.Fatalf("instructions=%v", session["instructions"])
	}
}

func TestSendAudioAppendsBase64PCM(t *testing.T) {
	fs := newFakeServer(t)
	sess := connect(t, fs)
	conn := fs.accept(t)
	_ = readClientEvent(t, conn)

	payload := pcm.Encode([]int16{1, -2, 300})
	if err := sess.SendAudio(context.Background(), payload); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	msg := readClientEvent(t, conn)
	if msg["type"] != "input_audio_buffer.append" {
		t.Fatalf("type=%v", msg["type"])
	}
	if msg["audio"] != base64.StdEncoding.EncodeToString(payload) {
		t.Fatalf("audio=%v", msg["audio"])
	}
}

func TestInterruptControlCancelsResponse(t *testing.T) {
	fs := newFakeServer(t)
	sess := connect(t, fs)
	conn := fs.accept(t)
	_ = readClientEvent(t, conn)

	cs, ok := sess.(realtime.ControlSender)
	if !ok {
		t.Fatalf("session does not accept control frames")
	}
	if err := cs.SendControl(context.Background(), []byte(`{"type":"interrupt"}`)); err != nil {
		t.Fatalf("SendControl: %v", err)
	}
	if msg := readClientEvent(t, conn); msg["type"] != "response.cancel" {
		t.Fatalf("type=%v", msg["type"])
	}
}

func TestServerEventsAreTranslatedInOrder(t *testing.T) {
	fs := newFakeServer(t)
	sess := connect(t, fs)
	conn := fs.accept(t)
	_ = readClientEvent(t, conn)

	delta := base64.StdEncoding.EncodeToString(pcm.Encode([]int16{7, 8}))
	for _, msg := range []string{
		`{"type":"response.created"}`,
		`{"type":"response.output_audio.delta","item_id":"it1","delta":"` + delta + `"}`,
		`{"type":"response.output_audio.done","item_id":"it1"}`,
		`{"type":"response.done"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if ev, ok := nextEvent(t, sess).(realtime.AgentStartEvent); !ok || ev.Agent.Name != "Assistant" {
		t.Fatalf("expected agent start, got %#v", ev)
	}
	audio, ok := nextEvent(t, sess).(realtime.AudioEvent)
	if !ok || audio.ItemID != "it1" || len(audio.Samples) != 2 || audio.Samples[0] != 7 || audio.Samples[1] != 8 {
		t.Fatalf("unexpected audio event: %#v", audio)
	}
	if _, ok := nextEvent(t, sess).(realtime.AudioEndEvent); !ok {
		t.Fatalf("expected audio end")
	}
	if _, ok := nextEvent(t, sess).(realtime.AgentEndEvent); !ok {
		t.Fatalf("expected agent end")
	}
}

func TestServerCloseEndsStream(t *testing.T) {
	fs := newFakeServer(t)
	sess := connect(t, fs)
	conn := fs.accept(t)
	_ = readClientEvent(t, conn)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write close: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := sess.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCloseUnblocksNext(t *testing.T) {
	fs := newFakeServer(t)
	sess := connect(t, fs)
	conn := fs.accept(t)
	_ = readClientEvent(t, conn)

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Next(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Next did not return after Close")
	}
	if err := sess.SendAudio(context.Background(), []byte{0, 0}); !errors.Is(err, realtime.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestTranslatorHistory(t *testing.T) {
	tr := &translator{agent: realtime.Agent{Name: "Assistant"}}

	evs, _ := tr.translate([]byte(`{"type":"conversation.item.created","item":{"id":"u1","type":"message","role":"user","content":[{"type":"input_audio"}]}}`))
	if len(evs) != 2 {
		t.Fatalf("expected added + updated, got %d events", len(evs))
	}
	added, ok := evs[0].(realtime.HistoryAddedEvent)
	if !ok || added.Item.ItemID != "u1" || added.Item.Role != "user" {
		t.Fatalf("unexpected added event: %#v", evs[0])
	}
	first, ok := evs[1].(realtime.HistoryUpdatedEvent)
	if !ok || len(first.History) != 1 {
		t.Fatalf("unexpected updated event: %#v", evs[1])
	}

	evs, _ = tr.translate([]byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"u1","transcript":"hello"}`))
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	updated := evs[0].(realtime.HistoryUpdatedEvent)
	if got := updated.History[0].Content[0].Transcript; got != "hello" {
		t.Fatalf("transcript=%q", got)
	}
	if first.History[0].Content[0].Transcript != "" {
		t.Fatalf("earlier snapshot was mutated")
	}

	if evs, _ := tr.translate([]byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"missing","transcript":"x"}`)); len(evs) != 0 {
		t.Fatalf("expected no events for unknown item, got %d", len(evs))
	}
}

func TestTranslatorMapping(t *testing.T) {
	tr := &translator{agent: realtime.Agent{Name: "Assistant"}}
	cases := []struct {
		msg  string
		want string
	}{
		{`{"type":"input_audio_buffer.speech_started","item_id":"u2"}`, realtime.TypeAudioInterrupted},
		{`{"type":"input_audio_buffer.timeout_triggered"}`, realtime.TypeInputAudioTimeout},
		{`{"type":"error","error":{"message":"bad"}}`, realtime.TypeError},
		{`{"type":"rate_limits.updated"}`, realtime.TypeRawModelEvent},
		{`not json`, realtime.TypeError},
		{`{"type":"response.output_audio.delta","delta":"AQ=="}`, realtime.TypeError},
	}
	for _, tc := range cases {
		evs, replies := tr.translate([]byte(tc.msg))
		if len(replies) != 0 {
			t.Fatalf("%s: unexpected replies %v", tc.msg, replies)
		}
		if len(evs) != 1 || evs[0].Type() != tc.want {
			t.Fatalf("%s: got %#v, want %s", tc.msg, evs, tc.want)
		}
	}

	evs, _ := tr.translate([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	raw := evs[0].(realtime.RawModelEvent)
	var decoded map[string]any
	if err := json.Unmarshal(raw.Data.Raw, &decoded); err != nil || decoded["type"] != "rate_limits.updated" {
		t.Fatalf("raw payload not preserved: %s", raw.Data.Raw)
	}
	if raw.Data.Type != "rate_limits.updated" {
		t.Fatalf("raw type=%q", raw.Data.Type)
	}

	evs, _ = tr.translate([]byte(`{"type":"error","error":{"message":"bad"}}`))
	errEv := evs[0].(realtime.ErrorEvent)
	if errEv.Err.Error() != "bad" {
		t.Fatalf("error=%v", errEv.Err)
	}
}

func TestToolCallIsAnsweredWithErrorOutput(t *testing.T) {
	fs := newFakeServer(t)
	sess := connect(t, fs)
	conn := fs.accept(t)
	_ = readClientEvent(t, conn)

	call := `{"type":"response.function_call_arguments.done","call_id":"call_1","name":"lookup","arguments":"{}"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(call)); err != nil {
		t.Fatalf("write: %v", err)
	}

	start, ok := nextEvent(t, sess).(realtime.ToolStartEvent)
	if !ok || start.Tool.Name != "lookup" {
		t.Fatalf("unexpected first event: %#v", start)
	}
	end, ok := nextEvent(t, sess).(realtime.ToolEndEvent)
	if !ok || end.Tool.Name != "lookup" || end.Output != toolUnavailable {
		t.Fatalf("unexpected second event: %#v", end)
	}

	msg := readClientEvent(t, conn)
	if msg["type"] != "conversation.item.create" {
		t.Fatalf("type=%v", msg["type"])
	}
	item, _ := msg["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" {
		t.Fatalf("item=%v", item)
	}
	var output map[string]string
	if err := json.Unmarshal([]byte(item["output"].(string)), &output); err != nil || output["error"] != toolUnavailable {
		t.Fatalf("output=%v", item["output"])
	}
	if msg := readClientEvent(t, conn); msg["type"] != "response.create" {
		t.Fatalf("type=%v", msg["type"])
	}
}
