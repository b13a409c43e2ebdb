package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-realtime/pkg/gateway/config"
	"github.com/vango-go/vai-realtime/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-realtime/pkg/gateway/mw"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/protocol"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/session"
	"github.com/vango-go/vai-realtime/pkg/gateway/realtime/transport"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RealtimeHandler upgrades /ws/{session_id} and runs the session until the
// socket closes.
type RealtimeHandler struct {
	Config    config.Config
	Manager   *session.Manager
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
}

func (h RealtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := r.PathValue("session_id")
	if !sessionIDPattern.MatchString(id) {
		mw.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request_error", "session id must be 1-128 characters of [A-Za-z0-9._:-]")
		return
	}
	if h.Lifecycle.IsDraining() {
		mw.WriteJSONError(w, r, http.StatusServiceUnavailable, "overloaded_error", "server is draining")
		return
	}
	if !mw.IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		mw.WriteJSONError(w, r, http.StatusUpgradeRequired, "invalid_request_error", "websocket upgrade required")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: mw.CheckOrigin(h.Config.AllowedOrigins),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		return
	}

	reqID, _ := mw.RequestIDFrom(r.Context())
	logger = logger.With("session_id", id, "request_id", reqID)

	t := transport.New(conn, transport.Config{
		WriteTimeout:    h.Config.WSWriteTimeout,
		PingInterval:    h.Config.WSPingInterval,
		ReadTimeout:     h.Config.WSReadTimeout,
		MaxMessageBytes: h.Config.WSMaxMessageBytes,
	})
	defer t.Close()

	err = h.Manager.Serve(r.Context(), id, t)
	if err == nil {
		return
	}

	var trErr *transport.Error
	switch {
	case errors.Is(err, session.ErrDuplicateSession):
		logger.Info("realtime session rejected", "error", err)
		_ = t.Send(r.Context(), protocol.ErrorMessage("session already exists"))
		_ = t.CloseWithStatus(websocket.ClosePolicyViolation, "duplicate session")
	case errors.Is(err, session.ErrClosedDuringConnect):
		_ = t.CloseWithStatus(websocket.CloseGoingAway, "server shutting down")
	case errors.As(err, &trErr):
		// Serve has already reported the frame and closed the session.
		logger.Debug("realtime connection ended", "error", err)
	case errors.Is(err, session.ErrRuntimeUnavailable):
		logger.Warn("realtime runtime connect failed", "error", err)
		_ = t.Send(r.Context(), protocol.ErrorMessage(err.Error()))
		_ = t.CloseWithStatus(websocket.CloseInternalServerErr, "runtime unavailable")
	default:
		logger.Warn("realtime session ended with error", "error", err)
	}
}
