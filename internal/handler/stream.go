package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/executor"
	"github.com/sakif/codetrace/internal/model"
)

const (
	wsWriteWait = 5 * time.Second
	// streamQueue is how many frames may wait for a slow client. It holds a
	// whole run at the default event cap.
	streamQueue = 16384
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // the API is unauthenticated; any origin may trace code
	},
}

// streamFrame is one server → client message.
type streamFrame struct {
	Type    string                 `json:"type"` // "event", "result" or "error"
	Event   *model.TraceEvent      `json:"event,omitempty"`
	Result  *model.ExecutionResult `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// StreamHandler runs executions over a websocket, pushing each trace event as
// the pathway produces it.
type StreamHandler struct {
	exec   executor.Executor
	logger *slog.Logger
	queue  int
}

func NewStreamHandler(exec executor.Executor, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{exec: exec, logger: logger, queue: streamQueue}
}

// HandleStream serves GET /api/execute/ws. The client may send any number of
// {language, source} messages; each is answered with zero or more event frames
// followed by exactly one result or error frame.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// Same bound as a POST body. Upgrade has already cleared the server's
	// read deadline, so a session lasts until the client closes it.
	conn.SetReadLimit(maxBodyBytes)

	// Cancelled when the client disconnects or the handler returns.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := func(f streamFrame) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(f)
	}

	for {
		var req model.ExecutionRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}
		if err := h.run(ctx, req, send); err != nil {
			h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}

// run executes one request. Frames are written by a separate goroutine through
// a bounded queue, so the pathway never waits on the network. A full queue
// cancels the run and ends it with a stream_overflow error frame.
func (h *StreamHandler) run(ctx context.Context, req model.ExecutionRequest, send func(streamFrame) error) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	frames := make(chan streamFrame, h.queue)
	written := make(chan error, 1)
	go func() {
		var err error
		for f := range frames {
			if err != nil {
				continue
			}
			if err = send(f); err != nil {
				cancelRun()
			}
		}
		written <- err
	}()

	overflow := false
	obs := func(ev model.TraceEvent) {
		if overflow {
			return
		}
		select {
		case frames <- streamFrame{Type: "event", Event: &ev}:
		default:
			overflow = true
			cancelRun()
		}
	}

	result, err := h.exec.Execute(executor.WithObserver(runCtx, obs), req)

	switch {
	case overflow:
		h.logger.Warn("websocket client too slow, run cancelled", slog.Int("queued", h.queue))
		// Pending events are dropped so the error frame is next on the wire.
	drain:
		for {
			select {
			case <-frames:
			default:
				break drain
			}
		}
		frames <- streamFrame{Type: "error", Error: "stream_overflow", Message: "Client is not reading trace events fast enough"}
	case err != nil && errors.Is(err, apperror.ErrParse) && result != nil:
		// Nothing ran, so the observer saw nothing: the error event only
		// exists in the result.
		frames <- streamFrame{Type: "result", Result: result}
	case err != nil:
		_, errorType := classify(err)
		frames <- streamFrame{Type: "error", Error: errorType, Message: errorMessage(err)}
	default:
		frames <- streamFrame{Type: "result", Result: result}
	}
	close(frames)
	return <-written
}
