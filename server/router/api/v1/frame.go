package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"

	"github.com/threadcast/threadcast/server/metrics"
)

// Frame is one event of the response stream. The last frame of a successful
// session has IsComplete set and empty Text; a failed session ends with a
// frame carrying Error instead.
type Frame struct {
	MessageID  string `json:"message_id"`
	Text       string `json:"text"`
	IsComplete bool   `json:"is_complete"`
	Error      string `json:"error,omitempty"`
}

// Emitter receives the frames of a session. Emit never fails: a sink whose
// client is gone drops frames silently.
type Emitter interface {
	Emit(frame Frame)
}

// frameWriter writes newline-delimited JSON frames and flushes each one.
// Once the request context ends or a write fails it turns into a no-op.
type frameWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	enc    *json.Encoder
	reqCtx context.Context
	logger *slog.Logger
	gone   bool
}

func newFrameWriter(reqCtx context.Context, w http.ResponseWriter, logger *slog.Logger) *frameWriter {
	return &frameWriter{
		w:      w,
		rc:     http.NewResponseController(w),
		enc:    json.NewEncoder(w),
		reqCtx: reqCtx,
		logger: logger,
	}
}

func (fw *frameWriter) Emit(frame Frame) {
	if fw.gone {
		return
	}
	if err := fw.reqCtx.Err(); err != nil {
		fw.disconnect(err)
		return
	}
	if err := fw.enc.Encode(frame); err != nil {
		fw.disconnect(err)
		return
	}
	if err := fw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		fw.disconnect(err)
	}
}

func (fw *frameWriter) disconnect(cause error) {
	fw.gone = true
	metrics.DisconnectedClients.Inc()
	fw.logger.Info("client went away, continuing without emitting", slog.String("cause", cause.Error()))
}
