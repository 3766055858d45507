package v1

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/threadcast/threadcast/server/auth"
	"github.com/threadcast/threadcast/server/errkind"
	"github.com/threadcast/threadcast/server/metrics"
)

type generateRequest struct {
	ChatID string `json:"chat_id"`
	Prompt string `json:"prompt"`
}

// handleGenerate authenticates the caller, creates the AI message and
// streams the reply as newline-delimited JSON frames.
//
// If the client disconnects, generation and store updates carry on under a
// context detached from the request, so viewers watching the store still see
// the whole reply. The session timeout bounds that work.
func (s *APIV1Service) handleGenerate(c *echo.Context) error {
	r := c.Request()
	session := s.newGenerationSession()

	// ── 1. Authenticate ──────────────────────────────────────────────────────
	if err := session.Authenticate(auth.ExtractToken(r)); err != nil {
		return writeError(c, err)
	}

	// ── 2. Validate ──────────────────────────────────────────────────────────
	var req generateRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.ChatID) == "" || strings.TrimSpace(req.Prompt) == "" {
		return writeError(c, errkind.New(errkind.InvalidRequest, "Missing required fields: chat_id and prompt"))
	}
	if !s.limiter.Allow(session.PrincipalID) {
		return writeError(c, errkind.New(errkind.RateLimited, "Too many generation requests"))
	}
	session.Bind(req.ChatID, req.Prompt)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.Profile.SessionTimeout)
	defer cancel()
	defer s.observe(session)

	// ── 3. Context + initial message ─────────────────────────────────────────
	messages := session.BuildContext(ctx)
	if err := session.Open(ctx); err != nil {
		return writeError(c, err)
	}

	// ── 4. Stream ────────────────────────────────────────────────────────────
	rw := c.Response()
	rw.Header().Set("Content-Type", "application/x-ndjson")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.Header().Set("X-Message-Id", session.MessageID)
	rw.WriteHeader(http.StatusOK)

	fw := newFrameWriter(r.Context(), rw, session.logger)
	fw.Emit(Frame{MessageID: session.MessageID})
	// The error is already reported in-band and logged by the session.
	_ = session.Generate(ctx, messages, fw)
	return nil
}

func (s *APIV1Service) observe(session *GenerationSession) {
	state := session.State().String()
	metrics.SessionsTotal.WithLabelValues(s.Backend.Name(), state).Inc()
	metrics.SessionDuration.WithLabelValues(state).Observe(time.Since(session.started).Seconds())
}

// writeError answers with a JSON error whose status derives from the error kind.
func writeError(c *echo.Context, err error) error {
	kind := errkind.Of(err)
	status := kind.HTTPStatus()
	attrs := []any{slog.String("path", c.Request().URL.Path), slog.String("kind", kind.String()), slog.String("error", err.Error())}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}
	return c.JSON(status, map[string]string{"error": errkind.Message(err)})
}
