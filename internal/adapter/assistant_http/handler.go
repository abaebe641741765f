package assistant_http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/logger"
	"campus-assistant/internal/usecase/session"
)

// DefaultHeartbeat is the keep-alive interval of event streams.
const DefaultHeartbeat = 15 * time.Second

// ThrottleAdmin resets throttle state.
type ThrottleAdmin interface {
	Reset(identity string)
	Clear()
}

type Handler struct {
	registry  *session.Registry
	throttle  ThrottleAdmin
	logger    *logger.ContextLogger
	heartbeat time.Duration
}

func NewHandler(registry *session.Registry, throttle ThrottleAdmin, log *slog.Logger, heartbeat time.Duration) *Handler {
	return &Handler{
		registry:  registry,
		throttle:  throttle,
		logger:    logger.NewContextLogger(log, "assistant-http"),
		heartbeat: heartbeat,
	}
}

func (h *Handler) manager(c echo.Context) (*session.Manager, error) {
	id, ok := IdentityFrom(c)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return h.registry.Manager(id.Key), nil
}

// SendMessage streams the reply to {text} as event frames.
// (POST /v1/assistant/messages)
func (h *Handler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}
	m, err := h.manager(c)
	if err != nil {
		return writeError(c, err)
	}
	return h.stream(c, func(ctx context.Context, observe session.Observer) error {
		_, err := m.SendMessage(ctx, req.Text, observe)
		return err
	})
}

// RetryMessage resubmits the last attempted message.
// (POST /v1/assistant/messages/retry)
func (h *Handler) RetryMessage(c echo.Context) error {
	m, err := h.manager(c)
	if err != nil {
		return writeError(c, err)
	}
	return h.stream(c, func(ctx context.Context, observe session.Observer) error {
		_, err := m.RetryLastMessage(ctx, observe)
		return err
	})
}

func (h *Handler) stream(c echo.Context, run func(ctx context.Context, observe session.Observer) error) error {
	ctx := logger.WithStage(c.Request().Context(), "stream")
	r := newRelay(c.Response())
	stop := r.keepAlive(h.heartbeat)

	err := run(ctx, r.observe)
	stop()
	if err == nil {
		return nil
	}

	log := h.logger.WithContext(ctx)
	if !r.started() {
		log.Info("send_rejected", "error", err)
		return writeError(c, err)
	}
	log.Warn("stream_failed", "error", err, "retryable", domain.IsRetryable(err))
	return r.fail(err)
}

// State returns the caller's conversation state.
// (GET /v1/assistant/state)
func (h *Handler) State(c echo.Context) error {
	m, err := h.manager(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m.View())
}

// ListSessions returns the caller's sessions, most recent first.
// (GET /v1/assistant/sessions)
func (h *Handler) ListSessions(c echo.Context) error {
	m, err := h.manager(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": m.View().Sessions})
}

// NewSession drops the active session.
// (POST /v1/assistant/sessions/new)
func (h *Handler) NewSession(c echo.Context) error {
	m, err := h.manager(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := m.StartNewConversation(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m.View())
}

// ActivateSession switches to a session.
// (POST /v1/assistant/sessions/:id/activate)
func (h *Handler) ActivateSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return writeError(c, err)
	}
	m, err := h.manager(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := logger.WithSessionID(c.Request().Context(), id.String())
	if err := m.SwitchSession(ctx, id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m.View())
}

// DeleteSession deletes a session.
// (DELETE /v1/assistant/sessions/:id)
func (h *Handler) DeleteSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return writeError(c, err)
	}
	m, err := h.manager(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := logger.WithSessionID(c.Request().Context(), id.String())
	if err := m.DeleteSession(ctx, id); err != nil {
		return writeError(c, err)
	}
	h.logger.WithContext(ctx).Info("session_deleted")
	return c.JSON(http.StatusOK, m.View())
}

func sessionID(c echo.Context) (uuid.UUID, error) {
	var p sessionParam
	if err := bindAndValidate(c, &p); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(p.ID)
}

// SignIn reloads the caller's sessions.
// (POST /v1/assistant/signin)
func (h *Handler) SignIn(c echo.Context) error {
	id, ok := IdentityFrom(c)
	if !ok {
		return writeError(c, domain.ErrUnauthenticated)
	}
	view, err := h.registry.SignIn(c.Request().Context(), id.Key)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// SignOut purges the caller's in-memory and mirrored state.
// (POST /v1/assistant/signout)
func (h *Handler) SignOut(c echo.Context) error {
	id, ok := IdentityFrom(c)
	if !ok {
		return writeError(c, domain.ErrUnauthenticated)
	}
	if err := h.registry.SignOut(c.Request().Context(), id.Key); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ResetThrottle forgets one identity's throttle entry.
// (DELETE /v1/admin/throttle/:identity)
func (h *Handler) ResetThrottle(c echo.Context) error {
	var p identityParam
	if err := bindAndValidate(c, &p); err != nil {
		return writeError(c, err)
	}
	h.throttle.Reset(p.Identity)
	h.logger.WithContext(c.Request().Context()).Info("throttle_reset", "target", p.Identity)
	return c.NoContent(http.StatusNoContent)
}

// ClearThrottle forgets every throttle entry.
// (DELETE /v1/admin/throttle)
func (h *Handler) ClearThrottle(c echo.Context) error {
	h.throttle.Clear()
	h.logger.WithContext(c.Request().Context()).Info("throttle_cleared")
	return c.NoContent(http.StatusNoContent)
}
