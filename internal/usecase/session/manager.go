// Package session assembles generation streams into durable conversation state.
package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/metrics"
	"campus-assistant/internal/infra/sse"
	"campus-assistant/internal/usecase"
)

// Admitter decides whether an identity may issue a generation call.
type Admitter interface {
	Admit(identity string) error
}

// Retrier runs fn until it succeeds, fails permanently or runs out of attempts.
type Retrier interface {
	ExecuteWithRetry(ctx context.Context, fn func(ctx context.Context) error, shouldRetry func(error) bool) error
}

// Deps are the collaborators shared by every Manager.
type Deps struct {
	Store     domain.SessionRepository
	Mirror    domain.SessionMirror
	Tx        domain.TransactionManager
	Throttle  Admitter
	Planner   usecase.PlanAnswerUsecase
	Generator domain.GenerationClient
	Backoff   Retrier
	Logger    *slog.Logger
}

// Manager owns one identity's conversation state. Operations that change the
// conversation are not reentrant: a second call while one is running returns
// domain.ErrSendInProgress.
type Manager struct {
	ownerID string
	deps    Deps
	logger  *slog.Logger

	sendMu sync.Mutex

	mu        sync.RWMutex
	state     State
	composing bool
	active    *domain.ConversationSession
	sessions  []domain.ConversationSession
	messages  []domain.Message
	// placeholder is the in-progress assistant message, uuid.Nil when none.
	placeholder uuid.UUID
	// unsaved is the optimistic user message not yet in the store.
	unsaved  uuid.UUID
	lastText string
	lastErr  error
	cancel   context.CancelFunc
}

// NewManager creates an idle Manager for ownerID.
func NewManager(ownerID string, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ownerID: ownerID,
		deps:    deps,
		logger:  logger.With("identity", ownerID),
		state:   StateIdle,
	}
}

// OwnerID returns the identity key the Manager belongs to.
func (m *Manager) OwnerID() string {
	return m.ownerID
}

// SendMessage submits text and streams the reply into the active session,
// creating one when none is active. observer may be nil.
func (m *Manager) SendMessage(ctx context.Context, text string, observer Observer) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}
	if !m.sendMu.TryLock() {
		return nil, domain.ErrSendInProgress
	}
	defer m.sendMu.Unlock()

	return m.send(ctx, text, observer)
}

// RetryLastMessage resubmits the most recently attempted user text.
func (m *Manager) RetryLastMessage(ctx context.Context, observer Observer) (*domain.Message, error) {
	if !m.sendMu.TryLock() {
		return nil, domain.ErrSendInProgress
	}
	defer m.sendMu.Unlock()

	m.mu.Lock()
	text := m.lastText
	if text != "" && m.unsaved != uuid.Nil {
		m.removeMessageLocked(m.unsaved)
		m.unsaved = uuid.Nil
	}
	m.mu.Unlock()

	if text == "" {
		return nil, domain.ErrNothingToRetry
	}
	return m.send(ctx, text, observer)
}

// Cancel abandons the in-flight send, if any. The send takes its error path.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) send(ctx context.Context, text string, observer Observer) (reply *domain.Message, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.lastText = text
	m.lastErr = nil
	m.state = StateSending
	m.composing = true
	m.cancel = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		if err != nil {
			m.fail(err)
		}
		metrics.SendOutcomes.WithLabelValues(outcome(err)).Inc()
	}()

	sessionID, err := m.ensureSession(ctx, text)
	if err != nil {
		return nil, err
	}

	userMsg := domain.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.messages = append(m.messages, userMsg)
	m.unsaved = userMsg.ID
	m.mu.Unlock()

	if err := m.deps.Throttle.Admit(m.ownerID); err != nil {
		return nil, err
	}

	stored := userMsg
	if err := m.deps.Store.AppendMessage(ctx, &stored); err != nil {
		return nil, &domain.StorageError{Op: "append user message", Err: err}
	}
	m.mu.Lock()
	m.unsaved = uuid.Nil
	m.mu.Unlock()

	plan, err := m.deps.Planner.Execute(ctx, text)
	if err != nil {
		return nil, err
	}
	metrics.RetrievedArticles.WithLabelValues(string(plan.Disposition)).Observe(float64(len(plan.Articles)))

	body, err := m.open(ctx, sessionID, text, plan)
	if err != nil {
		return nil, err
	}

	m.setState(StateStreaming)

	reply, err = m.consume(ctx, body, sessionID, observer)
	if err != nil {
		return nil, err
	}
	if len(reply.Sources) == 0 && !plan.Canned() {
		reply.Sources = plan.Sources()
	}

	return m.finalize(ctx, reply, observer)
}

// open starts the reply stream. Canned replies are rendered locally into
// the same frame format the generation service uses.
func (m *Manager) open(ctx context.Context, sessionID uuid.UUID, text string, plan *usecase.AnswerPlan) (io.ReadCloser, error) {
	if plan.Canned() {
		return cannedStream(plan.Reply)
	}

	req := domain.GenerationRequest{
		SessionID:   sessionID.String(),
		Message:     text,
		Context:     plan.Context,
		Disposition: plan.Disposition,
	}

	var body io.ReadCloser
	err := m.deps.Backoff.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		b, err := m.deps.Generator.Open(ctx, req)
		if err != nil {
			return err
		}
		body = b
		return nil
	}, domain.IsTransient)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func cannedStream(reply string) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := sse.NewWriter(&buf)
	if err := w.WriteChunk(domain.ContentChunk{Text: reply}); err != nil {
		return nil, err
	}
	if err := w.WriteDone(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

// consume applies chunks in order until the stream ends and returns the
// completed assistant message.
func (m *Manager) consume(ctx context.Context, body io.ReadCloser, sessionID uuid.UUID, observer Observer) (*domain.Message, error) {
	defer body.Close()
	// Unblocks a pending read when the caller abandons the stream.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	reader := sse.NewReader(body)
	var sources []domain.Source

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk, err := reader.NextChunk()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, io.EOF) {
				break
			}
			var parseErr *domain.StreamParseError
			if errors.As(err, &parseErr) {
				return nil, err
			}
			return nil, &domain.UpstreamError{Kind: domain.UpstreamTransient, Message: "stream read failed", Err: err}
		}
		metrics.StreamChunks.WithLabelValues(string(chunk.Kind())).Inc()

		switch c := chunk.(type) {
		case domain.ContentChunk:
			if c.Text == "" {
				continue
			}
			m.appendToken(sessionID, c.Text)
			observer.emit(c)
		case domain.SourcesChunk:
			sources = c.Sources
		case domain.ErrorChunk:
			return nil, &domain.StreamAbortedError{Message: c.Message, Retryable: c.IsRetryable()}
		case domain.DoneChunk:
			return m.completeReply(sources)
		}
	}

	return m.completeReply(sources)
}

func (m *Manager) appendToken(sessionID uuid.UUID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.placeholder == uuid.Nil {
		id := uuid.New()
		m.messages = append(m.messages, domain.Message{
			ID:        id,
			SessionID: sessionID,
			Role:      domain.RoleAssistant,
			Content:   text,
			CreatedAt: time.Now().UTC(),
		})
		m.placeholder = id
		m.composing = false
		return
	}

	if i := m.indexLocked(m.placeholder); i >= 0 {
		m.messages[i].Content += text
	}
}

func (m *Manager) completeReply(sources []domain.Source) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(m.placeholder)
	if i < 0 {
		return nil, domain.ErrEmptyStream
	}
	m.messages[i].Sources = sources
	reply := m.messages[i]
	return &reply, nil
}

// finalize persists the reply and reconciles in-memory state with the store.
func (m *Manager) finalize(ctx context.Context, reply *domain.Message, observer Observer) (*domain.Message, error) {
	persisted := *reply
	err := m.runInTx(ctx, func(ctx context.Context) error {
		if err := m.deps.Store.AppendMessage(ctx, &persisted); err != nil {
			return err
		}
		return m.deps.Store.TouchSession(ctx, persisted.SessionID)
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "persist reply", Err: err}
	}

	m.reconcile(ctx, persisted.SessionID)

	if len(persisted.Sources) > 0 {
		observer.emit(domain.SourcesChunk{Sources: persisted.Sources})
	}
	observer.emit(domain.DoneChunk{})

	m.logger.InfoContext(ctx, "reply_completed",
		"session_id", persisted.SessionID,
		"length", len(persisted.Content),
		"sources", len(persisted.Sources))
	return &persisted, nil
}

// reconcile replaces in-memory messages and sessions with the store's copy.
// A failed reload keeps the in-memory copy, which already holds the reply.
func (m *Manager) reconcile(ctx context.Context, sessionID uuid.UUID) {
	messages, msgErr := m.deps.Store.ListMessages(ctx, sessionID)
	if msgErr != nil {
		m.logger.WarnContext(ctx, "reload_messages_failed", "session_id", sessionID, "error", msgErr)
	}
	sessions, sessErr := m.deps.Store.ListSessions(ctx, m.ownerID)
	if sessErr != nil {
		m.logger.WarnContext(ctx, "reload_sessions_failed", "error", sessErr)
	}

	m.mu.Lock()
	if msgErr == nil {
		m.messages = messages
	}
	if sessErr == nil {
		m.sessions = sessions
		if i := indexSession(sessions, sessionID); i >= 0 {
			active := sessions[i]
			m.active = &active
		}
	}
	m.placeholder = uuid.Nil
	m.unsaved = uuid.Nil
	m.composing = false
	m.state = StateIdle
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.saveMirror(ctx, snapshot)
}

// fail removes the incomplete assistant placeholder and records err.
// Everything else is left as it was.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	if m.placeholder != uuid.Nil {
		m.removeMessageLocked(m.placeholder)
		m.placeholder = uuid.Nil
	}
	m.composing = false
	m.state = StateError
	m.lastErr = err
	m.mu.Unlock()

	m.logger.Warn("send_failed", "error", err, "retryable", domain.IsRetryable(err))
}

func (m *Manager) ensureSession(ctx context.Context, text string) (uuid.UUID, error) {
	m.mu.Lock()
	if m.active != nil {
		id := m.active.ID
		m.mu.Unlock()
		return id, nil
	}
	// Nothing from a previous session may survive into the new one.
	m.messages = nil
	m.placeholder = uuid.Nil
	m.unsaved = uuid.Nil
	m.mu.Unlock()

	created := &domain.ConversationSession{OwnerID: m.ownerID, Title: titleFor(text)}
	if err := m.deps.Store.CreateSession(ctx, created); err != nil {
		return uuid.Nil, &domain.StorageError{Op: "create session", Err: err}
	}

	m.mu.Lock()
	m.active = created
	m.sessions = append([]domain.ConversationSession{*created}, m.sessions...)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session_created", "session_id", created.ID)
	return created.ID, nil
}

// SwitchSession makes id the active session and loads its messages.
func (m *Manager) SwitchSession(ctx context.Context, id uuid.UUID) error {
	if !m.sendMu.TryLock() {
		return domain.ErrSendInProgress
	}
	defer m.sendMu.Unlock()

	target, err := m.ownedSession(ctx, id)
	if err != nil {
		return err
	}
	messages, err := m.deps.Store.ListMessages(ctx, id)
	if err != nil {
		return &domain.StorageError{Op: "list messages", Err: err}
	}

	m.mu.Lock()
	m.active = target
	m.messages = messages
	m.resetTransientLocked()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.saveMirror(ctx, snapshot)
	return nil
}

// DeleteSession removes a session. Deleting the active session switches to
// the most recent remaining one, or clears state when none remain.
func (m *Manager) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if !m.sendMu.TryLock() {
		return domain.ErrSendInProgress
	}
	defer m.sendMu.Unlock()

	if _, err := m.ownedSession(ctx, id); err != nil {
		return err
	}
	if err := m.deps.Store.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return err
		}
		return &domain.StorageError{Op: "delete session", Err: err}
	}

	sessions, err := m.deps.Store.ListSessions(ctx, m.ownerID)
	if err != nil {
		return &domain.StorageError{Op: "list sessions", Err: err}
	}

	m.mu.RLock()
	wasActive := m.active != nil && m.active.ID == id
	m.mu.RUnlock()

	var (
		next     *domain.ConversationSession
		messages []domain.Message
	)
	if wasActive && len(sessions) > 0 {
		s := sessions[0]
		next = &s
		messages, err = m.deps.Store.ListMessages(ctx, next.ID)
		if err != nil {
			return &domain.StorageError{Op: "list messages", Err: err}
		}
	}

	m.mu.Lock()
	m.sessions = sessions
	if wasActive {
		m.active = next
		m.messages = messages
		m.resetTransientLocked()
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "session_deleted", "session_id", id, "was_active", wasActive)
	m.saveMirror(ctx, snapshot)
	return nil
}

// StartNewConversation drops the active session. The next send creates one.
func (m *Manager) StartNewConversation(ctx context.Context) error {
	if !m.sendMu.TryLock() {
		return domain.ErrSendInProgress
	}
	defer m.sendMu.Unlock()

	m.mu.Lock()
	m.active = nil
	m.messages = nil
	m.resetTransientLocked()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.saveMirror(ctx, snapshot)
	return nil
}

// SignOut abandons any in-flight send and purges in-memory and mirrored state.
func (m *Manager) SignOut(ctx context.Context) error {
	m.Cancel()
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	m.active = nil
	m.sessions = nil
	m.messages = nil
	m.lastText = ""
	m.resetTransientLocked()
	m.mu.Unlock()

	if m.deps.Mirror == nil {
		return nil
	}
	if err := m.deps.Mirror.Purge(context.WithoutCancel(ctx), m.ownerID); err != nil {
		return &domain.StorageError{Op: "purge mirror", Err: err}
	}
	m.logger.InfoContext(ctx, "signed_out")
	return nil
}

// Reload restores state from the mirror, then overwrites it with the store.
// When the store fails the mirrored state remains.
func (m *Manager) Reload(ctx context.Context) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	if m.deps.Mirror != nil {
		snapshot, err := m.deps.Mirror.Load(ctx, m.ownerID)
		switch {
		case err != nil:
			m.logger.WarnContext(ctx, "mirror_load_failed", "error", err)
		case snapshot != nil:
			m.applySnapshot(*snapshot)
		}
	}

	sessions, err := m.deps.Store.ListSessions(ctx, m.ownerID)
	if err != nil {
		return &domain.StorageError{Op: "list sessions", Err: err}
	}

	m.mu.RLock()
	current := uuid.Nil
	if m.active != nil {
		current = m.active.ID
	}
	m.mu.RUnlock()

	var (
		active   *domain.ConversationSession
		messages []domain.Message
	)
	if i := indexSession(sessions, current); i >= 0 {
		s := sessions[i]
		active = &s
	} else if len(sessions) > 0 {
		s := sessions[0]
		active = &s
	}
	if active != nil {
		messages, err = m.deps.Store.ListMessages(ctx, active.ID)
		if err != nil {
			return &domain.StorageError{Op: "list messages", Err: err}
		}
	}

	m.mu.Lock()
	m.sessions = sessions
	m.active = active
	m.messages = messages
	m.resetTransientLocked()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "sessions_reloaded", "sessions", len(sessions), "messages", len(messages))
	m.saveMirror(ctx, snapshot)
	return nil
}

// View returns a copy of the current state.
func (m *Manager) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := View{
		State:     m.state,
		Composing: m.composing,
		Sessions:  slices.Clone(m.sessions),
		Messages:  slices.Clone(m.messages),
	}
	if v.Sessions == nil {
		v.Sessions = []domain.ConversationSession{}
	}
	if v.Messages == nil {
		v.Messages = []domain.Message{}
	}
	if m.active != nil {
		id := m.active.ID
		v.SessionID = &id
	}
	if m.lastErr != nil {
		v.Error = domain.UserMessage(m.lastErr)
		v.Retryable = domain.IsRetryable(m.lastErr)
	}
	return v
}

func (m *Manager) applySnapshot(s domain.SessionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = s.Sessions
	m.messages = s.Messages
	m.active = nil
	if i := indexSession(s.Sessions, s.SessionID); i >= 0 {
		active := s.Sessions[i]
		m.active = &active
	}
}

func (m *Manager) ownedSession(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	s, err := m.deps.Store.GetSession(ctx, id)
	if err != nil {
		return nil, &domain.StorageError{Op: "get session", Err: err}
	}
	if s == nil || s.OwnerID != m.ownerID {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.deps.Tx == nil {
		return fn(ctx)
	}
	return m.deps.Tx.RunInTx(ctx, fn)
}

// saveMirror runs even when ctx is done so cleanup paths still reach the mirror.
func (m *Manager) saveMirror(ctx context.Context, snapshot domain.SessionSnapshot) {
	if m.deps.Mirror == nil {
		return
	}
	if err := m.deps.Mirror.Save(context.WithoutCancel(ctx), m.ownerID, snapshot); err != nil {
		m.logger.WarnContext(ctx, "mirror_save_failed", "error", err)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) resetTransientLocked() {
	m.state = StateIdle
	m.composing = false
	m.placeholder = uuid.Nil
	m.unsaved = uuid.Nil
	m.lastErr = nil
}

func (m *Manager) snapshotLocked() domain.SessionSnapshot {
	s := domain.SessionSnapshot{
		Sessions: slices.Clone(m.sessions),
		Messages: slices.Clone(m.messages),
	}
	if m.active != nil {
		s.SessionID = m.active.ID
	}
	return s
}

func (m *Manager) indexLocked(id uuid.UUID) int {
	if id == uuid.Nil {
		return -1
	}
	return slices.IndexFunc(m.messages, func(msg domain.Message) bool { return msg.ID == id })
}

func (m *Manager) removeMessageLocked(id uuid.UUID) {
	if i := m.indexLocked(id); i >= 0 {
		m.messages = slices.Delete(m.messages, i, i+1)
	}
}

func indexSession(sessions []domain.ConversationSession, id uuid.UUID) int {
	if id == uuid.Nil {
		return -1
	}
	return slices.IndexFunc(sessions, func(s domain.ConversationSession) bool { return s.ID == id })
}

func outcome(err error) string {
	var (
		denied   *domain.AdmissionDeniedError
		upstream *domain.UpstreamError
		aborted  *domain.StreamAbortedError
		parse    *domain.StreamParseError
		storage  *domain.StorageError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &denied):
		return "denied"
	case errors.As(err, &upstream):
		return "upstream"
	case errors.As(err, &aborted):
		return "aborted"
	case errors.As(err, &parse):
		return "parse"
	case errors.As(err, &storage):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, domain.ErrEmptyStream):
		return "empty"
	}
	return "error"
}
