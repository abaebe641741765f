package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/backoff"
	"campus-assistant/internal/infra/throttle"
	"campus-assistant/internal/usecase"
	"campus-assistant/internal/usecase/session"
)

const owner = "student-1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// memStore is an in-memory domain.SessionRepository.
type memStore struct {
	mu       sync.Mutex
	tick     int
	sessions map[uuid.UUID]domain.ConversationSession
	messages []domain.Message

	failAppend       func(msg *domain.Message) error
	failListSessions error

	listSessionsCalls atomic.Int32
	listGate          chan struct{}
	listEntered       chan struct{}
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[uuid.UUID]domain.ConversationSession)}
}

func (s *memStore) now() time.Time {
	s.tick++
	return time.Date(2025, 9, 1, 12, 0, s.tick, 0, time.UTC)
}

func (s *memStore) CreateSession(_ context.Context, sess *domain.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = uuid.New()
	sess.CreatedAt = s.now()
	sess.UpdatedAt = sess.CreatedAt
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *memStore) GetSession(_ context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *memStore) ListSessions(_ context.Context, ownerID string) ([]domain.ConversationSession, error) {
	s.listSessionsCalls.Add(1)
	if s.listEntered != nil {
		select {
		case s.listEntered <- struct{}{}:
		default:
		}
	}
	if s.listGate != nil {
		<-s.listGate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failListSessions != nil {
		return nil, s.failListSessions
	}
	var out []domain.ConversationSession
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			out = append(out, sess)
		}
	}
	slices.SortFunc(out, func(a, b domain.ConversationSession) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

func (s *memStore) TouchSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.UpdatedAt = s.now()
	s.sessions[id] = sess
	return nil
}

func (s *memStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	s.messages = slices.DeleteFunc(s.messages, func(m domain.Message) bool { return m.SessionID == id })
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	if s.failAppend != nil {
		if err := s.failAppend(msg); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.New()
	msg.CreatedAt = s.now()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// memMirror is an in-memory domain.SessionMirror.
type memMirror struct {
	mu        sync.Mutex
	snapshots map[string]domain.SessionSnapshot
	purged    []string
}

func newMemMirror() *memMirror {
	return &memMirror{snapshots: make(map[string]domain.SessionSnapshot)}
}

func (m *memMirror) Save(_ context.Context, ownerID string, snapshot domain.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[ownerID] = snapshot
	return nil
}

func (m *memMirror) Load(_ context.Context, ownerID string) (*domain.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[ownerID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memMirror) Purge(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, ownerID)
	m.purged = append(m.purged, ownerID)
	return nil
}

func (m *memMirror) snapshot(ownerID string) (domain.SessionSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[ownerID]
	return s, ok
}

type stubPlanner struct {
	plan *usecase.AnswerPlan
	err  error
}

func (p *stubPlanner) Execute(_ context.Context, _ string) (*usecase.AnswerPlan, error) {
	if p.err != nil {
		return nil, p.err
	}
	plan := *p.plan
	return &plan, nil
}

var housingSource = domain.Source{Title: "Residence Halls", Slug: "residence-halls", Category: "housing"}

func directPlan() *usecase.AnswerPlan {
	return &usecase.AnswerPlan{
		Disposition: domain.DispositionDirect,
		Context:     "=== Article 1 ===",
		Articles: []domain.RetrievedArticle{{
			Article: domain.Article{Title: housingSource.Title, Slug: housingSource.Slug, Category: housingSource.Category},
			Source:  housingSource,
		}},
	}
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []domain.GenerationRequest
	respond  func(call int) (io.ReadCloser, error)
}

func (g *fakeGenerator) Open(_ context.Context, req domain.GenerationRequest) (io.ReadCloser, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	call := len(g.requests)
	g.mu.Unlock()
	return g.respond(call)
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func streamOf(payloads ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(framesOf(payloads...)))
}

func framesOf(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "data: %s\n\n", p)
	}
	return b.String()
}

func contentFrame(text string) string {
	data, _ := json.Marshal(text)
	return fmt.Sprintf(`{"type":"content","data":%s}`, data)
}

const doneFrame = "[DONE]"

type harness struct {
	store   *memStore
	mirror  *memMirror
	planner *stubPlanner
	gen     *fakeGenerator
	deps    session.Deps
	mgr     *session.Manager
}

func newHarness(t *testing.T, respond func(call int) (io.ReadCloser, error)) *harness {
	t.Helper()

	h := &harness{
		store:   newMemStore(),
		mirror:  newMemMirror(),
		planner: &stubPlanner{plan: directPlan()},
		gen:     &fakeGenerator{respond: respond},
	}
	h.deps = session.Deps{
		Store:     h.store,
		Mirror:    h.mirror,
		Throttle:  throttle.New(throttle.Config{MaxRequests: 100, Window: time.Minute}),
		Planner:   h.planner,
		Generator: h.gen,
		Backoff: backoff.New(backoff.Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 3},
			discardLogger()),
		Logger: discardLogger(),
	}
	h.mgr = session.NewManager(owner, h.deps)
	return h
}

// recorder collects observed chunks.
type recorder struct {
	mu     sync.Mutex
	chunks []domain.StreamChunk
}

func (r *recorder) observe(c domain.StreamChunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.chunks {
		if cc, ok := c.(domain.ContentChunk); ok {
			out = append(out, cc.Text)
		}
	}
	return out
}
