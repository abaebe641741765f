package assistant_http_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"campus-assistant/internal/adapter/assistant_http"
	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/backoff"
	"campus-assistant/internal/infra/throttle"
	"campus-assistant/internal/usecase"
	"campus-assistant/internal/usecase/session"
)

const (
	testSecret = "test-secret"
	testIssuer = "campus-identity"
	// adminSubject is configured as an administrator in newServer.
	adminSubject = "admin"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func verifiedToken(t *testing.T, subject string) string {
	return signToken(t, jwt.MapClaims{
		"sub":            subject,
		"email":          subject + "@campus.edu",
		"email_verified": true,
		"iss":            testIssuer,
		"exp":            time.Now().Add(time.Hour).Unix(),
	})
}

// store is an in-memory domain.SessionRepository.
type store struct {
	mu       sync.Mutex
	tick     int
	sessions map[uuid.UUID]domain.ConversationSession
	messages []domain.Message
}

func newStore() *store {
	return &store{sessions: make(map[uuid.UUID]domain.ConversationSession)}
}

func (s *store) now() time.Time {
	s.tick++
	return time.Date(2025, 9, 1, 0, 0, s.tick, 0, time.UTC)
}

func (s *store) CreateSession(_ context.Context, sess *domain.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = uuid.New()
	sess.CreatedAt = s.now()
	sess.UpdatedAt = sess.CreatedAt
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *store) GetSession(_ context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return &sess, nil
	}
	return nil, nil
}

func (s *store) ListSessions(_ context.Context, ownerID string) ([]domain.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ConversationSession
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			out = append(out, sess)
		}
	}
	slices.SortFunc(out, func(a, b domain.ConversationSession) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (s *store) TouchSession(_ context.Context, id uuid.UUID) error {
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

func (s *store) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	s.messages = slices.DeleteFunc(s.messages, func(m domain.Message) bool { return m.SessionID == id })
	return nil
}

func (s *store) AppendMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.New()
	msg.CreatedAt = s.now()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *store) ListMessages(_ context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
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

type planner struct{}

func (planner) Execute(_ context.Context, _ string) (*usecase.AnswerPlan, error) {
	return &usecase.AnswerPlan{Disposition: domain.DispositionDirect, Context: "ctx"}, nil
}

type generator struct {
	body string
	err  error
}

func (g *generator) Open(context.Context, domain.GenerationRequest) (io.ReadCloser, error) {
	if g.err != nil {
		return nil, g.err
	}
	return io.NopCloser(strings.NewReader(g.body)), nil
}

func frames(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "data: %s\n\n", p)
	}
	return b.String()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

var errDBDown = errors.New("connection refused")

type server struct {
	echo     *echo.Echo
	store    *store
	gen      *generator
	throttle *throttle.Throttler
}

func newServer(t *testing.T, maxRequests int, ready assistant_http.Pinger) *server {
	t.Helper()

	s := &server{
		echo:     echo.New(),
		store:    newStore(),
		gen:      &generator{},
		throttle: throttle.New(throttle.Config{MaxRequests: maxRequests, Window: time.Minute}),
	}
	registry := session.NewRegistry(session.Deps{
		Store:     s.store,
		Throttle:  s.throttle,
		Planner:   planner{},
		Generator: s.gen,
		Backoff: backoff.New(backoff.Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 2},
			discardLogger()),
		Logger: discardLogger(),
	})

	s.echo.Validator = assistant_http.NewValidator()
	h := assistant_http.NewHandler(registry, s.throttle, discardLogger(), 0)
	auth := assistant_http.RequireIdentity(assistant_http.NewJWTIdentityProvider(testSecret, testIssuer, adminSubject))
	assistant_http.RegisterRoutes(s.echo, h, auth, ready)
	return s
}

func (s *server) do(t *testing.T, method, path, body, subject string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if subject != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+verifiedToken(t, subject))
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func serve(s *server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}
