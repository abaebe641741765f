package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"campus-assistant/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a SessionRepository backed by PostgreSQL.
func NewSessionRepository(pool *pgxpool.Pool) domain.SessionRepository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) getExecutor(ctx context.Context) interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
} {
	tx := ExtractTx(ctx)
	if tx != nil {
		return tx
	}
	return r.pool
}

func (r *sessionRepository) CreateSession(ctx context.Context, session *domain.ConversationSession) error {
	query := `
		INSERT INTO assistant_sessions (id, owner_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, clock_timestamp(), clock_timestamp())
		RETURNING created_at, updated_at
	`
	id := uuid.New()
	err := r.getExecutor(ctx).QueryRow(ctx, query, id, session.OwnerID, session.Title).
		Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	session.ID = id
	return nil
}

func (r *sessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	query := `
		SELECT id, owner_id, title, created_at, updated_at
		FROM assistant_sessions
		WHERE id = $1
	`
	var s domain.ConversationSession
	err := r.getExecutor(ctx).QueryRow(ctx, query, id).
		Scan(&s.ID, &s.OwnerID, &s.Title, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}

func (r *sessionRepository) ListSessions(ctx context.Context, ownerID string) ([]domain.ConversationSession, error) {
	query := `
		SELECT id, owner_id, title, created_at, updated_at
		FROM assistant_sessions
		WHERE owner_id = $1
		ORDER BY updated_at DESC, id
	`
	rows, err := r.getExecutor(ctx).Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.ConversationSession{}
	for rows.Next() {
		var s domain.ConversationSession
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Title, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

func (r *sessionRepository) TouchSession(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE assistant_sessions SET updated_at = clock_timestamp() WHERE id = $1`
	tag, err := r.getExecutor(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	// Messages are removed by ON DELETE CASCADE.
	tag, err := r.getExecutor(ctx).Exec(ctx, `DELETE FROM assistant_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) AppendMessage(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO assistant_messages (id, session_id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
		RETURNING created_at
	`
	list := msg.Sources
	if list == nil {
		list = []domain.Source{}
	}
	sources, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	id := uuid.New()
	if err := r.getExecutor(ctx).QueryRow(ctx, query, id, msg.SessionID, string(msg.Role), msg.Content, sources).
		Scan(&msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	msg.ID = id
	return nil
}

func (r *sessionRepository) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, role, content, sources, created_at
		FROM assistant_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := r.getExecutor(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var (
			m       domain.Message
			role    string
			sources []byte
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &sources, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.Role(role)
		if len(sources) > 0 && string(sources) != "[]" {
			if err := json.Unmarshal(sources, &m.Sources); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}
