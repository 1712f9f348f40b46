package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parallax-connect/internal/models"
)

// ErrSessionNotFound is returned when an archived session id does not
// exist (deleted by the user or never created).
var ErrSessionNotFound = errors.New("session not found")

// SessionRepo persists archived conversation sessions.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// Archive stores the messages as a brand new session and returns it.
// Callers must not pass an empty conversation; an empty session is never
// created.
func (r *SessionRepo) Archive(ctx context.Context, messages []models.Message, title string) (*models.ChatSession, error) {
	if len(messages) == 0 {
		return nil, errors.New("refusing to archive an empty conversation")
	}

	s := &models.ChatSession{
		ID:           uuid.New(),
		Title:        title,
		Messages:     messages,
		Timestamp:    time.Now(),
		MessageCount: len(messages),
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO chat_sessions (id, title, messages, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`

	if _, err := r.pool.Exec(ctx, query, s.ID, s.Title, payload, s.MessageCount, s.Timestamp); err != nil {
		return nil, err
	}
	return s, nil
}

// Update replaces the stored snapshot of an existing session in place.
func (r *SessionRepo) Update(ctx context.Context, id uuid.UUID, messages []models.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_sessions SET messages = $1, message_count = $2, updated_at = NOW() WHERE id = $3`,
		payload, len(messages), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	s := &models.ChatSession{}
	var payload []byte

	query := `SELECT id, title, messages, message_count, is_important, updated_at
		FROM chat_sessions WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.Title, &payload, &s.MessageCount, &s.IsImportant, &s.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &s.Messages); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns all archived sessions, important ones first, newest first
// within each group. Message snapshots are omitted; use GetByID to load
// a full session.
func (r *SessionRepo) List(ctx context.Context) ([]*models.ChatSession, error) {
	query := `SELECT id, title, message_count, is_important, updated_at
		FROM chat_sessions ORDER BY is_important DESC, updated_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessionList(rows)
}

// Search matches the query against session titles and message text.
func (r *SessionRepo) Search(ctx context.Context, query string) ([]*models.ChatSession, error) {
	sql := `SELECT id, title, message_count, is_important, updated_at
		FROM chat_sessions
		WHERE title ILIKE $1 OR messages::text ILIKE $1
		ORDER BY is_important DESC, updated_at DESC`

	rows, err := r.pool.Query(ctx, sql, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessionList(rows)
}

func (r *SessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM chat_sessions WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) Rename(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := r.pool.Exec(ctx, "UPDATE chat_sessions SET title = $1 WHERE id = $2", title, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepo) ToggleImportant(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "UPDATE chat_sessions SET is_important = NOT is_important WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteAllExcept removes every archived session except the one with the
// given id. A nil id clears the archive completely.
func (r *SessionRepo) DeleteAllExcept(ctx context.Context, keep *uuid.UUID) error {
	if keep == nil {
		_, err := r.pool.Exec(ctx, "DELETE FROM chat_sessions")
		return err
	}
	_, err := r.pool.Exec(ctx, "DELETE FROM chat_sessions WHERE id <> $1", *keep)
	return err
}

func scanSessionList(rows pgx.Rows) ([]*models.ChatSession, error) {
	var sessions []*models.ChatSession
	for rows.Next() {
		s := &models.ChatSession{}
		if err := rows.Scan(&s.ID, &s.Title, &s.MessageCount, &s.IsImportant, &s.Timestamp); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
