package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"parallax-connect/internal/models"
)

// HistoryRepo persists the currently active conversation. It is the
// source of truth across restarts; the chat service hydrates its initial
// state from here.
type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

func (r *HistoryRepo) GetHistory(ctx context.Context) ([]models.Message, error) {
	query := `SELECT id, text, is_user, attachment_paths, created_at
		FROM chat_messages ORDER BY position ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Text, &m.IsUser, &m.AttachmentPaths, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (r *HistoryRepo) SaveMessage(ctx context.Context, m models.Message) error {
	attachments := m.AttachmentPaths
	if attachments == nil {
		attachments = []string{}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, text, is_user, attachment_paths, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Text, m.IsUser, attachments, m.CreatedAt,
	)
	return err
}

func (r *HistoryRepo) ClearHistory(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM chat_messages")
	return err
}

// ReplaceHistory swaps the active conversation for the given messages in
// a single transaction, used when loading an archived session.
func (r *HistoryRepo) ReplaceHistory(ctx context.Context, messages []models.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin history replacement: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM chat_messages"); err != nil {
		return err
	}

	for _, m := range messages {
		attachments := m.AttachmentPaths
		if attachments == nil {
			attachments = []string{}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (id, text, is_user, attachment_paths, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.Text, m.IsUser, attachments, m.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
