package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ecombot/internal/models"
)

// SQLStore persists transcripts in the messages table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Peek is Messages; rows only exist once something was appended.
func (s *SQLStore) Peek(ctx context.Context, sessionID string) ([]*models.Message, error) {
	return s.Messages(ctx, sessionID)
}

func (s *SQLStore) Append(ctx context.Context, sessionID string, msgs ...*models.Message) (err error) {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := checkMessages(msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, msg := range msgs {
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, msg.Role, msg.Content, createdAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}
