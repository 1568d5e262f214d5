package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// HistoryStore implements store.HistoryStore on Postgres.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Append(ctx context.Context, userID string, turn store.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (id, user_id, role, content) VALUES ($1, $2, $3, $4)`,
		store.NewID(), userID, turn.Role, turn.Content,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Recent fetches the newest turns then reverses to chronological order,
// so callers can hand the slice straight to the model.
func (s *HistoryStore) Recent(ctx context.Context, userID string, limit int) ([]store.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM chat_history
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var turns []store.Turn
	for rows.Next() {
		var t store.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *HistoryStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
