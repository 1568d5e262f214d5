package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// BufferStore implements store.BufferStore on SQLite.
type BufferStore struct {
	db *sql.DB
}

func NewBufferStore(db *sql.DB) *BufferStore {
	return &BufferStore{db: db}
}

// AppendEvent runs read-modify-write in a transaction. SQLite serializes
// writers, so the upsert cannot interleave with a concurrent append.
func (s *BufferStore) AppendEvent(ctx context.Context, userID string, frag store.Fragment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var id string
	var fragJSON []byte
	err = tx.QueryRowContext(ctx,
		`SELECT id, fragments FROM message_buffer WHERE user_id = ? AND status <> 'permanently_failed'`,
		userID,
	).Scan(&id, &fragJSON)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		frags, _ := json.Marshal([]store.Fragment{frag})
		_, err = tx.ExecContext(ctx,
			`INSERT INTO message_buffer (id, user_id, fragments, last_message_at, status, retry_count, created_at)
			 VALUES (?, ?, ?, ?, 'new', 0, ?)`,
			store.NewID().String(), userID, frags, now, now,
		)
		if err != nil {
			return fmt.Errorf("append event: insert: %w", err)
		}
	case err != nil:
		return fmt.Errorf("append event: %w", err)
	default:
		var frags []store.Fragment
		if err := json.Unmarshal(fragJSON, &frags); err != nil {
			return fmt.Errorf("append event: decode fragments: %w", err)
		}
		frags = append(frags, frag)
		merged, _ := json.Marshal(frags)
		_, err = tx.ExecContext(ctx,
			`UPDATE message_buffer SET fragments = ?, last_message_at = ?, status = 'new' WHERE id = ?`,
			merged, now, id,
		)
		if err != nil {
			return fmt.Errorf("append event: update: %w", err)
		}
	}
	return tx.Commit()
}

func (s *BufferStore) SelectRipe(ctx context.Context, debounce time.Duration, now time.Time, maxBatch, maxRetries int) ([]store.BufferRow, error) {
	// Timestamps are stored as text; binding everything in UTC keeps SQL
	// comparisons consistent.
	now = now.UTC()
	cutoff := now.Add(-debounce)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, fragments, last_message_at, status, retry_count, next_retry_at, last_processed_at, created_at
		 FROM message_buffer
		 WHERE (status = 'new' OR (status = 'failed' AND next_retry_at <= ?))
		   AND retry_count < ?
		   AND last_message_at <= ?
		 ORDER BY last_message_at ASC
		 LIMIT ?`,
		now, maxRetries, cutoff, maxBatch,
	)
	if err != nil {
		return nil, fmt.Errorf("select ripe: %w", err)
	}
	defer rows.Close()
	return collectBufferRows(rows)
}

func (s *BufferStore) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer
		 SET status = 'processing', retry_count = retry_count + 1, last_processed_at = ?
		 WHERE id = ? AND status IN ('new', 'failed')`,
		now.UTC(), id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("claim row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim row: %w", err)
	}
	return n == 1, nil
}

func (s *BufferStore) MarkFailed(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer SET status = 'failed', next_retry_at = ? WHERE id = ?`,
		nextRetryAt.UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (s *BufferStore) MarkPermanentlyFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer SET status = 'permanently_failed' WHERE id = ?`, id.String(),
	)
	if err != nil {
		return fmt.Errorf("mark permanently failed: %w", err)
	}
	return nil
}

func (s *BufferStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM message_buffer WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	return nil
}

func (s *BufferStore) ListFailed(ctx context.Context, limit int) ([]store.BufferRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, fragments, last_message_at, status, retry_count, next_retry_at, last_processed_at, created_at
		 FROM message_buffer
		 WHERE status IN ('failed', 'permanently_failed')
		 ORDER BY last_message_at ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer rows.Close()
	return collectBufferRows(rows)
}

func (s *BufferStore) Requeue(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer
		 SET status = 'new', retry_count = 0, next_retry_at = NULL
		 WHERE id = ? AND status = 'permanently_failed'`,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("requeue row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue row: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("requeue row %s: not found or not permanently failed", id)
	}
	return nil
}

func collectBufferRows(rows *sql.Rows) ([]store.BufferRow, error) {
	var out []store.BufferRow
	for rows.Next() {
		var r store.BufferRow
		var idStr string
		var fragJSON []byte
		var nextRetry, lastProcessed sql.NullTime
		if err := rows.Scan(&idStr, &r.UserID, &fragJSON, &r.LastMessageAt, &r.Status,
			&r.RetryCount, &nextRetry, &lastProcessed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan buffer row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse row id %q: %w", idStr, err)
		}
		r.ID = id
		if err := json.Unmarshal(fragJSON, &r.Fragments); err != nil {
			return nil, fmt.Errorf("decode fragments for %s: %w", r.ID, err)
		}
		if nextRetry.Valid {
			r.NextRetryAt = nextRetry.Time
		}
		if lastProcessed.Valid {
			r.LastProcessedAt = lastProcessed.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
