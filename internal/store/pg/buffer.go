package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// BufferStore implements store.BufferStore on Postgres.
type BufferStore struct {
	db *sql.DB
}

func NewBufferStore(db *sql.DB) *BufferStore {
	return &BufferStore{db: db}
}

// AppendEvent upserts the user's active row. The partial unique index on
// (user_id) WHERE status <> 'permanently_failed' makes the insert race-free:
// concurrent appends for the same user serialize on the conflict path.
func (s *BufferStore) AppendEvent(ctx context.Context, userID string, frag store.Fragment) error {
	fragJSON, err := json.Marshal([]store.Fragment{frag})
	if err != nil {
		return fmt.Errorf("encode fragment: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO message_buffer (id, user_id, fragments, last_message_at, status, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, 'new', 0, $4)
		 ON CONFLICT (user_id) WHERE status <> 'permanently_failed'
		 DO UPDATE SET
			fragments = message_buffer.fragments || EXCLUDED.fragments,
			last_message_at = EXCLUDED.last_message_at,
			status = 'new'`,
		store.NewID(), userID, fragJSON, now,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *BufferStore) SelectRipe(ctx context.Context, debounce time.Duration, now time.Time, maxBatch, maxRetries int) ([]store.BufferRow, error) {
	cutoff := now.Add(-debounce)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, fragments, last_message_at, status, retry_count, next_retry_at, last_processed_at, created_at
		 FROM message_buffer
		 WHERE (status = 'new' OR (status = 'failed' AND next_retry_at <= $1))
		   AND retry_count < $2
		   AND last_message_at <= $3
		 ORDER BY last_message_at ASC
		 LIMIT $4`,
		now, maxRetries, cutoff, maxBatch,
	)
	if err != nil {
		return nil, fmt.Errorf("select ripe: %w", err)
	}
	defer rows.Close()

	var out []store.BufferRow
	for rows.Next() {
		row, err := scanBufferRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Claim is the conditional update that makes multiple dispatchers safe:
// zero affected rows means another claimant won, which is not an error.
func (s *BufferStore) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer
		 SET status = 'processing', retry_count = retry_count + 1, last_processed_at = $1
		 WHERE id = $2 AND status IN ('new', 'failed')`,
		now, id,
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
		`UPDATE message_buffer SET status = 'failed', next_retry_at = $1 WHERE id = $2`,
		nextRetryAt, id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (s *BufferStore) MarkPermanentlyFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer SET status = 'permanently_failed' WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("mark permanently failed: %w", err)
	}
	return nil
}

func (s *BufferStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM message_buffer WHERE id = $1`, id)
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
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer rows.Close()

	var out []store.BufferRow
	for rows.Next() {
		row, err := scanBufferRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *BufferStore) Requeue(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_buffer
		 SET status = 'new', retry_count = 0, next_retry_at = NULL
		 WHERE id = $1 AND status = 'permanently_failed'`,
		id,
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

func scanBufferRow(rows *sql.Rows) (store.BufferRow, error) {
	var r store.BufferRow
	var fragJSON []byte
	var nextRetry, lastProcessed sql.NullTime
	if err := rows.Scan(&r.ID, &r.UserID, &fragJSON, &r.LastMessageAt, &r.Status,
		&r.RetryCount, &nextRetry, &lastProcessed, &r.CreatedAt); err != nil {
		return r, fmt.Errorf("scan buffer row: %w", err)
	}
	if err := json.Unmarshal(fragJSON, &r.Fragments); err != nil {
		return r, fmt.Errorf("decode fragments for %s: %w", r.ID, err)
	}
	if nextRetry.Valid {
		r.NextRetryAt = nextRetry.Time
	}
	if lastProcessed.Valid {
		r.LastProcessedAt = lastProcessed.Time
	}
	return r, nil
}
