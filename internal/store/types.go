// Package store defines the persistent data model for the DM pipeline:
// the per-user aggregation buffer, the chat history log, and the two
// domain tables (products, orders) the agent tools read and write.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FragmentType classifies one inbound message fragment.
type FragmentType string

const (
	FragmentText  FragmentType = "text"
	FragmentImage FragmentType = "image"
	FragmentAudio FragmentType = "audio"
)

// Fragment is one inbound message unit buffered for a user.
// Content is raw text for text fragments, a media URL otherwise.
// After normalization Content is always text.
type Fragment struct {
	Type    FragmentType `json:"type"`
	Content string       `json:"content"`
}

// BufferStatus is the closed state set for a buffer row.
//
// Transitions (dispatcher-owned, except AppendEvent forcing New):
//
//	(create)            → New
//	New|Failed          → Processing   (Claim, conditional update)
//	Processing          → Failed       (MarkFailed, normalization/handoff error)
//	Processing          → PermanentlyFailed (MarkPermanentlyFailed, retries exhausted)
//	Processing          → (deleted)    (Delete, handoff acknowledged)
//	any non-terminal    → New          (AppendEvent: fresh activity restarts the debounce)
type BufferStatus string

const (
	StatusNew               BufferStatus = "new"
	StatusProcessing        BufferStatus = "processing"
	StatusFailed            BufferStatus = "failed"
	StatusPermanentlyFailed BufferStatus = "permanently_failed"
)

// Terminal reports whether the status excludes the row from all future dispatching.
func (s BufferStatus) Terminal() bool { return s == StatusPermanentlyFailed }

// BufferRow is one user's pending unit of work: every fragment received
// since the last successful dispatch, plus retry bookkeeping.
type BufferRow struct {
	ID              uuid.UUID
	UserID          string
	Fragments       []Fragment
	LastMessageAt   time.Time
	Status          BufferStatus
	RetryCount      int
	NextRetryAt     time.Time // zero until the first failure
	LastProcessedAt time.Time // zero until the first claim
	CreatedAt       time.Time
}

// BufferStore is the durable per-user mailbox.
//
// At most one non-terminal row exists per user. AppendEvent and Claim are the
// only operations that race in practice; both must be safe under concurrent
// callers (Claim via conditional update, AppendEvent via upsert).
type BufferStore interface {
	// AppendEvent adds a fragment to the user's active row, creating the row
	// if none exists. It refreshes lastMessageAt and forces status back to New
	// so fresh activity restarts the debounce window and cancels any pending
	// backoff wait.
	AppendEvent(ctx context.Context, userID string, frag Fragment) error

	// SelectRipe returns rows eligible for claiming: status New, or Failed
	// with an elapsed nextRetryAt, with retryCount below max and at least
	// debounce of idle time since lastMessageAt. Oldest lastMessageAt first,
	// capped at maxBatch.
	SelectRipe(ctx context.Context, debounce time.Duration, now time.Time, maxBatch, maxRetries int) ([]BufferRow, error)

	// Claim transitions New|Failed → Processing, increments retryCount and
	// stamps lastProcessedAt. Returns false (no error) when another claimant
	// won the race or the row no longer exists.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// MarkFailed records a failed attempt and schedules the next retry.
	MarkFailed(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error

	// MarkPermanentlyFailed parks the row terminally. Terminal rows are
	// retained for inspection and manual requeue, never auto-deleted.
	MarkPermanentlyFailed(ctx context.Context, id uuid.UUID) error

	// Delete removes the row after the downstream handoff was acknowledged.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListFailed returns Failed and PermanentlyFailed rows for operators.
	ListFailed(ctx context.Context, limit int) ([]BufferRow, error)

	// Requeue resets a PermanentlyFailed row to New with a zero retry count.
	// This is the manual-intervention path for terminal rows.
	Requeue(ctx context.Context, id uuid.UUID) error
}

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	RoleHuman     TurnRole = "human"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one persisted conversation entry for a user.
type Turn struct {
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"-"`
}

// HistoryStore is the append-only per-user conversation log.
type HistoryStore interface {
	// Append persists one turn. Turns are never mutated afterwards.
	Append(ctx context.Context, userID string, turn Turn) error

	// Recent returns the most recent limit turns in chronological order.
	Recent(ctx context.Context, userID string, limit int) ([]Turn, error)

	// Clear removes all turns for a user (admin operation).
	Clear(ctx context.Context, userID string) error
}

// Product is one catalog entry the lookup tool can return.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Volume      string  `json:"volume"`
	PriceUAH    float64 `json:"price_uah"`
	InStock     bool    `json:"in_stock"`
}

// CatalogStore serves product lookups for the agent's catalog tool.
type CatalogStore interface {
	// Search matches products by name or description, capped at limit.
	Search(ctx context.Context, query string, limit int) ([]Product, error)

	// Get fetches a single product by its exact ID.
	Get(ctx context.Context, id string) (*Product, error)
}

// Order is a completed purchase recorded by the order tool.
type Order struct {
	ID         uuid.UUID
	UserID     string
	Name       string
	Phone      string
	City       string
	PostOffice string
	Products   string
	TotalPrice string
	CreatedAt  time.Time
}

// OrderStore records orders placed through the agent.
type OrderStore interface {
	Insert(ctx context.Context, o *Order) error
}

// Stores bundles every store behind one handle, constructed once at startup
// and passed down explicitly.
type Stores struct {
	Buffer  BufferStore
	History HistoryStore
	Catalog CatalogStore
	Orders  OrderStore

	// Close releases the underlying database handle.
	Close func() error
}

// NewID returns a time-ordered UUID for new rows.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
