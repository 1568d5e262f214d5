package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// fakeBuffer is an in-memory BufferStore that records state transitions.
type fakeBuffer struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*store.BufferRow
	claimDeny map[uuid.UUID]bool // simulate a lost claim race
	deleted   []uuid.UUID
	failed    map[uuid.UUID]time.Time
	parked    []uuid.UUID
}

func newFakeBuffer(rows ...store.BufferRow) *fakeBuffer {
	f := &fakeBuffer{
		rows:      make(map[uuid.UUID]*store.BufferRow),
		claimDeny: make(map[uuid.UUID]bool),
		failed:    make(map[uuid.UUID]time.Time),
	}
	for i := range rows {
		r := rows[i]
		f.rows[r.ID] = &r
	}
	return f
}

func (f *fakeBuffer) AppendEvent(ctx context.Context, userID string, frag store.Fragment) error {
	return nil
}

func (f *fakeBuffer) SelectRipe(ctx context.Context, debounce time.Duration, now time.Time, maxBatch, maxRetries int) ([]store.BufferRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.BufferRow
	for _, r := range f.rows {
		if r.Status == store.StatusNew || r.Status == store.StatusFailed {
			out = append(out, *r)
		}
		if len(out) == maxBatch {
			break
		}
	}
	return out, nil
}

func (f *fakeBuffer) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimDeny[id] {
		return false, nil
	}
	r, ok := f.rows[id]
	if !ok || (r.Status != store.StatusNew && r.Status != store.StatusFailed) {
		return false, nil
	}
	r.Status = store.StatusProcessing
	r.RetryCount++
	r.LastProcessedAt = now
	return true, nil
}

func (f *fakeBuffer) MarkFailed(ctx context.Context, id uuid.UUID, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].Status = store.StatusFailed
	f.rows[id].NextRetryAt = nextRetryAt
	f.failed[id] = nextRetryAt
	return nil
}

func (f *fakeBuffer) MarkPermanentlyFailed(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].Status = store.StatusPermanentlyFailed
	f.parked = append(f.parked, id)
	return nil
}

func (f *fakeBuffer) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBuffer) ListFailed(ctx context.Context, limit int) ([]store.BufferRow, error) {
	return nil, nil
}

func (f *fakeBuffer) Requeue(ctx context.Context, id uuid.UUID) error { return nil }

// fakeNormalizer converts fragments to text, failing on demand.
type fakeNormalizer struct {
	failOn store.FragmentType
}

func (f *fakeNormalizer) Normalize(ctx context.Context, ref string, kind store.FragmentType) (string, error) {
	if kind == f.failOn {
		return "", errors.New("normalization boom")
	}
	if kind == store.FragmentText {
		return ref, nil
	}
	return "[" + string(kind) + "] " + ref, nil
}

// fakeHandoff records handed-off messages, failing on demand.
type fakeHandoff struct {
	mu       sync.Mutex
	fail     bool
	received map[string]string // userID → text
}

func (f *fakeHandoff) HandleTurn(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("handoff boom")
	}
	if f.received == nil {
		f.received = make(map[string]string)
	}
	f.received[userID] = text
	return nil
}

func testConfig() Config {
	return Config{
		Tick:           time.Second,
		Debounce:       7 * time.Second,
		BatchSize:      5,
		MaxConcurrency: 2,
		MaxRetries:     5,
		BaseRetryDelay: time.Minute,
		MaxRetryDelay:  time.Hour,
	}
}

func newRow(userID string, retries int, frags ...store.Fragment) store.BufferRow {
	return store.BufferRow{
		ID:            store.NewID(),
		UserID:        userID,
		Fragments:     frags,
		LastMessageAt: time.Now().Add(-time.Minute),
		Status:        store.StatusNew,
		RetryCount:    retries,
	}
}

// TestTick_SuccessfulRowIsJoinedAndDeleted verifies the happy path:
// fragments are normalized in order, joined with a blank line, handed off,
// and the row is removed.
func TestTick_SuccessfulRowIsJoinedAndDeleted(t *testing.T) {
	row := newRow("user1", 0,
		store.Fragment{Type: store.FragmentText, Content: "hello"},
		store.Fragment{Type: store.FragmentAudio, Content: "http://a/v.ogg"},
		store.Fragment{Type: store.FragmentText, Content: "are you there?"},
	)
	buf := newFakeBuffer(row)
	h := &fakeHandoff{}
	d := New(testConfig(), buf, &fakeNormalizer{}, h)

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}

	want := "hello\n\n[audio] http://a/v.ogg\n\nare you there?"
	if got := h.received["user1"]; got != want {
		t.Errorf("handed off %q, want %q", got, want)
	}
	if len(buf.deleted) != 1 || buf.deleted[0] != row.ID {
		t.Errorf("deleted = %v, want [%s]", buf.deleted, row.ID)
	}
}

// TestTick_NormalizationFailureBacksOffWholeRow verifies that any fragment
// error fails the whole row with the first-retry delay and nothing is
// handed off.
func TestTick_NormalizationFailureBacksOffWholeRow(t *testing.T) {
	row := newRow("user1", 0,
		store.Fragment{Type: store.FragmentText, Content: "hi"},
		store.Fragment{Type: store.FragmentAudio, Content: "http://a/v.ogg"},
	)
	buf := newFakeBuffer(row)
	h := &fakeHandoff{}
	d := New(testConfig(), buf, &fakeNormalizer{failOn: store.FragmentAudio}, h)
	before := time.Now()

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}

	if len(h.received) != 0 {
		t.Errorf("handoff received %v, want nothing", h.received)
	}
	next, ok := buf.failed[row.ID]
	if !ok {
		t.Fatal("row was not marked failed")
	}
	gap := next.Sub(before)
	if gap < 55*time.Second || gap > 70*time.Second {
		t.Errorf("first retry delay = %v, want ~1m", gap)
	}
}

// TestTick_HandoffFailureBacksOff verifies a downstream handoff error is
// treated like any other failure.
func TestTick_HandoffFailureBacksOff(t *testing.T) {
	row := newRow("user1", 1, store.Fragment{Type: store.FragmentText, Content: "hi"})
	buf := newFakeBuffer(row)
	d := New(testConfig(), buf, &fakeNormalizer{}, &fakeHandoff{fail: true})
	before := time.Now()

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}

	next, ok := buf.failed[row.ID]
	if !ok {
		t.Fatal("row was not marked failed")
	}
	// Second attempt: base doubled once.
	gap := next.Sub(before)
	if gap < 115*time.Second || gap > 130*time.Second {
		t.Errorf("second retry delay = %v, want ~2m", gap)
	}
	if len(buf.deleted) != 0 {
		t.Errorf("row deleted after failed handoff")
	}
}

// TestTick_RetriesExhaustedParksRow verifies the terminal transition: a row
// on its final allowed attempt becomes permanently failed, not deleted.
func TestTick_RetriesExhaustedParksRow(t *testing.T) {
	row := newRow("user1", 4, store.Fragment{Type: store.FragmentAudio, Content: "u"})
	row.Status = store.StatusFailed
	buf := newFakeBuffer(row)
	d := New(testConfig(), buf, &fakeNormalizer{failOn: store.FragmentAudio}, &fakeHandoff{})

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}

	if len(buf.parked) != 1 || buf.parked[0] != row.ID {
		t.Fatalf("parked = %v, want [%s]", buf.parked, row.ID)
	}
	if _, stillFailed := buf.failed[row.ID]; stillFailed {
		t.Error("row was both marked failed and parked")
	}
}

// TestTick_LostClaimSkipsRow verifies that losing the claim race is a
// silent no-op for that row.
func TestTick_LostClaimSkipsRow(t *testing.T) {
	row := newRow("user1", 0, store.Fragment{Type: store.FragmentText, Content: "hi"})
	buf := newFakeBuffer(row)
	buf.claimDeny[row.ID] = true
	h := &fakeHandoff{}
	d := New(testConfig(), buf, &fakeNormalizer{}, h)

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if len(h.received) != 0 || len(buf.deleted) != 0 {
		t.Errorf("lost claim still processed the row")
	}
}

// TestBackoff verifies the doubling schedule and its cap.
func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first attempt", attempt: 1, want: time.Minute},
		{name: "second attempt", attempt: 2, want: 2 * time.Minute},
		{name: "third attempt", attempt: 3, want: 4 * time.Minute},
		{name: "sixth attempt", attempt: 6, want: 32 * time.Minute},
		{name: "capped at one hour", attempt: 7, want: time.Hour},
		{name: "zero clamps to first", attempt: 0, want: time.Minute},
		{name: "huge attempt stays capped", attempt: 50, want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Backoff(time.Minute, time.Hour, tt.attempt)
			if got != tt.want {
				t.Errorf("Backoff(1m, 1h, %d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}
