// Package dispatcher polls the aggregation buffer, claims ripe rows, runs
// media normalization, and hands the combined text to the orchestrator.
// Delivery is at-least-once: a row is deleted only after a successful
// handoff, and every failure backs the whole row off exponentially.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sorryformyhair/dmflow/internal/normalizer"
	"github.com/sorryformyhair/dmflow/internal/store"
)

var tracer = otel.Tracer("dmflow/dispatcher")

// Handoff is the boundary to the conversational orchestrator.
type Handoff interface {
	HandleTurn(ctx context.Context, userID, text string) error
}

// Config tunes the poll loop and retry policy.
type Config struct {
	Tick           time.Duration
	Debounce       time.Duration
	BatchSize      int
	MaxConcurrency int
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

// Dispatcher is the buffer poll loop. Multiple instances may run against
// the same database; the conditional claim keeps them from double-processing.
type Dispatcher struct {
	cfg     Config
	buffer  store.BufferStore
	norm    normalizer.Normalizer
	handoff Handoff
	now     func() time.Time
}

func New(cfg Config, buffer store.BufferStore, norm normalizer.Normalizer, handoff Handoff) *Dispatcher {
	if cfg.Tick <= 0 {
		cfg.Tick = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Minute
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = time.Hour
	}
	return &Dispatcher{
		cfg:     cfg,
		buffer:  buffer,
		norm:    norm,
		handoff: handoff,
		now:     time.Now,
	}
}

// Run ticks until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started",
		"tick", d.cfg.Tick, "debounce", d.cfg.Debounce,
		"batch", d.cfg.BatchSize, "max_retries", d.cfg.MaxRetries)

	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
				slog.Error("dispatch tick failed", "error", err)
			}
		}
	}
}

// Tick processes one batch of ripe rows.
func (d *Dispatcher) Tick(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "dispatcher.Tick")
	defer span.End()

	rows, err := d.buffer.SelectRipe(ctx, d.cfg.Debounce, d.now(), d.cfg.BatchSize, d.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("select ripe rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrency)
	for _, row := range rows {
		g.Go(func() error {
			d.processRow(gctx, row)
			return nil
		})
	}
	return g.Wait()
}

// processRow owns the full lifecycle of one claimed row. All outcomes are
// absorbed here; a per-row problem must not kill the tick.
func (d *Dispatcher) processRow(ctx context.Context, row store.BufferRow) {
	ctx, span := tracer.Start(ctx, "dispatcher.processRow",
		trace.WithAttributes(
			attribute.String("row.id", row.ID.String()),
			attribute.String("user.id", row.UserID)))
	defer span.End()

	claimed, err := d.buffer.Claim(ctx, row.ID, d.now())
	if err != nil {
		slog.Error("claim failed", "row", row.ID, "error", err)
		return
	}
	if !claimed {
		slog.Debug("row claimed elsewhere", "row", row.ID)
		return
	}
	attempt := row.RetryCount + 1

	text, err := d.normalizeFragments(ctx, row)
	if err != nil {
		slog.Warn("normalization failed",
			"row", row.ID, "user", row.UserID, "attempt", attempt, "error", err)
		span.RecordError(err)
		d.fail(ctx, row, attempt)
		return
	}

	if err := d.handoff.HandleTurn(ctx, row.UserID, text); err != nil {
		slog.Warn("handoff failed",
			"row", row.ID, "user", row.UserID, "attempt", attempt, "error", err)
		span.RecordError(err)
		d.fail(ctx, row, attempt)
		return
	}

	if err := d.buffer.Delete(ctx, row.ID); err != nil {
		slog.Error("failed to delete processed row", "row", row.ID, "error", err)
		return
	}
	slog.Info("row processed",
		"row", row.ID, "user", row.UserID, "fragments", len(row.Fragments), "attempt", attempt)
}

// normalizeFragments converts every fragment to text in arrival order and
// joins them into one message. Any fragment error fails the whole row so a
// retry re-runs normalization from scratch.
func (d *Dispatcher) normalizeFragments(ctx context.Context, row store.BufferRow) (string, error) {
	parts := make([]string, 0, len(row.Fragments))
	for i, frag := range row.Fragments {
		text, err := d.norm.Normalize(ctx, frag.Content, frag.Type)
		if err != nil {
			return "", fmt.Errorf("fragment %d (%s): %w", i, frag.Type, err)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}

func (d *Dispatcher) fail(ctx context.Context, row store.BufferRow, attempt int) {
	if attempt >= d.cfg.MaxRetries {
		if err := d.buffer.MarkPermanentlyFailed(ctx, row.ID); err != nil {
			slog.Error("failed to park row", "row", row.ID, "error", err)
			return
		}
		slog.Error("row permanently failed, manual requeue required",
			"row", row.ID, "user", row.UserID, "attempts", attempt)
		return
	}

	next := d.now().Add(Backoff(d.cfg.BaseRetryDelay, d.cfg.MaxRetryDelay, attempt))
	if err := d.buffer.MarkFailed(ctx, row.ID, next); err != nil {
		slog.Error("failed to mark row failed", "row", row.ID, "error", err)
		return
	}
	slog.Info("row scheduled for retry",
		"row", row.ID, "user", row.UserID, "attempt", attempt, "next_retry_at", next)
}

// Backoff returns the delay before retry attempt+1: base doubled per
// completed attempt, capped.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shift overflow guard for absurd attempt counts.
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<(attempt-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}
