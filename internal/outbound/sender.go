package outbound

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// Transport delivers one message to one user on the platform.
type Transport interface {
	SendMessage(ctx context.Context, userID, text string) error
}

// Sender splits a reply into segments and delivers them in order with a
// fixed pause between segments. The pause applies per conversation; other
// users are not blocked. A global rate limiter caps total outbound volume.
type Sender struct {
	transport  Transport
	segmenter  *Segmenter
	segmentGap time.Duration
	limiter    *rate.Limiter
}

func NewSender(transport Transport, segmenter *Segmenter, segmentGap time.Duration, sendsPerMinute int) *Sender {
	if segmentGap <= 0 {
		segmentGap = 5 * time.Second
	}
	if sendsPerMinute <= 0 {
		sendsPerMinute = 60
	}
	return &Sender{
		transport:  transport,
		segmenter:  segmenter,
		segmentGap: segmentGap,
		limiter:    rate.NewLimiter(rate.Limit(float64(sendsPerMinute)/60.0), sendsPerMinute),
	}
}

// Send delivers the reply. A failed segment is logged and later segments
// are still attempted; aborting mid-reply would silently truncate it.
// Only context cancellation stops the sequence early.
func (s *Sender) Send(ctx context.Context, userID, text string) error {
	segments := s.segmenter.Segment(ctx, text)

	for i, segment := range segments {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.segmentGap):
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := s.transport.SendMessage(ctx, userID, segment); err != nil {
			slog.Error("segment send failed",
				"user", userID, "segment", i+1, "total", len(segments), "error", err)
			continue
		}
		slog.Info("segment sent",
			"user", userID, "segment", i+1, "total", len(segments),
			"chars", utf8.RuneCountInString(segment))
	}
	return nil
}
