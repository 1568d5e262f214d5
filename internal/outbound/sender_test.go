package outbound

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sorryformyhair/dmflow/internal/providers"
)

// fakeTransport records sends and can fail specific segment indexes.
type fakeTransport struct {
	sent    []string
	failIdx map[int]bool
}

func (f *fakeTransport) SendMessage(ctx context.Context, userID, text string) error {
	idx := len(f.sent)
	f.sent = append(f.sent, text)
	if f.failIdx[idx] {
		return errors.New("platform error")
	}
	return nil
}

// TestSend_SingleSegment verifies the common case: one short reply, one send.
func TestSend_SingleSegment(t *testing.T) {
	tr := &fakeTransport{}
	seg := NewSegmenter(&fakeProvider{}, "fake-model", 1000, 980)
	s := NewSender(tr, seg, time.Millisecond, 6000)

	if err := s.Send(context.Background(), "user1", "hi there"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0] != "hi there" {
		t.Errorf("sent = %v, want [hi there]", tr.sent)
	}
}

// TestSend_LogsRuneCount verifies the delivery log counts runes, matching
// the rune-based limit accounting, not bytes.
func TestSend_LogsRuneCount(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	tr := &fakeTransport{}
	seg := NewSegmenter(&fakeProvider{}, "fake-model", 1000, 980)
	s := NewSender(tr, seg, time.Millisecond, 6000)

	// 6 runes, 12 bytes.
	if err := s.Send(context.Background(), "user1", "привіт"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !strings.Contains(buf.String(), "chars=6") {
		t.Errorf("log output %q, want chars=6", buf.String())
	}
}

// TestSend_SegmentsInOrder verifies a split reply is delivered in order.
func TestSend_SegmentsInOrder(t *testing.T) {
	long := strings.Repeat("z", 1200)
	p := &fakeProvider{responses: []*providers.ChatResponse{
		{Content: `{"parts": ["one", "two", "three"]}`},
	}}
	tr := &fakeTransport{}
	s := NewSender(tr, NewSegmenter(p, "fake-model", 1000, 980), time.Millisecond, 6000)

	if err := s.Send(context.Background(), "user1", long); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(tr.sent) != len(want) {
		t.Fatalf("sent %d segments, want %d", len(tr.sent), len(want))
	}
	for i := range want {
		if tr.sent[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, tr.sent[i], want[i])
		}
	}
}

// TestSend_FailedSegmentDoesNotAbort verifies that a mid-sequence delivery
// failure leaves the remaining segments going out.
func TestSend_FailedSegmentDoesNotAbort(t *testing.T) {
	long := strings.Repeat("z", 1200)
	p := &fakeProvider{responses: []*providers.ChatResponse{
		{Content: `{"parts": ["one", "two", "three"]}`},
	}}
	tr := &fakeTransport{failIdx: map[int]bool{1: true}}
	s := NewSender(tr, NewSegmenter(p, "fake-model", 1000, 980), time.Millisecond, 6000)

	if err := s.Send(context.Background(), "user1", long); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(tr.sent) != 3 {
		t.Fatalf("sent %d segments after mid-sequence failure, want 3", len(tr.sent))
	}
}

// TestSend_ContextCancelStopsSequence verifies cancellation between
// segments stops delivery early.
func TestSend_ContextCancelStopsSequence(t *testing.T) {
	long := strings.Repeat("z", 1200)
	p := &fakeProvider{responses: []*providers.ChatResponse{
		{Content: `{"parts": ["one", "two"]}`},
	}}
	tr := &fakeTransport{}
	s := NewSender(tr, NewSegmenter(p, "fake-model", 1000, 980), time.Hour, 6000)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.Send(ctx, "user1", long)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}
	if len(tr.sent) != 1 {
		t.Errorf("sent %d segments before cancel, want 1", len(tr.sent))
	}
}
