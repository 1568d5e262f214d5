package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sorryformyhair/dmflow/internal/providers"
)

// Segmenter splits replies that exceed the platform message size cap.
// Splitting is semantic (an LLM picks the boundaries); when the split
// result fails validation the original text goes out as a single
// best-effort oversized send rather than being dropped.
type Segmenter struct {
	provider  providers.Provider
	model     string
	hardLimit int // platform cap per message
	softLimit int // target per split part, leaves headroom for re-sanitization
}

func NewSegmenter(provider providers.Provider, model string, hardLimit, softLimit int) *Segmenter {
	if hardLimit <= 0 {
		hardLimit = 1000
	}
	if softLimit <= 0 || softLimit > hardLimit {
		softLimit = hardLimit - 20
	}
	return &Segmenter{provider: provider, model: model, hardLimit: hardLimit, softLimit: softLimit}
}

// Segment sanitizes text and returns the ordered message segments to send.
func (s *Segmenter) Segment(ctx context.Context, text string) []string {
	clean := Sanitize(text)
	if utf8.RuneCountInString(clean) <= s.hardLimit {
		return []string{clean}
	}

	parts, err := s.llmSplit(ctx, clean)
	if err != nil {
		slog.Warn("semantic split failed, sending oversized message as-is",
			"chars", utf8.RuneCountInString(clean), "error", err)
		return []string{clean}
	}
	return parts
}

func (s *Segmenter) llmSplit(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(
		`Split the following message into parts of at most %d characters each. Split at natural boundaries (sentences, paragraphs) and never mid-word. Keep the original wording and order. Respond with JSON only: {"parts": ["...", "..."]}

Message:
%s`, s.softLimit, text)

	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Model:    s.model,
		Messages: []providers.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("splitter call: %w", err)
	}

	parts, err := parseParts(resp.Content)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(parts))
	for i, p := range parts {
		clean := Sanitize(p)
		if clean == "" {
			return nil, fmt.Errorf("split part %d empty after sanitization", i)
		}
		if utf8.RuneCountInString(clean) > s.softLimit {
			return nil, fmt.Errorf("split part %d is %d chars, over the %d part limit",
				i, utf8.RuneCountInString(clean), s.softLimit)
		}
		out = append(out, clean)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("splitter returned no parts")
	}
	return out, nil
}

// parseParts accepts the splitter output either as bare JSON or wrapped in
// a fenced ```json block.
func parseParts(content string) ([]string, error) {
	var payload struct {
		Parts []string `json:"parts"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &payload); err == nil {
		return payload.Parts, nil
	}

	fenced := extractFencedJSON(content)
	if fenced == "" {
		return nil, fmt.Errorf("splitter output is not valid JSON")
	}
	if err := json.Unmarshal([]byte(fenced), &payload); err != nil {
		return nil, fmt.Errorf("parse fenced splitter output: %w", err)
	}
	return payload.Parts, nil
}

func extractFencedJSON(content string) string {
	start := strings.Index(content, "```json")
	if start < 0 {
		start = strings.Index(content, "```")
		if start < 0 {
			return ""
		}
		start += len("```")
	} else {
		start += len("```json")
	}
	rest := content[start:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
