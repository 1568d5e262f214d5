// Package normalizer converts media fragments (audio, images) into text
// so the buffer dispatcher can hand the agent a uniform transcript.
package normalizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sorryformyhair/dmflow/internal/providers"
	"github.com/sorryformyhair/dmflow/internal/store"
)

// Normalizer turns one media reference into text. Implementations must be
// side-effect free on failure so a retried row can re-run normalization.
type Normalizer interface {
	Normalize(ctx context.Context, ref string, kind store.FragmentType) (string, error)
}

// OpenAINormalizer transcribes audio and describes images through the
// provider's transcription and vision endpoints.
type OpenAINormalizer struct {
	provider        providers.Provider
	visionModel     string
	transcribeModel string
	client          *http.Client
}

func NewOpenAINormalizer(p providers.Provider, visionModel, transcribeModel string) *OpenAINormalizer {
	return &OpenAINormalizer{
		provider:        p,
		visionModel:     visionModel,
		transcribeModel: transcribeModel,
		client:          &http.Client{Timeout: 60 * time.Second},
	}
}

func (n *OpenAINormalizer) Normalize(ctx context.Context, ref string, kind store.FragmentType) (string, error) {
	switch kind {
	case store.FragmentText:
		return ref, nil
	case store.FragmentAudio:
		return n.transcribeAudio(ctx, ref)
	case store.FragmentImage:
		return n.describeImage(ctx, ref)
	default:
		// Unknown media is recorded as a placeholder rather than failing the row.
		return fmt.Sprintf("[unsupported attachment: %s]", kind), nil
	}
}

// transcribeAudio downloads the audio to a temp file, transcribes it, and
// always removes the file regardless of outcome.
func (n *OpenAINormalizer) transcribeAudio(ctx context.Context, url string) (string, error) {
	tmp, err := os.CreateTemp("", "dmflow-audio-*.ogg")
	if err != nil {
		return "", fmt.Errorf("normalize audio: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove temp audio file", "path", tmpPath, "error", err)
		}
	}()

	if err := n.download(ctx, url, tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("normalize audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("normalize audio: close temp file: %w", err)
	}

	text, err := n.provider.Transcribe(ctx, tmpPath, n.transcribeModel)
	if err != nil {
		return "", fmt.Errorf("normalize audio: transcribe: %w", err)
	}
	return "[Voice message]: " + text, nil
}

func (n *OpenAINormalizer) describeImage(ctx context.Context, url string) (string, error) {
	resp, err := n.provider.Chat(ctx, providers.ChatRequest{
		Model: n.visionModel,
		Messages: []providers.Message{{
			Role:    "user",
			Content: "Describe this image briefly so a sales assistant can understand what the customer sent. Mention any visible product, text, or question.",
			Images:  []providers.ImageContent{{URL: url}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("normalize image: describe: %w", err)
	}
	if resp.Content == "" {
		return "", fmt.Errorf("normalize image: empty description")
	}
	return "[Image]: " + resp.Content, nil
}

func (n *OpenAINormalizer) download(ctx context.Context, url string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download media: HTTP %d", resp.StatusCode)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("write media: %w", err)
	}
	return nil
}
