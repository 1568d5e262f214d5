// Package instagram speaks the Instagram messaging platform: webhook
// payload parsing on the way in, the Graph API send endpoint on the way out.
package instagram

import (
	"encoding/json"
	"fmt"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// WebhookPayload is the envelope Instagram POSTs to the webhook.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Time      int64  `json:"time"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Timestamp int64 `json:"timestamp"`
			Message   *struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				IsEcho      bool   `json:"is_echo"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// Event is one inbound fragment attributed to a sender.
type Event struct {
	SenderID string
	Fragment store.Fragment
}

// ParseEvents extracts buffer-ready events from a webhook body. Echo
// messages (our own outbound reflected back) are dropped. A message can
// yield several events: its text plus one per attachment.
func ParseEvents(body []byte) ([]Event, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsEcho || m.Sender.ID == "" {
				continue
			}

			if m.Message.Text != "" {
				events = append(events, Event{
					SenderID: m.Sender.ID,
					Fragment: store.Fragment{Type: store.FragmentText, Content: m.Message.Text},
				})
			}
			for _, att := range m.Message.Attachments {
				if att.Payload.URL == "" {
					continue
				}
				events = append(events, Event{
					SenderID: m.Sender.ID,
					Fragment: store.Fragment{
						Type:    fragmentType(att.Type),
						Content: att.Payload.URL,
					},
				})
			}
		}
	}
	return events, nil
}

// fragmentType maps attachment types onto fragment types. Shares carry an
// image preview URL, so they are treated as images.
func fragmentType(attachmentType string) store.FragmentType {
	switch attachmentType {
	case "image", "share", "story_mention":
		return store.FragmentImage
	case "audio":
		return store.FragmentAudio
	default:
		return store.FragmentType(attachmentType)
	}
}
