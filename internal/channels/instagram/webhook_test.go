package instagram

import (
	"testing"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// TestParseEvents covers the webhook fragment extraction rules: echoes
// dropped, shares treated as images, text and attachments split into
// separate events.
func TestParseEvents(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []Event
	}{
		{
			name: "text message",
			body: `{"object":"instagram","entry":[{"messaging":[
				{"sender":{"id":"u1"},"message":{"mid":"m1","text":"hi"}}]}]}`,
			want: []Event{{SenderID: "u1", Fragment: store.Fragment{Type: store.FragmentText, Content: "hi"}}},
		},
		{
			name: "echo dropped",
			body: `{"object":"instagram","entry":[{"messaging":[
				{"sender":{"id":"page"},"message":{"mid":"m1","text":"our reply","is_echo":true}}]}]}`,
			want: nil,
		},
		{
			name: "image attachment",
			body: `{"object":"instagram","entry":[{"messaging":[
				{"sender":{"id":"u1"},"message":{"mid":"m1","attachments":[
					{"type":"image","payload":{"url":"http://cdn/img.jpg"}}]}}]}]}`,
			want: []Event{{SenderID: "u1", Fragment: store.Fragment{Type: store.FragmentImage, Content: "http://cdn/img.jpg"}}},
		},
		{
			name: "share becomes image",
			body: `{"object":"instagram","entry":[{"messaging":[
				{"sender":{"id":"u1"},"message":{"mid":"m1","attachments":[
					{"type":"share","payload":{"url":"http://cdn/post.jpg"}}]}}]}]}`,
			want: []Event{{SenderID: "u1", Fragment: store.Fragment{Type: store.FragmentImage, Content: "http://cdn/post.jpg"}}},
		},
		{
			name: "audio attachment",
			body: `{"object":"instagram","entry":[{"messaging":[
				{"sender":{"id":"u1"},"message":{"mid":"m1","attachments":[
					{"type":"audio","payload":{"url":"http://cdn/voice.mp4"}}]}}]}]}`,
			want: []Event{{SenderID: "u1", Fragment: store.Fragment{Type: store.FragmentAudio, Content: "http://cdn/voice.mp4"}}},
		},
		{
			name: "text plus attachment yields two events",
			body: `{"object":"instagram","entry":[{"messaging":[
				{"sender":{"id":"u1"},"message":{"mid":"m1","text":"look at this","attachments":[
					{"type":"image","payload":{"url":"http://cdn/img.jpg"}}]}}]}]}`,
			want: []Event{
				{SenderID: "u1", Fragment: store.Fragment{Type: store.FragmentText, Content: "look at this"}},
				{SenderID: "u1", Fragment: store.Fragment{Type: store.FragmentImage, Content: "http://cdn/img.jpg"}},
			},
		},
		{
			name: "unknown attachment type passes through",
			body: `{"object":"instagram","entry":[{"messaging":[
				{"sender":{"id":"u1"},"message":{"mid":"m1","attachments":[
					{"type":"video","payload":{"url":"http://cdn/v.mp4"}}]}}]}]}`,
			want: []Event{{SenderID: "u1", Fragment: store.Fragment{Type: "video", Content: "http://cdn/v.mp4"}}},
		},
		{
			name: "attachment without url skipped",
			body: `{"object":"instagram","entry":[{"messaging":[
				{"sender":{"id":"u1"},"message":{"mid":"m1","attachments":[{"type":"image","payload":{}}]}}]}]}`,
			want: nil,
		},
		{
			name: "non-message events ignored",
			body: `{"object":"instagram","entry":[{"messaging":[{"sender":{"id":"u1"}}]}]}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvents([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseEvents: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestParseEvents_InvalidJSON verifies a malformed body is an error.
func TestParseEvents_InvalidJSON(t *testing.T) {
	if _, err := ParseEvents([]byte("{nope")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
