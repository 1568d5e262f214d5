package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGraphBase = "https://graph.instagram.com/v21.0"

// Client sends messages through the Instagram Graph API.
type Client struct {
	accessToken string
	pageID      string
	baseURL     string
	httpClient  *http.Client
}

func NewClient(accessToken, pageID string) *Client {
	return &Client{
		accessToken: accessToken,
		pageID:      pageID,
		baseURL:     defaultGraphBase,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the Graph API base, used in tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = base
	return c
}

// SendMessage delivers one text message to a user.
func (c *Client) SendMessage(ctx context.Context, userID, text string) error {
	body, err := json.Marshal(map[string]interface{}{
		"recipient":      map[string]string{"id": userID},
		"message":        map[string]string{"text": text},
		"messaging_type": "RESPONSE",
	})
	if err != nil {
		return fmt.Errorf("instagram: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.pageID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("instagram: create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("instagram: send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("instagram: send failed: HTTP %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		RecipientID string `json:"recipient_id"`
		MessageID   string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("instagram: decode send response: %w", err)
	}
	return nil
}
