package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HistoryClient fetches the durable message backlog for a room from the
// marketplace REST API.
type HistoryClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHistoryClient creates a history client for the given API base URL.
func NewHistoryClient(baseURL string) *HistoryClient {
	return &HistoryClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Load performs the one-shot backlog fetch for roomID with bearer auth and
// returns the historical messages in ascending created_at order. A 404 maps
// to ErrRoomNotFound; any other failure (transport, non-2xx, malformed
// payload) maps to ErrHistoryUnavailable so the caller can degrade to an
// empty history instead of blocking the room.
func (c *HistoryClient) Load(ctx context.Context, roomID, token string) ([]Message, error) {
	url := fmt.Sprintf("%s/api/rooms/%s/messages", c.BaseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: status %d", ErrHistoryUnavailable, resp.StatusCode)
	}

	var msgs []Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrHistoryUnavailable, err)
	}

	for i := range msgs {
		msgs[i].State = MessageConfirmed
	}
	return msgs, nil
}
