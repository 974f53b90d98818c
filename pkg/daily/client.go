// Package daily is a minimal client for the Daily REST API, covering room
// creation and meeting-token generation for bot sessions.
package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/strongmind/rtvi-gateway/pkg/config"
)

var (
	ErrRoomCreateFailed  = errors.New("failed to create room")
	ErrTokenCreateFailed = errors.New("failed to create room token")
)

const defaultTimeout = 10 * time.Second

// Provisioner supplies a room URL and access token for a new bot session.
type Provisioner interface {
	Provision(ctx context.Context) (roomURL, token string, err error)
}

// Client talks to the Daily REST API. When a static room URL and token are
// configured it short-circuits and returns those instead.
type Client struct {
	apiKey      string
	apiURL      string
	staticRoom  string
	staticToken string
	client      *http.Client
}

func NewClient(cfg *config.Daily) *Client {
	return &Client{
		apiKey:      cfg.APIKey,
		apiURL:      strings.TrimSuffix(cfg.APIURL, "/"),
		staticRoom:  cfg.RoomURL,
		staticToken: cfg.RoomToken,
		client:      &http.Client{Timeout: defaultTimeout},
	}
}

// Provision returns a (roomURL, token) pair for a new session.
func (c *Client) Provision(ctx context.Context) (string, string, error) {
	if c.staticRoom != "" {
		return c.staticRoom, c.staticToken, nil
	}

	roomURL, err := c.CreateRoom(ctx)
	if err != nil {
		return "", "", err
	}

	token, err := c.CreateToken(ctx, roomURL)
	if err != nil {
		return "", "", err
	}

	return roomURL, token, nil
}

// CreateRoom creates a new room with default properties and returns its URL.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var result struct {
		URL string `json:"url"`
	}
	if err := c.post(ctx, "/rooms", map[string]any{"properties": map[string]any{}}, &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRoomCreateFailed, err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("%w: response missing room url", ErrRoomCreateFailed)
	}
	return result.URL, nil
}

// CreateToken generates an owner meeting token for the given room URL.
func (c *Client) CreateToken(ctx context.Context, roomURL string) (string, error) {
	roomName := roomNameFromURL(roomURL)
	if roomName == "" {
		return "", fmt.Errorf("%w: cannot derive room name from %s", ErrTokenCreateFailed, roomURL)
	}

	body := map[string]any{
		"properties": map[string]any{
			"room_name": roomName,
			"is_owner":  true,
		},
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/meeting-tokens", body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenCreateFailed, err)
	}
	if result.Token == "" {
		return "", fmt.Errorf("%w: response missing token", ErrTokenCreateFailed)
	}
	return result.Token, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

// roomNameFromURL extracts the room name from a room URL, e.g.
// "https://example.daily.co/my-room" -> "my-room".
func roomNameFromURL(roomURL string) string {
	trimmed := strings.TrimSuffix(roomURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return ""
	}
	return trimmed[idx+1:]
}
