package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

// Client talks to the agent backend over HTTP for session operations and a
// websocket for the timeline event stream.
type Client struct {
	baseURL   string
	eventsURL string
	http      *http.Client
}

// NewClient creates a backend client. eventsURL may be empty, in which
// case it is derived from baseURL (http → ws, path /v1/events).
func NewClient(baseURL, eventsURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if eventsURL == "" {
		eventsURL = strings.Replace(baseURL, "http", "ws", 1) + "/v1/events"
	}
	return &Client{
		baseURL:   baseURL,
		eventsURL: eventsURL,
		http:      &http.Client{},
	}
}

type createSessionRequest struct {
	WorkingDir string `json:"working_dir,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Type       string `json:"type,omitempty"`
}

type sendMessageRequest struct {
	Content     string           `json:"content"`
	Attachments []bus.Attachment `json:"attachments,omitempty"`
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

// CreateSession creates a new backend session.
func (c *Client) CreateSession(ctx context.Context, workingDir, parentID, title, sessionType string) (*Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/v1/sessions", createSessionRequest{
		WorkingDir: workingDir,
		ParentID:   parentID,
		Title:      title,
		Type:       sessionType,
	}, &session)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &session, nil
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+id, nil, &session); err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &session, nil
}

// ListSessions lists all backend sessions.
func (c *Client) ListSessions(ctx context.Context) ([]*Session, error) {
	var sessions []*Session
	if err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionTitle renames a session.
func (c *Client) UpdateSessionTitle(ctx context.Context, id, title string) error {
	if err := c.do(ctx, http.MethodPatch, "/v1/sessions/"+id+"/title", updateTitleRequest{Title: title}, nil); err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	return nil
}

// SendMessage submits a user message into a session. The reply arrives
// asynchronously on the event stream.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string, attachments []bus.Attachment) error {
	err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/messages", sendMessageRequest{
		Content:     text,
		Attachments: attachments,
	}, nil)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StreamEvents connects to the backend event stream and invokes handler for
// every event until ctx is cancelled. Connection drops reconnect with
// capped backoff; the handler runs on the read goroutine.
func (c *Client) StreamEvents(ctx context.Context, handler func(StreamEvent)) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.eventsURL, nil)
		if err != nil {
			slog.Warn("event stream dial failed", "url", c.eventsURL, "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		slog.Info("event stream connected", "url", c.eventsURL)
		backoff = time.Second

		// Close the socket when ctx ends so ReadMessage unblocks.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("event stream read failed, reconnecting", "error", err)
				}
				break
			}
			var event StreamEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				slog.Warn("malformed stream event, skipping", "error", err)
				continue
			}
			handler(event)
		}

		close(done)
		conn.Close()
	}
}
