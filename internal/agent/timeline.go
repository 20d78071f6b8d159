package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Timeline item kinds.
const (
	ItemUserMessage      = "user_message"
	ItemAssistantMessage = "assistant_message"
	ItemMedia            = "media"
)

// Stream event types delivered by the backend event stream.
const (
	EventChatItem       = "chat.item"
	EventChatItemUpdate = "chat.item.update"
	EventStreamDone     = "stream.done"
	EventStreamError    = "stream.error"
)

// ContentPart is one typed element of a structured message body.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageContent is the body of a timeline item. The backend emits either a
// bare string or an array of typed parts; both decode into this sum type
// and text extraction is explicit via PlainText.
type MessageContent struct {
	text    string
	parts   []ContentPart
	isParts bool
}

// TextContent builds a plain-string content value.
func TextContent(s string) MessageContent {
	return MessageContent{text: s}
}

// PartsContent builds a structured content value.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{parts: parts, isParts: true}
}

// PlainText extracts the textual body. For structured content only parts
// with type "text" contribute; other part kinds (tool calls, thinking) are
// dropped.
func (c MessageContent) PlainText() string {
	if !c.isParts {
		return c.text
	}
	var b strings.Builder
	for _, p := range c.parts {
		if p.Type != "text" {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// IsZero reports whether the content carries no body at all.
func (c MessageContent) IsZero() bool {
	return !c.isParts && c.text == ""
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent{text: s}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content is neither string nor part array: %w", err)
	}
	*c = MessageContent{parts: parts, isParts: true}
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isParts {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

// MediaBody describes the media carried by an ItemMedia timeline item.
// Exactly one of Path, URL, or Data is normally set.
type MediaBody struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"` // base64-encoded inline bytes
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// ChatItem is one timeline entry in the shared session.
type ChatItem struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Kind      string         `json:"kind"`
	Content   MessageContent `json:"content,omitempty"`
	Media     *MediaBody     `json:"media,omitempty"`
}

// ItemUpdate is a later revision of an already-emitted timeline item.
type ItemUpdate struct {
	Content MessageContent `json:"content"`
}

// StreamEvent is one message from the backend's event stream.
type StreamEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Item      *ChatItem   `json:"item,omitempty"`
	ItemID    string      `json:"item_id,omitempty"`
	Update    *ItemUpdate `json:"update,omitempty"`
	Error     string      `json:"error,omitempty"`
}
