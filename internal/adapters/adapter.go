// Package adapters provides the platform abstraction layer for the bridge.
// Adapters connect external messaging platforms (Telegram, Discord, Slack,
// WhatsApp, ...) to the routing engine via the message bus.
package adapters

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

// Handle identifies a previously sent message for later replacement or
// in-place edits. The format is adapter-defined (message id, timestamp, ...).
// An empty handle means "no message to edit".
type Handle string

// MediaPayload is a normalized outbound media item.
type MediaPayload struct {
	Type     string // image, audio, video, pdf, text, file
	Path     string // local file path, if the backend wrote one
	URL      string // remote URL, if any
	Data     []byte // inline bytes (already decoded)
	MimeType string
	Caption  string
	ItemID   string // originating timeline item id
}

// Status reports an adapter's identity and runtime state.
type Status struct {
	Platform string `json:"platform"`
	Running  bool   `json:"running"`
	Detail   string `json:"detail,omitempty"`
}

// Adapter is the interface every platform implementation satisfies.
// All send-side methods are invoked one at a time per session by the
// outbound chain; adapters do not need their own ordering discipline.
type Adapter interface {
	// Platform returns the platform identifier (e.g. "telegram", "slack").
	Platform() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// SendMessage delivers a plain text message.
	SendMessage(ctx context.Context, chatID, text string) error

	// SendTypingIndicator shows platform-native typing feedback. Best effort.
	SendTypingIndicator(ctx context.Context, chatID string) error

	// SendProcessingPlaceholder posts the "thinking" message and returns a
	// handle for later replacement.
	SendProcessingPlaceholder(ctx context.Context, chatID, text string) (Handle, error)

	// ReplaceProcessingPlaceholder swaps the placeholder content in place.
	ReplaceProcessingPlaceholder(ctx context.Context, chatID string, handle Handle, text string) error

	// SendMedia delivers an outbound media payload.
	SendMedia(ctx context.Context, chatID string, payload MediaPayload) error

	// Status returns the adapter's current status.
	Status() Status
}

// StreamingAdapter extends Adapter with in-place streamed-message edits.
// Platforms that cannot edit sent messages (or have editing disabled) only
// receive the settled text of each segment when the stream finishes.
type StreamingAdapter interface {
	Adapter

	// StreamEnabled reports whether incremental edits are currently wanted.
	// Implementing the interface with StreamEnabled() == false lets an
	// adapter toggle streaming at runtime via config.
	StreamEnabled() bool

	// UpdateStreamingMessage revises an already-delivered message and
	// returns the handle to use for the next revision. An empty input
	// handle means no message exists yet; the adapter sends a new one.
	UpdateStreamingMessage(ctx context.Context, chatID string, handle Handle, text string) (Handle, error)
}

// Base provides shared functionality for adapter implementations.
type Base struct {
	platform  string
	bus       *bus.MessageBus
	running   bool
	allowList []string
}

// NewBase creates a Base for embedding.
func NewBase(platform string, msgBus *bus.MessageBus, allowList []string) *Base {
	return &Base{
		platform:  platform,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Platform returns the platform name.
func (b *Base) Platform() string { return b.platform }

// Bus returns the message bus reference.
func (b *Base) Bus() *bus.MessageBus { return b.bus }

// IsRunning returns whether the adapter is actively processing messages.
func (b *Base) IsRunning() bool { return b.running }

// SetRunning updates the running state.
func (b *Base) SetRunning(running bool) { b.running = running }

// IsAllowed checks a sender against the allowlist. An empty allowlist
// accepts everyone. A leading "@" on an allowlist entry is ignored.
func (b *Base) IsAllowed(sender string) bool {
	if len(b.allowList) == 0 {
		return true
	}
	for _, allowed := range b.allowList {
		if sender == allowed || sender == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message to the bus after allowlist
// gating. This is the standard path for adapters to forward received
// messages.
func (b *Base) HandleMessage(senderName, chatID, content string, attachments []bus.Attachment) {
	if !b.IsAllowed(senderName) {
		return
	}
	b.bus.PublishInbound(bus.InboundMessage{
		Platform:    b.platform,
		ChatID:      chatID,
		SenderName:  senderName,
		Content:     content,
		Attachments: attachments,
	})
}
