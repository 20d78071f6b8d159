package bus

import "context"

// AttachmentType classifies normalized inbound attachments.
const (
	AttachmentImage = "image"
	AttachmentAudio = "audio"
	AttachmentVideo = "video"
	AttachmentPDF   = "pdf"
	AttachmentText  = "text"
	AttachmentFile  = "file"
)

// Attachment is the normalized inbound form of a platform attachment.
// Data may be empty when the adapter only had metadata; the router demotes
// such attachments to AttachmentFile before forwarding them.
type Attachment struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// InboundMessage represents a message received from a platform adapter
// (Telegram, Discord, Slack, etc.).
type InboundMessage struct {
	Platform    string       `json:"platform"`
	ChatID      string       `json:"chat_id"`
	SenderName  string       `json:"sender_name"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Event is a fire-and-forget notification fanned out to subscribers
// (telemetry taps, gateway websockets). Never awaited for correctness.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the telemetry emitter to decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound message flow between adapters and the
// routing engine.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
