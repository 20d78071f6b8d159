// Package agent defines the conversational-agent backend interface and the
// timeline event types the bridge consumes. The backend owns session
// persistence and inference; the bridge only holds session ids.
package agent

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

// SessionTypeIntegration tags the single shared session used for all
// messaging-platform traffic.
const SessionTypeIntegration = "integration"

// Session is the backend's view of a conversation.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	TitleCustom  bool      `json:"title_custom"`
	Type         string    `json:"type"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Backend is the agent dependency. All failures propagate as errors; the
// bridge performs no retries and enforces no timeouts on these calls.
type Backend interface {
	CreateSession(ctx context.Context, workingDir, parentID, title, sessionType string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	SendMessage(ctx context.Context, sessionID, text string, attachments []bus.Attachment) error
}
