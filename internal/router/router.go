// Package router implements the bridge's routing engine: it resolves the
// shared integration session, forwards inbound platform messages to the
// agent backend, and reconciles the streamed reply back onto the
// originating chat through a per-session single-writer outbound chain.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/nextlevelbuilder/relayclaw/internal/adapters"
	"github.com/nextlevelbuilder/relayclaw/internal/agent"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
	"github.com/nextlevelbuilder/relayclaw/internal/format"
	"github.com/nextlevelbuilder/relayclaw/internal/telemetry"
)

// DefaultMediaMaxBytes is the outbound media size ceiling when no override
// is configured.
const DefaultMediaMaxBytes int64 = 50 << 20

// DefaultThinkingText is the placeholder posted while a request processes.
const DefaultThinkingText = "Thinking…"

const processingErrorText = "Something went wrong while handling that message. Please try again."

// Config assembles a Router. Zero-value fields fall back to defaults.
type Config struct {
	Adapters  *adapters.Registry
	Backend   agent.Backend // nil means unbound; inbound messages are dropped
	Resolver  *Resolver
	States    *StateStore
	Telemetry *telemetry.Emitter

	// FormatText sanitizes outbound text per platform. Defaults to
	// format.IntegrationText.
	FormatText func(platform, text string) string

	MediaMaxBytes int64
	ThinkingText  string
}

// Router is the routing engine. All state lives in the injected StateStore;
// the router itself is safe for concurrent use.
type Router struct {
	adapters  *adapters.Registry
	backend   agent.Backend
	resolver  *Resolver
	states    *StateStore
	telemetry *telemetry.Emitter

	formatText   func(platform, text string) string
	mediaLimit   atomic.Int64
	thinkingText string

	requestSeq atomic.Uint64
}

// New creates a Router from cfg.
func New(cfg Config) *Router {
	r := &Router{
		adapters:     cfg.Adapters,
		backend:      cfg.Backend,
		resolver:     cfg.Resolver,
		states:       cfg.States,
		telemetry:    cfg.Telemetry,
		formatText:   cfg.FormatText,
		thinkingText: cfg.ThinkingText,
	}
	if r.formatText == nil {
		r.formatText = format.IntegrationText
	}
	if r.thinkingText == "" {
		r.thinkingText = DefaultThinkingText
	}
	limit := cfg.MediaMaxBytes
	if limit == 0 {
		limit = DefaultMediaMaxBytes
	}
	r.mediaLimit.Store(limit)
	return r
}

// SetMediaMaxBytes adjusts the outbound media size ceiling at runtime.
// Zero or negative disables the gate.
func (r *Router) SetMediaMaxBytes(n int64) {
	r.mediaLimit.Store(n)
	slog.Info("media size limit updated", "bytes", n)
}

// MediaMaxBytes returns the current media size ceiling.
func (r *Router) MediaMaxBytes() int64 {
	return r.mediaLimit.Load()
}

// Run consumes inbound messages from the bus until ctx is cancelled.
func (r *Router) Run(ctx context.Context, mb bus.MessageRouter) {
	slog.Info("message router started")
	for {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok {
			slog.Info("message router stopped")
			return
		}
		if err := r.HandleIncoming(ctx, msg); err != nil {
			r.telemetry.Error("inbound", "process_failed", err)
		}
	}
}

// HandleIncoming routes one platform message: resolve the shared session,
// then either start processing or queue behind the active request.
func (r *Router) HandleIncoming(ctx context.Context, msg bus.InboundMessage) error {
	if r.backend == nil {
		slog.Warn("no agent backend bound, dropping message",
			"platform", msg.Platform, "chat", msg.ChatID)
		return nil
	}

	sessionID, err := r.resolver.GetOrCreate(ctx, &msg)
	if err != nil {
		return fmt.Errorf("resolve integration session: %w", err)
	}
	r.telemetry.Inbound(msg.Platform)

	st := r.states.GetOrCreate(sessionID)
	st.mu.Lock()
	if st.processing {
		st.queue = append(st.queue, msg)
		depth := len(st.queue)
		st.mu.Unlock()

		r.telemetry.Queued(msg.Platform, depth)
		r.sendBusyAck(ctx, msg)
		return nil
	}
	st.processing = true
	st.mu.Unlock()

	return r.processMessage(ctx, sessionID, st, msg)
}

// processMessage forwards one message to the backend. Caller has already
// claimed st.processing.
func (r *Router) processMessage(ctx context.Context, sessionID string, st *ProcessingState, msg bus.InboundMessage) error {
	st.mu.Lock()
	st.processing = true
	st.resetRequestLocked()
	origin := &PendingOrigin{
		RequestID:  r.requestSeq.Add(1),
		Platform:   msg.Platform,
		ChatID:     msg.ChatID,
		SenderName: msg.SenderName,
	}
	st.pending = origin
	st.mu.Unlock()

	adapter, hasAdapter := r.adapters.Get(msg.Platform)
	if hasAdapter {
		if err := adapter.SendTypingIndicator(ctx, msg.ChatID); err != nil {
			slog.Debug("typing indicator failed", "platform", msg.Platform, "error", err)
		}
		handle, err := adapter.SendProcessingPlaceholder(ctx, msg.ChatID, r.thinkingText)
		if err != nil {
			slog.Warn("processing placeholder failed", "platform", msg.Platform, "error", err)
		} else {
			st.mu.Lock()
			origin.ThinkingHandle = handle
			st.mu.Unlock()
		}
	} else {
		slog.Warn("no adapter registered for platform", "platform", msg.Platform)
	}

	r.maybeAutoTitle(ctx, sessionID, msg)

	tagged := buildTaggedContent(msg)
	st.mu.Lock()
	st.requestMarker = tagged
	st.mu.Unlock()

	if err := r.backend.SendMessage(ctx, sessionID, tagged, normalizeAttachments(msg.Attachments)); err != nil {
		if hasAdapter {
			if derr := r.deliverStatusText(ctx, adapter, st, origin, processingErrorText); derr != nil {
				slog.Warn("error notice delivery failed", "platform", msg.Platform, "error", derr)
			}
		}
		st.mu.Lock()
		st.resetForNextRequestLocked()
		st.mu.Unlock()
		return fmt.Errorf("forward message to agent: %w", err)
	}
	return nil
}

// sendBusyAck acknowledges a queued message with platform-native typing
// feedback. Best effort.
func (r *Router) sendBusyAck(ctx context.Context, msg bus.InboundMessage) {
	adapter, ok := r.adapters.Get(msg.Platform)
	if !ok {
		return
	}
	if err := adapter.SendTypingIndicator(ctx, msg.ChatID); err != nil {
		slog.Debug("busy acknowledgement failed", "platform", msg.Platform, "error", err)
	}
}

// maybeAutoTitle retitles a fresh session from its first real message.
// Skipped for custom titles and for sessions that already have traffic.
// Every step is best effort.
func (r *Router) maybeAutoTitle(ctx context.Context, sessionID string, msg bus.InboundMessage) {
	session, err := r.backend.GetSession(ctx, sessionID)
	if err != nil {
		slog.Debug("auto-title lookup failed", "session", sessionID, "error", err)
		return
	}
	if session.TitleCustom || session.MessageCount > 0 {
		return
	}
	title := seedTitle(&msg)
	if title == DefaultSessionTitle || title == session.Title {
		return
	}
	if err := r.backend.UpdateSessionTitle(ctx, sessionID, title); err != nil {
		slog.Debug("auto-title update failed", "session", sessionID, "error", err)
		return
	}
	r.resolver.SetTitle(title)
	r.telemetry.SessionUpdated(sessionID, title)
}

// buildTaggedContent formats the origin-tagged message body sent to the
// backend. The exact string doubles as the request marker used to detect
// the backend's echo of this message.
func buildTaggedContent(msg bus.InboundMessage) string {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		if n := len(msg.Attachments); n > 0 {
			content = fmt.Sprintf("(%d %s)", n, pluralize("attachment", n))
		} else {
			content = "(empty message)"
		}
	}
	sender := msg.SenderName
	if sender == "" {
		sender = "unknown"
	}
	return fmt.Sprintf("[%s | %s]: %s", displayPlatform(msg.Platform), sender, content)
}

// normalizeAttachments demotes payload-less attachments to plain file
// references so the backend never sees a typed attachment without bytes.
func normalizeAttachments(in []bus.Attachment) []bus.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]bus.Attachment, len(in))
	copy(out, in)
	for i := range out {
		if len(out[i].Data) == 0 || out[i].Type == "" {
			out[i].Type = bus.AttachmentFile
		}
	}
	return out
}

func displayPlatform(platform string) string {
	if platform == "" {
		return "Unknown"
	}
	runes := []rune(platform)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
