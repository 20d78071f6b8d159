package router

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/nextlevelbuilder/relayclaw/internal/adapters"
	"github.com/nextlevelbuilder/relayclaw/internal/agent"
)

// contentSignature fingerprints formatted text for duplicate suppression.
// Length plus a 64-bit content hash.
func contentSignature(text string) string {
	return fmt.Sprintf("%d:%016x", len(text), xxhash.Sum64String(text))
}

// streamCapable reports whether the adapter wants incremental in-place
// edits right now.
func streamCapable(a adapters.Adapter) (adapters.StreamingAdapter, bool) {
	sa, ok := a.(adapters.StreamingAdapter)
	return sa, ok && sa.StreamEnabled()
}

// sendAssistantText reconciles one revision of one assistant segment onto
// the originating chat. Runs only on the session's outbound chain.
//
// Streaming adapters get the text immediately: the first segment replaces
// the placeholder, every later revision edits in place. Non-streaming
// adapters only record the settled text; delivery happens when the stream
// finalizes.
func (r *Router) sendAssistantText(ctx context.Context, st *ProcessingState, origin *PendingOrigin, itemID, text string) error {
	formatted := r.formatText(origin.Platform, text)
	if strings.TrimSpace(formatted) == "" {
		return nil
	}
	sig := contentSignature(formatted)

	st.mu.Lock()
	if st.pending != origin {
		// The request this action belonged to has already finished.
		st.mu.Unlock()
		return nil
	}
	entry, ok := st.segments[itemID]
	if !ok {
		// Segment tracking was reset between enqueue and execution.
		st.mu.Unlock()
		return nil
	}
	if entry.lastSig == sig {
		st.mu.Unlock()
		return nil
	}
	entry.lastSig = sig
	entry.lastText = formatted

	adapter, hasAdapter := r.adapters.Get(origin.Platform)
	if !hasAdapter {
		st.mu.Unlock()
		return fmt.Errorf("no adapter for platform %q", origin.Platform)
	}
	sa, streaming := streamCapable(adapter)
	if !streaming {
		entry.pendingDelivery = true
		st.mu.Unlock()
		return nil
	}

	replaced := st.placeholderReplaced
	thinking := origin.ThinkingHandle
	prevHandle := entry.handle
	st.mu.Unlock()

	var newHandle adapters.Handle
	var err error
	switch {
	case !replaced && thinking != "":
		err = adapter.ReplaceProcessingPlaceholder(ctx, origin.ChatID, thinking, formatted)
		newHandle = thinking
	default:
		// Empty prevHandle makes the adapter post a new message, which
		// covers both the missing-placeholder case and later segments.
		newHandle, err = sa.UpdateStreamingMessage(ctx, origin.ChatID, prevHandle, formatted)
	}
	if err != nil {
		st.mu.Lock()
		// Allow the next revision of this segment to retry the same text.
		entry.lastSig = ""
		st.mu.Unlock()
		return fmt.Errorf("deliver assistant text: %w", err)
	}

	st.mu.Lock()
	st.placeholderReplaced = true
	st.delivered = true
	entry.handle = newHandle
	st.mu.Unlock()
	r.telemetry.Outbound(origin.Platform)
	return nil
}

// sendMediaItem reconciles one media timeline item onto the originating
// chat. Oversized media degrades to an explanatory text. Runs only on the
// session's outbound chain.
func (r *Router) sendMediaItem(ctx context.Context, st *ProcessingState, origin *PendingOrigin, item agent.ChatItem) error {
	if item.Media == nil {
		return nil
	}

	st.mu.Lock()
	if st.pending != origin || st.sentMedia[item.ID] {
		st.mu.Unlock()
		return nil
	}
	st.mu.Unlock()

	adapter, ok := r.adapters.Get(origin.Platform)
	if !ok {
		return fmt.Errorf("no adapter for platform %q", origin.Platform)
	}

	size := resolveMediaSize(item.Media)
	limit := r.mediaLimit.Load()
	if limit > 0 && size >= 0 && size > limit {
		notice := fmt.Sprintf("The agent produced a %s attachment (%s) above the %s delivery limit, so it was not sent.",
			item.Media.Type, humanBytes(size), humanBytes(limit))
		if err := r.deliverStatusText(ctx, adapter, st, origin, notice); err != nil {
			return fmt.Errorf("deliver oversized media notice: %w", err)
		}
		st.mu.Lock()
		st.sentMedia[item.ID] = true
		st.delivered = true
		st.mu.Unlock()
		r.telemetry.Outbound(origin.Platform)
		return nil
	}

	// Settle the placeholder with a short caption before the media lands,
	// so the chat never shows a stale "thinking" bubble next to a file.
	caption := strings.TrimSpace(item.Media.Caption)
	if caption == "" {
		caption = fmt.Sprintf("Sending %s…", item.Media.Type)
	}
	if err := r.confirmPlaceholder(ctx, adapter, st, origin, caption); err != nil {
		slog.Debug("media caption delivery failed", "platform", origin.Platform, "error", err)
	}

	payload := adapters.MediaPayload{
		Type:     item.Media.Type,
		Path:     item.Media.Path,
		URL:      item.Media.URL,
		Data:     decodeInline(item.Media.Data),
		MimeType: item.Media.MimeType,
		Caption:  item.Media.Caption,
		ItemID:   item.ID,
	}
	if err := adapter.SendMedia(ctx, origin.ChatID, payload); err != nil {
		return fmt.Errorf("send media: %w", err)
	}

	st.mu.Lock()
	st.sentMedia[item.ID] = true
	st.delivered = true
	st.mu.Unlock()
	r.telemetry.Outbound(origin.Platform)
	return nil
}

// deliverStatusText lands a status or fallback text on the chat: through
// the placeholder while it is still unreplaced, as a plain message
// otherwise. Marks the placeholder consumed on success.
func (r *Router) deliverStatusText(ctx context.Context, adapter adapters.Adapter, st *ProcessingState, origin *PendingOrigin, text string) error {
	formatted := r.formatText(origin.Platform, text)
	if formatted == "" {
		formatted = text
	}

	st.mu.Lock()
	replaced := st.placeholderReplaced
	thinking := origin.ThinkingHandle
	st.mu.Unlock()

	if !replaced && thinking != "" {
		if err := adapter.ReplaceProcessingPlaceholder(ctx, origin.ChatID, thinking, formatted); err != nil {
			return err
		}
		st.mu.Lock()
		st.placeholderReplaced = true
		st.mu.Unlock()
		return nil
	}
	return adapter.SendMessage(ctx, origin.ChatID, formatted)
}

// confirmPlaceholder replaces a still-standing placeholder with text and
// is a no-op once the placeholder has been consumed.
func (r *Router) confirmPlaceholder(ctx context.Context, adapter adapters.Adapter, st *ProcessingState, origin *PendingOrigin, text string) error {
	st.mu.Lock()
	replaced := st.placeholderReplaced
	thinking := origin.ThinkingHandle
	st.mu.Unlock()
	if replaced || thinking == "" {
		return nil
	}
	if err := adapter.ReplaceProcessingPlaceholder(ctx, origin.ChatID, thinking, text); err != nil {
		return err
	}
	st.mu.Lock()
	st.placeholderReplaced = true
	st.mu.Unlock()
	return nil
}

// resolveMediaSize determines the byte size of a media body: filesystem
// stat for path-backed media, base64 length arithmetic for inline data.
// Returns -1 when the size cannot be determined; the gate then fails open.
func resolveMediaSize(m *agent.MediaBody) int64 {
	if m.Path != "" {
		if info, err := os.Stat(m.Path); err == nil {
			return info.Size()
		} else {
			slog.Debug("media stat failed, size unknown", "path", m.Path, "error", err)
		}
	}
	if m.Data != "" {
		trimmed := strings.TrimRight(m.Data, "=")
		return int64(len(trimmed)) * 3 / 4
	}
	return -1
}

// decodeInline decodes base64 media bytes, tolerating missing padding.
// Returns nil on garbage; path/URL delivery still works without it.
func decodeInline(data string) []byte {
	if data == "" {
		return nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
		return decoded
	}
	decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		slog.Warn("inline media payload is not valid base64, dropping bytes")
		return nil
	}
	return decoded
}

// humanBytes renders a byte count for user-facing notices.
func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
