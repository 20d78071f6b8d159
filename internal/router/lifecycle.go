package router

import (
	"context"
	"log/slog"
)

const (
	noReplyText     = "The agent finished without producing a reply."
	streamErrorText = "The agent hit an error while responding. Please try again."
)

// OnStreamDone finalizes the active request: wait for the outbound chain
// to settle, deliver settled segments to non-streaming adapters, send a
// fallback when nothing reached the chat, then reset and advance the
// queue.
func (r *Router) OnStreamDone(ctx context.Context, sessionID string) {
	if sessionID != r.resolver.CachedID() {
		return
	}
	st := r.states.Get(sessionID)
	if st == nil {
		return
	}

	st.mu.Lock()
	origin := st.pending
	st.mu.Unlock()
	if origin == nil {
		// Stale completion. The queue still advances so a missed reset
		// cannot wedge the session.
		r.processNextInQueue(ctx, sessionID, st)
		return
	}

	if err := st.chain.Wait(ctx); err != nil {
		slog.Warn("outbound chain wait interrupted", "session", sessionID, "error", err)
	}

	r.flushSettledSegments(ctx, st, origin)

	st.mu.Lock()
	delivered := st.delivered
	st.mu.Unlock()
	if !delivered {
		if adapter, ok := r.adapters.Get(origin.Platform); ok {
			if err := r.deliverStatusText(ctx, adapter, st, origin, noReplyText); err != nil {
				r.telemetry.Error("outbound", "fallback_failed", err)
			} else {
				r.telemetry.Outbound(origin.Platform)
			}
		}
	}

	st.mu.Lock()
	st.resetForNextRequestLocked()
	st.mu.Unlock()
	slog.Debug("request finalized", "session", sessionID, "request", origin.RequestID)

	r.processNextInQueue(ctx, sessionID, st)
}

// OnStreamError handles a failed stream: best-effort error notice to the
// originating chat, then the same reset-and-drain as the success path.
func (r *Router) OnStreamError(ctx context.Context, sessionID, message string) {
	if sessionID != r.resolver.CachedID() {
		return
	}
	st := r.states.Get(sessionID)
	if st == nil {
		return
	}

	st.mu.Lock()
	origin := st.pending
	st.mu.Unlock()
	if origin == nil {
		r.processNextInQueue(ctx, sessionID, st)
		return
	}

	if err := st.chain.Wait(ctx); err != nil {
		slog.Warn("outbound chain wait interrupted", "session", sessionID, "error", err)
	}

	notice := message
	if notice == "" {
		notice = streamErrorText
	}
	if adapter, ok := r.adapters.Get(origin.Platform); ok {
		if err := r.deliverStatusText(ctx, adapter, st, origin, notice); err != nil {
			r.telemetry.Error("outbound", "error_notice_failed", err)
		}
	}
	r.telemetry.Error("stream", "stream_error", nil)

	st.mu.Lock()
	st.resetForNextRequestLocked()
	st.mu.Unlock()

	r.processNextInQueue(ctx, sessionID, st)
}

// flushSettledSegments delivers recorded segment texts to a non-streaming
// adapter in segment order: the first replaces the placeholder, the rest
// go out as separate messages. Streaming adapters already delivered
// incrementally and are skipped. Failures skip the segment but never abort
// the flush.
func (r *Router) flushSettledSegments(ctx context.Context, st *ProcessingState, origin *PendingOrigin) {
	adapter, ok := r.adapters.Get(origin.Platform)
	if !ok {
		return
	}
	if _, streaming := streamCapable(adapter); streaming {
		return
	}

	st.mu.Lock()
	if st.pending != origin {
		st.mu.Unlock()
		return
	}
	var texts []string
	for _, itemID := range st.segmentOrder {
		entry := st.segments[itemID]
		if entry == nil || !entry.pendingDelivery || entry.lastText == "" {
			continue
		}
		entry.pendingDelivery = false
		texts = append(texts, entry.lastText)
	}
	replaced := st.placeholderReplaced
	thinking := origin.ThinkingHandle
	st.mu.Unlock()

	for _, text := range texts {
		var err error
		if !replaced && thinking != "" {
			err = adapter.ReplaceProcessingPlaceholder(ctx, origin.ChatID, thinking, text)
			replaced = true
		} else {
			err = adapter.SendMessage(ctx, origin.ChatID, text)
		}
		if err != nil {
			r.telemetry.Error("outbound", "final_flush_failed", err)
			continue
		}
		st.mu.Lock()
		st.placeholderReplaced = true
		st.delivered = true
		st.mu.Unlock()
		r.telemetry.Outbound(origin.Platform)
	}
}
