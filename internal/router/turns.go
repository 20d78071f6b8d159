package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/relayclaw/internal/agent"
)

// itemTurn returns the turn identifier for a timeline item, falling back
// to the item id when the backend emits no turn id.
func itemTurn(item agent.ChatItem) string {
	if item.TurnID != "" {
		return item.TurnID
	}
	return item.ID
}

// matchesTurnLocked reports whether an item's turn belongs to the active
// request. An unbound turn accepts optimistically; the marker echo usually
// arrives first and binds it. Caller holds st.mu.
func matchesTurnLocked(st *ProcessingState, turn string) bool {
	return st.turnID == "" || st.turnID == turn
}

// OnChatItem handles a new timeline item from the backend event stream.
// User messages bind the turn by marker match; assistant and media items
// enqueue a reconcile action on the session's outbound chain.
func (r *Router) OnChatItem(ctx context.Context, sessionID string, item agent.ChatItem) {
	if sessionID != r.resolver.CachedID() {
		return
	}
	st := r.states.Get(sessionID)
	if st == nil {
		return
	}

	st.mu.Lock()
	origin := st.pending
	if origin == nil {
		st.mu.Unlock()
		return
	}

	switch item.Kind {
	case agent.ItemUserMessage:
		echoed := strings.TrimSpace(item.Content.PlainText())
		if echoed != "" && echoed == strings.TrimSpace(st.requestMarker) {
			st.turnID = itemTurn(item)
			slog.Debug("bound active turn", "session", sessionID, "turn", st.turnID)
		}
		st.mu.Unlock()

	case agent.ItemAssistantMessage:
		turn := itemTurn(item)
		if !matchesTurnLocked(st, turn) {
			st.mu.Unlock()
			return
		}
		if st.turnID == "" {
			st.turnID = turn
		}
		text := item.Content.PlainText()
		if strings.TrimSpace(text) == "" {
			st.mu.Unlock()
			return
		}
		// Track the segment now so updates arriving before the chain has
		// flushed this item are still eligible.
		if _, ok := st.segments[item.ID]; !ok {
			st.segments[item.ID] = &segment{index: st.nextSegment}
			st.segmentOrder = append(st.segmentOrder, item.ID)
			st.nextSegment++
		}
		st.mu.Unlock()

		itemID := item.ID
		st.chain.Enqueue("flush_text", func(ctx context.Context) error {
			return r.sendAssistantText(ctx, st, origin, itemID, text)
		})

	case agent.ItemMedia:
		turn := itemTurn(item)
		if !matchesTurnLocked(st, turn) {
			st.mu.Unlock()
			return
		}
		if st.turnID == "" {
			st.turnID = turn
		}
		st.mu.Unlock()

		st.chain.Enqueue("flush_media", func(ctx context.Context) error {
			return r.sendMediaItem(ctx, st, origin, item)
		})

	default:
		st.mu.Unlock()
	}
}

// OnChatItemUpdate handles a revision of an already-emitted item. Only
// items already flushed at least once (a tracked segment exists) are
// eligible; everything else is noise from other turns.
func (r *Router) OnChatItemUpdate(ctx context.Context, sessionID, itemID string, update agent.ItemUpdate) {
	if sessionID != r.resolver.CachedID() {
		return
	}
	st := r.states.Get(sessionID)
	if st == nil {
		return
	}

	st.mu.Lock()
	origin := st.pending
	if origin == nil {
		st.mu.Unlock()
		return
	}
	if _, ok := st.segments[itemID]; !ok {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	text := update.Content.PlainText()
	if strings.TrimSpace(text) == "" {
		return
	}
	st.chain.Enqueue("flush_text", func(ctx context.Context) error {
		return r.sendAssistantText(ctx, st, origin, itemID, text)
	})
}
