package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

// queueConsolidationThreshold is the backlog size at which the queue is
// flushed as one consolidated message instead of replayed one by one.
const queueConsolidationThreshold = 5

// processNextInQueue advances the backlog after a terminal transition.
// With a deep backlog the whole queue collapses into one synthetic
// message; otherwise the oldest message is replayed alone. A processing
// failure resets the request state and recurses so the backlog cannot
// stall.
func (r *Router) processNextInQueue(ctx context.Context, sessionID string, st *ProcessingState) {
	st.mu.Lock()
	if len(st.queue) == 0 || st.processing {
		st.mu.Unlock()
		return
	}
	var next bus.InboundMessage
	if len(st.queue) >= queueConsolidationThreshold {
		next = consolidateQueue(st.queue)
		st.queue = nil
	} else {
		next = st.queue[0]
		st.queue = st.queue[1:]
	}
	st.processing = true
	st.mu.Unlock()

	if err := r.processMessage(ctx, sessionID, st, next); err != nil {
		// processMessage already reset the request state on failure.
		r.telemetry.Error("queue", "process_failed", err)
		r.processNextInQueue(ctx, sessionID, st)
	}
}

// consolidateQueue collapses queued messages into one numbered synthetic
// message attributed to the first message's origin, with all attachments
// flattened in arrival order.
func consolidateQueue(queue []bus.InboundMessage) bus.InboundMessage {
	first := queue[0]

	var b strings.Builder
	fmt.Fprintf(&b, "%d messages arrived while the previous request was processing:\n", len(queue))

	var attachments []bus.Attachment
	for i, msg := range queue {
		text := strings.Join(strings.Fields(msg.Content), " ")
		if text == "" {
			text = "(attachment only)"
		}
		fmt.Fprintf(&b, "%d. %s", i+1, text)
		if n := len(msg.Attachments); n > 0 {
			fmt.Fprintf(&b, " [+%d %s]", n, pluralize("attachment", n))
			attachments = append(attachments, msg.Attachments...)
		}
		b.WriteString("\n")
	}

	return bus.InboundMessage{
		Platform:    first.Platform,
		ChatID:      first.ChatID,
		SenderName:  first.SenderName,
		Content:     strings.TrimRight(b.String(), "\n"),
		Attachments: attachments,
	}
}
