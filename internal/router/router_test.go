package router

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/relayclaw/internal/agent"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

func inbound(platform, chat, sender, content string) bus.InboundMessage {
	return bus.InboundMessage{Platform: platform, ChatID: chat, SenderName: sender, Content: content}
}

func TestTaggedContentCarriesOrigin(t *testing.T) {
	tests := []struct {
		name string
		msg  bus.InboundMessage
		want string
	}{
		{
			name: "plain text",
			msg:  inbound("telegram", "1", "alice", "hi there"),
			want: "[Telegram | alice]: hi there",
		},
		{
			name: "attachment only",
			msg: bus.InboundMessage{
				Platform: "discord", ChatID: "1", SenderName: "bob",
				Attachments: []bus.Attachment{{Type: bus.AttachmentImage, Data: []byte{1}}},
			},
			want: "[Discord | bob]: (1 attachment)",
		},
		{
			name: "empty",
			msg:  inbound("slack", "1", "carol", "   "),
			want: "[Slack | carol]: (empty message)",
		},
		{
			name: "unknown sender",
			msg:  inbound("matrix", "1", "", "hello"),
			want: "[Matrix | unknown]: hello",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildTaggedContent(tt.msg); got != tt.want {
				t.Errorf("buildTaggedContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

// A non-streaming adapter must see exactly one placeholder replacement
// carrying the settled text, and no separate send, no matter how many
// revisions arrived while streaming.
func TestPlainAdapterDeliversSettledTextOnce(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")

	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "a1", "t1", "Hello"))
	r.OnChatItemUpdate(ctx, sessionID, "a1", agent.ItemUpdate{Content: agent.TextContent("Hello there")})
	r.OnChatItemUpdate(ctx, sessionID, "a1", agent.ItemUpdate{Content: agent.TextContent("Hello there")})
	r.OnStreamDone(ctx, sessionID)

	replaces := a.callsOf("replace")
	if len(replaces) != 1 {
		t.Fatalf("replace calls = %d, want 1", len(replaces))
	}
	if replaces[0].text != "Hello there" {
		t.Errorf("replacement text = %q, want %q", replaces[0].text, "Hello there")
	}
	if sends := a.callsOf("send"); len(sends) != 0 {
		t.Errorf("send calls = %d, want 0", len(sends))
	}
}

// A streaming adapter gets the incremental path: replace with the first
// revision, edit in place for the second, and duplicate revisions are
// suppressed by signature.
func TestStreamingAdapterEditsInPlaceAndDedupes(t *testing.T) {
	ctx := context.Background()
	a := newFakeStreamingAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")

	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "a1", "t1", "Hello"))
	r.OnChatItemUpdate(ctx, sessionID, "a1", agent.ItemUpdate{Content: agent.TextContent("Hello there")})
	r.OnChatItemUpdate(ctx, sessionID, "a1", agent.ItemUpdate{Content: agent.TextContent("Hello there")})
	r.OnStreamDone(ctx, sessionID)

	replaces := a.callsOf("replace")
	updates := a.callsOf("update")
	if len(replaces) != 1 || replaces[0].text != "Hello" {
		t.Fatalf("replace calls = %v, want one with %q", replaces, "Hello")
	}
	if len(updates) != 1 || updates[0].text != "Hello there" {
		t.Fatalf("update calls = %v, want one with %q", updates, "Hello there")
	}
	if updates[0].handle == "" {
		t.Error("update used an empty handle, want the placeholder handle")
	}
}

// The placeholder is consumed exactly once; a second segment goes out as a
// fresh message via the update path, never a second replacement.
func TestSecondSegmentNeverReplacesPlaceholderAgain(t *testing.T) {
	ctx := context.Background()
	a := newFakeStreamingAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")

	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "a1", "t1", "One"))
	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "a2", "t1", "Two"))
	r.OnStreamDone(ctx, sessionID)

	if replaces := a.callsOf("replace"); len(replaces) != 1 {
		t.Fatalf("replace calls = %d, want 1", len(replaces))
	}
	updates := a.callsOf("update")
	if len(updates) != 1 || updates[0].text != "Two" {
		t.Fatalf("update calls = %v, want one with %q", updates, "Two")
	}
}

// Multiple settled segments on a plain adapter: first replaces the
// placeholder, the rest are separate sends, in segment order.
func TestPlainAdapterFlushesSegmentsInOrder(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")

	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "a1", "t1", "One"))
	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "a2", "t1", "Two"))
	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "a3", "t1", "Three"))
	r.OnStreamDone(ctx, sessionID)

	replaces := a.callsOf("replace")
	sends := a.callsOf("send")
	if len(replaces) != 1 || replaces[0].text != "One" {
		t.Fatalf("replace calls = %v, want one with %q", replaces, "One")
	}
	if len(sends) != 2 || sends[0].text != "Two" || sends[1].text != "Three" {
		t.Fatalf("send calls = %v, want [Two Three]", sends)
	}
}

// A stream that finishes without delivering anything yields the fallback
// reply through the placeholder.
func TestFallbackReplyWhenNothingDelivered(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")
	r.OnStreamDone(ctx, sessionID)

	replaces := a.callsOf("replace")
	if len(replaces) != 1 {
		t.Fatalf("replace calls = %d, want 1", len(replaces))
	}
	if replaces[0].text != noReplyText {
		t.Errorf("fallback text = %q, want %q", replaces[0].text, noReplyText)
	}
}

// Assistant items from a different turn are ignored once the marker has
// bound the active turn.
func TestForeignTurnItemsAreIgnored(t *testing.T) {
	ctx := context.Background()
	a := newFakeStreamingAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")

	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "x1", "t-other", "stale reply"))
	r.OnStreamDone(ctx, sessionID)

	if replaces := a.callsOf("replace"); len(replaces) != 1 || replaces[0].text != noReplyText {
		t.Fatalf("replace calls = %v, want only the fallback", replaces)
	}
}

// Before the marker echo arrives the turn is unbound and the first
// assistant item is accepted optimistically.
func TestUnboundTurnAcceptsOptimistically(t *testing.T) {
	ctx := context.Background()
	a := newFakeStreamingAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, _ := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))

	r.OnChatItem(ctx, sessionID, assistantItem(sessionID, "a1", "t1", "Hello"))
	r.OnStreamDone(ctx, sessionID)

	if replaces := a.callsOf("replace"); len(replaces) != 1 || replaces[0].text != "Hello" {
		t.Fatalf("replace calls = %v, want one with %q", replaces, "Hello")
	}
}

// Updates for items never flushed in this request carry no segment entry
// and are dropped, as are events after the request finished.
func TestStrayUpdatesAreDropped(t *testing.T) {
	ctx := context.Background()
	a := newFakeStreamingAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")

	r.OnChatItemUpdate(ctx, sessionID, "never-seen", agent.ItemUpdate{Content: agent.TextContent("ghost")})
	r.OnStreamDone(ctx, sessionID)

	// Request is finished; late events must not reach the adapter.
	r.OnChatItemUpdate(ctx, sessionID, "a1", agent.ItemUpdate{Content: agent.TextContent("late")})

	if updates := a.callsOf("update"); len(updates) != 0 {
		t.Errorf("update calls = %v, want none", updates)
	}
}

// Oversized media degrades to exactly one explanatory placeholder
// replacement and no media call; the same item is never handled twice.
func TestOversizedMediaDegradesToNotice(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)
	r.SetMediaMaxBytes(1)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")

	item := agent.ChatItem{
		ID: "m1", SessionID: sessionID, TurnID: "t1", Kind: agent.ItemMedia,
		Media: &agent.MediaBody{
			Type: "image",
			Data: base64.StdEncoding.EncodeToString([]byte("hello image bytes")),
		},
	}
	r.OnChatItem(ctx, sessionID, item)
	r.OnChatItem(ctx, sessionID, item)
	r.OnStreamDone(ctx, sessionID)

	replaces := a.callsOf("replace")
	if len(replaces) != 1 {
		t.Fatalf("replace calls = %d, want 1", len(replaces))
	}
	if !strings.Contains(replaces[0].text, "was not sent") {
		t.Errorf("notice text = %q, want an oversize explanation", replaces[0].text)
	}
	if media := a.callsOf("media"); len(media) != 0 {
		t.Errorf("media calls = %d, want 0", len(media))
	}
}

// Media within the limit settles the placeholder with a caption and then
// delivers the payload.
func TestMediaWithinLimitIsDelivered(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, marker := deliver(t, r, backend, inbound("telegram", "42", "alice", "hi"))
	bindTurn(r, sessionID, marker, "t1")

	r.OnChatItem(ctx, sessionID, agent.ChatItem{
		ID: "m1", SessionID: sessionID, TurnID: "t1", Kind: agent.ItemMedia,
		Media: &agent.MediaBody{
			Type:    "image",
			Data:    base64.StdEncoding.EncodeToString([]byte("tiny")),
			Caption: "a chart",
		},
	})
	r.OnStreamDone(ctx, sessionID)

	if media := a.callsOf("media"); len(media) != 1 {
		t.Fatalf("media calls = %d, want 1", len(media))
	}
	replaces := a.callsOf("replace")
	if len(replaces) != 1 || replaces[0].text != "a chart" {
		t.Fatalf("replace calls = %v, want one caption replacement", replaces)
	}
}

// Messages arriving mid-request queue up and replay one at a time after
// each terminal transition.
func TestBusySessionQueuesAndDrainsFIFO(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, _ := deliver(t, r, backend, inbound("telegram", "42", "alice", "first"))
	if err := r.HandleIncoming(ctx, inbound("telegram", "42", "alice", "second")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if err := r.HandleIncoming(ctx, inbound("telegram", "42", "alice", "third")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	if got := len(backend.sentMessages()); got != 1 {
		t.Fatalf("backend messages while busy = %d, want 1", got)
	}

	r.OnStreamDone(ctx, sessionID)
	r.OnStreamDone(ctx, sessionID)

	sent := backend.sentMessages()
	if len(sent) != 3 {
		t.Fatalf("backend messages after drains = %d, want 3", len(sent))
	}
	if !strings.Contains(sent[1].text, "second") || !strings.Contains(sent[2].text, "third") {
		t.Errorf("drain order wrong: %q then %q", sent[1].text, sent[2].text)
	}
}

// A deep backlog collapses into one consolidated numbered message.
func TestDeepBacklogIsConsolidated(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, _ := deliver(t, r, backend, inbound("telegram", "42", "alice", "first"))
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		if err := r.HandleIncoming(ctx, inbound("telegram", "42", "alice", text)); err != nil {
			t.Fatalf("HandleIncoming: %v", err)
		}
	}

	r.OnStreamDone(ctx, sessionID)

	sent := backend.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("backend messages = %d, want 2 (original + consolidated)", len(sent))
	}
	combined := sent[1].text
	if !strings.Contains(combined, "5 messages arrived") {
		t.Errorf("consolidated header missing: %q", combined)
	}
	for _, line := range []string{"1. one", "2. two", "5. five"} {
		if !strings.Contains(combined, line) {
			t.Errorf("consolidated body missing %q: %q", line, combined)
		}
	}
}

// A failing drain entry is reported and skipped; the backlog keeps moving.
func TestDrainSkipsFailingMessage(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, _ := deliver(t, r, backend, inbound("telegram", "42", "alice", "first"))
	backend.mu.Lock()
	backend.failWhenContains = "boom"
	backend.mu.Unlock()

	if err := r.HandleIncoming(ctx, inbound("telegram", "42", "bob", "boom")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if err := r.HandleIncoming(ctx, inbound("telegram", "42", "bob", "fine")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	r.OnStreamDone(ctx, sessionID)

	sent := backend.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("backend messages = %d, want 2", len(sent))
	}
	if !strings.Contains(sent[1].text, "fine") {
		t.Errorf("surviving message = %q, want the one after the failure", sent[1].text)
	}
}

// A stream error still notifies the chat, resets, and advances the queue.
func TestStreamErrorNotifiesAndDrains(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter("telegram")
	r, backend := newTestRouter(t, a)

	sessionID, _ := deliver(t, r, backend, inbound("telegram", "42", "alice", "first"))
	if err := r.HandleIncoming(ctx, inbound("telegram", "42", "alice", "second")); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}

	r.OnStreamError(ctx, sessionID, "model overloaded")

	replaces := a.callsOf("replace")
	if len(replaces) != 1 || replaces[0].text != "model overloaded" {
		t.Fatalf("replace calls = %v, want the error notice", replaces)
	}
	if got := len(backend.sentMessages()); got != 2 {
		t.Errorf("backend messages = %d, want 2 (queue drained)", got)
	}
}

// Without a bound backend, inbound messages are dropped without error.
func TestUnboundBackendDropsMessages(t *testing.T) {
	states := NewStateStore(nil)
	t.Cleanup(states.Close)
	r := New(Config{States: states})
	if err := r.HandleIncoming(context.Background(), inbound("telegram", "1", "alice", "hi")); err != nil {
		t.Fatalf("HandleIncoming with nil backend: %v", err)
	}
}

func TestContentSignatureDistinguishesText(t *testing.T) {
	a := contentSignature("Hello")
	b := contentSignature("Hello")
	c := contentSignature("Hello!")
	if a != b {
		t.Errorf("identical text produced different signatures: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("different text produced equal signatures: %q", a)
	}
}

func TestResolveMediaSizeFromInlineData(t *testing.T) {
	payload := []byte("hello media bytes")
	m := &agent.MediaBody{Data: base64.StdEncoding.EncodeToString(payload)}
	if got := resolveMediaSize(m); got != int64(len(payload)) {
		t.Errorf("resolveMediaSize = %d, want %d", got, len(payload))
	}
	if got := resolveMediaSize(&agent.MediaBody{}); got != -1 {
		t.Errorf("resolveMediaSize(empty) = %d, want -1", got)
	}
}
