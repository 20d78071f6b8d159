package router

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/relayclaw/internal/adapters"
	"github.com/nextlevelbuilder/relayclaw/internal/agent"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

// fakeBackend is an in-memory agent.Backend.
type fakeBackend struct {
	mu          sync.Mutex
	sessions    map[string]*agent.Session
	sent        []sentMessage
	createCalls int
	nextID      int

	listErr error
	// failWhenContains makes SendMessage fail for matching text.
	failWhenContains string
}

type sentMessage struct {
	sessionID   string
	text        string
	attachments []bus.Attachment
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]*agent.Session)}
}

func (b *fakeBackend) CreateSession(_ context.Context, _, _, title, sessionType string) (*agent.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createCalls++
	b.nextID++
	s := &agent.Session{ID: "s" + strconv.Itoa(b.nextID), Title: title, Type: sessionType}
	b.sessions[s.ID] = s
	return s, nil
}

func (b *fakeBackend) GetSession(_ context.Context, id string) (*agent.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	copied := *s
	return &copied, nil
}

func (b *fakeBackend) ListSessions(_ context.Context) ([]*agent.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]*agent.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out, nil
}

func (b *fakeBackend) UpdateSessionTitle(_ context.Context, id, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Title = title
	return nil
}

func (b *fakeBackend) SendMessage(_ context.Context, sessionID, text string, attachments []bus.Attachment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWhenContains != "" && contains(text, b.failWhenContains) {
		return fmt.Errorf("backend unavailable")
	}
	b.sent = append(b.sent, sentMessage{sessionID: sessionID, text: text, attachments: attachments})
	return nil
}

func (b *fakeBackend) sentMessages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]sentMessage, len(b.sent))
	copy(out, b.sent)
	return out
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// adapterCall records one outbound adapter invocation.
type adapterCall struct {
	method string
	chatID string
	handle adapters.Handle
	text   string
}

// fakeAdapter records outbound calls. It does not implement the streaming
// interface; segment delivery defers to stream completion.
type fakeAdapter struct {
	mu       sync.Mutex
	platform string
	calls    []adapterCall
	nextID   int

	replaceErr error
	sendErr    error
}

func newFakeAdapter(platform string) *fakeAdapter {
	return &fakeAdapter{platform: platform}
}

func (f *fakeAdapter) record(c adapterCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeAdapter) callsOf(method string) []adapterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []adapterCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAdapter) Platform() string                 { return f.platform }
func (f *fakeAdapter) Start(context.Context) error      { return nil }
func (f *fakeAdapter) Stop(context.Context) error       { return nil }
func (f *fakeAdapter) Status() adapters.Status          { return adapters.Status{Platform: f.platform, Running: true} }

func (f *fakeAdapter) SendMessage(_ context.Context, chatID, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.record(adapterCall{method: "send", chatID: chatID, text: text})
	return nil
}

func (f *fakeAdapter) SendTypingIndicator(_ context.Context, chatID string) error {
	f.record(adapterCall{method: "typing", chatID: chatID})
	return nil
}

func (f *fakeAdapter) SendProcessingPlaceholder(_ context.Context, chatID, text string) (adapters.Handle, error) {
	f.mu.Lock()
	f.nextID++
	handle := adapters.Handle(fmt.Sprintf("ph-%d", f.nextID))
	f.calls = append(f.calls, adapterCall{method: "placeholder", chatID: chatID, handle: handle, text: text})
	f.mu.Unlock()
	return handle, nil
}

func (f *fakeAdapter) ReplaceProcessingPlaceholder(_ context.Context, chatID string, handle adapters.Handle, text string) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.record(adapterCall{method: "replace", chatID: chatID, handle: handle, text: text})
	return nil
}

func (f *fakeAdapter) SendMedia(_ context.Context, chatID string, payload adapters.MediaPayload) error {
	f.record(adapterCall{method: "media", chatID: chatID, text: payload.Caption})
	return nil
}

// fakeStreamingAdapter adds in-place edit support on top of fakeAdapter.
type fakeStreamingAdapter struct {
	fakeAdapter
	streaming bool
}

func newFakeStreamingAdapter(platform string) *fakeStreamingAdapter {
	return &fakeStreamingAdapter{fakeAdapter: fakeAdapter{platform: platform}, streaming: true}
}

func (f *fakeStreamingAdapter) StreamEnabled() bool { return f.streaming }

func (f *fakeStreamingAdapter) UpdateStreamingMessage(_ context.Context, chatID string, handle adapters.Handle, text string) (adapters.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if handle == "" {
		f.nextID++
		handle = adapters.Handle(fmt.Sprintf("m-%d", f.nextID))
	}
	f.calls = append(f.calls, adapterCall{method: "update", chatID: chatID, handle: handle, text: text})
	return handle, nil
}

// newTestRouter assembles a router over one fake adapter and backend.
func newTestRouter(t *testing.T, a adapters.Adapter) (*Router, *fakeBackend) {
	t.Helper()

	backend := newFakeBackend()
	registry := adapters.NewRegistry()
	registry.Register(a)
	states := NewStateStore(nil)
	t.Cleanup(states.Close)

	r := New(Config{
		Adapters: registry,
		Backend:  backend,
		Resolver: NewResolver(backend, nil, nil, "/tmp/workspace"),
		States:   states,
	})
	return r, backend
}

// deliver pushes one inbound message and returns the resolved session id
// and the marker text forwarded to the backend.
func deliver(t *testing.T, r *Router, backend *fakeBackend, msg bus.InboundMessage) (sessionID, marker string) {
	t.Helper()
	if err := r.HandleIncoming(context.Background(), msg); err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	sessionID = r.resolver.CachedID()
	sent := backend.sentMessages()
	if len(sent) == 0 {
		t.Fatalf("no message reached the backend")
	}
	return sessionID, sent[len(sent)-1].text
}

// bindTurn replays the backend's echo of the forwarded message.
func bindTurn(r *Router, sessionID, marker, turnID string) {
	r.OnChatItem(context.Background(), sessionID, agent.ChatItem{
		ID:        "echo-" + turnID,
		SessionID: sessionID,
		TurnID:    turnID,
		Kind:      agent.ItemUserMessage,
		Content:   agent.TextContent(marker),
	})
}

func assistantItem(sessionID, itemID, turnID, text string) agent.ChatItem {
	return agent.ChatItem{
		ID:        itemID,
		SessionID: sessionID,
		TurnID:    turnID,
		Kind:      agent.ItemAssistantMessage,
		Content:   agent.TextContent(text),
	}
}
