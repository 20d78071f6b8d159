package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/relayclaw/internal/agent"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
	"github.com/nextlevelbuilder/relayclaw/internal/telemetry"
)

// DefaultSessionTitle names the shared integration session when no seed
// message is available to derive a title from.
const DefaultSessionTitle = "Messaging bridge"

// seedTitleMaxWidth caps derived session titles, in display cells.
const seedTitleMaxWidth = 80

// SessionCache persists the resolved integration session across restarts.
// Implemented by store.SessionCache; nil disables persistence.
type SessionCache interface {
	Load() (id, title string, err error)
	Save(id, title string) error
	Clear() error
}

// Resolver maps all platform traffic onto the single shared backend
// session. Resolution is memoized; concurrent callers share one in-flight
// lookup. A cached id is re-validated against the backend on every use and
// dropped if the backend no longer knows it.
type Resolver struct {
	backend    agent.Backend
	cache      SessionCache
	telemetry  *telemetry.Emitter
	workingDir string

	group singleflight.Group

	mu        sync.Mutex
	sessionID string
	title     string
}

// NewResolver creates a resolver. cache and emitter may be nil. A
// persisted session id, if any, is loaded eagerly but still validated on
// first use.
func NewResolver(backend agent.Backend, cache SessionCache, emitter *telemetry.Emitter, workingDir string) *Resolver {
	r := &Resolver{
		backend:    backend,
		cache:      cache,
		telemetry:  emitter,
		workingDir: workingDir,
	}
	if cache != nil {
		id, title, err := cache.Load()
		if err != nil {
			slog.Warn("session cache load failed", "error", err)
		} else if id != "" {
			r.sessionID = id
			r.title = title
			slog.Info("restored persisted integration session", "session", id)
		}
	}
	return r
}

// CachedID returns the memoized session id, or "" when unresolved.
func (r *Resolver) CachedID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Title returns the current session title.
func (r *Resolver) Title() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.title
}

// SetTitle records a title change already applied on the backend.
func (r *Resolver) SetTitle(title string) {
	r.mu.Lock()
	r.title = title
	id := r.sessionID
	r.mu.Unlock()

	if r.cache != nil && id != "" {
		if err := r.cache.Save(id, title); err != nil {
			slog.Warn("session cache save failed", "error", err)
		}
	}
}

// Invalidate drops the memoized session so the next call re-resolves.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.sessionID = ""
	r.title = ""
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Clear(); err != nil {
			slog.Warn("session cache clear failed", "error", err)
		}
	}
}

// GetOrCreate returns the shared integration session id, validating the
// cached one, restoring an existing backend session, or creating a new one
// titled from the seed message. seed may be nil.
func (r *Resolver) GetOrCreate(ctx context.Context, seed *bus.InboundMessage) (string, error) {
	if id := r.CachedID(); id != "" {
		if _, err := r.backend.GetSession(ctx, id); err == nil {
			return id, nil
		} else {
			slog.Warn("cached integration session no longer valid, re-resolving", "session", id, "error", err)
			r.Invalidate()
		}
	}

	v, err, _ := r.group.Do("integration-session", func() (interface{}, error) {
		return r.resolve(ctx, seed)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolve(ctx context.Context, seed *bus.InboundMessage) (string, error) {
	// A concurrent flight may have resolved while this caller queued.
	if id := r.CachedID(); id != "" {
		return id, nil
	}

	// Best effort: a listing failure falls through to creation.
	sessions, err := r.backend.ListSessions(ctx)
	if err != nil {
		slog.Warn("session listing failed, creating a fresh integration session", "error", err)
	}
	for _, s := range sessions {
		if s.Type == agent.SessionTypeIntegration || s.Title == DefaultSessionTitle {
			r.adopt(s.ID, s.Title)
			slog.Info("restored integration session from backend", "session", s.ID, "title", s.Title)
			return s.ID, nil
		}
	}

	title := seedTitle(seed)
	session, err := r.backend.CreateSession(ctx, r.workingDir, "", title, agent.SessionTypeIntegration)
	if err != nil {
		return "", fmt.Errorf("create integration session: %w", err)
	}
	r.adopt(session.ID, session.Title)
	slog.Info("created integration session", "session", session.ID, "title", session.Title)
	return session.ID, nil
}

func (r *Resolver) adopt(id, title string) {
	r.mu.Lock()
	r.sessionID = id
	r.title = title
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Save(id, title); err != nil {
			slog.Warn("session cache save failed", "error", err)
		}
	}
	r.telemetry.SessionUpdated(id, title)
}

// seedTitle derives a session title from the first inbound message:
// whitespace collapsed, clamped by display width. Falls back to the
// default title for empty or attachment-only messages.
func seedTitle(seed *bus.InboundMessage) string {
	if seed == nil {
		return DefaultSessionTitle
	}
	collapsed := strings.Join(strings.Fields(seed.Content), " ")
	if collapsed == "" {
		return DefaultSessionTitle
	}
	return runewidth.Truncate(collapsed, seedTitleMaxWidth, "…")
}
