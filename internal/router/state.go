package router

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/relayclaw/internal/adapters"
	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

// PendingOrigin identifies the chat that originated the active request.
// Created at the start of processMessage, consumed by the reconciler,
// cleared on stream-done, stream-error, or queue-advance.
type PendingOrigin struct {
	RequestID      uint64
	Platform       string
	ChatID         string
	SenderName     string
	ThinkingHandle adapters.Handle
}

// segment tracks delivery state for one streamed content unit (one
// timeline item id). An entry is created when the first non-blank text for
// the item arrives, so later revisions always find their slot.
type segment struct {
	index    int
	handle   adapters.Handle
	lastSig  string
	lastText string
	// pendingDelivery marks text recorded for a non-streaming adapter,
	// delivered when the stream finalizes.
	pendingDelivery bool
}

// ProcessingState is the mutable per-session routing state. One instance
// per session id, created lazily, reset (not destroyed) between requests.
type ProcessingState struct {
	mu sync.Mutex

	processing          bool
	pending             *PendingOrigin
	queue               []bus.InboundMessage
	turnID              string
	requestMarker       string
	placeholderReplaced bool
	delivered           bool
	segments            map[string]*segment
	segmentOrder        []string
	nextSegment         int
	sentMedia           map[string]bool

	chain *Chain
}

// resetRequestLocked clears all per-request tracking fields. The queue and
// the chain survive. Caller holds st.mu.
func (st *ProcessingState) resetRequestLocked() {
	st.pending = nil
	st.turnID = ""
	st.requestMarker = ""
	st.placeholderReplaced = false
	st.delivered = false
	st.segments = make(map[string]*segment)
	st.segmentOrder = nil
	st.nextSegment = 0
	st.sentMedia = make(map[string]bool)
}

// resetForNextRequestLocked additionally releases the processing flag so
// the next request (or queue drain) starts clean. Caller holds st.mu.
func (st *ProcessingState) resetForNextRequestLocked() {
	st.resetRequestLocked()
	st.processing = false
}

// QueueDepth reports the current backlog size. Used by status surfaces.
func (st *ProcessingState) QueueDepth() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}

// StateStore maps session ids to their processing state. Owned by the
// router instance and injectable for tests; never a package-level
// singleton.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*ProcessingState

	ctx    context.Context
	cancel context.CancelFunc

	onChainError func(sessionID, action string, err error)
}

// NewStateStore creates a store. onChainError receives failures from any
// session's outbound chain and may be nil.
func NewStateStore(onChainError func(sessionID, action string, err error)) *StateStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &StateStore{
		states:       make(map[string]*ProcessingState),
		ctx:          ctx,
		cancel:       cancel,
		onChainError: onChainError,
	}
}

// Close stops every session's chain worker.
func (s *StateStore) Close() {
	s.cancel()
}

// GetOrCreate returns the state for a session, creating it (and starting
// its chain worker) on first use.
func (s *StateStore) GetOrCreate(sessionID string) *ProcessingState {
	s.mu.RLock()
	st, ok := s.states[sessionID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[sessionID]; ok {
		return st
	}

	st = &ProcessingState{
		segments:  make(map[string]*segment),
		sentMedia: make(map[string]bool),
	}
	st.chain = NewChain(s.ctx, func(action string, err error) {
		if s.onChainError != nil {
			s.onChainError(sessionID, action, err)
		}
	})
	s.states[sessionID] = st
	return st
}

// Get returns the state for a session if it exists, nil otherwise.
func (s *StateStore) Get(sessionID string) *ProcessingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[sessionID]
}
