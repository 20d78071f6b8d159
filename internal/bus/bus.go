// Package bus carries inbound platform messages to the router and fans out
// fire-and-forget events to subscribers.
package bus

import (
	"context"
	"sync"
)

// MessageBus is the in-process message bus. Inbound messages flow through a
// buffered channel with a single consumer (the router); events are fanned
// out to all registered handlers without blocking the publisher.
type MessageBus struct {
	inbound chan InboundMessage

	mu       sync.RWMutex
	handlers map[string]EventHandler
	closed   bool
}

// NewMessageBus creates a message bus with a buffered inbound channel.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 100),
		handlers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues an inbound message. When the buffer is full the
// oldest message is dropped so a stalled consumer never blocks adapters.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return
	}
	mb.mu.RUnlock()

	select {
	case mb.inbound <- msg:
	default:
		select {
		case <-mb.inbound:
		default:
		}
		select {
		case mb.inbound <- msg:
		default:
		}
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Subscribe registers an event handler under an id. Re-subscribing with the
// same id replaces the previous handler.
func (mb *MessageBus) Subscribe(id string, handler EventHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers[id] = handler
}

// Unsubscribe removes an event handler.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.handlers, id)
}

// Broadcast delivers an event to every subscriber. Handlers run on the
// caller's goroutine and must not block.
func (mb *MessageBus) Broadcast(event Event) {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return
	}
	handlers := make([]EventHandler, 0, len(mb.handlers))
	for _, h := range mb.handlers {
		handlers = append(handlers, h)
	}
	mb.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Close marks the bus closed; later publishes are dropped.
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
}
