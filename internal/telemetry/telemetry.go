// Package telemetry emits fire-and-forget counters and error events over
// the bus event fan-out, mirrored to the structured log. Emission is never
// awaited for correctness; a nil emitter is a no-op.
package telemetry

import (
	"log/slog"

	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

// Event names broadcast on the bus.
const (
	EventInbound        = "bridge.inbound"
	EventOutbound       = "bridge.outbound"
	EventQueued         = "bridge.queued"
	EventSessionUpdated = "bridge.session_updated"
	EventError          = "bridge.error"
)

// Emitter broadcasts bridge telemetry.
type Emitter struct {
	events bus.EventPublisher
}

// NewEmitter creates an emitter over an event publisher. events may be nil;
// the emitter then only logs.
func NewEmitter(events bus.EventPublisher) *Emitter {
	return &Emitter{events: events}
}

func (e *Emitter) broadcast(name string, payload interface{}) {
	if e == nil || e.events == nil {
		return
	}
	e.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

// Inbound counts one received platform message.
func (e *Emitter) Inbound(platform string) {
	slog.Debug("telemetry: inbound message", "platform", platform)
	e.broadcast(EventInbound, map[string]string{"platform": platform})
}

// Outbound counts one delivered adapter call.
func (e *Emitter) Outbound(platform string) {
	slog.Debug("telemetry: outbound delivery", "platform", platform)
	e.broadcast(EventOutbound, map[string]string{"platform": platform})
}

// Queued reports the backlog depth after enqueueing a message.
func (e *Emitter) Queued(platform string, depth int) {
	slog.Debug("telemetry: message queued", "platform", platform, "depth", depth)
	e.broadcast(EventQueued, map[string]interface{}{"platform": platform, "depth": depth})
}

// SessionUpdated notifies that the shared integration session changed
// (created, restored, or retitled).
func (e *Emitter) SessionUpdated(sessionID, title string) {
	slog.Info("integration session updated", "session", sessionID, "title", title)
	e.broadcast(EventSessionUpdated, map[string]string{"session_id": sessionID, "title": title})
}

// Error reports a recovered failure with a scope and code.
func (e *Emitter) Error(scope, code string, err error) {
	slog.Error("bridge error", "scope", scope, "code", code, "error", err)
	payload := map[string]string{"scope": scope, "code": code}
	if err != nil {
		payload["error"] = err.Error()
	}
	e.broadcast(EventError, payload)
}
