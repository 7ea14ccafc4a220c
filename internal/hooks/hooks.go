// Package hooks provides an event bus for room lifecycle events.
// Deployments register handlers at startup to observe rooms without
// coupling the actor to its consumers.
package hooks

import (
	"context"
	"sync"

	"github.com/hardspoon/chatsemble/internal/logging"
)

// Event names emitted by the room layer.
const (
	EventRoomCreated      = "room_created"
	EventRoomEvicted      = "room_evicted"
	EventMemberAdded      = "member_added"
	EventMemberRemoved    = "member_removed"
	EventMessagePersisted = "message_persisted"
	EventAgentDispatched  = "agent_dispatched"
	EventSocketConnected  = "socket_connected"
	EventSocketClosed     = "socket_closed"
)

// AllEvents lists all known event names.
var AllEvents = []string{
	EventRoomCreated,
	EventRoomEvicted,
	EventMemberAdded,
	EventMemberRemoved,
	EventMessagePersisted,
	EventAgentDispatched,
	EventSocketConnected,
	EventSocketClosed,
}

// Event carries the identifiers relevant to one occurrence. Fields not
// applicable to the event name are empty.
type Event struct {
	Name      string `json:"name"`
	RoomID    string `json:"roomId,omitempty"`
	MemberID  string `json:"memberId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Handler handles one event. Returning an error logs the failure but
// does not stop other handlers.
type Handler func(ctx context.Context, ev Event) error

// Manager holds handler registrations and dispatches events. A nil
// Manager is valid and drops every event, so callers can emit without
// checking whether hooks are configured.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event. The name identifies the
// handler for logging and removal.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	m.handlers[event] = filtered
}

// Emit dispatches an event to all registered handlers synchronously, in
// registration order. Handler errors are logged and do not prevent
// subsequent handlers from running.
func (m *Manager) Emit(ctx context.Context, ev Event) {
	if m == nil {
		return
	}
	for _, h := range m.snapshot(ev.Name) {
		if err := h.handler(ctx, ev); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", ev.Name).
				Str("handler", h.name).
				Msg("hook handler error")
		}
	}
}

// EmitAsync dispatches an event to all registered handlers concurrently
// and returns immediately. The room actor uses this form so a slow
// handler can never hold up a mutation.
func (m *Manager) EmitAsync(ctx context.Context, ev Event) {
	if m == nil {
		return
	}
	for _, h := range m.snapshot(ev.Name) {
		go func(h namedHandler) {
			if err := h.handler(ctx, ev); err != nil {
				m.log.Warn().
					Err(err).
					Str("event", ev.Name).
					Str("handler", h.name).
					Msg("async hook handler error")
			}
		}(h)
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the event names that have at least one handler.
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	return events
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}
