package core

import "sync"

// EventContext carries the payload of a fired event.
type EventContext struct {
	Type SystemEventCode
	Data interface{}
}

// System internal event codes. Applications should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01
	// Resized/resolution changed from the OS. Data is a *ResizeEvent.
	EVENT_CODE_RESIZED SystemEventCode = 0x08
	// The configuration file changed on disk and was reloaded. Data is the new configuration.
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x09

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type ResizeEvent struct {
	Width  uint32
	Height uint32
}

// Should return true if handled.
type FnOnEvent func(ctx EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to listeners synchronously on the firing goroutine.
// Listeners registered first get the first chance to handle an event.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]*registeredEvent),
	}
}

// Register adds a listener for code. Duplicate listeners are rejected.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

// Unregister removes the listener for code. Returns false if it was not registered.
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire sends the event to listeners until one of them handles it.
func (b *EventBus) Fire(ctx EventContext) bool {
	b.mu.RLock()
	events := append([]*registeredEvent(nil), b.registered[ctx.Type]...)
	b.mu.RUnlock()

	for _, e := range events {
		if e.callback(ctx) {
			return true
		}
	}
	return false
}
