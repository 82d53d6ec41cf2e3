package ipc

import (
	"github.com/kelindar/event"
)

// Notification type identifiers.
const (
	TypeXrun uint32 = iota + 1
	TypeState
	TypeError
)

// XrunNotification is published when a pipeline misses its deadline.
type XrunNotification struct {
	Pipeline uint32
	Count    int
	Fatal    bool
}

// Type implements event.Event.
func (XrunNotification) Type() uint32 { return TypeXrun }

// StateNotification is published after a successful trigger.
type StateNotification struct {
	Pipeline uint32
	State    string
}

// Type implements event.Event.
func (StateNotification) Type() uint32 { return TypeState }

// ErrorNotification carries a host-visible error code.
type ErrorNotification struct {
	Code    uint32
	Message string
}

// Type implements event.Event.
func (ErrorNotification) Type() uint32 { return TypeError }

// Bus broadcasts runtime notifications to host-side subscribers.
type Bus struct {
	dispatcher *event.Dispatcher
}

// NewBus creates an empty notification bus.
func NewBus() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// PublishXrun broadcasts an xrun notification.
func (b *Bus) PublishXrun(n XrunNotification) {
	event.Publish(b.dispatcher, n)
}

// PublishState broadcasts a state change notification.
func (b *Bus) PublishState(n StateNotification) {
	event.Publish(b.dispatcher, n)
}

// PublishError broadcasts an error notification.
func (b *Bus) PublishError(n ErrorNotification) {
	event.Publish(b.dispatcher, n)
}

// SubscribeXrun registers a handler; the returned function cancels the
// subscription.
func (b *Bus) SubscribeXrun(fn func(XrunNotification)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

// SubscribeState registers a handler for state notifications.
func (b *Bus) SubscribeState(fn func(StateNotification)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

// SubscribeError registers a handler for error notifications.
func (b *Bus) SubscribeError(fn func(ErrorNotification)) func() {
	return event.Subscribe(b.dispatcher, fn)
}
