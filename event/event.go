// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package event implements the synchronous observer-list event bus behind
// the fixed set of event names the engine emits. It is adapted from
// go-ethereum's event.Feed (event/feed_test.go: Subscribe/Send over a
// fixed channel type) but trades Feed's reflect-based "any channel type"
// generality for a single concrete Event struct, since this module's
// event vocabulary is fixed and known at compile time, and adds
// per-subscriber panic isolation: a handler that panics is caught and
// logged rather than corrupting engine state.
package event

import "sync"

// Type names one event kind.
type Type string

const (
	Connect    Type = "connect"
	Disconnect Type = "disconnect"

	OutgoingPrepare Type = "outgoing_prepare"
	IncomingPrepare Type = "incoming_prepare"

	OutgoingFulfill Type = "outgoing_fulfill"
	IncomingFulfill Type = "incoming_fulfill"

	OutgoingReject Type = "outgoing_reject"
	IncomingReject Type = "incoming_reject"

	OutgoingCancel Type = "outgoing_cancel"
	IncomingCancel Type = "incoming_cancel"

	OutgoingMessage Type = "outgoing_message"
	IncomingMessage Type = "incoming_message"

	OutgoingRequest Type = "outgoing_request"
	IncomingRequest Type = "incoming_request"

	OutgoingResponse Type = "outgoing_response"
	IncomingResponse Type = "incoming_response"
)

// Event is the single concrete payload type delivered to every subscriber.
// Fields not relevant to a given Type are left at their zero value.
type Event struct {
	Type        Type
	TransferID  string
	Amount      string
	Fulfillment string
	Reason      any
	Message     []byte
	Err         error
}

// Handler receives emitted events. A Handler must not block for long: Bus
// delivers synchronously and in emission order.
type Handler func(Event)

// Bus is the observer list. The zero value is ready to use.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler

	// onHandlerPanic, if set, is called (outside the subscriber-holding
	// lock) whenever a Handler panics, so the engine can log it rather
	// than let it corrupt engine state.
	onHandlerPanic func(Type, any)
}

// New returns a ready Bus. onPanic may be nil.
func New(onPanic func(Type, any)) *Bus {
	return &Bus{onHandlerPanic: onPanic}
}

// Subscribe registers h to receive all future emissions. The returned
// function unsubscribes h.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
	idx := len(b.handlers) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}
}

// Emit delivers ev to every subscribed Handler, strictly after the state
// transition it describes has committed (the engine is responsible for
// calling Emit only post-commit; Bus itself has no notion of "commit").
// A panicking Handler is recovered and reported via onHandlerPanic; it
// never prevents delivery to the remaining subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.onHandlerPanic != nil {
			b.onHandlerPanic(ev.Type, r)
		}
	}()
	h(ev)
}
