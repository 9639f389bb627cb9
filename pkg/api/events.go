// Package api implements the control plane (spec 4.I): REST/JSON handlers
// under /api/v1 and /api/v2 (v2 a superset), grouped into resource groups
// by concern (files, mirrors, sync, cache, health, alerts, webhooks,
// config, restart, auth).
package api

import "sync"

// Event is one message published onto the in-process bus.
type Event struct {
	Topic   string
	Payload any
}

// Bus is a small in-process pub/sub replacing the Python original's
// websocket push (ws_handler.py): the control API's long-poll status
// endpoints subscribe to a topic and block until the next matching event
// or their request context is cancelled. No websocket library exists
// anywhere in the retrieval pack, so this in-process substitute is the
// documented stand-in (see DESIGN.md).
type Bus struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe registers a buffered channel for topic; the caller must call
// the returned cancel func to unregister it once done (normally via
// defer on request completion).
func (b *Bus) Subscribe(topic string) (ch <-chan Event, cancel func()) {
	c := make(chan Event, 4)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], c)
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s == c {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(c)
				break
			}
		}
	}
}

// Publish fans payload out to every current subscriber of topic,
// non-blockingly: a slow/absent subscriber never stalls the publisher.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subs[topic] {
		select {
		case c <- Event{Topic: topic, Payload: payload}:
		default:
		}
	}
}
