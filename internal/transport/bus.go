// Package transport implements the pub/sub channel the hub routes
// through: a registry of live connections addressable directly by an
// opaque handle or collectively by named topic group. The hub core only
// ever sees handles and groups; it never touches sockets.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Handle identifies one attached connection. It is opaque to callers:
// the only thing a Handle is good for is addressing a message to exactly
// that connection.
type Handle string

// sendBuffer is the per-connection outbound queue depth. A connection
// that falls this far behind starts losing messages rather than blocking
// the hub.
const sendBuffer = 64

// Receiver consumes traffic from attached connections.
type Receiver interface {
	// Receive is called once per inbound message, in arrival order for a
	// single connection.
	Receive(h Handle, data []byte)
	// Closed is called after the connection has been detached from the bus.
	Closed(h Handle)
}

type conn struct {
	send   chan []byte
	groups map[string]struct{}
}

// Bus tracks attached connections and their topic group memberships.
type Bus struct {
	mu     sync.RWMutex
	conns  map[Handle]*conn
	groups map[string]map[Handle]*conn
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		conns:  make(map[Handle]*conn),
		groups: make(map[string]map[Handle]*conn),
	}
}

// Attach registers a connection and returns its outbound queue. The
// caller owns draining the channel; it is closed by Detach.
func (b *Bus) Attach(h Handle) <-chan []byte {
	c := &conn{
		send:   make(chan []byte, sendBuffer),
		groups: make(map[string]struct{}),
	}
	b.mu.Lock()
	b.conns[h] = c
	b.mu.Unlock()
	return c.send
}

// Detach removes a connection from the bus and every group it joined,
// and closes its outbound queue. Sends to the handle fail from then on;
// this is the invalidation step for stale handle references held
// elsewhere. Detaching an unknown handle is a no-op.
func (b *Bus) Detach(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[h]
	if !ok {
		return
	}
	for g := range c.groups {
		delete(b.groups[g], h)
		if len(b.groups[g]) == 0 {
			delete(b.groups, g)
		}
	}
	delete(b.conns, h)
	close(c.send)
}

// Join subscribes a connection to a topic group. Joining twice, or
// joining with an unknown handle, is a no-op.
func (b *Bus) Join(h Handle, group string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[h]
	if !ok {
		return
	}
	c.groups[group] = struct{}{}
	if b.groups[group] == nil {
		b.groups[group] = make(map[Handle]*conn)
	}
	b.groups[group][h] = c
}

// Connected reports whether the handle refers to an attached connection.
func (b *Bus) Connected(h Handle) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.conns[h]
	return ok
}

// SendTo delivers a message to exactly one connection. Returns an error
// if the handle is not attached or its queue is full.
func (b *Bus) SendTo(h Handle, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.conns[h]
	if !ok {
		return fmt.Errorf("connection %q not attached", h)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("connection %q send buffer full", h)
	}
}

// Publish delivers a message to every connection subscribed to the
// group and returns the number of connections it was queued for.
// Connections with full queues are skipped.
func (b *Bus) Publish(group string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.groups[group] {
		select {
		case c.send <- data:
			n++
		default:
		}
	}
	return n
}
