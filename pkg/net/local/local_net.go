package local

import (
	"sync"

	"github.com/pkg/errors"
)

var errClosed = errors.New("endpoint closed")

// Filter inspects a payload in flight from one endpoint to another.
// It returns the payload to deliver, possibly modified, or nil to
// drop it.
type Filter func(from, to string, payload []byte) []byte

// Hub is an in memory network connecting the endpoints that joined
// it. Every endpoint receives the payloads in the order they were
// sent to it, on its own goroutine.
type Hub struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	order     []string
	down      map[string]bool
	filter    Filter
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[string]*Endpoint),
		down:      make(map[string]bool),
	}
}

// Join adds the endpoint of the id, handler receives the payloads
// sent to it.
func (h *Hub) Join(id string, handler func([]byte)) *Endpoint {
	e := &Endpoint{
		id:      id,
		hub:     h,
		handler: handler,
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	h.mu.Lock()
	if old, ok := h.endpoints[id]; ok {
		defer old.Close()
	} else {
		h.order = append(h.order, id)
	}
	h.endpoints[id] = e
	h.mu.Unlock()

	go e.deliver()
	return e
}

// SetFilter installs the filter applied to every payload, nil removes
// it.
func (h *Hub) SetFilter(f Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filter = f
}

// Disconnect drops all the payloads from and to the endpoint until
// it is reconnected.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.down[id] = true
}

// Reconnect reverts Disconnect.
func (h *Hub) Reconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.down, id)
}

func (h *Hub) broadcast(from string, payload []byte) error {
	h.mu.Lock()
	if h.down[from] {
		h.mu.Unlock()
		return nil
	}

	filter := h.filter
	var targets []*Endpoint
	for _, id := range h.order {
		if id == from || h.down[id] {
			continue
		}
		targets = append(targets, h.endpoints[id])
	}
	h.mu.Unlock()

	for _, e := range targets {
		d := append([]byte(nil), payload...)
		if filter != nil {
			d = filter(from, e.id, d)
			if d == nil {
				continue
			}
		}
		e.push(d)
	}
	return nil
}

// Endpoint is the attachment point of one node. It implements
// consensus.Network.
type Endpoint struct {
	id      string
	hub     *Hub
	handler func([]byte)

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  [][]byte
	closed bool
	done   chan struct{}
}

// ID returns the id of the endpoint.
func (e *Endpoint) ID() string {
	return e.id
}

// Broadcast sends the payload to every other endpoint of the hub.
func (e *Endpoint) Broadcast(payload []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return errClosed
	}

	return e.hub.broadcast(e.id, payload)
}

func (e *Endpoint) push(d []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.inbox = append(e.inbox, d)
	e.cond.Signal()
}

func (e *Endpoint) deliver() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.inbox) == 0 && !e.closed {
			e.cond.Wait()
		}

		if e.closed {
			e.mu.Unlock()
			return
		}

		d := e.inbox[0]
		e.inbox[0] = nil
		e.inbox = e.inbox[1:]
		e.mu.Unlock()

		e.handler(d)
	}
}

// Pending returns the number of payloads waiting to be delivered.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inbox)
}

// Close stops the delivery, the pending payloads are discarded.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}

	e.closed = true
	e.inbox = nil
	e.cond.Signal()
	e.mu.Unlock()
	<-e.done
}
