// Package firehose fans deduplicated raw events out to independent
// subscribers in arrival order. The demultiplexer performs no business
// logic; the ingestion batcher is one subscriber, and siblings such as a
// tool-execution listener attach alongside it.
package firehose

import (
	"sync"

	"github.com/google/uuid"

	"github.com/workspace/chat-client/internal/wire"
)

// Handler receives every non-duplicate raw event.
type Handler func(wire.Event)

// Demux distributes raw events to all registered handlers.
type Demux struct {
	mu       sync.RWMutex
	order    []string
	handlers map[string]Handler
}

// New creates an empty demultiplexer.
func New() *Demux {
	return &Demux{handlers: make(map[string]Handler)}
}

// Subscribe registers h and returns the function that removes it again.
// Handlers are invoked in registration order.
func (d *Demux) Subscribe(h Handler) func() {
	id := uuid.NewString()

	d.mu.Lock()
	d.handlers[id] = h
	d.order = append(d.order, id)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.handlers, id)
			for i, existing := range d.order {
				if existing == id {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to every currently registered handler. Delivery is
// synchronous on the caller's goroutine, which preserves arrival order as
// long as there is a single publisher per stream.
func (d *Demux) Publish(ev wire.Event) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.order))
	for _, id := range d.order {
		if h, ok := d.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// SubscriberCount reports the number of registered handlers.
func (d *Demux) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}
