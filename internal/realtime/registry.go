// internal/realtime/registry.go

package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler receives the payload of every event frame on a subscribed topic.
// Handlers run synchronously on the inbound frame stream and must not block.
type Handler func(topic string, data json.RawMessage)

// Wire is the slice of the connection the registry needs: issuing wire-level
// subscribes and knowing whether issuing one is possible right now.
type Wire interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	State() ConnectionState
}

type subscriptionEntry struct {
	handlers   map[uint64]Handler
	wireActive bool
}

func (e *subscriptionEntry) refCount() int {
	return len(e.handlers)
}

// Registry multiplexes many logical topic interests over the single
// connection. Multiple callers may subscribe to the same topic; only one
// wire-level subscription exists per topic at a time.
type Registry struct {
	wire Wire
	log  *logrus.Entry

	mu      sync.Mutex
	entries map[string]*subscriptionEntry
	nextID  uint64
}

func NewRegistry(wire Wire, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		wire:    wire,
		log:     log,
		entries: make(map[string]*subscriptionEntry),
	}
}

// Subscribe registers handler for topic and returns its disposer. The first
// subscriber of a topic triggers the wire-level subscribe; while the
// connection is down the intent is queued and the wire subscribe happens on
// the next connected signal. Subscribe always succeeds logically.
//
// The disposer is idempotent and safe to call after a transport drop.
func (r *Registry) Subscribe(topic string, handler Handler) func() {
	r.mu.Lock()
	e, ok := r.entries[topic]
	if !ok {
		e = &subscriptionEntry{handlers: make(map[uint64]Handler)}
		r.entries[topic] = e
	}
	r.nextID++
	id := r.nextID
	e.handlers[id] = handler

	if !e.wireActive && r.wire.State() == StateConnected {
		if err := r.wire.Subscribe(topic); err != nil {
			// Intent stays queued; the next connected signal retries.
			r.log.WithError(err).WithField("topic", topic).Warn("wire subscribe deferred")
		} else {
			e.wireActive = true
			wireSubscriptions.Inc()
		}
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.unsubscribe(topic, id)
		})
	}
}

func (r *Registry) unsubscribe(topic string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[topic]
	if !ok {
		return
	}
	delete(e.handlers, id)
	if e.refCount() > 0 {
		return
	}

	delete(r.entries, topic)
	if e.wireActive {
		e.wireActive = false
		wireSubscriptions.Dec()
		if err := r.wire.Unsubscribe(topic); err != nil && !errors.Is(err, ErrNotConnected) {
			r.log.WithError(err).WithField("topic", topic).Warn("wire unsubscribe failed")
		}
	}
}

// Route is the single dispatch point for inbound event frames. Exactly one
// frame handler exists per topic; it fans out to every logical handler.
func (r *Registry) Route(f Frame) {
	if f.Type != FrameEvent || f.Topic == "" {
		return
	}

	r.mu.Lock()
	e, ok := r.entries[f.Topic]
	var handlers []Handler
	if ok {
		handlers = make([]Handler, 0, len(e.handlers))
		for _, h := range e.handlers {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	if len(handlers) == 0 {
		r.log.WithField("topic", f.Topic).Debug("event for topic without subscribers")
		return
	}
	for _, h := range handlers {
		h(f.Topic, f.Data)
	}
}

// Suspend marks every wire subscription as gone. Called when the transport
// drops; logical handlers are untouched.
func (r *Registry) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.wireActive {
			e.wireActive = false
			wireSubscriptions.Dec()
		}
	}
}

// ResubscribeAll re-issues the wire-level subscribe for every topic still
// referenced. Called on every transition into Connected, including after a
// reconnect; the session is not caught up until this has run.
func (r *Registry) ResubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic, e := range r.entries {
		if e.refCount() == 0 || e.wireActive {
			continue
		}
		if err := r.wire.Subscribe(topic); err != nil {
			r.log.WithError(err).WithField("topic", topic).Warn("resubscribe failed")
			continue
		}
		e.wireActive = true
		wireSubscriptions.Inc()
	}
}

// Reset clears every entry. Called on logout so handlers from a previous
// session never receive frames from a new one.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.wireActive {
			wireSubscriptions.Dec()
		}
	}
	r.entries = make(map[string]*subscriptionEntry)
}

// Topics returns the topics with at least one live subscriber.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.entries))
	for t := range r.entries {
		topics = append(topics, t)
	}
	return topics
}
