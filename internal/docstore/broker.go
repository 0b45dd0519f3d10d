package docstore

import (
	"sync"

	"github.com/ikkim/cartsync/pkg/logger"
)

const listenerBuffer = 64

// ChangeEvent announces that a document was written or deleted.
type ChangeEvent struct {
	Collection string `json:"collection"`
	DocID      string `json:"doc_id"`
	Version    int64  `json:"version"`
	Deleted    bool   `json:"deleted,omitempty"`
	Origin     string `json:"origin,omitempty"`
}

type envelope struct {
	event  ChangeEvent
	remote bool
}

// Listener receives the change events accepted by its filter.
type Listener struct {
	broker     *Broker
	collection string
	filter     func(ChangeEvent) bool
	events     chan ChangeEvent
	ready      chan struct{}
}

func (l *Listener) C() <-chan ChangeEvent {
	return l.events
}

func (l *Listener) Close() {
	select {
	case l.broker.unregister <- l:
	case <-l.broker.quit:
	}
}

// Broker fans change events out to in-process listeners and to publish hooks
// such as the Redis relay.
type Broker struct {
	listeners map[string]map[*Listener]struct{}

	register   chan *Listener
	unregister chan *Listener
	publish    chan envelope

	hooksMu sync.RWMutex
	hooks   []func(ChangeEvent)

	quit     chan struct{}
	stopOnce sync.Once
}

func NewBroker() *Broker {
	return &Broker{
		listeners:  make(map[string]map[*Listener]struct{}),
		register:   make(chan *Listener, 256),
		unregister: make(chan *Listener, 256),
		publish:    make(chan envelope, 1024),
		quit:       make(chan struct{}),
	}
}

// Run dispatches events until Stop is called.
func (b *Broker) Run() {
	for {
		select {
		case l := <-b.register:
			set, ok := b.listeners[l.collection]
			if !ok {
				set = make(map[*Listener]struct{})
				b.listeners[l.collection] = set
			}
			set[l] = struct{}{}
			close(l.ready)
			logger.Debug("Change listener registered", map[string]interface{}{
				"collection": l.collection,
				"listeners":  len(set),
			})

		case l := <-b.unregister:
			if set, ok := b.listeners[l.collection]; ok {
				if _, ok := set[l]; ok {
					delete(set, l)
					close(l.events)
				}
				if len(set) == 0 {
					delete(b.listeners, l.collection)
				}
			}

		case env := <-b.publish:
			for l := range b.listeners[env.event.Collection] {
				if l.filter != nil && !l.filter(env.event) {
					continue
				}
				select {
				case l.events <- env.event:
				default:
					// a pending event already forces the listener to re-read
				}
			}
			if !env.remote {
				b.hooksMu.RLock()
				for _, hook := range b.hooks {
					hook(env.event)
				}
				b.hooksMu.RUnlock()
			}

		case <-b.quit:
			for _, set := range b.listeners {
				for l := range set {
					close(l.events)
				}
			}
			b.listeners = make(map[string]map[*Listener]struct{})
			return
		}
	}
}

func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.quit) })
}

// Listen registers a listener and returns once the broker has accepted it, so
// every event published afterwards reaches it.
func (b *Broker) Listen(collection string, filter func(ChangeEvent) bool) (*Listener, error) {
	l := &Listener{
		broker:     b,
		collection: collection,
		filter:     filter,
		events:     make(chan ChangeEvent, listenerBuffer),
		ready:      make(chan struct{}),
	}
	select {
	case b.register <- l:
	case <-b.quit:
		return nil, ErrClosed
	}
	select {
	case <-l.ready:
		return l, nil
	case <-b.quit:
		return nil, ErrClosed
	}
}

// Publish announces a local change to listeners and hooks.
func (b *Broker) Publish(evt ChangeEvent) {
	b.enqueue(envelope{event: evt})
}

// Inject announces a change that happened in another process. Hooks are not
// invoked, so relayed events are not echoed back.
func (b *Broker) Inject(evt ChangeEvent) {
	b.enqueue(envelope{event: evt, remote: true})
}

func (b *Broker) enqueue(env envelope) {
	select {
	case b.publish <- env:
	case <-b.quit:
	}
}

// OnPublish adds a hook called for every local change. Hooks run on the
// broker goroutine and must not block.
func (b *Broker) OnPublish(hook func(ChangeEvent)) {
	b.hooksMu.Lock()
	b.hooks = append(b.hooks, hook)
	b.hooksMu.Unlock()
}
