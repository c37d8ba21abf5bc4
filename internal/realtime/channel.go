package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives the raw payload of one event occurrence.
type Handler func(payload []byte)

// Token identifies one subscription so it can be released deterministically.
type Token struct {
	channel string
	event   string
	id      uint64
}

// Channel is a handle on one subscribed channel. Handlers for the same event
// name run in delivery order on the channel's dispatch goroutine.
type Channel struct {
	name   string
	stream Stream
	log    *zap.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]Handler
	closed bool
	done   chan struct{}
}

func newChannel(name string, stream Stream, log *zap.Logger) *Channel {
	ch := &Channel{
		name:   name,
		stream: stream,
		log:    log,
		subs:   make(map[string]map[uint64]Handler),
		done:   make(chan struct{}),
	}
	go ch.dispatch()
	return ch
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Subscribe registers a handler for one event name.
func (c *Channel) Subscribe(event string, h Handler) Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.subs[event] == nil {
		c.subs[event] = make(map[uint64]Handler)
	}
	c.subs[event][id] = h
	return Token{channel: c.name, event: event, id: id}
}

// Unsubscribe releases one subscription. Releasing an unknown or already
// released token is a no-op.
func (c *Channel) Unsubscribe(t Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handlers, ok := c.subs[t.event]; ok {
		delete(handlers, t.id)
		if len(handlers) == 0 {
			delete(c.subs, t.event)
		}
	}
}

func (c *Channel) dispatch() {
	for {
		select {
		case ev, ok := <-c.stream.Events():
			if !ok {
				return
			}
			for _, h := range c.handlersFor(ev.Name) {
				h(ev.Payload)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Channel) handlersFor(event string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	handlers := make([]Handler, 0, len(c.subs[event]))
	for _, h := range c.subs[event] {
		handlers = append(handlers, h)
	}
	return handlers
}

// close stops dispatch and the underlying stream. Idempotent.
func (c *Channel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	if err := c.stream.Close(); err != nil {
		c.log.Warn("closing channel stream", zap.String("channel", c.name), zap.Error(err))
	}
}
