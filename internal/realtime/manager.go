package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
)

// Manager owns at most one live connection per client session. Connect on a
// healthy manager returns the existing connection, which keeps repeated
// component mounts from churning sockets.
type Manager struct {
	broker Broker
	auth   Authorizer
	log    *zap.Logger

	mu   sync.Mutex
	conn *Connection
}

func NewManager(broker Broker, auth Authorizer, log *zap.Logger) *Manager {
	if auth == nil {
		auth = AllowAll{}
	}
	return &Manager{broker: broker, auth: auth, log: log}
}

// Connect returns the live connection, establishing one if necessary.
func (m *Manager) Connect() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && !m.conn.isClosed() {
		return m.conn
	}
	m.conn = &Connection{
		id:        uuid.NewString(),
		broker:    m.broker,
		auth:      m.auth,
		log:       m.log,
		channels:  make(map[string]*Channel),
		presences: make(map[string]*PresenceChannel),
	}
	m.log.Info("realtime connection established", zap.String("connection_id", m.conn.id))
	return m.conn
}

// Close tears down the live connection, if any. Used on logout.
func (m *Manager) Close() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Connection multiplexes channel subscriptions over one relay connection.
type Connection struct {
	id     string
	broker Broker
	auth   Authorizer
	log    *zap.Logger

	mu        sync.Mutex
	closed    bool
	channels  map[string]*Channel
	presences map[string]*PresenceChannel
}

// ID is the server-visible identifier of this connection.
func (c *Connection) ID() string { return c.id }

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SubscribePrivate authorizes and subscribes the per-user private channel.
// No event is delivered before the subscription confirms.
func (c *Connection) SubscribePrivate(ctx context.Context, userID string) (*Channel, error) {
	name := PrivateChannel(userID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	if existing, ok := c.channels[name]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	if err := c.auth.Authorize(ctx, userID, name); err != nil {
		return nil, fmt.Errorf("authorize %s: %w", name, err)
	}
	stream, err := c.broker.Subscribe(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	ch := newChannel(name, stream, c.log)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		ch.close()
		return nil, domain.ErrConnectionClosed
	}
	if existing, ok := c.channels[name]; ok {
		// Lost a subscribe race; keep the first.
		ch.close()
		return existing, nil
	}
	c.channels[name] = ch
	return ch, nil
}

// JoinPresence joins a presence channel and wires membership callbacks.
func (c *Connection) JoinPresence(ctx context.Context, name string, self domain.Member, cb PresenceCallbacks) (*PresenceChannel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	if existing, ok := c.presences[name]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	snapshot, stream, err := c.broker.JoinPresence(ctx, name, self)
	if err != nil {
		return nil, fmt.Errorf("join presence %s: %w", name, err)
	}

	pc := newPresenceChannel(name, self, snapshot, stream, cb, c.log)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		pc.close()
		_ = c.broker.LeavePresence(context.Background(), name, self.ID)
		return nil, domain.ErrConnectionClosed
	}
	c.presences[name] = pc
	return pc, nil
}

// Publish sends one named event on a channel.
func (c *Connection) Publish(ctx context.Context, channel, event string, payload []byte) error {
	if c.isClosed() {
		return domain.ErrConnectionClosed
	}
	return c.broker.Publish(ctx, channel, event, payload)
}

// Leave releases one channel handle. Idempotent.
func (c *Connection) Leave(name string) {
	c.mu.Lock()
	ch := c.channels[name]
	delete(c.channels, name)
	pc := c.presences[name]
	delete(c.presences, name)
	c.mu.Unlock()

	if ch != nil {
		ch.close()
	}
	if pc != nil {
		pc.close()
		if err := c.broker.LeavePresence(context.Background(), name, pc.self.ID); err != nil {
			c.log.Warn("leaving presence channel", zap.String("channel", name), zap.Error(err))
		}
	}
}

// Close releases every channel held by the connection. Idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	presences := c.presences
	c.channels = make(map[string]*Channel)
	c.presences = make(map[string]*PresenceChannel)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
	for name, pc := range presences {
		pc.close()
		_ = c.broker.LeavePresence(context.Background(), name, pc.self.ID)
	}
	c.log.Info("realtime connection closed", zap.String("connection_id", c.id))
}
