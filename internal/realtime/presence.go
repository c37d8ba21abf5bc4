package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
)

// PresenceCallbacks receive membership changes on a presence channel. The
// snapshot callback fires once with the membership at join time; join/leave
// fire per member afterwards.
type PresenceCallbacks struct {
	OnSnapshot func(members []domain.Member)
	OnJoin     func(member domain.Member)
	OnLeave    func(member domain.Member)
}

// PresenceChannel is a handle on one joined presence channel.
type PresenceChannel struct {
	name   string
	self   domain.Member
	stream Stream
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newPresenceChannel(name string, self domain.Member, snapshot []domain.Member, stream Stream, cb PresenceCallbacks, log *zap.Logger) *PresenceChannel {
	pc := &PresenceChannel{
		name:   name,
		self:   self,
		stream: stream,
		log:    log,
		done:   make(chan struct{}),
	}
	if cb.OnSnapshot != nil {
		cb.OnSnapshot(snapshot)
	}
	go pc.dispatch(cb)
	return pc
}

// Name returns the presence channel name.
func (p *PresenceChannel) Name() string { return p.name }

func (p *PresenceChannel) dispatch(cb PresenceCallbacks) {
	for {
		select {
		case ev, ok := <-p.stream.Events():
			if !ok {
				return
			}
			var member domain.Member
			if err := json.Unmarshal(ev.Payload, &member); err != nil || member.ID == "" {
				p.log.Warn("discarding malformed presence event",
					zap.String("channel", p.name), zap.String("event", ev.Name))
				continue
			}
			switch ev.Name {
			case PresenceJoin:
				if cb.OnJoin != nil {
					cb.OnJoin(member)
				}
			case PresenceLeave:
				if cb.OnLeave != nil {
					cb.OnLeave(member)
				}
			}
		case <-p.done:
			return
		}
	}
}

func (p *PresenceChannel) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	if err := p.stream.Close(); err != nil {
		p.log.Warn("closing presence stream", zap.String("channel", p.name), zap.Error(err))
	}
}
