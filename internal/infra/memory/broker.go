package memory

import (
	"context"
	"encoding/json"
	"sync"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/realtime"
)

const streamBuffer = 64

// Broker is the in-process relay. Publishes on one channel are serialized, so
// every subscriber observes them in send order per sender.
type Broker struct {
	mu      sync.Mutex
	streams map[string]map[*stream]struct{}
	members map[string]map[string]domain.Member
}

func NewBroker() *Broker {
	return &Broker{
		streams: make(map[string]map[*stream]struct{}),
		members: make(map[string]map[string]domain.Member),
	}
}

type stream struct {
	broker  *Broker
	channel string
	events  chan realtime.Event
	once    sync.Once
}

func (s *stream) Events() <-chan realtime.Event { return s.events }

func (s *stream) Close() error {
	s.once.Do(func() {
		s.broker.drop(s)
		close(s.events)
	})
	return nil
}

func (b *Broker) Publish(_ context.Context, channel, event string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(channel, event, payload)
	return nil
}

func (b *Broker) publishLocked(channel, event string, payload []byte) {
	for s := range b.streams[channel] {
		ev := realtime.Event{Channel: channel, Name: event, Payload: payload}
		select {
		case s.events <- ev:
		default:
			// Slow consumer: shed the oldest event rather than block the relay.
			select {
			case <-s.events:
			default:
			}
			s.events <- ev
		}
	}
}

func (b *Broker) Subscribe(_ context.Context, channel string) (realtime.Stream, error) {
	s := &stream{broker: b, channel: channel, events: make(chan realtime.Event, streamBuffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams[channel] == nil {
		b.streams[channel] = make(map[*stream]struct{})
	}
	b.streams[channel][s] = struct{}{}
	return s, nil
}

func (b *Broker) JoinPresence(_ context.Context, channel string, member domain.Member) ([]domain.Member, realtime.Stream, error) {
	s := &stream{broker: b, channel: channel, events: make(chan realtime.Event, streamBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.members[channel] == nil {
		b.members[channel] = make(map[string]domain.Member)
	}
	b.members[channel][member.ID] = member

	snapshot := make([]domain.Member, 0, len(b.members[channel]))
	for _, m := range b.members[channel] {
		snapshot = append(snapshot, m)
	}

	payload, err := json.Marshal(member)
	if err != nil {
		return nil, nil, err
	}
	b.publishLocked(channel, realtime.PresenceJoin, payload)

	if b.streams[channel] == nil {
		b.streams[channel] = make(map[*stream]struct{})
	}
	b.streams[channel][s] = struct{}{}
	return snapshot, s, nil
}

func (b *Broker) LeavePresence(_ context.Context, channel string, memberID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	member, ok := b.members[channel][memberID]
	if !ok {
		return nil
	}
	delete(b.members[channel], memberID)

	payload, err := json.Marshal(member)
	if err != nil {
		return err
	}
	b.publishLocked(channel, realtime.PresenceLeave, payload)
	return nil
}

func (b *Broker) drop(s *stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams[s.channel], s)
	if len(b.streams[s.channel]) == 0 {
		delete(b.streams, s.channel)
	}
}
