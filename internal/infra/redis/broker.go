package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/realtime"
)

const streamBuffer = 64

// Broker relays channel events over Redis pub/sub and keeps presence
// membership in a hash per channel. Redis preserves publish order per
// connection, which carries the per-sender stream ordering guarantee.
type Broker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBroker(client *redis.Client, log *zap.Logger) *Broker {
	return &Broker{client: client, log: log}
}

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (b *Broker) topic(channel string) string       { return "relay:channel:" + channel }
func (b *Broker) presenceKey(channel string) string { return "relay:presence:" + channel }

func (b *Broker) Publish(ctx context.Context, channel, event string, payload []byte) error {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.topic(channel), data).Err()
}

type stream struct {
	pubsub *redis.PubSub
	events chan realtime.Event
}

func (s *stream) Events() <-chan realtime.Event { return s.events }
func (s *stream) Close() error                  { return s.pubsub.Close() }

func (b *Broker) Subscribe(ctx context.Context, channel string) (realtime.Stream, error) {
	pubsub := b.client.Subscribe(ctx, b.topic(channel))
	// Block until the server confirms; no delivery is promised before that.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	s := &stream{pubsub: pubsub, events: make(chan realtime.Event, streamBuffer)}
	go func() {
		defer close(s.events)
		for msg := range pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("discarding undecodable relay message",
					zap.String("channel", channel), zap.Error(err))
				continue
			}
			s.events <- realtime.Event{Channel: channel, Name: env.Event, Payload: env.Payload}
		}
	}()
	return s, nil
}

func (b *Broker) JoinPresence(ctx context.Context, channel string, member domain.Member) ([]domain.Member, realtime.Stream, error) {
	s, err := b.Subscribe(ctx, channel)
	if err != nil {
		return nil, nil, err
	}

	data, err := json.Marshal(member)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	if err := b.client.HSet(ctx, b.presenceKey(channel), member.ID, data).Err(); err != nil {
		_ = s.Close()
		return nil, nil, err
	}

	raw, err := b.client.HGetAll(ctx, b.presenceKey(channel)).Result()
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	snapshot := make([]domain.Member, 0, len(raw))
	for _, v := range raw {
		var m domain.Member
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		snapshot = append(snapshot, m)
	}

	if err := b.Publish(ctx, channel, realtime.PresenceJoin, data); err != nil {
		b.log.Warn("publishing presence join", zap.String("channel", channel), zap.Error(err))
	}
	return snapshot, s, nil
}

func (b *Broker) LeavePresence(ctx context.Context, channel string, memberID string) error {
	raw, err := b.client.HGet(ctx, b.presenceKey(channel), memberID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if err := b.client.HDel(ctx, b.presenceKey(channel), memberID).Err(); err != nil {
		return err
	}
	return b.Publish(ctx, channel, realtime.PresenceLeave, []byte(raw))
}
