package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"portal-duel-service/internal/domain"
)

// Sender publishes duel protocol messages straight through the connection's
// broker. Remote clients use the HTTP relay client instead; the wire shape is
// identical.
type Sender struct {
	conn *Connection
}

func NewSender(conn *Connection) *Sender {
	return &Sender{conn: conn}
}

func (s *Sender) SendChallenge(ctx context.Context, targetID string, msg domain.DuelChallenge) error {
	return s.publish(ctx, PrivateChannel(targetID), domain.EventChallenge, msg)
}

func (s *Sender) SendAccept(ctx context.Context, challengerID string, msg domain.DuelAccepted) error {
	return s.publish(ctx, PrivateChannel(challengerID), domain.EventAccepted, msg)
}

func (s *Sender) SendReject(ctx context.Context, challengerID string, msg domain.DuelRejected) error {
	return s.publish(ctx, PrivateChannel(challengerID), domain.EventRejected, msg)
}

func (s *Sender) SendCancel(ctx context.Context, targetID string, msg domain.DuelCancelled) error {
	return s.publish(ctx, PrivateChannel(targetID), domain.EventCancelled, msg)
}

// BroadcastState announces a round answer on both participants' private
// channels so each client resolves the round from its own stream.
func (s *Sender) BroadcastState(ctx context.Context, selfID, opponentID string, msg domain.DuelGameState) error {
	if err := s.publish(ctx, PrivateChannel(selfID), domain.EventGameState, msg); err != nil {
		return err
	}
	return s.publish(ctx, PrivateChannel(opponentID), domain.EventGameState, msg)
}

func (s *Sender) publish(ctx context.Context, channel, event string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return s.conn.Publish(ctx, channel, event, payload)
}
