package realtime

import (
	"context"
	"strings"

	"portal-duel-service/internal/domain"
)

// Event is one named message delivered on a channel.
type Event struct {
	Channel string
	Name    string
	Payload []byte
}

// Stream is a live subscription to a single channel. Events arrive in the
// order the broker accepted them from each sender.
type Stream interface {
	Events() <-chan Event
	Close() error
}

// Broker abstracts the publish/subscribe relay (in-process, Redis, ...).
type Broker interface {
	Publish(ctx context.Context, channel, event string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Stream, error)
	// JoinPresence registers the member on a presence channel and returns the
	// current membership snapshot alongside the event stream.
	JoinPresence(ctx context.Context, channel string, member domain.Member) ([]domain.Member, Stream, error)
	LeavePresence(ctx context.Context, channel string, memberID string) error
}

// Presence event names emitted by brokers on presence channels.
const (
	PresenceJoin  = "presence.join"
	PresenceLeave = "presence.leave"
)

// PrivateChannel returns the channel name addressed to exactly one user.
func PrivateChannel(userID string) string {
	return "private-user." + strings.TrimSpace(userID)
}

// IsPrivateChannel reports whether the name requires authorization.
func IsPrivateChannel(name string) bool {
	return strings.HasPrefix(name, "private-")
}

// Authorizer gates private channel subscriptions. Implementations present a
// bearer credential to the relay's authorization endpoint.
type Authorizer interface {
	Authorize(ctx context.Context, userID, channel string) error
}

// AllowAll authorizes every subscription; used by in-process setups and tests.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, string) error { return nil }
