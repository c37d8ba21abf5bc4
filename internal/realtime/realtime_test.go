package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/infra/memory"
	"portal-duel-service/internal/realtime"
)

func TestConnectReturnsExistingConnection(t *testing.T) {
	m := realtime.NewManager(memory.NewBroker(), nil, zap.NewNop())

	first := m.Connect()
	second := m.Connect()
	if first != second {
		t.Fatalf("expected the same live connection on repeated Connect")
	}

	m.Close()
	third := m.Connect()
	if third == first {
		t.Fatalf("expected a fresh connection after Close")
	}
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, string, string) error {
	return domain.ErrChannelUnauthorized
}

func TestSubscribePrivateAuthorizationRejected(t *testing.T) {
	m := realtime.NewManager(memory.NewBroker(), denyAll{}, zap.NewNop())
	conn := m.Connect()

	_, err := conn.SubscribePrivate(context.Background(), "1")
	if !errors.Is(err, domain.ErrChannelUnauthorized) {
		t.Fatalf("expected ErrChannelUnauthorized, got %v", err)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	broker := memory.NewBroker()
	m := realtime.NewManager(broker, nil, zap.NewNop())
	conn := m.Connect()
	defer conn.Close()

	ch, err := conn.SubscribePrivate(context.Background(), "1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := make(chan []byte, 4)
	token := ch.Subscribe("duel.challenge", func(payload []byte) {
		got <- payload
	})

	if err := conn.Publish(context.Background(), realtime.PrivateChannel("1"), "duel.challenge", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case payload := <-got:
		if string(payload) != "hello" {
			t.Fatalf("unexpected payload %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}

	ch.Unsubscribe(token)
	ch.Unsubscribe(token) // releasing twice is a no-op

	_ = conn.Publish(context.Background(), realtime.PrivateChannel("1"), "duel.challenge", []byte("again"))
	select {
	case payload := <-got:
		t.Fatalf("unexpected delivery after unsubscribe: %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventsOnSameStreamArriveInSendOrder(t *testing.T) {
	broker := memory.NewBroker()
	m := realtime.NewManager(broker, nil, zap.NewNop())
	conn := m.Connect()
	defer conn.Close()

	ch, err := conn.SubscribePrivate(context.Background(), "1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := make(chan string, 8)
	ch.Subscribe("ev", func(payload []byte) { got <- string(payload) })

	for _, p := range []string{"1", "2", "3"} {
		if err := conn.Publish(context.Background(), realtime.PrivateChannel("1"), "ev", []byte(p)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for _, want := range []string{"1", "2", "3"} {
		select {
		case p := <-got:
			if p != want {
				t.Fatalf("expected %q, got %q", want, p)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestJoinPresenceCallbacks(t *testing.T) {
	broker := memory.NewBroker()

	mAlice := realtime.NewManager(broker, nil, zap.NewNop())
	alice := mAlice.Connect()
	defer alice.Close()

	snapshots := make(chan []domain.Member, 1)
	joins := make(chan domain.Member, 4)
	leaves := make(chan domain.Member, 4)

	_, err := alice.JoinPresence(context.Background(), "presence-classmates",
		domain.Member{ID: "1", Name: "Alice"},
		realtime.PresenceCallbacks{
			OnSnapshot: func(members []domain.Member) { snapshots <- members },
			OnJoin:     func(m domain.Member) { joins <- m },
			OnLeave:    func(m domain.Member) { leaves <- m },
		})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	snapshot := <-snapshots
	if len(snapshot) != 1 || snapshot[0].ID != "1" {
		t.Fatalf("expected snapshot with self, got %+v", snapshot)
	}

	mBob := realtime.NewManager(broker, nil, zap.NewNop())
	bob := mBob.Connect()
	if _, err := bob.JoinPresence(context.Background(), "presence-classmates",
		domain.Member{ID: "2", Name: "Bob"}, realtime.PresenceCallbacks{}); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	waitMember(t, joins, "2")

	bob.Close()
	waitMember(t, leaves, "2")

	// Leave is idempotent.
	alice.Leave("presence-classmates")
	alice.Leave("presence-classmates")
}

func TestSenderBroadcastReachesBothChannels(t *testing.T) {
	broker := memory.NewBroker()
	m := realtime.NewManager(broker, nil, zap.NewNop())
	conn := m.Connect()
	defer conn.Close()

	chA, _ := conn.SubscribePrivate(context.Background(), "a")
	chB, _ := conn.SubscribePrivate(context.Background(), "b")

	gotA := make(chan []byte, 1)
	gotB := make(chan []byte, 1)
	chA.Subscribe(domain.EventGameState, func(p []byte) { gotA <- p })
	chB.Subscribe(domain.EventGameState, func(p []byte) { gotB <- p })

	sender := realtime.NewSender(conn)
	err := sender.BroadcastState(context.Background(), "a", "b", domain.DuelGameState{
		Type: domain.GameStateAnswer,
		Data: domain.GameStateData{ActorID: "a", IsCorrect: true, QuestionIndex: 0},
	})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for name, ch := range map[string]chan []byte{"a": gotA, "b": gotB} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for broadcast on %s", name)
		}
	}
}

func waitMember(t *testing.T, ch chan domain.Member, id string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-ch:
			if m.ID == id {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for member %s", id)
		}
	}
}
