package duel_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/duel"
	"portal-duel-service/internal/infra/memory"
	"portal-duel-service/internal/realtime"
)

var (
	userAlice = domain.User{ID: "1", FirstName: "Alice"}
	userBob   = domain.User{ID: "2", FirstName: "Bob"}
)

type participant struct {
	client    *duel.Client
	invites   chan domain.DuelChallenge
	cancelled chan domain.DuelCancelled
	outcomes  chan duel.Outcome
	phases    chan domain.DuelPhase
	finished  chan duel.Result
}

func newParticipant(t *testing.T, broker realtime.Broker, self domain.User, quizzes duel.QuizRepository, timeout time.Duration) *participant {
	t.Helper()
	p := &participant{
		invites:   make(chan domain.DuelChallenge, 4),
		cancelled: make(chan domain.DuelCancelled, 4),
		outcomes:  make(chan duel.Outcome, 4),
		phases:    make(chan domain.DuelPhase, 64),
		finished:  make(chan duel.Result, 1),
	}

	manager := realtime.NewManager(broker, nil, zap.NewNop())
	conn := manager.Connect()

	p.client = duel.NewClient(duel.ClientConfig{
		Self:             self,
		Manager:          manager,
		Sender:           realtime.NewSender(conn),
		Quizzes:          quizzes,
		Logger:           zap.NewNop(),
		SessionTimings:   duel.Timings{Intro: 5 * time.Millisecond, Evaluate: 5 * time.Millisecond},
		ChallengeTimeout: timeout,
		OnInvite:         func(inv domain.DuelChallenge) { p.invites <- inv },
		OnInviteCancelled: func(msg domain.DuelCancelled) {
			p.cancelled <- msg
		},
		OnOutcome: func(out duel.Outcome) { p.outcomes <- out },
		Session: duel.SessionCallbacks{
			OnPhase:    func(ph domain.DuelPhase) { p.phases <- ph },
			OnFinished: func(r duel.Result) { p.finished <- r },
		},
	})

	if err := p.client.Start(context.Background()); err != nil {
		t.Fatalf("start client %s: %v", self.ID, err)
	}
	t.Cleanup(p.client.Stop)
	return p
}

func (p *participant) waitPhase(t *testing.T, want domain.DuelPhase) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ph := <-p.phases:
			if ph == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s", want)
		}
	}
}

func waitOnline(t *testing.T, c *duel.Client, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.IsOnline(userID) {
		if time.Now().After(deadline) {
			t.Fatalf("user %s never came online", userID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testQuizzes(questions int) duel.QuizRepository {
	quiz := domain.Quiz{ID: "quiz-1", SubjectID: "math"}
	for i := 0; i < questions; i++ {
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:     "q" + string(rune('1'+i)),
			Prompt: "prompt",
			Options: []domain.Option{
				{ID: "o-wrong", Text: "wrong"},
				{ID: "o-right", Text: "right", Correct: true},
			},
		})
	}
	return memory.NewQuizRepository(memory.NewStaticQuestionSetLoader(map[string]domain.Quiz{
		"math:quiz-1": quiz,
	}), time.Minute)
}

func TestTwoClientsRunFullDuel(t *testing.T) {
	broker := memory.NewBroker()
	quizzes := testQuizzes(2)

	alice := newParticipant(t, broker, userAlice, quizzes, time.Second)
	bob := newParticipant(t, broker, userBob, quizzes, time.Second)

	waitOnline(t, alice.client, userBob.ID)
	waitOnline(t, bob.client, userAlice.ID)

	ctx := context.Background()
	if err := alice.client.Challenge(ctx, userBob, "quiz-1", "math"); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	var invite domain.DuelChallenge
	select {
	case invite = <-bob.invites:
	case <-time.After(2 * time.Second):
		t.Fatalf("bob never received the challenge")
	}
	if invite.Challenger.ID != userAlice.ID || invite.QuizID != "quiz-1" {
		t.Fatalf("unexpected invite %+v", invite)
	}
	if _, ok := bob.client.PendingInvite(); !ok {
		t.Fatalf("expected pending invite on bob's client")
	}

	if err := bob.client.Accept(ctx, invite); err != nil {
		t.Fatalf("accept: %v", err)
	}

	select {
	case out := <-alice.outcomes:
		if out.Request.State != domain.ChallengeAccepted || out.Accepter.ID != userBob.ID {
			t.Fatalf("unexpected outcome %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alice never saw the accept")
	}

	// Both mirrors must be in playing before anyone answers; an answer
	// arriving during the opponent's intro would be dropped.
	alice.waitPhase(t, domain.PhasePlaying)
	bob.waitPhase(t, domain.PhasePlaying)

	if err := alice.client.ActiveSession().SubmitAnswer(ctx, "o-right"); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	alice.waitPhase(t, domain.PhaseEvaluating)
	bob.waitPhase(t, domain.PhaseEvaluating)
	alice.waitPhase(t, domain.PhasePlaying)
	bob.waitPhase(t, domain.PhasePlaying)

	if err := bob.client.ActiveSession().SubmitAnswer(ctx, "o-right"); err != nil {
		t.Fatalf("bob submit: %v", err)
	}

	for name, p := range map[string]*participant{"alice": alice, "bob": bob} {
		select {
		case result := <-p.finished:
			if !result.Draw {
				t.Fatalf("%s: expected draw, got %+v", name, result)
			}
			if result.Scores[userAlice.ID] != 10 || result.Scores[userBob.ID] != 10 {
				t.Fatalf("%s: unexpected scores %+v", name, result.Scores)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never finished", name)
		}
	}
}

func TestChallengeRejectedAcrossClients(t *testing.T) {
	broker := memory.NewBroker()
	quizzes := testQuizzes(1)

	alice := newParticipant(t, broker, userAlice, quizzes, time.Second)
	bob := newParticipant(t, broker, userBob, quizzes, time.Second)

	waitOnline(t, alice.client, userBob.ID)

	ctx := context.Background()
	if err := alice.client.Challenge(ctx, userBob, "quiz-1", "math"); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	invite := <-bob.invites
	if err := bob.client.Reject(ctx, invite); err != nil {
		t.Fatalf("reject: %v", err)
	}

	select {
	case out := <-alice.outcomes:
		if out.Request.State != domain.ChallengeRejected {
			t.Fatalf("expected rejected, got %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alice never saw the rejection")
	}
	if alice.client.ActiveSession() != nil {
		t.Fatalf("no session should start on rejection")
	}
	if _, ok := bob.client.PendingInvite(); ok {
		t.Fatalf("bob's invite should be cleared after rejecting")
	}
}

func TestCancelledChallengeClearsInvite(t *testing.T) {
	broker := memory.NewBroker()
	quizzes := testQuizzes(1)

	alice := newParticipant(t, broker, userAlice, quizzes, time.Second)
	bob := newParticipant(t, broker, userBob, quizzes, time.Second)

	waitOnline(t, alice.client, userBob.ID)

	ctx := context.Background()
	if err := alice.client.Challenge(ctx, userBob, "quiz-1", "math"); err != nil {
		t.Fatalf("challenge: %v", err)
	}
	<-bob.invites

	if err := alice.client.CancelChallenge(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case out := <-alice.outcomes:
		if out.Request.State != domain.ChallengeCanceled {
			t.Fatalf("expected cancelled, got %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alice never saw the cancel outcome")
	}
	select {
	case msg := <-bob.cancelled:
		if msg.Challenger.ID != userAlice.ID {
			t.Fatalf("unexpected cancel notice %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("bob never saw the withdrawal")
	}
	if _, ok := bob.client.PendingInvite(); ok {
		t.Fatalf("bob's invite should be cleared after the withdrawal")
	}
}

func TestChallengeTimesOutAcrossClients(t *testing.T) {
	broker := memory.NewBroker()
	quizzes := testQuizzes(1)

	alice := newParticipant(t, broker, userAlice, quizzes, 50*time.Millisecond)
	bob := newParticipant(t, broker, userBob, quizzes, time.Second)

	waitOnline(t, alice.client, userBob.ID)

	ctx := context.Background()
	if err := alice.client.Challenge(ctx, userBob, "quiz-1", "math"); err != nil {
		t.Fatalf("challenge: %v", err)
	}
	<-bob.invites // bob sees it but never responds

	select {
	case out := <-alice.outcomes:
		if out.Request.State != domain.ChallengeTimedOut {
			t.Fatalf("expected timed-out, got %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alice never saw the timeout")
	}
	if alice.client.ActiveSession() != nil {
		t.Fatalf("no session should start on timeout")
	}
}
