// Package duel implements the realtime 1-vs-1 duel core: the challenge
// handshake between two connected classmates and the duel session that runs
// once both sides agree.
package duel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/realtime"
)

// DefaultChallengeTimeout is how long a challenger waits for an answer
// before reporting "no response".
const DefaultChallengeTimeout = 30 * time.Second

// Sender sends handshake and round messages through the relay. The in-process
// implementation is realtime.Sender; remote clients use transport.RelayClient.
type Sender interface {
	SendChallenge(ctx context.Context, targetID string, msg domain.DuelChallenge) error
	SendAccept(ctx context.Context, challengerID string, msg domain.DuelAccepted) error
	SendReject(ctx context.Context, challengerID string, msg domain.DuelRejected) error
	SendCancel(ctx context.Context, targetID string, msg domain.DuelCancelled) error
	BroadcastState(ctx context.Context, selfID, opponentID string, msg domain.DuelGameState) error
}

// PresenceChecker gates whether a challenge can be sent at all.
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// Outcome reports the single terminal state of one outgoing challenge.
type Outcome struct {
	Request  domain.ChallengeRequest
	Accepter domain.User // set when State is accepted
	Reason   string      // human-readable, e.g. "no response"
}

// CoordinatorConfig wires a coordinator for one local user.
type CoordinatorConfig struct {
	Self     domain.User
	Sender   Sender
	Presence PresenceChecker
	Logger   *zap.Logger
	// Timeout overrides DefaultChallengeTimeout; tests shrink it.
	Timeout time.Duration
	// OnInvite receives validated incoming challenges for the user to decide on.
	OnInvite func(domain.DuelChallenge)
	// OnInviteCancelled fires when the challenger withdrew before a decision.
	OnInviteCancelled func(domain.DuelCancelled)
	// OnOutcome fires exactly once per outgoing challenge.
	OnOutcome func(Outcome)
}

// Coordinator drives the outgoing-challenge state machine:
// idle → pending → {accepted, rejected, timed-out, cancelled, failed} → idle.
type Coordinator struct {
	self     domain.User
	sender   Sender
	presence PresenceChecker
	log      *zap.Logger
	timeout  time.Duration

	onInvite          func(domain.DuelChallenge)
	onInviteCancelled func(domain.DuelCancelled)
	onOutcome         func(Outcome)

	mu      sync.Mutex
	state   domain.ChallengeState
	current *domain.ChallengeRequest
	timer   *time.Timer
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultChallengeTimeout
	}
	return &Coordinator{
		self:              cfg.Self,
		sender:            cfg.Sender,
		presence:          cfg.Presence,
		log:               cfg.Logger,
		timeout:           timeout,
		onInvite:          cfg.OnInvite,
		onInviteCancelled: cfg.OnInviteCancelled,
		onOutcome:         cfg.OnOutcome,
		state:             domain.ChallengeIdle,
	}
}

// State returns the coordinator's current state.
func (c *Coordinator) State() domain.ChallengeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Bind subscribes the coordinator's handlers on the local user's private
// channel and returns the release function.
func (c *Coordinator) Bind(ch *realtime.Channel) func() {
	tokens := []realtime.Token{
		ch.Subscribe(domain.EventChallenge, c.handleChallenge),
		ch.Subscribe(domain.EventAccepted, c.handleAccepted),
		ch.Subscribe(domain.EventRejected, c.handleRejected),
		ch.Subscribe(domain.EventCancelled, c.handleCancelled),
	}
	return func() {
		for _, t := range tokens {
			ch.Unsubscribe(t)
		}
	}
}

// Challenge sends a duel challenge to an online classmate and starts the
// response timer. A transport failure terminates the handshake immediately;
// there is no retry.
func (c *Coordinator) Challenge(ctx context.Context, target domain.User, quizID, subjectID string) error {
	if !c.presence.IsOnline(target.ID) {
		return domain.ErrTargetOffline
	}

	c.mu.Lock()
	if c.state == domain.ChallengePending {
		c.mu.Unlock()
		return fmt.Errorf("challenge to %s still pending", c.current.Target)
	}
	request := &domain.ChallengeRequest{
		ID:         uuid.NewString(),
		Challenger: c.self.ID,
		Target:     target.ID,
		QuizID:     quizID,
		SubjectID:  subjectID,
		CreatedAt:  time.Now(),
		State:      domain.ChallengePending,
	}
	c.state = domain.ChallengePending
	c.current = request
	c.mu.Unlock()

	msg := domain.DuelChallenge{
		Challenger: domain.User{ID: c.self.ID, FirstName: c.self.FirstName},
		QuizID:     quizID,
		SubjectID:  subjectID,
	}
	if err := c.sender.SendChallenge(ctx, target.ID, msg); err != nil {
		c.resolve(request.ID, domain.ChallengeFailed, domain.User{}, "challenge could not be delivered")
		return fmt.Errorf("send challenge: %w", err)
	}

	c.mu.Lock()
	if c.current == request && c.state == domain.ChallengePending {
		id := request.ID
		c.timer = time.AfterFunc(c.timeout, func() {
			c.resolve(id, domain.ChallengeTimedOut, domain.User{}, "no response")
		})
	}
	c.mu.Unlock()
	return nil
}

// Cancel withdraws the pending challenge. The cancel notice is best-effort
// and may lose the race against the target's accept.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.ChallengePending {
		c.mu.Unlock()
		return domain.ErrChallengeNotPending
	}
	request := c.current
	c.mu.Unlock()

	if !c.resolve(request.ID, domain.ChallengeCanceled, domain.User{}, "cancelled by challenger") {
		return domain.ErrChallengeNotPending
	}
	if err := c.sender.SendCancel(ctx, request.Target, domain.DuelCancelled{Challenger: c.self}); err != nil {
		c.log.Warn("cancel notice not delivered", zap.String("target", request.Target), zap.Error(err))
	}
	return nil
}

// Accept agrees to an incoming challenge. The accepting side transitions
// immediately; the challenger transitions once the accept event arrives.
func (c *Coordinator) Accept(ctx context.Context, inv domain.DuelChallenge) error {
	msg := domain.DuelAccepted{
		Accepter:  domain.User{ID: c.self.ID, FirstName: c.self.FirstName},
		QuizID:    inv.QuizID,
		SubjectID: inv.SubjectID,
	}
	if err := c.sender.SendAccept(ctx, inv.Challenger.ID, msg); err != nil {
		return fmt.Errorf("send accept: %w", err)
	}
	return nil
}

// Reject declines an incoming challenge.
func (c *Coordinator) Reject(ctx context.Context, inv domain.DuelChallenge) error {
	msg := domain.DuelRejected{Decliner: domain.User{ID: c.self.ID, FirstName: c.self.FirstName}}
	if err := c.sender.SendReject(ctx, inv.Challenger.ID, msg); err != nil {
		return fmt.Errorf("send reject: %w", err)
	}
	return nil
}

// resolve moves the identified challenge to a terminal state exactly once and
// returns whether this call performed the transition.
func (c *Coordinator) resolve(requestID string, state domain.ChallengeState, accepter domain.User, reason string) bool {
	c.mu.Lock()
	if c.current == nil || c.current.ID != requestID || c.state != domain.ChallengePending {
		c.mu.Unlock()
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.current.State = state
	request := *c.current
	c.current = nil
	c.state = domain.ChallengeIdle
	c.mu.Unlock()

	c.log.Info("challenge resolved",
		zap.String("target", request.Target),
		zap.String("state", string(state)))
	if c.onOutcome != nil {
		c.onOutcome(Outcome{Request: request, Accepter: accepter, Reason: reason})
	}
	return true
}

func (c *Coordinator) handleChallenge(payload []byte) {
	var msg domain.DuelChallenge
	if err := json.Unmarshal(payload, &msg); err != nil || !msg.Valid() {
		// Malformed notifications are never surfaced and never acted on.
		c.log.Warn("discarding malformed challenge notification", zap.Error(err))
		return
	}
	if c.onInvite != nil {
		c.onInvite(msg)
	}
}

func (c *Coordinator) handleAccepted(payload []byte) {
	var msg domain.DuelAccepted
	if err := json.Unmarshal(payload, &msg); err != nil || !msg.Valid() {
		c.log.Warn("discarding malformed accept notification", zap.Error(err))
		return
	}
	c.mu.Lock()
	var id string
	if c.current != nil {
		id = c.current.ID
	}
	c.mu.Unlock()
	c.resolve(id, domain.ChallengeAccepted, msg.Accepter, "")
}

func (c *Coordinator) handleRejected(payload []byte) {
	var msg domain.DuelRejected
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Decliner.ID == "" {
		c.log.Warn("discarding malformed reject notification", zap.Error(err))
		return
	}
	c.mu.Lock()
	var id string
	if c.current != nil {
		id = c.current.ID
	}
	c.mu.Unlock()
	c.resolve(id, domain.ChallengeRejected, domain.User{}, "declined by "+msg.Decliner.FirstName)
}

func (c *Coordinator) handleCancelled(payload []byte) {
	var msg domain.DuelCancelled
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Challenger.ID == "" {
		c.log.Warn("discarding malformed cancel notification", zap.Error(err))
		return
	}
	if c.onInviteCancelled != nil {
		c.onInviteCancelled(msg)
	}
}
