package duel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/presence"
	"portal-duel-service/internal/realtime"
)

// PresenceChannelName is the well-known shared channel where classmates see
// each other's online status.
const PresenceChannelName = "presence-classmates"

// ClientConfig wires one portal user's duel client.
type ClientConfig struct {
	Self    domain.User
	Manager *realtime.Manager
	Sender  Sender
	Quizzes QuizRepository
	Logger  *zap.Logger

	// SessionTimings paces sessions; zero values take the reference 3s/2s.
	SessionTimings Timings
	// ChallengeTimeout overrides the 30s default; tests shrink it.
	ChallengeTimeout time.Duration

	// OnInvite surfaces an incoming challenge for the user to decide on.
	OnInvite func(domain.DuelChallenge)
	// OnInviteCancelled fires when a surfaced challenge is withdrawn.
	OnInviteCancelled func(domain.DuelCancelled)
	// OnOutcome reports the terminal state of an outgoing challenge.
	OnOutcome func(Outcome)
	// Session callbacks are attached to every session this client starts.
	Session SessionCallbacks
}

// Client is the per-user entry point of the duel core. It owns the private
// channel subscription, the presence registry, the challenge coordinator, and
// at most one active session; everything it acquires on Start is released by
// Stop regardless of how the duel ended.
type Client struct {
	self    domain.User
	manager *realtime.Manager
	sender  Sender
	quizzes QuizRepository
	log     *zap.Logger
	timings Timings
	timeout time.Duration

	onInvite          func(domain.DuelChallenge)
	onInviteCancelled func(domain.DuelCancelled)
	onOutcome         func(Outcome)
	sessionCB         SessionCallbacks

	registry    *presence.Registry
	coordinator *Coordinator

	mu        sync.Mutex
	conn      *realtime.Connection
	channel   *realtime.Channel
	lobby     *realtime.PresenceChannel
	unbind    func()
	session   *Session
	challenge *domain.DuelChallenge // pending incoming invite, if any
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		self:      cfg.Self,
		manager:   cfg.Manager,
		sender:    cfg.Sender,
		quizzes:   cfg.Quizzes,
		log:       cfg.Logger,
		timings:   cfg.SessionTimings,
		timeout:   cfg.ChallengeTimeout,
		onInvite:          cfg.OnInvite,
		onInviteCancelled: cfg.OnInviteCancelled,
		onOutcome:         cfg.OnOutcome,
		sessionCB:         cfg.Session,
		registry:          presence.NewRegistry(),
	}
	return c
}

// Start connects, subscribes the private channel, joins the presence lobby,
// and binds the challenge coordinator.
func (c *Client) Start(ctx context.Context) error {
	conn := c.manager.Connect()

	channel, err := conn.SubscribePrivate(ctx, c.self.ID)
	if err != nil {
		return err
	}

	self := domain.Member{ID: c.self.ID, Name: c.self.FirstName}
	lobby, err := conn.JoinPresence(ctx, PresenceChannelName, self, c.registry.Callbacks())
	if err != nil {
		conn.Leave(channel.Name())
		return err
	}

	c.coordinator = NewCoordinator(CoordinatorConfig{
		Self:              c.self,
		Sender:            c.sender,
		Presence:          c.registry,
		Logger:            c.log,
		Timeout:           c.timeout,
		OnInvite:          c.handleInvite,
		OnInviteCancelled: c.handleInviteCancelled,
		OnOutcome:         c.handleOutcome,
	})
	unbind := c.coordinator.Bind(channel)

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.lobby = lobby
	c.unbind = unbind
	c.mu.Unlock()
	return nil
}

// Stop releases every channel the client holds and aborts any active session.
func (c *Client) Stop() {
	c.mu.Lock()
	conn := c.conn
	channel := c.channel
	lobby := c.lobby
	unbind := c.unbind
	session := c.session
	c.conn, c.channel, c.lobby, c.unbind, c.session = nil, nil, nil, nil, nil
	c.mu.Unlock()

	if session != nil {
		session.Abort()
	}
	if unbind != nil {
		unbind()
	}
	if conn != nil {
		if channel != nil {
			conn.Leave(channel.Name())
		}
		if lobby != nil {
			conn.Leave(lobby.Name())
		}
	}
}

// Online lists currently connected classmates for the picker.
func (c *Client) Online() []domain.Member {
	return c.registry.Online()
}

// IsOnline reports one classmate's presence.
func (c *Client) IsOnline(userID string) bool {
	return c.registry.IsOnline(userID)
}

// Challenge sends a duel challenge to an online classmate.
func (c *Client) Challenge(ctx context.Context, target domain.User, quizID, subjectID string) error {
	return c.coordinator.Challenge(ctx, target, quizID, subjectID)
}

// CancelChallenge withdraws the pending challenge.
func (c *Client) CancelChallenge(ctx context.Context) error {
	return c.coordinator.Cancel(ctx)
}

// PendingInvite returns the most recent undecided incoming challenge.
func (c *Client) PendingInvite() (domain.DuelChallenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.challenge == nil {
		return domain.DuelChallenge{}, false
	}
	return *c.challenge, true
}

// Accept agrees to an incoming challenge and starts this side's session
// mirror immediately.
func (c *Client) Accept(ctx context.Context, inv domain.DuelChallenge) error {
	if err := c.coordinator.Accept(ctx, inv); err != nil {
		return err
	}
	c.mu.Lock()
	c.challenge = nil
	c.mu.Unlock()
	c.startSession(ctx, inv.Challenger, inv.QuizID, inv.SubjectID)
	return nil
}

// Reject declines an incoming challenge.
func (c *Client) Reject(ctx context.Context, inv domain.DuelChallenge) error {
	if err := c.coordinator.Reject(ctx, inv); err != nil {
		return err
	}
	c.mu.Lock()
	c.challenge = nil
	c.mu.Unlock()
	return nil
}

// ActiveSession returns the running duel session, if any.
func (c *Client) ActiveSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// ChallengeState exposes the coordinator state, mostly for the UI.
func (c *Client) ChallengeState() domain.ChallengeState {
	return c.coordinator.State()
}

func (c *Client) handleInvite(inv domain.DuelChallenge) {
	c.mu.Lock()
	c.challenge = &inv
	c.mu.Unlock()
	if c.onInvite != nil {
		c.onInvite(inv)
	}
}

func (c *Client) handleInviteCancelled(msg domain.DuelCancelled) {
	c.mu.Lock()
	if c.challenge != nil && c.challenge.Challenger.ID == msg.Challenger.ID {
		c.challenge = nil
	}
	c.mu.Unlock()
	if c.onInviteCancelled != nil {
		c.onInviteCancelled(msg)
	}
}

func (c *Client) handleOutcome(out Outcome) {
	if out.Request.State == domain.ChallengeAccepted {
		opponent := out.Accepter
		c.startSession(context.Background(), opponent, out.Request.QuizID, out.Request.SubjectID)
	}
	if c.onOutcome != nil {
		c.onOutcome(out)
	}
}

func (c *Client) startSession(ctx context.Context, opponent domain.User, quizID, subjectID string) {
	c.mu.Lock()
	channel := c.channel
	if channel == nil {
		c.mu.Unlock()
		return
	}
	if c.session != nil {
		c.session.Abort()
	}
	session := NewSession(SessionConfig{
		Self:      c.self,
		Opponent:  opponent,
		QuizID:    quizID,
		SubjectID: subjectID,
		Sender:    c.sender,
		Quizzes:   c.quizzes,
		Logger:    c.log,
		Timings:   c.timings,
		Callbacks: c.sessionCB,
	})
	c.session = session
	c.mu.Unlock()

	session.Bind(channel)
	session.Start(ctx)
}
