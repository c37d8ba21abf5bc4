package duel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/realtime"
)

// Reference pacing of the duel state machine.
const (
	DefaultIntroDelay    = 3 * time.Second
	DefaultEvaluateDelay = 2 * time.Second
)

// QuizRepository loads the agreed question set (through the cache layer).
type QuizRepository interface {
	GetQuestionSet(ctx context.Context, subjectID, quizID string) (domain.Quiz, error)
}

// Timings control the fixed dwell periods between phases.
type Timings struct {
	Intro    time.Duration
	Evaluate time.Duration
}

func (t Timings) withDefaults() Timings {
	if t.Intro <= 0 {
		t.Intro = DefaultIntroDelay
	}
	if t.Evaluate <= 0 {
		t.Evaluate = DefaultEvaluateDelay
	}
	return t
}

// RoundResult is the authoritative resolution of one round as seen by this
// client: the actor whose answer event arrived first, and whether it scored.
type RoundResult struct {
	Round   int
	ActorID string
	Correct bool
}

// Result is the final comparison when the session finishes.
type Result struct {
	Winner string // empty on a draw
	Draw   bool
	Scores map[string]int
}

// SessionCallbacks observe the session. They run on the session's event or
// timer goroutines and must not block.
type SessionCallbacks struct {
	OnPhase    func(domain.DuelPhase)
	OnRound    func(RoundResult)
	OnFinished func(Result)
	// OnError is the one-shot notification channel for local failures
	// (question-set fetch, broadcast send). The opponent is never informed.
	OnError func(error)
}

// SessionConfig wires one duel session mirror on this client.
type SessionConfig struct {
	Self      domain.User
	Opponent  domain.User
	QuizID    string
	SubjectID string
	Sender    Sender
	Quizzes   QuizRepository
	Logger    *zap.Logger
	Timings   Timings
	Callbacks SessionCallbacks
}

// Session owns this client's mirror of one duel: the question set, both
// running scores, and the round state machine
// loading → intro → playing → evaluating → {playing, finished}, with
// load-failed as the terminal fetch-failure state.
//
// The two participants' mirrors may briefly disagree; each resolves a round
// from the first answer event it processes, and no third party reconciles.
type Session struct {
	self      domain.User
	opponent  domain.User
	quizID    string
	subjectID string
	sender    Sender
	quizzes   QuizRepository
	log       *zap.Logger
	timings   Timings
	cb        SessionCallbacks

	mu        sync.Mutex
	phase     domain.DuelPhase
	quiz      domain.Quiz
	round     int
	scores    map[string]int
	submitted bool // one local submission per round
	resolved  bool // latch: one scoring event per round
	closed    bool
	timer     *time.Timer
	release   func()
}

func NewSession(cfg SessionConfig) *Session {
	return &Session{
		self:      cfg.Self,
		opponent:  cfg.Opponent,
		quizID:    cfg.QuizID,
		subjectID: cfg.SubjectID,
		sender:    cfg.Sender,
		quizzes:   cfg.Quizzes,
		log:       cfg.Logger,
		timings:   cfg.Timings.withDefaults(),
		cb:        cfg.Callbacks,
		phase:     domain.PhaseLoading,
		scores: map[string]int{
			cfg.Self.ID:     0,
			cfg.Opponent.ID: 0,
		},
	}
}

// Bind subscribes the round resolver on the local private channel. The
// subscription is released when the session finishes or aborts.
func (s *Session) Bind(ch *realtime.Channel) {
	token := ch.Subscribe(domain.EventGameState, s.handleGameState)
	s.mu.Lock()
	s.release = func() { ch.Unsubscribe(token) }
	s.mu.Unlock()
}

// Start fetches the question set asynchronously and drives the machine into
// intro, then playing. A fetch failure lands in the terminal load-failed
// phase instead of hanging in loading.
func (s *Session) Start(ctx context.Context) {
	s.notifyPhase(domain.PhaseLoading)
	go func() {
		quiz, err := s.quizzes.GetQuestionSet(ctx, s.subjectID, s.quizID)
		if err != nil || len(quiz.Questions) == 0 {
			if err == nil {
				err = domain.ErrQuizNotFound
			}
			s.failLoad(err)
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.quiz = quiz
		s.phase = domain.PhaseIntro
		s.timer = time.AfterFunc(s.timings.Intro, s.beginPlay)
		s.mu.Unlock()
		s.notifyPhase(domain.PhaseIntro)
	}()
}

func (s *Session) failLoad(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.phase = domain.PhaseLoadFailed
	s.closed = true
	release := s.release
	s.release = nil
	s.mu.Unlock()

	s.log.Error("question set fetch failed",
		zap.String("quiz_id", s.quizID), zap.String("subject_id", s.subjectID), zap.Error(err))
	if release != nil {
		release()
	}
	s.notifyPhase(domain.PhaseLoadFailed)
	if s.cb.OnError != nil {
		s.cb.OnError(fmt.Errorf("load question set: %w", err))
	}
}

func (s *Session) beginPlay() {
	s.mu.Lock()
	if s.closed || s.phase != domain.PhaseIntro {
		s.mu.Unlock()
		return
	}
	s.phase = domain.PhasePlaying
	s.round = 0
	s.submitted = false
	s.resolved = false
	s.mu.Unlock()
	s.notifyPhase(domain.PhasePlaying)
}

// SubmitAnswer locks further local submissions for this round and broadcasts
// the answer on both participants' private channels. The submission only
// scores once the broadcast loops back through the relay and wins the
// first-event race like any other answer.
func (s *Session) SubmitAnswer(ctx context.Context, optionID string) error {
	s.mu.Lock()
	if s.closed || s.phase != domain.PhasePlaying {
		s.mu.Unlock()
		return domain.ErrNotPlaying
	}
	if s.submitted {
		s.mu.Unlock()
		return domain.ErrRoundLocked
	}
	question := s.quiz.Questions[s.round]
	var selected *domain.Option
	for i := range question.Options {
		if question.Options[i].ID == optionID {
			selected = &question.Options[i]
			break
		}
	}
	if selected == nil {
		s.mu.Unlock()
		return domain.ErrOptionNotFound
	}
	s.submitted = true
	msg := domain.DuelGameState{
		Type: domain.GameStateAnswer,
		Data: domain.GameStateData{
			ActorID:       s.self.ID,
			IsCorrect:     selected.Correct,
			QuestionIndex: s.round,
		},
	}
	s.mu.Unlock()

	if err := s.sender.BroadcastState(ctx, s.self.ID, s.opponent.ID, msg); err != nil {
		wrapped := fmt.Errorf("broadcast answer: %w", err)
		if s.cb.OnError != nil {
			s.cb.OnError(wrapped)
		}
		return wrapped
	}
	return nil
}

// handleGameState resolves the round from the first validated answer event,
// whether it originated locally or from the opponent. Later events for the
// same round hit the latch and are ignored.
func (s *Session) handleGameState(payload []byte) {
	var msg domain.DuelGameState
	if err := json.Unmarshal(payload, &msg); err != nil || !msg.Valid() {
		s.log.Warn("discarding malformed game state event", zap.Error(err))
		return
	}
	if msg.Type != domain.GameStateAnswer {
		return
	}

	s.mu.Lock()
	if s.closed || s.phase != domain.PhasePlaying || s.resolved || msg.Data.QuestionIndex != s.round {
		s.mu.Unlock()
		return
	}
	if _, known := s.scores[msg.Data.ActorID]; !known {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	if msg.Data.IsCorrect {
		s.scores[msg.Data.ActorID] += domain.PointsPerWin
	}
	result := RoundResult{Round: s.round, ActorID: msg.Data.ActorID, Correct: msg.Data.IsCorrect}
	s.phase = domain.PhaseEvaluating
	s.timer = time.AfterFunc(s.timings.Evaluate, s.advance)
	s.mu.Unlock()

	if s.cb.OnRound != nil {
		s.cb.OnRound(result)
	}
	s.notifyPhase(domain.PhaseEvaluating)
}

func (s *Session) advance() {
	s.mu.Lock()
	if s.closed || s.phase != domain.PhaseEvaluating {
		s.mu.Unlock()
		return
	}
	if s.round+1 < len(s.quiz.Questions) {
		s.round++
		s.submitted = false
		s.resolved = false
		s.phase = domain.PhasePlaying
		s.mu.Unlock()
		s.notifyPhase(domain.PhasePlaying)
		return
	}

	s.phase = domain.PhaseFinished
	s.closed = true
	result := s.resultLocked()
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
	s.notifyPhase(domain.PhaseFinished)
	s.log.Info("duel finished",
		zap.String("opponent", s.opponent.ID),
		zap.Int("self_score", result.Scores[s.self.ID]),
		zap.Int("opponent_score", result.Scores[s.opponent.ID]))
	if s.cb.OnFinished != nil {
		s.cb.OnFinished(result)
	}
}

func (s *Session) resultLocked() Result {
	scores := map[string]int{
		s.self.ID:     s.scores[s.self.ID],
		s.opponent.ID: s.scores[s.opponent.ID],
	}
	switch {
	case scores[s.self.ID] > scores[s.opponent.ID]:
		return Result{Winner: s.self.ID, Scores: scores}
	case scores[s.opponent.ID] > scores[s.self.ID]:
		return Result{Winner: s.opponent.ID, Scores: scores}
	default:
		return Result{Draw: true, Scores: scores}
	}
}

// Abort releases the session's channel resources when the local participant
// leaves mid-match. The opponent is not notified in-protocol.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
}

// Phase returns the current round state.
func (s *Session) Phase() domain.DuelPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Round returns the current question index.
func (s *Session) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// Score returns a participant's running score.
func (s *Session) Score(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[userID]
}

// CurrentQuestion returns the question both clients display for this round.
func (s *Session) CurrentQuestion() (domain.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhasePlaying && s.phase != domain.PhaseEvaluating {
		return domain.Question{}, false
	}
	if s.round >= len(s.quiz.Questions) {
		return domain.Question{}, false
	}
	return s.quiz.Questions[s.round], true
}

// Result returns the final comparison once the session has finished.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseFinished {
		return Result{}, false
	}
	return s.resultLocked(), true
}

func (s *Session) notifyPhase(phase domain.DuelPhase) {
	if s.cb.OnPhase != nil {
		s.cb.OnPhase(phase)
	}
}
