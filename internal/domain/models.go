package domain

import "time"

// User identifies a portal user. Immutable for the duration of a session.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	ShortName string `json:"short_name,omitempty"`
}

// Member is the presence-channel view of a connected user.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question. Upstream content guarantees exactly one
// correct option; this core does not re-validate that.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// Quiz is an ordered question set owned by a subject. Immutable once loaded.
type Quiz struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subjectId"`
	Questions []Question `json:"questions"`
}

// ChallengeState is the lifecycle state of an outgoing challenge.
type ChallengeState string

const (
	ChallengeIdle     ChallengeState = "idle"
	ChallengePending  ChallengeState = "pending"
	ChallengeAccepted ChallengeState = "accepted"
	ChallengeRejected ChallengeState = "rejected"
	ChallengeTimedOut ChallengeState = "timed-out"
	ChallengeCanceled ChallengeState = "cancelled"
	ChallengeFailed   ChallengeState = "failed"
)

// Terminal reports whether the state ends a challenge's lifecycle.
func (s ChallengeState) Terminal() bool {
	switch s {
	case ChallengeAccepted, ChallengeRejected, ChallengeTimedOut, ChallengeCanceled, ChallengeFailed:
		return true
	}
	return false
}

// ChallengeRequest records one outgoing challenge and its outcome.
type ChallengeRequest struct {
	ID         string
	Challenger string
	Target     string
	QuizID     string
	SubjectID  string
	CreatedAt  time.Time
	State      ChallengeState
}

// DuelPhase is the round state machine of a duel session.
type DuelPhase string

const (
	PhaseLoading    DuelPhase = "loading"
	PhaseIntro      DuelPhase = "intro"
	PhasePlaying    DuelPhase = "playing"
	PhaseEvaluating DuelPhase = "evaluating"
	PhaseFinished   DuelPhase = "finished"
	PhaseLoadFailed DuelPhase = "load-failed"
)

// PointsPerWin is the fixed award for winning a round. No partial credit,
// no time bonus in this subsystem.
const PointsPerWin = 10
