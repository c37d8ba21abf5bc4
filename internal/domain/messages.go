package domain

// Relay event names. Delivery order is only guaranteed within one named
// stream per sender; handlers must not assume ordering across names.
const (
	EventChallenge = "duel.challenge"
	EventAccepted  = "duel.accepted"
	EventRejected  = "duel.rejected"
	EventCancelled = "duel.cancelled"
	EventGameState = "duel.state"
)

// GameStateAnswer is the DuelGameState type carrying a round answer.
const GameStateAnswer = "answer"

// DuelChallenge is delivered to the target's private channel when a
// classmate issues a challenge.
type DuelChallenge struct {
	Challenger User   `json:"challenger"`
	QuizID     string `json:"quizId"`
	SubjectID  string `json:"subjectId"`
}

// Valid reports whether all fields required to act on the challenge are
// present. Malformed notifications are discarded at the protocol layer.
func (c DuelChallenge) Valid() bool {
	return c.Challenger.ID != "" && c.QuizID != "" && c.SubjectID != ""
}

// DuelAccepted is delivered to the challenger's private channel once the
// target agrees to the duel.
type DuelAccepted struct {
	Accepter  User   `json:"accepter"`
	QuizID    string `json:"quizId"`
	SubjectID string `json:"subjectId"`
}

func (a DuelAccepted) Valid() bool {
	return a.Accepter.ID != "" && a.QuizID != "" && a.SubjectID != ""
}

// DuelRejected clears the challenger's pending timer when the target declines.
type DuelRejected struct {
	Decliner User `json:"decliner"`
}

// DuelCancelled is the best-effort notice that the challenger withdrew while
// pending. It may lose the race against the target's own accept.
type DuelCancelled struct {
	Challenger User `json:"challenger"`
}

// GameStateData is the payload of an answer broadcast.
type GameStateData struct {
	ActorID       string `json:"actor_id"`
	IsCorrect     bool   `json:"isCorrect"`
	QuestionIndex int    `json:"question_index"`
}

// DuelGameState is broadcast on both participants' private channels; each
// client resolves the round from the first event it processes.
type DuelGameState struct {
	Type string        `json:"type"`
	Data GameStateData `json:"data"`
}

func (g DuelGameState) Valid() bool {
	return g.Type != "" && g.Data.ActorID != ""
}
