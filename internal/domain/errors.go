package domain

import "errors"

var (
	// ErrChannelUnauthorized is returned when a private channel subscription is rejected.
	ErrChannelUnauthorized = errors.New("channel subscription unauthorized")
	// ErrConnectionClosed is returned when an operation is attempted on a torn-down connection.
	ErrConnectionClosed = errors.New("realtime connection closed")
	// ErrTargetOffline is returned when a challenge targets a user who is not present.
	ErrTargetOffline = errors.New("target user is not online")
	// ErrChallengeNotPending is returned when accept/cancel races a challenge that already resolved.
	ErrChallengeNotPending = errors.New("challenge is not pending")
	// ErrQuizNotFound indicates the question set could not be loaded.
	ErrQuizNotFound = errors.New("question set not found")
	// ErrOptionNotFound indicates a submitted option ID is not part of the current question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrRoundLocked is returned when a second local answer is submitted in the same round.
	ErrRoundLocked = errors.New("answer already submitted for this round")
	// ErrNotPlaying is returned when an answer is submitted outside the playing phase.
	ErrNotPlaying = errors.New("duel is not accepting answers")
)
