package domain

import "errors"

var (
	// ErrNotFound is returned when an update references a participant unknown to the cache.
	ErrNotFound = errors.New("participant not found")
	// ErrMalformedUpdate indicates a structurally invalid update; it is never applied.
	ErrMalformedUpdate = errors.New("malformed update")
	// ErrTransportSend indicates a single connection could not accept a message.
	ErrTransportSend = errors.New("transport send failed")
	// ErrScoreRegression is returned when an update would lower a participant's score.
	ErrScoreRegression = errors.New("score would decrease")
	// ErrForeignWrite is returned when a connection tries to write another participant's entry.
	ErrForeignWrite = errors.New("participants may only update their own entry")
	// ErrEvaluationNotFound indicates the evaluation content could not be loaded.
	ErrEvaluationNotFound = errors.New("evaluation not found")
	// ErrSessionNotFound is returned when no live leaderboard exists for an evaluation.
	ErrSessionNotFound = errors.New("leaderboard session not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNotInProgress is returned for actions only allowed while an evaluation is running.
	ErrNotInProgress = errors.New("evaluation not in progress")
	// ErrHubStopped is returned by a hub after Stop.
	ErrHubStopped = errors.New("hub stopped")
	// ErrDisconnected is returned by a client whose transport went away.
	ErrDisconnected = errors.New("transport disconnected")
	// ErrClientStopped is returned by calls made to a client that is no longer running.
	ErrClientStopped = errors.New("client stopped")
)
