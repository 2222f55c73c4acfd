// Package protocol defines the messages exchanged between leaderboard clients and the hub.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"live-leaderboard-service/internal/domain"
)

// Message types.
const (
	TypeSnapshotInitial   = "snapshot.initial"
	TypeSnapshotUpdate    = "snapshot.update"
	TypeScoreUpdate       = "score.update"
	TypeParticipantUpsert = "participant.upsert"
	TypeSnapshotRequest   = "snapshot.request"
	TypeError             = "error"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ScoreUpdate is sent client->hub after every scored answer.
type ScoreUpdate struct {
	ParticipantID     string `json:"participantId" validate:"required,max=128"`
	Score             int    `json:"score" validate:"gte=0"`
	AnsweredQuestions int    `json:"answeredQuestions" validate:"gte=0"`
}

// ErrorPayload reports a rejected inbound message to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Encode wraps payload in an envelope. A nil payload is omitted.
func Encode(msgType string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", msgType, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals and validates an envelope payload into dst.
// Any failure wraps domain.ErrMalformedUpdate.
func Decode(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload: %w", env.Type, domain.ErrMalformedUpdate)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s: %v: %w", env.Type, err, domain.ErrMalformedUpdate)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%s: %s: %w", env.Type, describe(err), domain.ErrMalformedUpdate)
	}
	return nil
}

// ErrorCode maps an error to the code reported in an error envelope.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedUpdate):
		return "malformed_update"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrScoreRegression):
		return "score_regression"
	case errors.Is(err, domain.ErrForeignWrite):
		return "foreign_write"
	case errors.Is(err, domain.ErrEvaluationNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return "unknown_evaluation"
	default:
		return "internal"
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("field %s failed %q", verrs[0].Field(), verrs[0].Tag())
	}
	return err.Error()
}
