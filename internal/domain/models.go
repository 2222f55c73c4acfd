package domain

import (
	"math"
	"time"
)

// RankEntry is one participant's standing at a point in time.
// Rank and PreviousRank are only meaningful on values returned by a ranked read.
type RankEntry struct {
	ParticipantID     string    `json:"participantId" validate:"required,max=128"`
	DisplayName       string    `json:"displayName" validate:"max=128"`
	Score             int       `json:"score" validate:"gte=0"`
	TotalQuestions    int       `json:"totalQuestions" validate:"gte=0"`
	AnsweredQuestions int       `json:"answeredQuestions" validate:"gte=0,ltefield=TotalQuestions"`
	Accuracy          int       `json:"accuracy"`
	Rank              int       `json:"rank"`
	PreviousRank      int       `json:"previousRank"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// Snapshot is the full ranked leaderboard of one evaluation.
type Snapshot struct {
	EvaluationID string      `json:"evaluationId"`
	Sequence     uint64      `json:"sequence"`
	Entries      []RankEntry `json:"entries"`
	GeneratedAt  time.Time   `json:"generatedAt"`
}

// Find returns the entry of participantID in the snapshot.
func (s Snapshot) Find(participantID string) (RankEntry, bool) {
	for _, e := range s.Entries {
		if e.ParticipantID == participantID {
			return e, true
		}
	}
	return RankEntry{}, false
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Points  int      `json:"points"` // defaults to 1 if zero
}

// AnswerKey returns the ID of the correct option, or the first option when none is flagged.
func (q Question) AnswerKey() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	if len(q.Options) > 0 {
		return q.Options[0].ID
	}
	return ""
}

// Award is the number of points a correct answer is worth.
func (q Question) Award() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Evaluation is a timed collection of questions.
type Evaluation struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	TimeLimit time.Duration `json:"timeLimit"`
	Questions []Question    `json:"questions"`
}

// Question looks up a question by ID.
func (e Evaluation) Question(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// MaxScore is the score of a participant answering every question correctly.
func (e Evaluation) MaxScore() int {
	total := 0
	for _, q := range e.Questions {
		total += q.Award()
	}
	return total
}

// PointsPerQuestion is the average award per question, at least 1.
func (e Evaluation) PointsPerQuestion() int {
	if len(e.Questions) == 0 {
		return 1
	}
	if ppq := e.MaxScore() / len(e.Questions); ppq > 0 {
		return ppq
	}
	return 1
}

// Accuracy computes round(score / (totalQuestions*pointsPerQuestion) * 100), clamped to [0,100].
func Accuracy(score, totalQuestions, pointsPerQuestion int) int {
	return clampPercent(Percent(score, totalQuestions*pointsPerQuestion))
}

// Percent computes round(part/whole*100), or 0 when whole is not positive.
func Percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
