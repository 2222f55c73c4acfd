package client

import (
	"fmt"
	"time"

	"live-leaderboard-service/internal/domain"
)

// State is the lifecycle phase of a Session.
type State int

const (
	NotStarted State = iota
	InProgress
	Finished
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Answer is the recorded response to one question.
type Answer struct {
	QuestionID   string    `json:"questionId"`
	Answer       string    `json:"answer"`
	IsCorrect    bool      `json:"isCorrect"`
	PointsEarned int       `json:"pointsEarned"`
	Timestamp    time.Time `json:"timestamp"`
}

// Session tracks one participant's progress through an evaluation. Its score is
// authoritative for that participant; the server copy catches up through updates.
// A Session is not safe for concurrent use; Client serializes access to it.
type Session struct {
	participantID string
	displayName   string
	now           func() time.Time

	state        State
	evaluation   domain.Evaluation
	currentIndex int
	answers      map[string]Answer
	score        int
	correct      int
	startTime    time.Time
	finishedAt   time.Time
	scoredAt     time.Time
	leaderboard  Leaderboard
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithSessionClock overrides the session time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session that has not started yet.
func NewSession(participantID, displayName string, opts ...SessionOption) *Session {
	s := &Session{
		participantID: participantID,
		displayName:   displayName,
		now:           time.Now,
		answers:       make(map[string]Answer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ParticipantID() string { return s.participantID }
func (s *Session) DisplayName() string   { return s.displayName }
func (s *Session) State() State          { return s.state }
func (s *Session) Score() int            { return s.score }
func (s *Session) Answered() int         { return len(s.answers) }
func (s *Session) Evaluation() domain.Evaluation {
	return s.evaluation
}

// Start begins (or restarts) the evaluation, discarding any previous progress.
func (s *Session) Start(eval domain.Evaluation) {
	s.clear()
	s.evaluation = eval
	s.state = InProgress
	s.startTime = s.now()
	s.scoredAt = s.startTime
}

// Reset returns the session to NotStarted.
func (s *Session) Reset() {
	s.clear()
	s.evaluation = domain.Evaluation{}
	s.state = NotStarted
}

func (s *Session) clear() {
	s.currentIndex = 0
	s.answers = make(map[string]Answer)
	s.score = 0
	s.correct = 0
	s.startTime = time.Time{}
	s.finishedAt = time.Time{}
	s.scoredAt = time.Time{}
	s.leaderboard = Leaderboard{}
}

// SubmitAnswer records answer for questionID. Answering the same question again
// replaces the earlier answer and its points.
func (s *Session) SubmitAnswer(questionID, answer string) (Answer, error) {
	if s.state != InProgress {
		return Answer{}, fmt.Errorf("submit %q in state %s: %w", questionID, s.state, domain.ErrNotInProgress)
	}
	q, ok := s.evaluation.Question(questionID)
	if !ok {
		return Answer{}, fmt.Errorf("submit %q: %w", questionID, domain.ErrQuestionNotFound)
	}

	now := s.now()
	a := Answer{
		QuestionID: questionID,
		Answer:     answer,
		IsCorrect:  answer == q.AnswerKey(),
		Timestamp:  now,
	}
	if a.IsCorrect {
		a.PointsEarned = q.Award()
	}

	before := s.score
	if prev, ok := s.answers[questionID]; ok {
		s.score -= prev.PointsEarned
		if prev.IsCorrect {
			s.correct--
		}
	}
	s.answers[questionID] = a
	s.score += a.PointsEarned
	if a.IsCorrect {
		s.correct++
	}
	if s.score != before {
		s.scoredAt = now
	}
	return a, nil
}

// Answers returns a copy of the recorded answers keyed by question ID.
func (s *Session) Answers() map[string]Answer {
	out := make(map[string]Answer, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// CurrentQuestion returns the question at the cursor.
func (s *Session) CurrentQuestion() (domain.Question, bool) {
	if s.currentIndex < 0 || s.currentIndex >= len(s.evaluation.Questions) {
		return domain.Question{}, false
	}
	return s.evaluation.Questions[s.currentIndex], true
}

func (s *Session) CurrentIndex() int { return s.currentIndex }

// NextQuestion moves the cursor forward, stopping at the last question.
func (s *Session) NextQuestion() {
	if s.currentIndex < len(s.evaluation.Questions)-1 {
		s.currentIndex++
	}
}

// PreviousQuestion moves the cursor back, stopping at the first question.
func (s *Session) PreviousQuestion() {
	if s.currentIndex > 0 {
		s.currentIndex--
	}
}

// Finish freezes scoring. Unanswered questions count as zero.
func (s *Session) Finish() {
	if s.state != InProgress {
		return
	}
	s.state = Finished
	s.finishedAt = s.now()
}

// Tick advances the timer and finishes the session once the time limit has
// elapsed. It reports whether this call finished the session.
func (s *Session) Tick(now time.Time) bool {
	if s.state != InProgress || s.evaluation.TimeLimit <= 0 {
		return false
	}
	if now.Sub(s.startTime) < s.evaluation.TimeLimit {
		return false
	}
	s.state = Finished
	s.finishedAt = now
	return true
}

// Remaining is the time left before the limit; zero without a limit or once finished.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s.state != InProgress || s.evaluation.TimeLimit <= 0 {
		return 0
	}
	left := s.evaluation.TimeLimit - now.Sub(s.startTime)
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed is the time spent since Start, frozen once the session finishes.
func (s *Session) Elapsed(now time.Time) time.Duration {
	switch s.state {
	case InProgress:
		return now.Sub(s.startTime)
	case Finished:
		return s.finishedAt.Sub(s.startTime)
	default:
		return 0
	}
}

// Progress is the share of questions answered, as a rounded percentage.
func (s *Session) Progress() int {
	return domain.Percent(len(s.answers), len(s.evaluation.Questions))
}

// Accuracy is the share of answered questions that were correct, as a rounded percentage.
func (s *Session) Accuracy() int {
	return domain.Percent(s.correct, len(s.answers))
}

// SelfEntry builds the participant's own rank entry from local state.
func (s *Session) SelfEntry() domain.RankEntry {
	total := len(s.evaluation.Questions)
	return domain.RankEntry{
		ParticipantID:     s.participantID,
		DisplayName:       s.displayName,
		Score:             s.score,
		TotalQuestions:    total,
		AnsweredQuestions: len(s.answers),
		Accuracy:          domain.Accuracy(s.score, total, s.evaluation.PointsPerQuestion()),
		LastUpdated:       s.scoredAt,
	}
}

// Reconcile merges snapshot into the local leaderboard and returns it.
func (s *Session) Reconcile(snapshot domain.Snapshot) Leaderboard {
	s.leaderboard = Reconcile(s.SelfEntry(), snapshot)
	return s.leaderboard
}

// Leaderboard returns the last reconciled leaderboard.
func (s *Session) Leaderboard() Leaderboard {
	out := s.leaderboard
	out.Entries = append([]LeaderboardEntry(nil), s.leaderboard.Entries...)
	return out
}
