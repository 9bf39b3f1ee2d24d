package domain

import (
	"strings"
	"time"
)

const (
	// DefaultMaxPlayers applies when a room is created without a player cap.
	DefaultMaxPlayers = 10
	// DefaultTimeLimitSeconds applies to questions ingested without a time limit.
	DefaultTimeLimitSeconds = 20
	// MaxTimeLimitSeconds caps a question's answer window.
	MaxTimeLimitSeconds = 3600
	// MaxRoomCodeLength caps the length of a room code.
	MaxRoomCodeLength = 32
	// FinalLeaderboardSize is how many players the final leaderboard carries.
	FinalLeaderboardSize = 5
	// NoCorrectOption marks a question without a correct answer; Matches never
	// accepts a submission against it.
	NoCorrectOption = "\x00"
)

// Phase is the current stage of a room's state machine.
type Phase string

const (
	PhaseLobby           Phase = "lobby"
	PhaseAwaitingAdvance Phase = "awaiting-advance"
	PhaseQuestionActive  Phase = "question-active"
	PhaseQuestionLocked  Phase = "question-locked"
	PhaseFinished        Phase = "finished"
)

// Flow selects who drives question pacing once a quiz has started.
type Flow string

const (
	// FlowAuto delivers questions back-to-back on the room's own timers.
	FlowAuto Flow = "auto"
	// FlowHostPaced waits for the host to advance before each question.
	FlowHostPaced Flow = "host-paced"
)

// ParseFlow maps a raw flow name to a Flow, falling back when unknown.
func ParseFlow(raw string, fallback Flow) Flow {
	switch Flow(strings.ToLower(strings.TrimSpace(raw))) {
	case FlowAuto:
		return FlowAuto
	case FlowHostPaced:
		return FlowHostPaced
	default:
		return fallback
	}
}

// Player is a participant in a room and their accumulated score.
type Player struct {
	ID       string
	Name     string
	Score    int
	JoinedAt time.Time
}

// Question is a timed multiple-choice question. CorrectOption is never
// serialized so question payloads can be built from it directly.
type Question struct {
	Text             string   `json:"text"`
	Options          []string `json:"options"`
	CorrectOption    string   `json:"-"`
	TimeLimitSeconds int      `json:"timeLimit"`
}

// TimeLimit returns the question's answer window.
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// Answerable reports whether any submission can match the correct option.
func (q Question) Answerable() bool {
	return q.CorrectOption != NoCorrectOption
}

// Matches reports whether a submitted option is the correct one.
func (q Question) Matches(option string) bool {
	if !q.Answerable() {
		return false
	}
	return NormalizeOption(option) == NormalizeOption(q.CorrectOption)
}

// QuestionSet is a named, reusable list of questions.
type QuestionSet struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// StoredQuestion is the persisted form of a Question; unlike the wire form it
// keeps the correct option.
type StoredQuestion struct {
	Text             string   `json:"text"`
	Options          []string `json:"options"`
	CorrectOption    string   `json:"correctOption"`
	TimeLimitSeconds int      `json:"timeLimit"`
}

// StoredQuestionSet is the persisted form of a QuestionSet.
type StoredQuestionSet struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Questions []StoredQuestion `json:"questions"`
}

// Store converts a set to its persisted form.
func (s QuestionSet) Store() StoredQuestionSet {
	out := StoredQuestionSet{ID: s.ID, Title: s.Title, Questions: make([]StoredQuestion, len(s.Questions))}
	for i, q := range s.Questions {
		out.Questions[i] = StoredQuestion(q)
	}
	return out
}

// QuestionSet converts a persisted set back to its domain form.
func (s StoredQuestionSet) QuestionSet() QuestionSet {
	out := QuestionSet{ID: s.ID, Title: s.Title, Questions: make([]Question, len(s.Questions))}
	for i, q := range s.Questions {
		out.Questions[i] = Question(q)
	}
	return out
}

// LeaderboardEntry is one ranked player.
type LeaderboardEntry struct {
	Rank  int    `json:"rank"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// NormalizeName folds a display name for uniqueness checks.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeOption folds an answer option for comparison.
func NormalizeOption(option string) string {
	return strings.ToLower(strings.TrimSpace(option))
}

// ValidRoomCode reports whether code can key a room: 1 to MaxRoomCodeLength
// ASCII letters, digits, '-' or '_'. Codes are used verbatim in Redis keys and
// NATS subjects, so separators, wildcards and whitespace are refused.
func ValidRoomCode(code string) bool {
	if code == "" || len(code) > MaxRoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// NormalizeQuestions copies questions into their immutable, ingested form:
// correct options are trimmed (blank becomes NoCorrectOption) and missing time
// limits get the default. Limits above MaxTimeLimitSeconds are capped.
func NormalizeQuestions(questions []Question) []Question {
	out := make([]Question, len(questions))
	for i, q := range questions {
		options := make([]string, len(q.Options))
		copy(options, q.Options)

		correct := strings.TrimSpace(q.CorrectOption)
		if correct == "" {
			correct = NoCorrectOption
		}
		limit := q.TimeLimitSeconds
		if limit <= 0 {
			limit = DefaultTimeLimitSeconds
		}
		if limit > MaxTimeLimitSeconds {
			limit = MaxTimeLimitSeconds
		}
		out[i] = Question{
			Text:             q.Text,
			Options:          options,
			CorrectOption:    correct,
			TimeLimitSeconds: limit,
		}
	}
	return out
}
