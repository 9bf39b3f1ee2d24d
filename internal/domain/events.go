package domain

// EventType names an outbound event delivered to clients.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventRoomCreated      EventType = "room-created"
	EventRoomError        EventType = "room-error"
	EventRoomFull         EventType = "room-full"
	EventLobbyUpdate      EventType = "lobby-update"
	EventQuestionsLoaded  EventType = "questions-loaded"
	EventQuizStarted      EventType = "quiz-started"
	EventQuestion         EventType = "question"
	EventTimeLeft         EventType = "time-left"
	EventAnswerResult     EventType = "answer-result"
	EventQuestionLocked   EventType = "question-locked"
	EventQuestionEnded    EventType = "question-ended"
	EventAwaitingAdvance  EventType = "awaiting-advance"
	EventFinalLeaderboard EventType = "final-leaderboard"
	EventQuizEnd          EventType = "quiz-end"
	EventKicked           EventType = "kicked"
)

// Event is an outbound message: a type tag plus one of the payloads below.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// NewEvent pairs a type with its payload.
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Payload: payload}
}

type ConnectedPayload struct {
	Identity string `json:"identity"`
}

type RoomCreatedPayload struct {
	RoomCode   string `json:"roomCode"`
	MaxPlayers int    `json:"maxPlayers"`
	Flow       Flow   `json:"flow"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// LobbyPlayer is the roster view of a player.
type LobbyPlayer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type LobbyUpdatePayload struct {
	Players    []LobbyPlayer `json:"players"`
	MaxPlayers int           `json:"maxPlayers"`
}

type QuestionsLoadedPayload struct {
	Count int `json:"count"`
}

type QuizStartedPayload struct {
	TotalQuestions int  `json:"totalQuestions"`
	Flow           Flow `json:"flow"`
}

// QuestionPayload carries a question without its correct option.
type QuestionPayload struct {
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	Text      string   `json:"text"`
	Options   []string `json:"options"`
	TimeLimit int      `json:"timeLimit"`
}

type TimeLeftPayload struct {
	SecondsRemaining int `json:"secondsRemaining"`
}

type AnswerResultPayload struct {
	Index      int  `json:"index"`
	Correct    bool `json:"correct"`
	Awarded    int  `json:"awarded"`
	TotalScore int  `json:"totalScore"`
}

type QuestionLockedPayload struct {
	Index         int    `json:"index"`
	CorrectOption string `json:"correctOption"`
}

type LeaderboardPayload struct {
	Index   int                `json:"index"`
	Players []LeaderboardEntry `json:"players"`
}

type AwaitingAdvancePayload struct {
	NextIndex int `json:"nextIndex"`
}

type FinalLeaderboardPayload struct {
	Players []LeaderboardEntry `json:"players"`
}

// Quiz end reasons.
const (
	EndCompleted = "completed"
	EndByHost    = "ended-by-host"
	EndHostLeft  = "host-left"
)

type QuizEndPayload struct {
	Reason string `json:"reason"`
}

type KickedPayload struct {
	RoomCode string `json:"roomCode"`
}
