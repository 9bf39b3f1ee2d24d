package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code has no live session.
	ErrRoomNotFound = errors.New("room does not exist")
	// ErrInvalidRoomCode is returned when a room code is blank, too long or
	// contains characters other than letters, digits, '-' and '_'.
	ErrInvalidRoomCode = errors.New("room code must be 1-32 letters, digits, '-' or '_'")
	// ErrRoomFull is returned when a join would exceed the room's maxPlayers.
	ErrRoomFull = errors.New("room is full")
	// ErrDuplicateName indicates another player already holds the display name.
	ErrDuplicateName = errors.New("name already taken in this room")
	// ErrInvalidName indicates the display name is blank after trimming.
	ErrInvalidName = errors.New("name must not be empty")
	// ErrHostCannotJoin is returned when the host tries to take a player slot.
	ErrHostCannotJoin = errors.New("host cannot join as a player")
	// ErrNotHost is returned when a host-only event comes from another connection.
	ErrNotHost = errors.New("only the host can do that")
	// ErrNoQuestions is returned when starting a quiz without questions.
	ErrNoQuestions = errors.New("no questions loaded")
	// ErrQuizInProgress is returned for lobby-only events after the quiz started.
	ErrQuizInProgress = errors.New("quiz already started")
	// ErrNotReady is returned when the host advances while a question is still running.
	ErrNotReady = errors.New("not ready for the next question")
	// ErrQuestionSetNotFound indicates a named question set could not be loaded.
	ErrQuestionSetNotFound = errors.New("question set not found")
)

var rejections = []error{
	ErrRoomNotFound,
	ErrInvalidRoomCode,
	ErrRoomFull,
	ErrDuplicateName,
	ErrInvalidName,
	ErrHostCannotJoin,
	ErrNotHost,
	ErrNoQuestions,
	ErrQuizInProgress,
	ErrNotReady,
	ErrQuestionSetNotFound,
}

// IsRejection reports whether err is a user-facing rejection that should be
// reported to the originating connection rather than logged as a failure.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
