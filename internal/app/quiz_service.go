package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/timer"
)

// RoomRegistry maps room codes to live sessions (in-memory, Redis-marked, etc).
type RoomRegistry interface {
	// GetOrCreate returns the session for code, building it with create only
	// when none exists. created reports whether create was used.
	GetOrCreate(code string, create func() *Session) (session *Session, created bool)
	Get(code string) (*Session, bool)
	Delete(code string)
	List() []*Session
}

// QuestionRepository loads named question sets (from cache/backing store).
type QuestionRepository interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// Broadcaster is the transport seen from a room. Implementations must not
// block and must not call back into the session; sessions call it while
// holding their lock so events leave in the order they happened.
type Broadcaster interface {
	// Subscribe adds a connection to a room's broadcast group.
	Subscribe(code, id string)
	// Unsubscribe removes a connection from a room's broadcast group.
	Unsubscribe(code, id string)
	// Broadcast delivers an event to every connection in the room.
	Broadcast(code string, evt domain.Event)
	// Send delivers an event to a single connection.
	Send(id string, evt domain.Event)
	// Drop terminates a connection after flushing what was already sent.
	Drop(id string)
	// Connected reports whether a connection is still live.
	Connected(id string) bool
	// CloseRoom discards a room's broadcast group.
	CloseRoom(code string)
}

// Options tune rooms created by the service.
type Options struct {
	DefaultMaxPlayers        int
	DefaultFlow              domain.Flow
	Timings                  Timings
	NotifyPlayersOnHostLeave bool
}

// CreateRoomRequest carries the optional settings of a create-room event.
type CreateRoomRequest struct {
	MaxPlayers int
	Flow       string
}

// QuizService dispatches room events to sessions.
type QuizService struct {
	rooms     RoomRegistry
	questions QuestionRepository
	out       Broadcaster
	clock     timer.Clock
	opts      Options
}

func NewQuizService(rooms RoomRegistry, questions QuestionRepository, out Broadcaster, clock timer.Clock, opts Options) *QuizService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.DefaultMaxPlayers <= 0 {
		opts.DefaultMaxPlayers = domain.DefaultMaxPlayers
	}
	if opts.DefaultFlow == "" {
		opts.DefaultFlow = domain.FlowAuto
	}
	opts.Timings = opts.Timings.withDefaults()
	return &QuizService{
		rooms:     rooms,
		questions: questions,
		out:       out,
		clock:     clock,
		opts:      opts,
	}
}

// CreateRoom creates the room for code with hostID as host. Creating an
// existing code changes nothing and re-announces the room to the issuer.
// Codes are used verbatim; see domain.ValidRoomCode.
func (s *QuizService) CreateRoom(_ context.Context, code, hostID string, req CreateRoomRequest) (Snapshot, error) {
	if !domain.ValidRoomCode(code) {
		return Snapshot{}, domain.ErrInvalidRoomCode
	}
	maxPlayers := req.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = s.opts.DefaultMaxPlayers
	}

	session, created := s.rooms.GetOrCreate(code, func() *Session {
		return NewSession(SessionConfig{
			Code:                     code,
			HostID:                   hostID,
			MaxPlayers:               maxPlayers,
			Flow:                     domain.ParseFlow(req.Flow, s.opts.DefaultFlow),
			Timings:                  s.opts.Timings,
			NotifyPlayersOnHostLeave: s.opts.NotifyPlayersOnHostLeave,
		}, s.clock, s.out, s.rooms.Delete)
	})

	if created {
		log.Info().
			Str("room", code).
			Str("host_id", hostID).
			Int("max_players", session.MaxPlayers()).
			Str("flow", string(session.Flow())).
			Msg("room created")
	} else {
		log.Debug().Str("room", code).Str("issuer", hostID).Msg("room already exists, create is a no-op")
	}
	if session.HostID() == hostID {
		s.out.Subscribe(code, hostID)
	}

	s.out.Send(hostID, domain.NewEvent(domain.EventRoomCreated, domain.RoomCreatedPayload{
		RoomCode:   session.Code(),
		MaxPlayers: session.MaxPlayers(),
		Flow:       session.Flow(),
	}))
	return session.Snapshot(), nil
}

// JoinRoom adds a player. Unlike other events, an unknown room is reported
// back to the caller.
func (s *QuizService) JoinRoom(_ context.Context, code, id, name string) error {
	session, ok := s.rooms.Get(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return session.join(id, name)
}

// LoadQuestions replaces the room's question set before the quiz starts.
func (s *QuizService) LoadQuestions(_ context.Context, code, issuer string, questions []domain.Question) error {
	session, ok := s.rooms.Get(code)
	if !ok {
		return nil
	}
	return session.loadQuestions(issuer, questions)
}

// LoadQuestionSet loads a named question set into the room.
func (s *QuizService) LoadQuestionSet(ctx context.Context, code, issuer, setID string) error {
	session, ok := s.rooms.Get(code)
	if !ok {
		return nil
	}
	if session.HostID() != issuer {
		return domain.ErrNotHost
	}
	if s.questions == nil {
		return domain.ErrQuestionSetNotFound
	}

	set, err := s.questions.GetQuestionSet(ctx, setID)
	if err != nil {
		if errors.Is(err, domain.ErrQuestionSetNotFound) {
			return err
		}
		return fmt.Errorf("load question set %s: %w", setID, err)
	}
	return session.loadQuestions(issuer, set.Questions)
}

// StartQuiz begins the quiz. Auto-paced rooms deliver the first question
// immediately; host-paced rooms wait for AdvanceQuestion.
func (s *QuizService) StartQuiz(_ context.Context, code, issuer string) error {
	session, ok := s.rooms.Get(code)
	if !ok {
		return nil
	}
	return session.start(issuer)
}

// AdvanceQuestion begins the next question of a host-paced quiz.
func (s *QuizService) AdvanceQuestion(_ context.Context, code, issuer string) error {
	session, ok := s.rooms.Get(code)
	if !ok {
		return nil
	}
	return session.advance(issuer)
}

// SubmitAnswer records a player's answer to the active question. Submissions
// that cannot count (unknown room, no active question, repeated answer) are
// dropped silently.
func (s *QuizService) SubmitAnswer(_ context.Context, code, id, option string) {
	session, ok := s.rooms.Get(code)
	if !ok {
		return
	}
	session.answer(id, option)
}

// KickPlayer removes a player on the host's behalf.
func (s *QuizService) KickPlayer(_ context.Context, code, issuer, target string) error {
	session, ok := s.rooms.Get(code)
	if !ok {
		return nil
	}
	return session.kick(issuer, target)
}

// EndQuiz ends the quiz immediately regardless of phase.
func (s *QuizService) EndQuiz(_ context.Context, code, issuer string) error {
	session, ok := s.rooms.Get(code)
	if !ok {
		return nil
	}
	return session.end(issuer)
}

// Disconnect resolves a lost connection against every room it belongs to.
func (s *QuizService) Disconnect(_ context.Context, id string) {
	for _, session := range s.rooms.List() {
		session.disconnect(id)
	}
}

// Room returns a snapshot of a live room.
func (s *QuizService) Room(code string) (Snapshot, bool) {
	session, ok := s.rooms.Get(code)
	if !ok {
		return Snapshot{}, false
	}
	return session.Snapshot(), true
}
