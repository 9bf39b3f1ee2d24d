package app

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/scoring"
	"quiz-room-service/internal/timer"
)

// Timings are the fixed pauses between phases.
type Timings struct {
	// RevealDelay is how long the correct option shows before the leaderboard.
	RevealDelay time.Duration
	// InterQuestionDelay separates a leaderboard from the next question.
	InterQuestionDelay time.Duration
	// FinalDelay separates the last leaderboard from the end of the quiz.
	FinalDelay time.Duration
	// TickInterval paces time-left broadcasts.
	TickInterval time.Duration
}

// DefaultTimings returns the standard phase pauses.
func DefaultTimings() Timings {
	return Timings{
		RevealDelay:        2500 * time.Millisecond,
		InterQuestionDelay: 5 * time.Second,
		FinalDelay:         8 * time.Second,
		TickInterval:       time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	def := DefaultTimings()
	if t.RevealDelay <= 0 {
		t.RevealDelay = def.RevealDelay
	}
	if t.InterQuestionDelay <= 0 {
		t.InterQuestionDelay = def.InterQuestionDelay
	}
	if t.FinalDelay <= 0 {
		t.FinalDelay = def.FinalDelay
	}
	if t.TickInterval <= 0 {
		t.TickInterval = def.TickInterval
	}
	return t
}

// SessionConfig fixes a room's settings at creation.
type SessionConfig struct {
	Code                     string
	HostID                   string
	MaxPlayers               int
	Flow                     domain.Flow
	Timings                  Timings
	NotifyPlayersOnHostLeave bool
}

// Session is the state machine of one room. Every event handler and timer
// callback runs under mu, so a room has a single writer at a time and events
// apply in arrival order.
type Session struct {
	code              string
	hostID            string
	maxPlayers        int
	flow              domain.Flow
	timings           Timings
	notifyOnHostLeave bool

	clock   timer.Clock
	timers  *timer.Set
	out     Broadcaster
	onClose func(code string)

	mu            sync.Mutex
	players       []*domain.Player // join order
	questions     []domain.Question
	currentIndex  int
	phase         domain.Phase
	started       bool
	questionStart time.Time
	firstCorrect  bool
	answered      map[string]struct{}
	// epoch changes whenever pending timers are superseded; callbacks armed
	// in an older epoch are dropped.
	epoch  uint64
	closed bool
}

// NewSession builds a room in the lobby phase. onClose runs once, under the
// session lock, when the room reaches a terminal state.
func NewSession(cfg SessionConfig, clock timer.Clock, out Broadcaster, onClose func(code string)) *Session {
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = domain.DefaultMaxPlayers
	}
	if cfg.Flow == "" {
		cfg.Flow = domain.FlowAuto
	}
	if onClose == nil {
		onClose = func(string) {}
	}
	timers := timer.NewSet(clock)
	return &Session{
		code:              cfg.Code,
		hostID:            cfg.HostID,
		maxPlayers:        cfg.MaxPlayers,
		flow:              cfg.Flow,
		timings:           cfg.Timings.withDefaults(),
		notifyOnHostLeave: cfg.NotifyPlayersOnHostLeave,
		clock:             timers.Clock(),
		timers:            timers,
		out:               out,
		onClose:           onClose,
		phase:             domain.PhaseLobby,
		answered:          make(map[string]struct{}),
	}
}

// Code returns the room code.
func (s *Session) Code() string { return s.code }

// HostID returns the identity of the host connection.
func (s *Session) HostID() string { return s.hostID }

// MaxPlayers returns the fixed player cap.
func (s *Session) MaxPlayers() int { return s.maxPlayers }

// Flow returns the pacing mode chosen at creation.
func (s *Session) Flow() domain.Flow { return s.flow }

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Code           string
	HostID         string
	Phase          domain.Phase
	Flow           domain.Flow
	MaxPlayers     int
	Started        bool
	Closed         bool
	CurrentIndex   int
	TotalQuestions int
	Players        []domain.Player
	Answered       []string
	PendingTimers  int
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]domain.Player, len(s.players))
	for i, p := range s.players {
		players[i] = *p
	}
	answered := make([]string, 0, len(s.answered))
	for id := range s.answered {
		answered = append(answered, id)
	}
	sort.Strings(answered)

	return Snapshot{
		Code:           s.code,
		HostID:         s.hostID,
		Phase:          s.phase,
		Flow:           s.flow,
		MaxPlayers:     s.maxPlayers,
		Started:        s.started,
		Closed:         s.closed,
		CurrentIndex:   s.currentIndex,
		TotalQuestions: len(s.questions),
		Players:        players,
		Answered:       answered,
		PendingTimers:  s.timers.Active(),
	}
}

func (s *Session) join(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrRoomNotFound
	}
	if id == s.hostID {
		return domain.ErrHostCannotJoin
	}
	if s.phase != domain.PhaseLobby {
		return domain.ErrQuizInProgress
	}
	normalized := domain.NormalizeName(name)
	if normalized == "" {
		return domain.ErrInvalidName
	}

	s.pruneLocked()

	if s.indexOfLocked(id) >= 0 {
		s.broadcastLobbyLocked()
		return nil
	}
	if len(s.players) >= s.maxPlayers {
		return domain.ErrRoomFull
	}
	for _, p := range s.players {
		if domain.NormalizeName(p.Name) == normalized {
			return domain.ErrDuplicateName
		}
	}

	s.players = append(s.players, &domain.Player{
		ID:       id,
		Name:     strings.TrimSpace(name),
		JoinedAt: s.clock.Now(),
	})
	s.out.Subscribe(s.code, id)
	s.broadcastLobbyLocked()

	log.Debug().
		Str("room", s.code).
		Str("player_id", id).
		Int("players", len(s.players)).
		Msg("player joined")
	return nil
}

// pruneLocked drops players whose connection is gone.
func (s *Session) pruneLocked() {
	kept := s.players[:0]
	for _, p := range s.players {
		if s.out.Connected(p.ID) {
			kept = append(kept, p)
			continue
		}
		delete(s.answered, p.ID)
		log.Debug().Str("room", s.code).Str("player_id", p.ID).Msg("pruned stale player")
	}
	for i := len(kept); i < len(s.players); i++ {
		s.players[i] = nil
	}
	s.players = kept
}

func (s *Session) loadQuestions(issuer string, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if issuer != s.hostID {
		return domain.ErrNotHost
	}
	if s.started {
		return domain.ErrQuizInProgress
	}

	s.questions = domain.NormalizeQuestions(questions)
	s.out.Send(s.hostID, domain.NewEvent(domain.EventQuestionsLoaded, domain.QuestionsLoadedPayload{
		Count: len(s.questions),
	}))
	log.Debug().Str("room", s.code).Int("questions", len(s.questions)).Msg("questions loaded")
	return nil
}

func (s *Session) start(issuer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if issuer != s.hostID {
		return domain.ErrNotHost
	}
	if s.started {
		return domain.ErrQuizInProgress
	}
	if len(s.questions) == 0 {
		return domain.ErrNoQuestions
	}

	s.started = true
	s.currentIndex = 0
	s.broadcastLocked(domain.NewEvent(domain.EventQuizStarted, domain.QuizStartedPayload{
		TotalQuestions: len(s.questions),
		Flow:           s.flow,
	}))
	log.Info().Str("room", s.code).Str("flow", string(s.flow)).Int("questions", len(s.questions)).Msg("quiz started")

	if s.flow == domain.FlowHostPaced {
		s.awaitAdvanceLocked()
		return nil
	}
	s.beginQuestionLocked()
	return nil
}

func (s *Session) advance(issuer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if issuer != s.hostID {
		return domain.ErrNotHost
	}
	if s.phase != domain.PhaseAwaitingAdvance {
		return domain.ErrNotReady
	}
	s.beginQuestionLocked()
	return nil
}

func (s *Session) awaitAdvanceLocked() {
	s.phase = domain.PhaseAwaitingAdvance
	s.broadcastLocked(domain.NewEvent(domain.EventAwaitingAdvance, domain.AwaitingAdvancePayload{
		NextIndex: s.currentIndex,
	}))
}

// beginQuestionLocked enters question-active for currentIndex.
func (s *Session) beginQuestionLocked() {
	s.supersedeLocked()

	q := s.questions[s.currentIndex]
	s.phase = domain.PhaseQuestionActive
	s.answered = make(map[string]struct{})
	s.firstCorrect = false
	s.questionStart = s.clock.Now()

	s.everyLocked(s.timings.TickInterval, s.tickLocked)
	s.afterLocked(q.TimeLimit(), s.lockLocked)

	s.broadcastLocked(domain.NewEvent(domain.EventQuestion, domain.QuestionPayload{
		Index:     s.currentIndex,
		Total:     len(s.questions),
		Text:      q.Text,
		Options:   q.Options,
		TimeLimit: q.TimeLimitSeconds,
	}))
	log.Debug().Str("room", s.code).Int("index", s.currentIndex).Msg("question started")
}

func (s *Session) tickLocked() {
	if s.phase != domain.PhaseQuestionActive {
		return
	}
	q := s.questions[s.currentIndex]
	remaining := scoring.Remaining(s.questionStart, s.clock.Now(), q.TimeLimit())
	s.broadcastLocked(domain.NewEvent(domain.EventTimeLeft, domain.TimeLeftPayload{
		SecondsRemaining: int(remaining.Round(time.Second) / time.Second),
	}))
}

func (s *Session) answer(id, option string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.phase != domain.PhaseQuestionActive {
		return
	}
	idx := s.indexOfLocked(id)
	if idx < 0 || s.currentIndex >= len(s.questions) {
		return
	}
	if _, done := s.answered[id]; done {
		return
	}
	s.answered[id] = struct{}{}

	player := s.players[idx]
	q := s.questions[s.currentIndex]
	correct := q.Matches(option)
	awarded := 0
	if correct {
		remaining := scoring.Remaining(s.questionStart, s.clock.Now(), q.TimeLimit())
		awarded = scoring.Points(!s.firstCorrect, remaining, q.TimeLimit())
		s.firstCorrect = true
		player.Score += awarded
	}

	s.out.Send(id, domain.NewEvent(domain.EventAnswerResult, domain.AnswerResultPayload{
		Index:      s.currentIndex,
		Correct:    correct,
		Awarded:    awarded,
		TotalScore: player.Score,
	}))
	log.Debug().
		Str("room", s.code).
		Str("player_id", id).
		Bool("correct", correct).
		Int("awarded", awarded).
		Msg("answer recorded")

	if len(s.answered) == len(s.players) {
		s.lockLocked()
	}
}

// lockLocked moves question-active to question-locked. Both the all-answered
// path and the deadline timer call it; whichever runs second finds the phase
// already moved on and does nothing.
func (s *Session) lockLocked() {
	if s.phase != domain.PhaseQuestionActive {
		return
	}
	s.supersedeLocked()
	s.phase = domain.PhaseQuestionLocked

	q := s.questions[s.currentIndex]
	correct := ""
	if q.Answerable() {
		correct = q.CorrectOption
	}
	s.afterLocked(s.timings.RevealDelay, s.revealLocked)

	s.broadcastLocked(domain.NewEvent(domain.EventQuestionLocked, domain.QuestionLockedPayload{
		Index:         s.currentIndex,
		CorrectOption: correct,
	}))
	log.Debug().Str("room", s.code).Int("index", s.currentIndex).Int("answered", len(s.answered)).Msg("question locked")
}

// revealLocked publishes the leaderboard after the reveal pause and moves on.
func (s *Session) revealLocked() {
	if s.phase != domain.PhaseQuestionLocked {
		return
	}
	index := s.currentIndex
	board := rankPlayers(s.players, 0)
	s.currentIndex++

	if s.currentIndex >= len(s.questions) {
		s.afterLocked(s.timings.FinalDelay, func() { s.finishLocked(domain.EndCompleted) })
	} else {
		s.afterLocked(s.timings.InterQuestionDelay, s.nextLocked)
	}

	s.broadcastLocked(domain.NewEvent(domain.EventQuestionEnded, domain.LeaderboardPayload{
		Index:   index,
		Players: board,
	}))
}

func (s *Session) nextLocked() {
	if s.phase != domain.PhaseQuestionLocked {
		return
	}
	if s.flow == domain.FlowHostPaced {
		s.awaitAdvanceLocked()
		return
	}
	s.beginQuestionLocked()
}

func (s *Session) kick(issuer, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if issuer != s.hostID {
		return domain.ErrNotHost
	}
	if !s.removeLocked(target) {
		return nil
	}

	s.broadcastLobbyLocked()
	s.out.Send(target, domain.NewEvent(domain.EventKicked, domain.KickedPayload{RoomCode: s.code}))
	s.out.Drop(target)
	log.Info().Str("room", s.code).Str("player_id", target).Msg("player kicked")
	return nil
}

func (s *Session) end(issuer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if issuer != s.hostID {
		return domain.ErrNotHost
	}
	s.finishLocked(domain.EndByHost)
	return nil
}

// disconnect handles a lost connection. Removing a player never locks the
// current question, even when everyone left has already answered; the
// deadline resolves it.
func (s *Session) disconnect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if id == s.hostID {
		if s.notifyOnHostLeave {
			s.broadcastLocked(domain.NewEvent(domain.EventQuizEnd, domain.QuizEndPayload{Reason: domain.EndHostLeft}))
		}
		s.supersedeLocked()
		s.phase = domain.PhaseFinished
		s.closeLocked()
		log.Info().Str("room", s.code).Msg("host disconnected, room closed")
		return
	}
	if s.removeLocked(id) {
		s.broadcastLobbyLocked()
		log.Debug().Str("room", s.code).Str("player_id", id).Msg("player disconnected")
	}
}

// finishLocked broadcasts the final standings and tears the room down.
func (s *Session) finishLocked(reason string) {
	if s.closed {
		return
	}
	s.supersedeLocked()
	s.phase = domain.PhaseFinished

	s.broadcastLocked(domain.NewEvent(domain.EventFinalLeaderboard, domain.FinalLeaderboardPayload{
		Players: rankPlayers(s.players, domain.FinalLeaderboardSize),
	}))
	s.broadcastLocked(domain.NewEvent(domain.EventQuizEnd, domain.QuizEndPayload{Reason: reason}))
	s.closeLocked()
	log.Info().Str("room", s.code).Str("reason", reason).Msg("quiz finished")
}

func (s *Session) closeLocked() {
	s.closed = true
	s.out.CloseRoom(s.code)
	s.onClose(s.code)
}

func (s *Session) removeLocked(id string) bool {
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return false
	}
	copy(s.players[idx:], s.players[idx+1:])
	s.players[len(s.players)-1] = nil
	s.players = s.players[:len(s.players)-1]
	delete(s.answered, id)
	s.out.Unsubscribe(s.code, id)
	return true
}

func (s *Session) indexOfLocked(id string) int {
	for i, p := range s.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// supersedeLocked cancels every pending timer of the room.
func (s *Session) supersedeLocked() {
	s.epoch++
	s.timers.CancelAll()
}

// afterLocked arms a one-shot that runs fn under the session lock, provided
// the room is still open and no transition superseded it.
func (s *Session) afterLocked(d time.Duration, fn func()) {
	epoch := s.epoch
	s.timers.After(d, func() { s.runTimer(epoch, fn) })
}

func (s *Session) everyLocked(d time.Duration, fn func()) {
	epoch := s.epoch
	s.timers.Every(d, func() { s.runTimer(epoch, fn) })
}

func (s *Session) runTimer(epoch uint64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		return
	}
	fn()
}

func (s *Session) broadcastLocked(evt domain.Event) {
	s.out.Broadcast(s.code, evt)
}

func (s *Session) broadcastLobbyLocked() {
	players := make([]domain.LobbyPlayer, len(s.players))
	for i, p := range s.players {
		players[i] = domain.LobbyPlayer{ID: p.ID, Name: p.Name, Score: p.Score}
	}
	s.broadcastLocked(domain.NewEvent(domain.EventLobbyUpdate, domain.LobbyUpdatePayload{
		Players:    players,
		MaxPlayers: s.maxPlayers,
	}))
}
