package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// DefaultSubjectPrefix roots every mirrored subject.
const DefaultSubjectPrefix = "quiz.rooms"

// Publisher is the slice of *nats.Conn the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect dials NATS with reconnect handlers that log through zerolog.
func Connect(cfg Config) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}

	opts := []nats.Option{
		nats.Name("quiz-room-service"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Envelope is the message body published for a mirrored event.
type Envelope struct {
	EventID   string           `json:"eventId"`
	EventType domain.EventType `json:"eventType"`
	RoomCode  string           `json:"roomCode"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

// Mirror decorates an app.Broadcaster and copies room lifecycle events
// (room-created, quiz-started, quiz-end) to NATS subjects
// {prefix}.{roomCode}.{eventType}. Publishing is fire-and-forget; a failed
// publish is logged and never reaches the room.
type Mirror struct {
	app.Broadcaster

	pub    Publisher
	prefix string
	now    func() time.Time
}

func NewMirror(next app.Broadcaster, pub Publisher, prefix string) *Mirror {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Mirror{
		Broadcaster: next,
		pub:         pub,
		prefix:      prefix,
		now:         time.Now,
	}
}

func (m *Mirror) Broadcast(code string, evt domain.Event) {
	m.Broadcaster.Broadcast(code, evt)
	if evt.Type == domain.EventQuizStarted || evt.Type == domain.EventQuizEnd {
		m.publish(code, evt)
	}
}

// Send forwards room-created, which only ever goes to the host directly.
func (m *Mirror) Send(id string, evt domain.Event) {
	m.Broadcaster.Send(id, evt)
	if evt.Type != domain.EventRoomCreated {
		return
	}
	if payload, ok := evt.Payload.(domain.RoomCreatedPayload); ok {
		m.publish(payload.RoomCode, evt)
	}
}

// Subject returns the subject an event of a room is mirrored to. The room
// code always occupies exactly one token.
func (m *Mirror) Subject(code string, eventType domain.EventType) string {
	return fmt.Sprintf("%s.%s.%s", m.prefix, subjectToken(code), eventType)
}

// subjectToken maps a room code to a single literal subject token: anything
// other than ASCII letters, digits, '-' and '_' becomes '_'.
func subjectToken(code string) string {
	if code == "" {
		return "_"
	}
	token := []byte(code)
	for i, c := range token {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			token[i] = '_'
		}
	}
	return string(token)
}

func (m *Mirror) publish(code string, evt domain.Event) {
	data, err := json.Marshal(Envelope{
		EventID:   uuid.NewString(),
		EventType: evt.Type,
		RoomCode:  code,
		Timestamp: m.now().UTC(),
		Payload:   evt.Payload,
	})
	if err != nil {
		log.Error().Err(err).Str("room", code).Str("event", string(evt.Type)).Msg("marshal mirrored event")
		return
	}
	if err := m.pub.Publish(m.Subject(code, evt.Type), data); err != nil {
		log.Warn().Err(err).Str("room", code).Str("event", string(evt.Type)).Msg("publish mirrored event")
	}
}
