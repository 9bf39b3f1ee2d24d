package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

type WSHandler struct {
	service  *app.QuizService
	hub      *Hub
	upgrader websocket.Upgrader
	validate *validator.Validate
	newID    func() string
}

func NewWSHandler(service *app.QuizService, hub *Hub, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		validate: validator.New(),
		newID:    uuid.NewString,
	}
}

// Inbound envelopes. Each type has one closed payload struct, validated
// before it reaches the quiz service.
type inboundMessage struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload"`
}

type createRoomPayload struct {
	RoomCode   string `json:"roomCode" validate:"required,max=32"`
	MaxPlayers int    `json:"maxPlayers" validate:"gte=0,lte=1000"`
	Flow       string `json:"flow" validate:"omitempty,oneof=auto host-paced"`
}

type joinRoomPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	Name     string `json:"name" validate:"required,max=64"`
}

type questionInput struct {
	Text             string   `json:"text" validate:"required"`
	Options          []string `json:"options" validate:"min=1,dive,required"`
	CorrectOption    string   `json:"correctOption"`
	TimeLimitSeconds int      `json:"timeLimitSeconds" validate:"gte=0,lte=3600"`
	TimeLimit        int      `json:"timeLimit" validate:"gte=0,lte=3600"`
}

type loadQuestionsPayload struct {
	RoomCode  string          `json:"roomCode" validate:"required"`
	SetID     string          `json:"setId"`
	Questions []questionInput `json:"questions" validate:"required_without=SetID,dive"`
}

type roomPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
}

type answerPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	Option   string `json:"option"`
}

type kickPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
}

var errInvalidPayload = errors.New("invalid payload")

// ServeWS upgrades HTTP requests to websockets and wires them into the quiz use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	id := h.newID()
	send := h.hub.Register(id)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(conn, send)
	}()

	log.Debug().Str("conn_id", id).Str("remote", r.RemoteAddr).Msg("connection opened")
	h.hub.Send(id, domain.NewEvent(domain.EventConnected, domain.ConnectedPayload{Identity: id}))

	ctx := r.Context()
	h.readPump(ctx, conn, id)

	h.service.Disconnect(ctx, id)
	h.hub.Unregister(id)
	<-writerDone
	log.Debug().Str("conn_id", id).Msg("connection closed")
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, id string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", id).Msg("ws read error")
			}
			return
		}
		var inbound inboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil || h.validate.Struct(inbound) != nil {
			h.reject(id, errInvalidPayload)
			continue
		}
		if err := h.dispatch(ctx, id, inbound); err != nil {
			h.reject(id, err)
		}
	}
}

// writePump drains the connection queue until the hub closes it.
func writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, id string, msg inboundMessage) error {
	switch msg.Type {
	case "create-room":
		var p createRoomPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := h.service.CreateRoom(ctx, p.RoomCode, id, app.CreateRoomRequest{MaxPlayers: p.MaxPlayers, Flow: p.Flow})
		return err
	case "join-room":
		var p joinRoomPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		return h.service.JoinRoom(ctx, p.RoomCode, id, p.Name)
	case "load-questions":
		var p loadQuestionsPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		if p.SetID != "" {
			return h.service.LoadQuestionSet(ctx, p.RoomCode, id, p.SetID)
		}
		return h.service.LoadQuestions(ctx, p.RoomCode, id, toQuestions(p.Questions))
	case "start-quiz":
		var p roomPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		return h.service.StartQuiz(ctx, p.RoomCode, id)
	case "advance-question":
		var p roomPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		return h.service.AdvanceQuestion(ctx, p.RoomCode, id)
	case "answer":
		var p answerPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		h.service.SubmitAnswer(ctx, p.RoomCode, id, p.Option)
		return nil
	case "kick-player":
		var p kickPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		return h.service.KickPlayer(ctx, p.RoomCode, id, p.TargetID)
	case "end-quiz":
		var p roomPayload
		if err := h.decode(msg.Payload, &p); err != nil {
			return err
		}
		return h.service.EndQuiz(ctx, p.RoomCode, id)
	default:
		return errUnsupported
	}
}

var errUnsupported = errors.New("unsupported message type")

func (h *WSHandler) decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errInvalidPayload
	}
	if err := h.validate.Struct(dst); err != nil {
		return errInvalidPayload
	}
	return nil
}

// reject reports a refused event to its origin. Infrastructure failures are
// logged and reported generically.
func (h *WSHandler) reject(id string, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		h.hub.Send(id, domain.NewEvent(domain.EventRoomFull, domain.ErrorPayload{Message: err.Error()}))
	case domain.IsRejection(err), errors.Is(err, errInvalidPayload), errors.Is(err, errUnsupported):
		h.hub.Send(id, domain.NewEvent(domain.EventRoomError, domain.ErrorPayload{Message: err.Error()}))
	default:
		log.Error().Err(err).Str("conn_id", id).Msg("handle event")
		h.hub.Send(id, domain.NewEvent(domain.EventRoomError, domain.ErrorPayload{Message: "internal error"}))
	}
}

func toQuestions(in []questionInput) []domain.Question {
	out := make([]domain.Question, len(in))
	for i, q := range in {
		limit := q.TimeLimitSeconds
		if limit == 0 {
			limit = q.TimeLimit
		}
		out[i] = domain.Question{
			Text:             q.Text,
			Options:          q.Options,
			CorrectOption:    q.CorrectOption,
			TimeLimitSeconds: limit,
		}
	}
	return out
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
