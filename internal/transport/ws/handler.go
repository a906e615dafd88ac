// Package ws bridges WebSocket connections to room actors. Each connection
// runs two goroutines: the HTTP handler goroutine reads client messages and
// a writer goroutine drains the room's subscriber queue into the socket.
package ws

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"meme-hunt-server/internal/config"
	"meme-hunt-server/internal/game/room"
	"meme-hunt-server/internal/game/verify"
)

const writeTimeout = 5 * time.Second

// Inbound message types.
const (
	msgJoin           = "join"
	msgCaptureAttempt = "captureAttempt"
	msgLeaderboard    = "requestLeaderboard"
	msgPing           = "ping"
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinRequest struct {
	Identity   string `json:"identity"`
	SessionKey string `json:"sessionKey"`
}

type captureRequest struct {
	KindID    int     `json:"kindId"`
	NetSizeID int     `json:"netSizeId"`
	Nonce     uint64  `json:"nonce"`
	Signature string  `json:"signature"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Handler upgrades connections on /ws/{id} and relays traffic for one room.
type Handler struct {
	registry *room.Registry
	cfg      config.GameConfig
}

// NewHandler creates a WebSocket handler over the room registry.
func NewHandler(registry *room.Registry, cfg config.GameConfig) *Handler {
	return &Handler{registry: registry, cfg: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	status, err := h.registry.Status(roomID)
	if err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if status.Terminal() {
		http.Error(w, "room is over", http.StatusGone)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("WebSocket accept failed")
		return
	}

	h.serve(r.Context(), conn, roomID)
}

// session is the per-connection state accumulated after a successful join.
type session struct {
	connID     string
	identity   string
	sessionKey []byte
	room       *room.Room
	sub        *room.Subscriber
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, roomID string) {
	var sess *session
	defer func() {
		if sess != nil {
			sess.room.Leave(sess.connID)
			sess.sub.Close()
			log.Info().Str("room", roomID).Str("identity", sess.identity).Msg("Player disconnected")
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Str("room", roomID).Msg("WebSocket read ended")
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(ctx, conn, "malformed message")
			continue
		}

		switch msg.Type {
		case msgJoin:
			if sess != nil {
				h.sendError(ctx, conn, "already joined")
				continue
			}
			s, err := h.handleJoin(ctx, conn, roomID, msg.Data)
			if err != nil {
				h.sendError(ctx, conn, err.Error())
				continue
			}
			sess = s

		case msgCaptureAttempt:
			if sess == nil {
				h.sendError(ctx, conn, "join first")
				continue
			}
			h.handleCapture(ctx, conn, sess, msg.Data)

		case msgLeaderboard:
			if sess == nil {
				h.sendError(ctx, conn, "join first")
				continue
			}
			h.send(ctx, conn, room.EventLeaderboard, sess.room.Leaderboard())

		case msgPing:
			// Keepalive; the read itself refreshes any idle deadline upstream.

		default:
			h.sendError(ctx, conn, "unknown message type")
		}
	}
}

func (h *Handler) handleJoin(ctx context.Context, conn *websocket.Conn, roomID string, data json.RawMessage) (*session, error) {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.New("malformed join")
	}
	if req.Identity == "" {
		return nil, errors.New("identity required")
	}
	sessionKey, err := hex.DecodeString(req.SessionKey)
	if err != nil {
		return nil, errors.New("malformed session key")
	}

	rm, err := h.registry.Get(roomID)
	if err != nil {
		return nil, err
	}

	connID := uuid.NewString()
	sub := room.NewSubscriber(h.cfg.SubscriberBuffer)
	player, state, err := rm.Join(connID, req.Identity, sub)
	if err != nil {
		sub.Close()
		return nil, err
	}

	h.send(ctx, conn, room.EventRoomState, state)
	go h.writeLoop(ctx, conn, sub)

	log.Info().
		Str("room", roomID).
		Str("identity", req.Identity).
		Str("nickname", player.Nickname).
		Msg("Player joined")

	return &session{
		connID:     connID,
		identity:   req.Identity,
		sessionKey: sessionKey,
		room:       rm,
		sub:        sub,
	}, nil
}

func (h *Handler) handleCapture(ctx context.Context, conn *websocket.Conn, sess *session, data json.RawMessage) {
	var req captureRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(ctx, conn, "malformed capture attempt")
		return
	}
	signature, err := hex.DecodeString(req.Signature)
	if err != nil {
		h.sendError(ctx, conn, "malformed signature")
		return
	}

	result, err := sess.room.Capture(sess.connID, verify.Request{
		SessionKey: sess.sessionKey,
		KindID:     req.KindID,
		NetSizeID:  req.NetSizeID,
		Nonce:      req.Nonce,
		Signature:  signature,
		X:          req.X,
		Y:          req.Y,
		NetRadius:  float64(req.NetSizeID) * h.cfg.NetRadiusUnit,
	})
	if err != nil {
		h.sendError(ctx, conn, err.Error())
		return
	}
	h.send(ctx, conn, room.EventCaptureResult, result)
}

// writeLoop drains the subscriber queue into the socket. It exits when the
// subscriber closes (leave or room teardown) or a write fails.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *room.Subscriber) {
	for {
		msg, ok := sub.Next()
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			sub.Close()
			return
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, eventType string, payload any) {
	data, err := room.Encode(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to encode event")
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		log.Debug().Err(err).Str("event", eventType).Msg("Direct write failed")
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, message string) {
	h.send(ctx, conn, "error", errorPayload{Message: message})
}
