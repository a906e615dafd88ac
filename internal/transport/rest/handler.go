// Package rest exposes the operator surface: room lifecycle, settlement
// and claims. Gameplay itself never goes through these endpoints.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"meme-hunt-server/internal/game/room"
	"meme-hunt-server/internal/model"
	"meme-hunt-server/internal/pkg/db"
	"meme-hunt-server/internal/repository"
	"meme-hunt-server/internal/service"
)

const healthTimeout = 3 * time.Second

// Handler serves the JSON API.
type Handler struct {
	rooms       *service.RoomService
	settlement  *service.SettlementEngine
	leaderboard *service.LeaderboardService
	pool        *db.Pool
}

// NewHandler creates the REST handler.
func NewHandler(rooms *service.RoomService, settlement *service.SettlementEngine, leaderboard *service.LeaderboardService, pool *db.Pool) *Handler {
	return &Handler{rooms: rooms, settlement: settlement, leaderboard: leaderboard, pool: pool}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.createRoom)
	mux.HandleFunc("GET /api/rooms", h.listRooms)
	mux.HandleFunc("GET /api/rooms/{id}", h.getRoom)
	mux.HandleFunc("POST /api/rooms/{id}/deposit", h.deposit)
	mux.HandleFunc("POST /api/rooms/{id}/pause", h.pause)
	mux.HandleFunc("POST /api/rooms/{id}/resume", h.resume)
	mux.HandleFunc("POST /api/rooms/{id}/settle", h.settle)
	mux.HandleFunc("POST /api/rooms/{id}/stop", h.stop)
	mux.HandleFunc("GET /api/rooms/{id}/claims", h.claims)
	mux.HandleFunc("GET /api/rooms/{id}/leaderboard", h.roomLeaderboard)
	mux.HandleFunc("GET /healthz", h.healthz)
}

type createRoomRequest struct {
	CreatorID   string `json:"creatorId"`
	Name        string `json:"name"`
	TokenSymbol string `json:"tokenSymbol"`
	PoolBalance int64  `json:"poolBalance"`
	MaxPlayers  int    `json:"maxPlayers"`
	TargetCount int    `json:"targetCount"`
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	created, err := h.rooms.Create(r.Context(), req.CreatorID, room.CreateOptions{
		Name:        req.Name,
		TokenSymbol: req.TokenSymbol,
		PoolBalance: req.PoolBalance,
		MaxPlayers:  req.MaxPlayers,
		TargetCount: req.TargetCount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomView(created))
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.rooms.ListJoinable()
	views := make([]map[string]any, 0, len(rooms))
	for _, rm := range rooms {
		views = append(views, roomView(rm))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	meta, err := h.rooms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomView(meta))
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	meta, err := h.rooms.Deposit(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomView(meta))
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.RoomStatusPaused)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.RoomStatusActive)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, next model.RoomStatus) {
	roomID := r.PathValue("id")
	if err := h.rooms.SetStatus(r.Context(), roomID, next); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": roomID, "status": next})
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	claims, err := h.settlement.Settle(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     roomID,
		"status": model.RoomStatusSettled,
		"claims": claimViews(claims),
	})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	refund, err := h.settlement.Stop(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           roomID,
		"status":       model.RoomStatusStopped,
		"refundAmount": refund,
	})
}

func (h *Handler) claims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.settlement.Claims(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimViews(claims))
}

func (h *Handler) roomLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.leaderboard.TopForRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if h.pool != nil {
		if err := h.pool.HealthCheck(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func roomView(rm model.Room) map[string]any {
	return map[string]any{
		"id":          rm.ID,
		"name":        rm.Name,
		"creatorId":   rm.CreatorID,
		"tokenSymbol": rm.TokenSymbol,
		"poolBalance": rm.PoolBalance,
		"maxPlayers":  rm.MaxPlayers,
		"targetCount": rm.TargetCount,
		"status":      rm.Status,
		"createdAt":   rm.CreatedAt,
		"settledAt":   rm.SettledAt,
	}
}

func claimViews(claims []*model.Claim) []map[string]any {
	out := make([]map[string]any, 0, len(claims))
	for _, c := range claims {
		out = append(out, map[string]any{
			"id":          c.ID,
			"roomId":      c.RoomID,
			"identity":    c.Identity,
			"points":      c.Points,
			"shareRatio":  c.ShareRatio,
			"tokenAmount": c.TokenAmount,
			"status":      c.Status,
			"createdAt":   c.CreatedAt,
		})
	}
	return out
}

// writeServiceError maps domain errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, repository.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, room.ErrInvalidTransition), errors.Is(err, service.ErrRoomTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrAlreadySettled):
		writeError(w, http.StatusConflict, "room already settled")
	case errors.Is(err, room.ErrNoPointsEarned):
		writeError(w, http.StatusConflict, "no points earned")
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("Response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
