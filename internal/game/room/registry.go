package room

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"

	"github.com/rs/zerolog/log"

	"meme-hunt-server/internal/config"
	"meme-hunt-server/internal/model"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// validTransitions is the enforced lifecycle table:
// active <-> paused -> {ended | settled | stopped}; ended may still be
// settled or stopped; settled and stopped are terminal.
var validTransitions = map[model.RoomStatus]map[model.RoomStatus]bool{
	model.RoomStatusActive: {
		model.RoomStatusPaused:  true,
		model.RoomStatusEnded:   true,
		model.RoomStatusSettled: true,
		model.RoomStatusStopped: true,
	},
	model.RoomStatusPaused: {
		model.RoomStatusActive:  true,
		model.RoomStatusEnded:   true,
		model.RoomStatusSettled: true,
		model.RoomStatusStopped: true,
	},
	model.RoomStatusEnded: {
		model.RoomStatusSettled: true,
		model.RoomStatusStopped: true,
	},
	model.RoomStatusSettled: {},
	model.RoomStatusStopped: {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to model.RoomStatus) bool {
	return validTransitions[from][to]
}

type roomEntry struct {
	room   *Room
	meta   model.Room
	status model.RoomStatus
}

// Registry owns the lifecycle of room actors and is the single source of
// truth mapping a room ID to its live state.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*roomEntry
	cfg     config.GameConfig
	kinds   config.KindsConfig
	combo   config.ComboConfig
	sinkFor func(roomID string) CaptureSink
}

// NewRegistry creates an empty registry. sinkFor may be nil when captures
// need no persistence (tests); otherwise it supplies the per-room ordered
// persistence queue.
func NewRegistry(cfg config.GameConfig, kinds config.KindsConfig, comboCfg config.ComboConfig, sinkFor func(roomID string) CaptureSink) *Registry {
	return &Registry{
		rooms:   make(map[string]*roomEntry),
		cfg:     cfg,
		kinds:   kinds,
		combo:   comboCfg,
		sinkFor: sinkFor,
	}
}

// CreateOptions holds the creator-tunable room parameters.
type CreateOptions struct {
	Name        string
	TokenSymbol string
	PoolBalance int64
	MaxPlayers  int
	TargetCount int
}

// Create allocates a room with a fresh short code, full target
// replenishment and status active, and starts its actor.
func (g *Registry) Create(creatorID string, opts CreateOptions) model.Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	var id string
	for {
		id = generateCode(8)
		if _, exists := g.rooms[id]; !exists {
			break
		}
	}

	if opts.TokenSymbol == "" {
		opts.TokenSymbol = "MEME"
	}
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = g.cfg.MaxPlayers
	}
	if opts.TargetCount <= 0 {
		opts.TargetCount = g.cfg.TargetCount
	}
	if opts.Name == "" {
		opts.Name = "Room #" + id
	}

	meta := model.Room{
		ID:          id,
		Name:        opts.Name,
		CreatorID:   creatorID,
		TokenSymbol: opts.TokenSymbol,
		PoolBalance: opts.PoolBalance,
		MaxPlayers:  opts.MaxPlayers,
		TargetCount: opts.TargetCount,
		Status:      model.RoomStatusActive,
	}

	var sink CaptureSink
	if g.sinkFor != nil {
		sink = g.sinkFor(id)
	}
	r := newRoom(id, g.cfg, g.kinds, g.combo, Options{
		MaxPlayers:  opts.MaxPlayers,
		TargetCount: opts.TargetCount,
		Sink:        sink,
	})
	g.rooms[id] = &roomEntry{room: r, meta: meta, status: model.RoomStatusActive}
	go r.Run()

	log.Info().Str("room", id).Str("creator", creatorID).Int64("pool", opts.PoolBalance).Msg("Room created")
	return meta
}

// Get returns the live actor for a room.
func (g *Registry) Get(roomID string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return e.room, nil
}

// Meta returns the room metadata including its current status.
func (g *Registry) Meta(roomID string) (model.Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.rooms[roomID]
	if !ok {
		return model.Room{}, ErrRoomNotFound
	}
	meta := e.meta
	meta.Status = e.status
	return meta, nil
}

// Status returns a room's current lifecycle status.
func (g *Registry) Status(roomID string) (model.RoomStatus, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}
	return e.status, nil
}

// SetStatus applies a lifecycle transition, rejecting anything outside the
// transition table. Pausing and resuming are relayed to the actor.
func (g *Registry) SetStatus(roomID string, next model.RoomStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if !CanTransition(e.status, next) {
		return ErrInvalidTransition
	}
	prev := e.status
	e.status = next

	switch next {
	case model.RoomStatusPaused:
		e.room.SetPaused(true)
	case model.RoomStatusActive:
		e.room.SetPaused(false)
	}

	log.Info().Str("room", roomID).Str("from", string(prev)).Str("to", string(next)).Msg("Room status changed")
	return nil
}

// AddPool adjusts the cached pool balance on a live room's metadata.
// The durable balance lives on the room record; this keeps listings fresh.
func (g *Registry) AddPool(roomID string, delta int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	e.meta.PoolBalance += delta
	return nil
}

// Destroy stops a room's actor and frees its state. Call only after
// settlement or stop has persisted results externally.
func (g *Registry) Destroy(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.rooms[roomID]; ok {
		e.room.Stop()
		delete(g.rooms, roomID)
		log.Info().Str("room", roomID).Msg("Room destroyed")
	}
}

// List returns metadata for all rooms in the given statuses (all rooms
// when none are given).
func (g *Registry) List(statuses ...model.RoomStatus) []model.Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []model.Room
	for _, e := range g.rooms {
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if e.status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		meta := e.meta
		meta.Status = e.status
		out = append(out, meta)
	}
	return out
}

const codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateCode(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(codeChars)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			b[i] = codeChars[0]
			continue
		}
		b[i] = codeChars[idx.Int64()]
	}
	return string(b)
}
