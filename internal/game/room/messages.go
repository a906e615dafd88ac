package room

import (
	"encoding/json"
	"fmt"

	"meme-hunt-server/internal/game/verify"
	"meme-hunt-server/internal/model"
)

// Envelope frames every outbound event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound event types.
const (
	EventRoomState        = "roomState"
	EventCaptureResult    = "captureResult"
	EventCaptureBroadcast = "captureBroadcast"
	EventTargetRemoved    = "targetRemoved"
	EventLeaderboard      = "leaderboard"
	EventPlayerJoined     = "playerJoined"
	EventPlayerLeft       = "playerLeft"
)

// Encode marshals a typed event into an envelope.
func Encode(eventType string, payload any) ([]byte, error) {
	if eventType == "" {
		return nil, fmt.Errorf("empty event type")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Data: data})
}

// StatePayload is the periodic room snapshot fanned out to subscribers.
type StatePayload struct {
	Targets     []model.TargetView `json:"targets"`
	Players     []model.Player     `json:"players"`
	Actions     []model.HuntAction `json:"actions"`
	PlayerCount int                `json:"playerCount"`
	Timestamp   int64              `json:"timestamp"`
}

// ComboView is the client-facing slice of a player's combo state.
type ComboView struct {
	Counter    int             `json:"counter"`
	Tier       model.ComboTier `json:"tier"`
	CooldownMs int64           `json:"cooldownMs"`
}

// CaptureResultPayload answers the requester of a capture attempt.
type CaptureResultPayload struct {
	Outcome  model.HuntOutcome `json:"outcome"`
	TargetID string            `json:"targetId,omitempty"`
	Reward   int64             `json:"reward,omitempty"`
	LevelUp  bool              `json:"levelUp,omitempty"`
	Combo    ComboView         `json:"combo"`
}

// CaptureBroadcastPayload is the fire-and-forget swing notification sent to
// the rest of the room, excluding the requester.
type CaptureBroadcastPayload struct {
	Identity  string            `json:"identity"`
	Nickname  string            `json:"nickname"`
	Color     string            `json:"color"`
	X         float64           `json:"x"`
	Y         float64           `json:"y"`
	NetSizeID int               `json:"netSizeId"`
	Outcome   model.HuntOutcome `json:"outcome"`
}

// TargetRemovedPayload tells clients to drop a captured target at once
// instead of waiting for the next snapshot.
type TargetRemovedPayload struct {
	TargetID string `json:"targetId"`
}

// PlayerEventPayload announces joins and leaves.
type PlayerEventPayload struct {
	Identity string `json:"identity"`
	Nickname string `json:"nickname"`
}

// Commands processed by the room goroutine. Each carries its reply channel
// where a response is expected; replies are buffered so the actor never
// blocks on a slow caller.

type joinCmd struct {
	connID   string
	identity string
	sub      *Subscriber
	reply    chan joinReply
}

type joinReply struct {
	player model.Player
	state  StatePayload
	err    error
}

type leaveCmd struct {
	connID string
}

type captureCmd struct {
	connID string
	req    verify.Request
	reply  chan captureReply
}

type captureReply struct {
	result CaptureResultPayload
	err    error
}

type leaderboardCmd struct {
	reply chan []model.LeaderboardEntry
}

type pointsCmd struct {
	reply chan map[string]int64
}

type recordCmd struct {
	identity string
	reward   int64
}

type freezeCmd struct {
	// requirePoints makes the freeze conditional: a room with zero total
	// points stays live so a failed settlement leaves play untouched.
	requirePoints bool
	reply         chan freezeReply
}

type freezeReply struct {
	points map[string]int64
	err    error
}

type unfreezeCmd struct{}

type pauseCmd struct{ paused bool }
