package ws

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meme-hunt-server/internal/config"
	"meme-hunt-server/internal/game/room"
	"meme-hunt-server/internal/game/verify"
	"meme-hunt-server/internal/model"
)

// The tickers are inert so snapshots and movement cannot interleave with
// the scripted exchange.
func testGameConfig() config.GameConfig {
	return config.GameConfig{
		CanvasWidth:       1600,
		CanvasHeight:      1200,
		CanvasMargin:      20,
		TargetCount:       4,
		MaxPlayers:        10,
		TickInterval:      time.Hour,
		BroadcastInterval: time.Hour,
		RespawnDelay:      2 * time.Second,
		ActionTTL:         2 * time.Second,
		HuntingFlagReset:  2 * time.Second,
		NetRadiusUnit:     30,
		TargetHalfSize:    20,
		LeaderboardSize:   10,
		SubscriberBuffer:  16,
	}
}

func testComboConfig() config.ComboConfig {
	return config.ComboConfig{
		InitialCooldown:   5 * time.Second,
		MinCooldown:       2 * time.Second,
		CooldownReduction: 500 * time.Millisecond,
		SilverThreshold:   3,
		GoldThreshold:     5,
		DiamondThreshold:  10,
		SilverMultiplier:  1.5,
		GoldMultiplier:    2,
		DiamondMultiplier: 3,
	}
}

type testServer struct {
	registry *room.Registry
	server   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	registry := room.NewRegistry(testGameConfig(), config.DefaultKinds(), testComboConfig(), nil)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/{id}", NewHandler(registry, testGameConfig()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{registry: registry, server: srv}
}

func (ts *testServer) dial(t *testing.T, ctx context.Context, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws/" + roomID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendMsg(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(inbound{Type: msgType, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, wantType string) json.RawMessage {
	t.Helper()
	return collectUntil(t, ctx, conn, wantType)[wantType]
}

// collectUntil reads frames, keeping the first of each type, until every
// wanted type has arrived. Broadcasts and direct replies may interleave in
// any order, so callers must not assume a frame sequence.
func collectUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, wantTypes ...string) map[string]json.RawMessage {
	t.Helper()
	seen := make(map[string]json.RawMessage)
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var env room.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == "error" {
			t.Fatalf("got error frame while waiting for %v: %s", wantTypes, env.Data)
		}
		if _, ok := seen[env.Type]; !ok {
			seen[env.Type] = env.Data
		}
		done := true
		for _, want := range wantTypes {
			if _, ok := seen[want]; !ok {
				done = false
				break
			}
		}
		if done {
			return seen
		}
	}
}

func TestHandlerRejectsUnknownRoom(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.server.URL + "/ws/NOPE1234")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinAndCaptureOverWebSocket(t *testing.T) {
	ts := newTestServer(t)
	meta := ts.registry.Create("0xCREATOR", room.CreateOptions{PoolBalance: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := ts.dial(t, ctx, meta.ID)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sendMsg(t, ctx, conn, msgJoin, joinRequest{
		Identity:   "0xA11CE00012345678",
		SessionKey: hex.EncodeToString(pub),
	})

	var state room.StatePayload
	require.NoError(t, json.Unmarshal(readUntil(t, ctx, conn, room.EventRoomState), &state))
	require.NotEmpty(t, state.Targets)
	require.Len(t, state.Players, 1)
	assert.True(t, strings.HasPrefix(state.Players[0].Nickname, "Hunter#"))

	// Swing exactly on a known target with a valid signature.
	target := state.Targets[0]
	netSizeID := 3
	nonce := uint64(1)
	sig := ed25519.Sign(priv, verify.CanonicalMessage(target.KindID, netSizeID, nonce))

	sendMsg(t, ctx, conn, msgCaptureAttempt, captureRequest{
		KindID:    target.KindID,
		NetSizeID: netSizeID,
		Nonce:     nonce,
		Signature: hex.EncodeToString(sig),
		X:         target.X,
		Y:         target.Y,
	})

	frames := collectUntil(t, ctx, conn, room.EventCaptureResult, room.EventTargetRemoved)

	var result room.CaptureResultPayload
	require.NoError(t, json.Unmarshal(frames[room.EventCaptureResult], &result))
	assert.Equal(t, model.OutcomeCatch, result.Outcome)
	assert.Equal(t, target.ID, result.TargetID)
	assert.Greater(t, result.Reward, int64(0))
	assert.Equal(t, 1, result.Combo.Counter)

	// The removal is also pushed through the subscriber fan-out.
	var removed room.TargetRemovedPayload
	require.NoError(t, json.Unmarshal(frames[room.EventTargetRemoved], &removed))
	assert.Equal(t, target.ID, removed.TargetID)

	sendMsg(t, ctx, conn, msgLeaderboard, struct{}{})
	var entries []model.LeaderboardEntry
	require.NoError(t, json.Unmarshal(readUntil(t, ctx, conn, room.EventLeaderboard), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "0xA11CE00012345678", entries[0].Identity)
}

func TestCaptureBeforeJoinIsRejected(t *testing.T) {
	ts := newTestServer(t)
	meta := ts.registry.Create("0xCREATOR", room.CreateOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := ts.dial(t, ctx, meta.ID)
	sendMsg(t, ctx, conn, msgCaptureAttempt, captureRequest{KindID: 1, NetSizeID: 1, Nonce: 1})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env room.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "error", env.Type)
}

func TestInvalidSignatureSurfacesAsError(t *testing.T) {
	ts := newTestServer(t)
	meta := ts.registry.Create("0xCREATOR", room.CreateOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := ts.dial(t, ctx, meta.ID)

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sendMsg(t, ctx, conn, msgJoin, joinRequest{Identity: "0xBADC0DE", SessionKey: hex.EncodeToString(pub)})
	readUntil(t, ctx, conn, room.EventRoomState)

	sendMsg(t, ctx, conn, msgCaptureAttempt, captureRequest{
		KindID:    1,
		NetSizeID: 1,
		Nonce:     1,
		Signature: hex.EncodeToString(make([]byte, ed25519.SignatureSize)),
		X:         100,
		Y:         100,
	})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env room.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "error", env.Type)
	assert.Contains(t, string(env.Data), "invalid signature")
}
