package verify

import (
	"crypto/ed25519"
	"crypto/rand"
	mrand "math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meme-hunt-server/internal/config"
	"meme-hunt-server/internal/game/sim"
	"meme-hunt-server/internal/model"
)

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func testSimulator() *sim.Simulator {
	cfg := config.GameConfig{
		CanvasWidth:    1600,
		CanvasHeight:   1200,
		CanvasMargin:   20,
		TargetCount:    0,
		RespawnDelay:   2 * time.Second,
		TargetHalfSize: 20,
	}
	return sim.New(cfg, config.DefaultKinds(), mrand.New(mrand.NewPCG(7, 7)), nil)
}

func signedRequest(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, kindID, netSizeID int, nonce uint64) Request {
	t.Helper()
	sig := ed25519.Sign(priv, CanonicalMessage(kindID, netSizeID, nonce))
	return Request{
		SessionKey: pub,
		KindID:     kindID,
		NetSizeID:  netSizeID,
		Nonce:      nonce,
		Signature:  sig,
		NetRadius:  30,
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	pub, priv := testKeys(t)
	v := New()
	s := testSimulator()

	req := signedRequest(t, pub, priv, 1, 1, 5)
	req.Nonce = 6 // signature no longer covers the submitted nonce

	_, err := v.Verify(req, 0, s)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	pub, _ := testKeys(t)
	_, otherPriv := testKeys(t)
	v := New()
	s := testSimulator()

	sig := ed25519.Sign(otherPriv, CanonicalMessage(1, 1, 5))
	req := Request{SessionKey: pub, KindID: 1, NetSizeID: 1, Nonce: 5, Signature: sig, NetRadius: 30}

	_, err := v.Verify(req, 0, s)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsMalformedKey(t *testing.T) {
	v := New()
	s := testSimulator()
	_, err := v.Verify(Request{SessionKey: []byte{1, 2, 3}}, 0, s)
	require.ErrorIs(t, err, ErrBadSessionKey)
}

func TestVerifyNonceReplay(t *testing.T) {
	pub, priv := testKeys(t)
	v := New()
	s := testSimulator()

	tests := []struct {
		name      string
		nonce     uint64
		lastNonce uint64
		replay    bool
	}{
		{"fresh nonce", 10, 9, false},
		{"equal nonce", 10, 10, true},
		{"stale nonce", 9, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest(t, pub, priv, 1, 1, tt.nonce)
			_, err := v.Verify(req, tt.lastNonce, s)
			if tt.replay {
				require.ErrorIs(t, err, ErrNonceReplay)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVerifySpatialResolution(t *testing.T) {
	pub, priv := testKeys(t)
	v := New()
	s := testSimulator()

	target := s.Spawn()
	target.X, target.Y = 400, 400

	// Swing on top of the target: catch.
	req := signedRequest(t, pub, priv, target.KindID, 1, 1)
	req.X, req.Y = 405, 400
	res, err := v.Verify(req, 0, s)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCatch, res.Outcome)
	require.Equal(t, target.ID, res.Target.ID)

	// Swing far away: empty, still a valid action.
	req = signedRequest(t, pub, priv, target.KindID, 1, 2)
	req.X, req.Y = 1200, 900
	res, err = v.Verify(req, 1, s)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeEmpty, res.Outcome)
	require.Nil(t, res.Target)
}

func TestVerifyTieBreaksBySmallestDistance(t *testing.T) {
	pub, priv := testKeys(t)
	v := New()
	s := testSimulator()

	a := s.Spawn()
	a.X, a.Y = 300, 300
	b := s.Spawn()
	b.X, b.Y = 320, 300

	req := signedRequest(t, pub, priv, a.KindID, 1, 1)
	req.X, req.Y = 303, 300
	res, err := v.Verify(req, 0, s)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCatch, res.Outcome)
	require.Equal(t, a.ID, res.Target.ID)
}

func TestCanonicalMessageLayout(t *testing.T) {
	msg := CanonicalMessage(3, 2, 0x0102030405060708)
	require.Len(t, msg, 10)
	require.Equal(t, byte(3), msg[0])
	require.Equal(t, byte(2), msg[1])
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, msg[2:])
}
