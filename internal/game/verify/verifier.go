// Package verify decides whether a claimed capture is legitimate before
// any state mutation happens. The verifier is a pure decision function
// over the request, the actor's last-seen nonce and a simulator snapshot.
package verify

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"meme-hunt-server/internal/game/sim"
	"meme-hunt-server/internal/model"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNonceReplay      = errors.New("nonce replay")
	ErrBadSessionKey    = errors.New("malformed session key")
)

// Request is an inbound capture attempt. SessionKey is the actor's
// session public key; Signature is a detached signature over the
// canonical encoding of (KindID, NetSizeID, Nonce).
type Request struct {
	SessionKey []byte
	KindID     int
	NetSizeID  int
	Nonce      uint64
	Signature  []byte
	X          float64
	Y          float64
	NetRadius  float64
}

// Result is the verification outcome. Target is set only for OutcomeCatch.
type Result struct {
	Outcome model.HuntOutcome
	Target  *model.Target
}

// Verifier validates capture attempts. It holds no mutable state.
type Verifier struct{}

// New creates a Verifier.
func New() *Verifier {
	return &Verifier{}
}

// CanonicalMessage produces the byte encoding that is signed by the
// client's session key: kind and net size as single bytes, nonce as a
// big-endian uint64. Both sides must agree on this layout exactly.
func CanonicalMessage(kindID, netSizeID int, nonce uint64) []byte {
	msg := make([]byte, 10)
	msg[0] = byte(kindID)
	msg[1] = byte(netSizeID)
	binary.BigEndian.PutUint64(msg[2:], nonce)
	return msg
}

// Verify runs the three-step validation pipeline:
//  1. signature over the canonical encoding against the session key
//  2. strictly-increasing nonce against the actor's last-seen value
//  3. nearest live target within reach of the claimed location
//
// An in-range miss is not an error: the result carries OutcomeEmpty and
// the caller charges it as a regular failed swing.
func (v *Verifier) Verify(req Request, lastNonce uint64, simulator *sim.Simulator) (Result, error) {
	if len(req.SessionKey) != ed25519.PublicKeySize {
		return Result{}, ErrBadSessionKey
	}

	msg := CanonicalMessage(req.KindID, req.NetSizeID, req.Nonce)
	if !ed25519.Verify(ed25519.PublicKey(req.SessionKey), msg, req.Signature) {
		return Result{}, ErrInvalidSignature
	}

	if req.Nonce <= lastNonce {
		return Result{}, ErrNonceReplay
	}

	target, ok := simulator.Nearest(req.X, req.Y, req.NetRadius)
	if !ok {
		return Result{Outcome: model.OutcomeEmpty}, nil
	}
	return Result{Outcome: model.OutcomeCatch, Target: target}, nil
}
