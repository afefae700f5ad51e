// Package session holds the per-peer key agreement state: an ephemeral
// X25519 exchange that tolerates either half arriving first, followed by
// a PREPARED confirmation from each side before encrypted traffic flows.
package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/crypto"
)

var (
	ErrSessionKeyNotEstablished = errors.New("session key not established")
)

// State is the key agreement progress of a Handshake
type State int

const (
	StateIdle State = iota
	StateKeysGenerated
	StatePeerKeyReceived
	StateDerived
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateKeysGenerated:
		return "keys-generated"
	case StatePeerKeyReceived:
		return "peer-key-received"
	case StateDerived:
		return "derived"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handshake is the key agreement state with one peer. All methods are safe
// for concurrent use.
type Handshake struct {
	mu   sync.Mutex
	rand io.Reader

	own        *crypto.KeyPair
	generated  bool
	peerPublic []byte

	cipher      *crypto.Cipher
	fingerprint string

	selfPrepared  bool
	otherPrepared bool
	announced     bool
}

// NewHandshake creates an idle handshake. A nil reader uses crypto/rand.
func NewHandshake(rand io.Reader) *Handshake {
	return &Handshake{rand: rand}
}

// GenerateOwnKeys creates our ephemeral key pair and returns the public half
// to send to the peer. Only the first call generates keys; later calls
// return a nil public key. derived reports whether this call completed the
// exchange.
func (h *Handshake) GenerateOwnKeys() (public []byte, derived bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.generated {
		return nil, false, nil
	}

	kp, err := crypto.GenerateKeyPair(h.rand)
	if err != nil {
		return nil, false, err
	}
	h.own = kp
	h.generated = true
	public = append([]byte(nil), kp.Public[:]...)

	derived, err = h.tryDerive()
	return public, derived, err
}

// ReceivePeerKey records the peer's public key. Repeats are ignored once a
// key is held. derived reports whether this call completed the exchange.
func (h *Handshake) ReceivePeerKey(public []byte) (derived bool, err error) {
	if len(public) != crypto.KeySize {
		return false, fmt.Errorf("%w: peer key is %d bytes", crypto.ErrInvalidKey, len(public))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cipher != nil || h.peerPublic != nil {
		return false, nil
	}

	h.peerPublic = append([]byte(nil), public...)
	return h.tryDerive()
}

// tryDerive must be called with mu held
func (h *Handshake) tryDerive() (bool, error) {
	if h.cipher != nil || h.own == nil || h.peerPublic == nil {
		return false, nil
	}

	secret, err := h.own.SharedSecret(h.peerPublic)
	if err != nil {
		// Forget the rejected key so a later DH_KEY can still complete
		crypto.Zero(h.peerPublic)
		h.peerPublic = nil
		return false, err
	}
	defer crypto.Zero(secret)

	key, err := crypto.DeriveSessionKey(secret)
	if err != nil {
		return false, err
	}
	defer crypto.Zero(key)

	c, err := crypto.NewCipher(key)
	if err != nil {
		return false, err
	}

	h.cipher = c
	h.fingerprint = crypto.Fingerprint(key)
	h.selfPrepared = true

	h.own.Wipe()
	crypto.Zero(h.own.Public[:])
	h.own = nil
	crypto.Zero(h.peerPublic)
	h.peerPublic = nil

	return true, nil
}

// MarkPeerPrepared records that the peer has derived its key
func (h *Handshake) MarkPeerPrepared() {
	h.mu.Lock()
	h.otherPrepared = true
	h.mu.Unlock()
}

func (h *Handshake) SelfPrepared() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selfPrepared
}

func (h *Handshake) OtherPrepared() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.otherPrepared
}

// Ready reports whether both sides hold the session key, which gates
// sending encrypted payload types
func (h *Handshake) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selfPrepared && h.otherPrepared
}

// ClaimReady reports true exactly once: on the first call made after the
// session became ready
func (h *Handshake) ClaimReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.selfPrepared || !h.otherPrepared || h.announced {
		return false
	}
	h.announced = true
	return true
}

// Established reports whether the session key has been derived locally
func (h *Handshake) Established() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cipher != nil
}

// State returns the key agreement progress
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.cipher != nil:
		return StateDerived
	case h.own != nil:
		return StateKeysGenerated
	case h.peerPublic != nil:
		return StatePeerKeyReceived
	default:
		return StateIdle
	}
}

// Fingerprint identifies the derived session key without revealing it. Both
// peers see the same value. Empty before derivation.
func (h *Handshake) Fingerprint() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fingerprint
}

// Encrypt seals plaintext as nonce || ciphertext || tag
func (h *Handshake) Encrypt(plaintext []byte) ([]byte, error) {
	h.mu.Lock()
	c := h.cipher
	h.mu.Unlock()

	if c == nil {
		return nil, ErrSessionKeyNotEstablished
	}
	return c.Seal(plaintext)
}

// Decrypt opens a payload produced by the peer's Encrypt
func (h *Handshake) Decrypt(data []byte) ([]byte, error) {
	h.mu.Lock()
	c := h.cipher
	h.mu.Unlock()

	if c == nil {
		return nil, ErrSessionKeyNotEstablished
	}
	return c.Open(data)
}
