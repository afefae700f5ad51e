package session

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/crypto"
)

func seeded(b byte) *bytes.Reader {
	return bytes.NewReader(bytes.Repeat([]byte{b}, crypto.KeySize))
}

// pair runs a full exchange between two fresh handshakes
func pair(t *testing.T) (*Handshake, *Handshake) {
	t.Helper()

	a := NewHandshake(nil)
	b := NewHandshake(nil)

	pubA, derived, err := a.GenerateOwnKeys()
	require.NoError(t, err)
	require.False(t, derived)

	derived, err = b.ReceivePeerKey(pubA)
	require.NoError(t, err)
	require.False(t, derived)

	pubB, derived, err := b.GenerateOwnKeys()
	require.NoError(t, err)
	require.True(t, derived)

	derived, err = a.ReceivePeerKey(pubB)
	require.NoError(t, err)
	require.True(t, derived)

	a.MarkPeerPrepared()
	b.MarkPeerPrepared()
	return a, b
}

func TestHandshakeOrderIndependence(t *testing.T) {
	peer := NewHandshake(seeded(0xB0))
	peerPub, _, err := peer.GenerateOwnKeys()
	require.NoError(t, err)

	// Own keys first
	first := NewHandshake(seeded(0xA0))
	ownPub, derived, err := first.GenerateOwnKeys()
	require.NoError(t, err)
	assert.False(t, derived)
	assert.Equal(t, StateKeysGenerated, first.State())

	derived, err = first.ReceivePeerKey(peerPub)
	require.NoError(t, err)
	assert.True(t, derived)

	// Peer key first
	second := NewHandshake(seeded(0xA0))
	derived, err = second.ReceivePeerKey(peerPub)
	require.NoError(t, err)
	assert.False(t, derived)
	assert.Equal(t, StatePeerKeyReceived, second.State())

	ownPub2, derived, err := second.GenerateOwnKeys()
	require.NoError(t, err)
	assert.True(t, derived)

	assert.Equal(t, ownPub, ownPub2)
	assert.NotEmpty(t, first.Fingerprint())
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())

	derived, err = peer.ReceivePeerKey(ownPub)
	require.NoError(t, err)
	assert.True(t, derived)
	assert.Equal(t, first.Fingerprint(), peer.Fingerprint())
}

func TestHandshakeNotEstablished(t *testing.T) {
	h := NewHandshake(nil)

	_, err := h.Encrypt([]byte("early"))
	assert.True(t, errors.Is(err, ErrSessionKeyNotEstablished))

	_, err = h.Decrypt([]byte("early"))
	assert.True(t, errors.Is(err, ErrSessionKeyNotEstablished))

	// One half is still not enough
	_, _, err = h.GenerateOwnKeys()
	require.NoError(t, err)

	_, err = h.Encrypt([]byte("early"))
	assert.True(t, errors.Is(err, ErrSessionKeyNotEstablished))
	assert.False(t, h.Established())
	assert.Empty(t, h.Fingerprint())
}

func TestHandshakeDerivesOnce(t *testing.T) {
	a, b := pair(t)

	fp := a.Fingerprint()

	pub, derived, err := a.GenerateOwnKeys()
	require.NoError(t, err)
	assert.Nil(t, pub)
	assert.False(t, derived)

	other := NewHandshake(nil)
	otherPub, _, _ := other.GenerateOwnKeys()
	derived, err = a.ReceivePeerKey(otherPub)
	require.NoError(t, err)
	assert.False(t, derived)

	assert.Equal(t, fp, a.Fingerprint())
	assert.Equal(t, fp, b.Fingerprint())
}

func TestHandshakeEncryptDecrypt(t *testing.T) {
	a, b := pair(t)

	assert.True(t, a.Ready())
	assert.True(t, b.Ready())
	assert.Equal(t, StateDerived, a.State())

	sealed, err := a.Encrypt([]byte("hello bob"))
	require.NoError(t, err)
	assert.Greater(t, len(sealed), crypto.NonceSize)

	opened, err := b.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(opened))

	sealed[len(sealed)-1] ^= 0xFF
	_, err = b.Decrypt(sealed)
	assert.True(t, errors.Is(err, crypto.ErrDecryptionFailed))
}

func TestHandshakePreparedFlags(t *testing.T) {
	a := NewHandshake(nil)
	b := NewHandshake(nil)

	pubA, _, _ := a.GenerateOwnKeys()
	pubB, _, _ := b.GenerateOwnKeys()
	_, err := a.ReceivePeerKey(pubB)
	require.NoError(t, err)

	assert.True(t, a.SelfPrepared())
	assert.False(t, a.OtherPrepared())
	assert.False(t, a.Ready())

	a.MarkPeerPrepared()
	assert.True(t, a.Ready())

	// PREPARED can arrive before our own derivation
	b.MarkPeerPrepared()
	assert.False(t, b.Ready())
	_, err = b.ReceivePeerKey(pubA)
	require.NoError(t, err)
	assert.True(t, b.Ready())
}

func TestHandshakeRejectsBadPeerKey(t *testing.T) {
	h := NewHandshake(nil)
	_, _, err := h.GenerateOwnKeys()
	require.NoError(t, err)

	_, err = h.ReceivePeerKey([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, crypto.ErrInvalidKey))

	_, err = h.ReceivePeerKey(make([]byte, crypto.KeySize))
	assert.True(t, errors.Is(err, crypto.ErrInvalidKey))
	assert.Equal(t, StateKeysGenerated, h.State())

	peer := NewHandshake(nil)
	pub, _, _ := peer.GenerateOwnKeys()
	derived, err := h.ReceivePeerKey(pub)
	require.NoError(t, err)
	assert.True(t, derived)
}

func TestHandshakeConcurrentTriggers(t *testing.T) {
	peer := NewHandshake(nil)
	peerPub, _, _ := peer.GenerateOwnKeys()

	for i := 0; i < 50; i++ {
		h := NewHandshake(nil)

		var wg sync.WaitGroup
		results := make(chan bool, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, derived, err := h.GenerateOwnKeys()
			assert.NoError(t, err)
			results <- derived
		}()
		go func() {
			defer wg.Done()
			derived, err := h.ReceivePeerKey(peerPub)
			assert.NoError(t, err)
			results <- derived
		}()
		wg.Wait()
		close(results)

		count := 0
		for d := range results {
			if d {
				count++
			}
		}
		assert.Equal(t, 1, count, "exactly one trigger derives")
	}
}

func TestHandshakeClaimReady(t *testing.T) {
	h := NewHandshake(nil)
	assert.False(t, h.ClaimReady())

	a, _ := pair(t)
	assert.True(t, a.ClaimReady())
	assert.False(t, a.ClaimReady())
}
