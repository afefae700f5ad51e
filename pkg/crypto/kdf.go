package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// SessionKeySize is the AES-256 key length produced by DeriveSessionKey
	SessionKeySize = 32

	// SessionKeyInfo binds derived keys to this protocol
	SessionKeyInfo = "MessagingPlatform session key v1"
)

// DeriveSessionKey expands a DH shared secret into a symmetric session key
// using HKDF-SHA256 with no salt
func DeriveSessionKey(sharedSecret []byte) ([]byte, error) {
	if len(sharedSecret) == 0 {
		return nil, fmt.Errorf("%w: empty shared secret", ErrInvalidKey)
	}

	key := make([]byte, SessionKeySize)
	r := hkdf.New(sha256.New, sharedSecret, nil, []byte(SessionKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}
