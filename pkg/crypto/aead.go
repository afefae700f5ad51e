package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// NonceSize is the AES-GCM nonce length prefixed to every ciphertext
const NonceSize = 12

// Cipher seals and opens payloads with AES-256-GCM. Output is
// nonce || ciphertext || tag.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCipher creates a cipher for a 32-byte session key
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("%w: session key is %d bytes, want %d", ErrInvalidKey, len(key), SessionKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: gcm, rand: rand.Reader}, nil
}

// Seal encrypts plaintext under a fresh random nonce
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open splits off the nonce prefix and authenticates and decrypts the rest
func (c *Cipher) Open(data []byte) ([]byte, error) {
	if len(data) < NonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := data[:NonceSize], data[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// Overhead is the number of bytes Seal adds to a plaintext
func (c *Cipher) Overhead() int {
	return NonceSize + c.aead.Overhead()
}
