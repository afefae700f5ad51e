package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()

	secret := bytes.Repeat([]byte{0x11}, KeySize)
	key, err := DeriveSessionKey(secret)
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}

	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	return c
}

func TestDeriveSessionKey(t *testing.T) {
	secret := bytes.Repeat([]byte{0x22}, KeySize)

	k1, err := DeriveSessionKey(secret)
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	k2, _ := DeriveSessionKey(secret)

	if len(k1) != SessionKeySize {
		t.Errorf("DeriveSessionKey() length = %d, want %d", len(k1), SessionKeySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveSessionKey() not deterministic")
	}
	if bytes.Equal(k1, secret) {
		t.Error("DeriveSessionKey() returned the raw secret")
	}

	if _, err := DeriveSessionKey(nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DeriveSessionKey(nil) error = %v, want %v", err, ErrInvalidKey)
	}
}

func TestCipherSealOpen(t *testing.T) {
	c := testCipher(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("hi")},
		{"chat", []byte("Hello, this is a chat message")},
		{"large", bytes.Repeat([]byte("x"), 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := c.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(sealed) != len(tt.plaintext)+c.Overhead() {
				t.Errorf("Seal() length = %d, want %d", len(sealed), len(tt.plaintext)+c.Overhead())
			}

			opened, err := c.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(opened, tt.plaintext) {
				t.Errorf("Open() = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestCipherNonDeterministic(t *testing.T) {
	c := testCipher(t)
	plaintext := []byte("same message")

	a, _ := c.Seal(plaintext)
	b, _ := c.Seal(plaintext)

	if bytes.Equal(a, b) {
		t.Error("Seal() produced identical ciphertexts")
	}
	if bytes.Equal(a[:NonceSize], b[:NonceSize]) {
		t.Error("Seal() reused a nonce")
	}
}

func TestCipherOpenTampered(t *testing.T) {
	c := testCipher(t)
	sealed, _ := c.Seal([]byte("authentic"))

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", sealed[:NonceSize]},
		{"flipped ciphertext", func() []byte {
			d := bytes.Clone(sealed)
			d[NonceSize] ^= 0x01
			return d
		}()},
		{"flipped nonce", func() []byte {
			d := bytes.Clone(sealed)
			d[0] ^= 0x01
			return d
		}()},
		{"flipped tag", func() []byte {
			d := bytes.Clone(sealed)
			d[len(d)-1] ^= 0x01
			return d
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Open(tt.data)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Open() error = %v, want %v", err, ErrDecryptionFailed)
			}
		})
	}
}

func TestCipherWrongKey(t *testing.T) {
	c := testCipher(t)
	sealed, _ := c.Seal([]byte("secret"))

	otherKey, _ := DeriveSessionKey(bytes.Repeat([]byte{0x99}, KeySize))
	other, err := NewCipher(otherKey)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}

	if _, err := other.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestNewCipherKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 24, 31, 33} {
		if _, err := NewCipher(make([]byte, size)); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("NewCipher(%d bytes) error = %v, want %v", size, err, ErrInvalidKey)
		}
	}
}
