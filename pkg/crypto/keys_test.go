package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	if kp.Public == [KeySize]byte{} {
		t.Error("GenerateKeyPair() public key is zero")
	}

	kp2, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair() second call error = %v", err)
	}
	if kp.Public == kp2.Public {
		t.Error("GenerateKeyPair() produced identical keys")
	}
}

func TestGenerateKeyPairDeterministicReader(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, KeySize)

	a, err := GenerateKeyPair(bytes.NewReader(seed))
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	b, err := GenerateKeyPair(bytes.NewReader(seed))
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	if a.Public != b.Public {
		t.Error("GenerateKeyPair() not deterministic for the same entropy")
	}
}

func TestGenerateKeyPairShortReader(t *testing.T) {
	if _, err := GenerateKeyPair(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Error("GenerateKeyPair() with short entropy succeeded")
	}
}

func TestSharedSecretAgreement(t *testing.T) {
	alice, _ := GenerateKeyPair(nil)
	bob, _ := GenerateKeyPair(nil)

	s1, err := alice.SharedSecret(bob.Public[:])
	if err != nil {
		t.Fatalf("SharedSecret() error = %v", err)
	}
	s2, err := bob.SharedSecret(alice.Public[:])
	if err != nil {
		t.Fatalf("SharedSecret() error = %v", err)
	}

	if !bytes.Equal(s1, s2) {
		t.Error("SharedSecret() differs between peers")
	}
	if len(s1) != KeySize {
		t.Errorf("SharedSecret() length = %d, want %d", len(s1), KeySize)
	}
}

func TestSharedSecretInvalidPeerKey(t *testing.T) {
	kp, _ := GenerateKeyPair(nil)

	tests := []struct {
		name string
		key  []byte
	}{
		{"short", []byte{1, 2, 3}},
		{"long", make([]byte, KeySize+1)},
		{"low order point", make([]byte, KeySize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kp.SharedSecret(tt.key)
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("SharedSecret() error = %v, want %v", err, ErrInvalidKey)
			}
		})
	}
}

func TestWipe(t *testing.T) {
	kp, _ := GenerateKeyPair(nil)
	kp.Wipe()

	if kp.Private != [KeySize]byte{} {
		t.Error("Wipe() left private key material")
	}
}
