package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// HashString generates a BLAKE2b hash and returns hex string
func HashString(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// Fingerprint returns a short, human-comparable identifier for key
// material. It never reveals the key itself.
func Fingerprint(key []byte) string {
	return hex.EncodeToString(Hash(key)[:8])
}
