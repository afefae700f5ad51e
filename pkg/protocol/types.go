package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Field widths. These are a wire-compatibility contract: two peers must
// agree on every one of them bit-for-bit.
const (
	MessageIDSize      = 3
	PacketCountSize    = 1
	SequenceNumberSize = 1
	PayloadTypeSize    = 1
	UserIDSize         = 4
	UnixTimeSize       = 4
	FlagsSize          = 1
)

// Header layout
const (
	offsetMessageID      = 0
	offsetPacketCount    = offsetMessageID + MessageIDSize
	offsetSequenceNumber = offsetPacketCount + PacketCountSize

	// HeaderSize is the length of the fixed header carried by every packet
	HeaderSize = offsetSequenceNumber + SequenceNumberSize
)

// Footer layout (last fragment only)
const (
	offsetPayloadType = 0
	offsetUserID      = offsetPayloadType + PayloadTypeSize
	offsetUnixTime    = offsetUserID + UserIDSize
	offsetFlags       = offsetUnixTime + UnixTimeSize

	// FooterSize is the length of the footer appended to the last fragment
	FooterSize = offsetFlags + FlagsSize
)

// Size limits
const (
	// MaxPacketSize is the default bound on an encoded packet, UDP headers excluded
	MaxPacketSize = 982

	// MaxPacketCount is the largest number of fragments a message can span
	MaxPacketCount = 1<<(8*PacketCountSize) - 1
)

// Footer flags
const (
	FlagEncrypted uint8 = 0x01 // Payload is AEAD ciphertext
)

// MessageID identifies one logical message and every fragment of it
type MessageID [MessageIDSize]byte

// NewMessageID generates a random message ID
func NewMessageID() (MessageID, error) {
	var id MessageID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate message id: %w", err)
	}
	return id, nil
}

// String returns the hex form of the ID
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// ===== PAYLOAD TYPES =====

// PayloadType tags what a message carries
type PayloadType uint8

const (
	PayloadConnect PayloadType = iota
	PayloadDisconnect
	PayloadHeartbeat
	PayloadChat
	PayloadAcknowledge
	PayloadSelectiveRepeat
	PayloadDHKey
	PayloadPrepared
)

var payloadTypeNames = [...]string{
	PayloadConnect:         "CONNECT",
	PayloadDisconnect:      "DISCONNECT",
	PayloadHeartbeat:       "HEARTBEAT",
	PayloadChat:            "CHAT",
	PayloadAcknowledge:     "ACKNOWLEDGE",
	PayloadSelectiveRepeat: "SELECTIVE_REPEAT",
	PayloadDHKey:           "DH_KEY",
	PayloadPrepared:        "PREPARED",
}

// ParsePayloadType converts a wire byte into a PayloadType
func ParsePayloadType(b byte) (PayloadType, error) {
	t := PayloadType(b)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrMalformedPayloadType, b)
	}
	return t, nil
}

// Valid reports whether t is one of the known payload types
func (t PayloadType) Valid() bool {
	return int(t) < len(payloadTypeNames)
}

// ShouldEncrypt reports whether payloads of this type travel encrypted.
// Only application data is encrypted; control and handshake messages are
// sent in the clear so the handshake can bootstrap itself.
func (t PayloadType) ShouldEncrypt() bool {
	return t == PayloadChat
}

// IsControl reports whether the type is transport or handshake signalling
func (t PayloadType) IsControl() bool {
	return t != PayloadChat
}

func (t PayloadType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
	return payloadTypeNames[t]
}

// ===== HELPER FUNCTIONS =====

// NowUnix returns the current time in Unix seconds, truncated to the wire width
func NowUnix() uint32 {
	return uint32(time.Now().Unix())
}

// MaxFragmentPayload returns how many payload bytes fit in a non-final
// fragment for the given packet size bound
func MaxFragmentPayload(maxPacketSize int) int {
	return maxPacketSize - HeaderSize
}
