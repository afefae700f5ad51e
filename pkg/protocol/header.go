package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrMalformedPayloadType = errors.New("malformed payload type")
	ErrTruncatedFrame       = errors.New("truncated frame")
	ErrInvalidSequence      = errors.New("invalid sequence number")
	ErrPacketTooLarge       = errors.New("packet exceeds maximum size")
	ErrMessageTooLarge      = errors.New("message needs more fragments than allowed")
)

// Header is the fixed prefix of every packet
type Header struct {
	MessageID      MessageID // Random per logical message
	PacketCount    uint8     // Total fragments in the message
	SequenceNumber uint8     // 0-based index of this fragment
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf
}

func (h *Header) put(buf []byte) {
	copy(buf[offsetMessageID:offsetPacketCount], h.MessageID[:])
	buf[offsetPacketCount] = h.PacketCount
	buf[offsetSequenceNumber] = h.SequenceNumber
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncatedFrame, HeaderSize, len(buf))
	}

	copy(h.MessageID[:], buf[offsetMessageID:offsetPacketCount])
	h.PacketCount = buf[offsetPacketCount]
	h.SequenceNumber = buf[offsetSequenceNumber]

	return nil
}

// Validate checks the count/sequence relationship
func (h *Header) Validate() error {
	if h.PacketCount == 0 {
		return fmt.Errorf("%w: packet count is zero", ErrInvalidSequence)
	}
	if h.SequenceNumber >= h.PacketCount {
		return fmt.Errorf("%w: %d of %d", ErrInvalidSequence, h.SequenceNumber, h.PacketCount)
	}
	return nil
}

// IsLast reports whether this header belongs to the footer-bearing fragment
func (h *Header) IsLast() bool {
	return h.SequenceNumber == h.PacketCount-1
}

// Footer trails the last fragment of a message
type Footer struct {
	PayloadType PayloadType
	UserID      uint32 // Sender's user ID
	UnixTime    uint32 // Send time, Unix seconds
	Flags       uint8
}

// Encode encodes the footer to bytes
func (f *Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	f.put(buf)
	return buf
}

func (f *Footer) put(buf []byte) {
	buf[offsetPayloadType] = byte(f.PayloadType)
	binary.BigEndian.PutUint32(buf[offsetUserID:offsetUnixTime], f.UserID)
	binary.BigEndian.PutUint32(buf[offsetUnixTime:offsetFlags], f.UnixTime)
	buf[offsetFlags] = f.Flags
}

// Decode decodes the footer from bytes
func (f *Footer) Decode(buf []byte) error {
	if len(buf) < FooterSize {
		return fmt.Errorf("%w: footer needs %d bytes, got %d", ErrTruncatedFrame, FooterSize, len(buf))
	}

	payloadType, err := ParsePayloadType(buf[offsetPayloadType])
	if err != nil {
		return err
	}

	f.PayloadType = payloadType
	f.UserID = binary.BigEndian.Uint32(buf[offsetUserID:offsetUnixTime])
	f.UnixTime = binary.BigEndian.Uint32(buf[offsetUnixTime:offsetFlags])
	f.Flags = buf[offsetFlags]

	return nil
}

// HasFlag checks if a flag is set
func (f *Footer) HasFlag(flag uint8) bool {
	return (f.Flags & flag) != 0
}
