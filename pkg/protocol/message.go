package protocol

import (
	"fmt"
	"net"
)

// Message is the logical application-level unit
type Message struct {
	ID       MessageID
	Payload  []byte
	Type     PayloadType
	UserID   uint32
	UnixTime uint32
	Flags    uint8

	// Sender is set on the receive side only
	Sender *net.UDPAddr
}

// NewMessage creates a message with a fresh random ID stamped with the current time
func NewMessage(payloadType PayloadType, userID uint32, payload []byte) (*Message, error) {
	id, err := NewMessageID()
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:       id,
		Payload:  payload,
		Type:     payloadType,
		UserID:   userID,
		UnixTime: NowUnix(),
	}, nil
}

// NewReply creates a control message that reuses the ID of the message it
// answers (acknowledgements and selective repeat requests)
func NewReply(id MessageID, payloadType PayloadType, userID uint32, payload []byte) *Message {
	return &Message{
		ID:       id,
		Payload:  payload,
		Type:     payloadType,
		UserID:   userID,
		UnixTime: NowUnix(),
	}
}

// Encrypted reports whether the payload is ciphertext
func (m *Message) Encrypted() bool {
	return (m.Flags & FlagEncrypted) != 0
}

// PacketCount returns how many fragments the message needs
func PacketCount(payloadLen, maxPacketSize int) int {
	f := MaxFragmentPayload(maxPacketSize)
	if f < FooterSize {
		return 0
	}

	n := (payloadLen + FooterSize + f - 1) / f
	if n < 1 {
		n = 1
	}
	return n
}

// ===== FRAGMENTATION =====

// Fragment splits a message into its ordered packet sequence. Fragment i
// carries payload bytes [i*F, (i+1)*F) where F is the fragment capacity
// without a footer; the last fragment carries the remainder and the footer.
func Fragment(m *Message, maxPacketSize int) ([]*Packet, error) {
	if MaxFragmentPayload(maxPacketSize) < FooterSize {
		return nil, fmt.Errorf("%w: packet size %d cannot hold header and footer", ErrPacketTooLarge, maxPacketSize)
	}

	count := PacketCount(len(m.Payload), maxPacketSize)
	if count > MaxPacketCount {
		return nil, fmt.Errorf("%w: %d bytes need %d fragments", ErrMessageTooLarge, len(m.Payload), count)
	}

	f := MaxFragmentPayload(maxPacketSize)
	packets := make([]*Packet, count)

	for i := 0; i < count; i++ {
		start := min(i*f, len(m.Payload))
		end := min(start+f, len(m.Payload))

		p := &Packet{
			Header: Header{
				MessageID:      m.ID,
				PacketCount:    uint8(count),
				SequenceNumber: uint8(i),
			},
			Payload: m.Payload[start:end],
		}

		if i == count-1 {
			p.Footer = &Footer{
				PayloadType: m.Type,
				UserID:      m.UserID,
				UnixTime:    m.UnixTime,
				Flags:       m.Flags,
			}
		}

		packets[i] = p
	}

	return packets, nil
}

// Encode fragments the message and serialises every fragment
func (m *Message) Encode(maxPacketSize int) ([][]byte, error) {
	packets, err := Fragment(m, maxPacketSize)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(packets))
	for i, p := range packets {
		buf, err := p.Encode()
		if err != nil {
			return nil, err
		}
		if len(buf) > maxPacketSize {
			return nil, fmt.Errorf("%w: fragment %d is %d bytes", ErrPacketTooLarge, i, len(buf))
		}
		out[i] = buf
	}

	return out, nil
}

// ===== REASSEMBLY =====

// Reassemble rebuilds a message from a complete, slot-ordered packet list.
// Every slot must be filled; the transaction tracker guarantees this, so a
// gap is a programming error and panics.
func Reassemble(packets []*Packet, sender *net.UDPAddr) *Message {
	if len(packets) == 0 {
		panic("protocol: reassemble called with no packets")
	}

	size := 0
	for i, p := range packets {
		if p == nil {
			panic(fmt.Sprintf("protocol: reassemble missing fragment %d", i))
		}
		size += len(p.Payload)
	}

	last := packets[len(packets)-1]
	if last.Footer == nil {
		panic("protocol: reassemble last fragment has no footer")
	}

	payload := make([]byte, 0, size)
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}

	return &Message{
		ID:       last.MessageID,
		Payload:  payload,
		Type:     last.Footer.PayloadType,
		UserID:   last.Footer.UserID,
		UnixTime: last.Footer.UnixTime,
		Flags:    last.Footer.Flags,
		Sender:   sender,
	}
}

func (m *Message) String() string {
	return fmt.Sprintf("%s id=%s user=%d len=%d", m.Type, m.ID, m.UserID, len(m.Payload))
}
