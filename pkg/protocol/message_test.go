package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"net"
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(PayloadChat, 1234, []byte("Hello!"))
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	if msg.Type != PayloadChat {
		t.Errorf("Type = %v, want %v", msg.Type, PayloadChat)
	}
	if msg.UserID != 1234 {
		t.Errorf("UserID = %d, want 1234", msg.UserID)
	}
	if msg.UnixTime == 0 {
		t.Error("UnixTime not set")
	}
	if msg.Encrypted() {
		t.Error("Encrypted() = true for a fresh message")
	}
}

func TestNewReplyReusesID(t *testing.T) {
	id := MessageID{0x0A, 0x0B, 0x0C}
	reply := NewReply(id, PayloadAcknowledge, 99, nil)

	if reply.ID != id {
		t.Errorf("ID = %s, want %s", reply.ID, id)
	}
	if reply.Type != PayloadAcknowledge {
		t.Errorf("Type = %v, want %v", reply.Type, PayloadAcknowledge)
	}
}

func TestPacketCount(t *testing.T) {
	tests := []struct {
		name          string
		payloadLen    int
		maxPacketSize int
		want          int
	}{
		{"empty payload", 0, MaxPacketSize, 1},
		{"fits with footer", MaxPacketSize - HeaderSize - FooterSize, MaxPacketSize, 1},
		{"one byte over", MaxPacketSize - HeaderSize - FooterSize + 1, MaxPacketSize, 2},
		{"tiny packets", 18, HeaderSize + 10, 3},
		{"footer-only tail", 10, HeaderSize + 10, 2},
		{"packet cannot hold footer", 5, HeaderSize + FooterSize - 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PacketCount(tt.payloadLen, tt.maxPacketSize); got != tt.want {
				t.Errorf("PacketCount(%d, %d) = %d, want %d", tt.payloadLen, tt.maxPacketSize, got, tt.want)
			}
		})
	}
}

func TestFragmentSmallPackets(t *testing.T) {
	maxPacketSize := HeaderSize + 10
	msg := &Message{
		ID:       MessageID{1, 2, 3},
		Payload:  []byte("HELLO WORLD PYTHON"),
		Type:     PayloadChat,
		UserID:   7,
		UnixTime: 1000,
	}

	packets, err := Fragment(msg, maxPacketSize)
	if err != nil {
		t.Fatalf("Fragment() error = %v", err)
	}

	if len(packets) != 3 {
		t.Fatalf("Fragment() produced %d packets, want 3", len(packets))
	}

	wantPayloads := []string{"HELLO WORL", "D PYTHON", ""}
	for i, p := range packets {
		if int(p.SequenceNumber) != i {
			t.Errorf("packet %d SequenceNumber = %d", i, p.SequenceNumber)
		}
		if p.PacketCount != 3 {
			t.Errorf("packet %d PacketCount = %d, want 3", i, p.PacketCount)
		}
		if p.MessageID != msg.ID {
			t.Errorf("packet %d MessageID = %s, want %s", i, p.MessageID, msg.ID)
		}
		if string(p.Payload) != wantPayloads[i] {
			t.Errorf("packet %d Payload = %q, want %q", i, p.Payload, wantPayloads[i])
		}
		if (p.Footer != nil) != (i == 2) {
			t.Errorf("packet %d footer present = %v", i, p.Footer != nil)
		}
		if p.Size() > maxPacketSize {
			t.Errorf("packet %d Size() = %d exceeds %d", i, p.Size(), maxPacketSize)
		}
	}

	// Deliver out of order: [2, 0, 1]
	slots := make([]*Packet, 3)
	for _, i := range []int{2, 0, 1} {
		slots[packets[i].SequenceNumber] = packets[i]
	}

	got := Reassemble(slots, nil)
	if string(got.Payload) != "HELLO WORLD PYTHON" {
		t.Errorf("Reassemble() payload = %q, want %q", got.Payload, "HELLO WORLD PYTHON")
	}
	if got.Type != PayloadChat || got.UserID != 7 || got.UnixTime != 1000 {
		t.Errorf("Reassemble() metadata = %+v", got)
	}
}

func TestEncodeReassembleRoundTrip(t *testing.T) {
	sender := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
	sizes := []int{0, 1, 100, MaxFragmentPayload(MaxPacketSize) - FooterSize, 5000, 64 * 1024}
	rng := rand.New(rand.NewSource(1))

	for _, size := range sizes {
		payload := make([]byte, size)
		rng.Read(payload)

		msg, err := NewMessage(PayloadChat, 55, payload)
		if err != nil {
			t.Fatalf("NewMessage() error = %v", err)
		}
		msg.Flags = FlagEncrypted

		datagrams, err := msg.Encode(MaxPacketSize)
		if err != nil {
			t.Fatalf("Encode(%d bytes) error = %v", size, err)
		}
		if len(datagrams) != PacketCount(size, MaxPacketSize) {
			t.Errorf("Encode(%d bytes) produced %d datagrams, want %d", size, len(datagrams), PacketCount(size, MaxPacketSize))
		}

		rng.Shuffle(len(datagrams), func(i, j int) {
			datagrams[i], datagrams[j] = datagrams[j], datagrams[i]
		})

		slots := make([]*Packet, len(datagrams))
		for _, d := range datagrams {
			if len(d) > MaxPacketSize {
				t.Errorf("datagram length %d exceeds %d", len(d), MaxPacketSize)
			}
			p, err := DecodePacket(d)
			if err != nil {
				t.Fatalf("DecodePacket() error = %v", err)
			}
			slots[p.SequenceNumber] = p
		}

		got := Reassemble(slots, sender)
		if !bytes.Equal(got.Payload, payload) {
			t.Errorf("round trip of %d bytes mismatched", size)
		}
		if got.ID != msg.ID || got.Type != msg.Type || got.UserID != msg.UserID || !got.Encrypted() {
			t.Errorf("round trip metadata = %+v, want %+v", got, msg)
		}
		if got.Sender != sender {
			t.Errorf("Sender = %v, want %v", got.Sender, sender)
		}
	}
}

func TestSingleFragmentMessage(t *testing.T) {
	msg := NewReply(MessageID{4, 5, 6}, PayloadHeartbeat, 3, nil)

	datagrams, err := msg.Encode(MaxPacketSize)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(datagrams) != 1 {
		t.Fatalf("Encode() produced %d datagrams, want 1", len(datagrams))
	}
	if len(datagrams[0]) != HeaderSize+FooterSize {
		t.Errorf("datagram length = %d, want %d", len(datagrams[0]), HeaderSize+FooterSize)
	}

	p, err := DecodePacket(datagrams[0])
	if err != nil {
		t.Fatalf("DecodePacket() error = %v", err)
	}
	if !p.IsLast() || p.SequenceNumber != 0 || p.PacketCount != 1 {
		t.Errorf("header = %+v, want single fragment", p.Header)
	}
}

func TestEncodeMessageTooLarge(t *testing.T) {
	maxPacketSize := HeaderSize + 20
	payload := make([]byte, 20*MaxPacketCount)

	msg := &Message{ID: MessageID{1, 1, 1}, Payload: payload, Type: PayloadChat}
	if _, err := msg.Encode(maxPacketSize); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Encode() error = %v, want %v", err, ErrMessageTooLarge)
	}
}

func TestEncodePacketSizeTooSmall(t *testing.T) {
	msg := &Message{ID: MessageID{1, 1, 1}, Type: PayloadChat}
	if _, err := msg.Encode(HeaderSize + FooterSize - 1); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("Encode() error = %v, want %v", err, ErrPacketTooLarge)
	}
}

func TestReassemblePanicsOnGap(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Reassemble() with a missing slot did not panic")
		}
	}()

	last := &Packet{
		Header: Header{MessageID: MessageID{1, 2, 3}, PacketCount: 2, SequenceNumber: 1},
		Footer: &Footer{PayloadType: PayloadChat},
	}
	Reassemble([]*Packet{nil, last}, nil)
}
