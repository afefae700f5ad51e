package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		header *Header
	}{
		{
			name:   "single fragment",
			header: &Header{MessageID: MessageID{0x01, 0x02, 0x03}, PacketCount: 1, SequenceNumber: 0},
		},
		{
			name:   "middle fragment",
			header: &Header{MessageID: MessageID{0xAA, 0xBB, 0xCC}, PacketCount: 12, SequenceNumber: 5},
		},
		{
			name:   "maximum count",
			header: &Header{MessageID: MessageID{0xFF, 0xFF, 0xFF}, PacketCount: 255, SequenceNumber: 254},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()

			if len(encoded) != HeaderSize {
				t.Errorf("Encode() length = %d, want %d", len(encoded), HeaderSize)
			}

			decoded := &Header{}
			if err := decoded.Decode(encoded); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if *decoded != *tt.header {
				t.Errorf("Decode() = %+v, want %+v", decoded, tt.header)
			}
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	h := &Header{MessageID: MessageID{0x10, 0x20, 0x30}, PacketCount: 7, SequenceNumber: 3}

	want := []byte{0x10, 0x20, 0x30, 0x07, 0x03}
	if got := h.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestHeaderDecodeTooShort(t *testing.T) {
	header := &Header{}
	err := header.Decode(make([]byte, HeaderSize-1))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Errorf("Decode() error = %v, want %v", err, ErrTruncatedFrame)
	}
}

func TestHeaderValidate(t *testing.T) {
	tests := []struct {
		name    string
		count   uint8
		seq     uint8
		wantErr bool
	}{
		{"first of one", 1, 0, false},
		{"last of many", 10, 9, false},
		{"zero count", 0, 0, true},
		{"sequence equals count", 3, 3, true},
		{"sequence beyond count", 3, 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Header{PacketCount: tt.count, SequenceNumber: tt.seq}
			err := h.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSequence) {
				t.Errorf("Validate() error = %v, want %v", err, ErrInvalidSequence)
			}
		})
	}
}

func TestFooterEncodeDecode(t *testing.T) {
	footer := &Footer{
		PayloadType: PayloadChat,
		UserID:      0xDEADBEEF,
		UnixTime:    1700000000,
		Flags:       FlagEncrypted,
	}

	encoded := footer.Encode()
	if len(encoded) != FooterSize {
		t.Fatalf("Encode() length = %d, want %d", len(encoded), FooterSize)
	}

	want := []byte{0x03, 0xDE, 0xAD, 0xBE, 0xEF, 0x65, 0x53, 0xF1, 0x00, 0x01}
	if !bytes.Equal(encoded, want) {
		t.Errorf("Encode() = %x, want %x", encoded, want)
	}

	decoded := &Footer{}
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if *decoded != *footer {
		t.Errorf("Decode() = %+v, want %+v", decoded, footer)
	}
	if !decoded.HasFlag(FlagEncrypted) {
		t.Error("HasFlag(FlagEncrypted) = false, want true")
	}
}

func TestFooterDecodeErrors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		err := (&Footer{}).Decode(make([]byte, FooterSize-1))
		if !errors.Is(err, ErrTruncatedFrame) {
			t.Errorf("Decode() error = %v, want %v", err, ErrTruncatedFrame)
		}
	})

	t.Run("unknown payload type", func(t *testing.T) {
		buf := make([]byte, FooterSize)
		buf[0] = 0x42
		err := (&Footer{}).Decode(buf)
		if !errors.Is(err, ErrMalformedPayloadType) {
			t.Errorf("Decode() error = %v, want %v", err, ErrMalformedPayloadType)
		}
	})
}

func TestPacketEncodeDecode(t *testing.T) {
	id := MessageID{9, 8, 7}

	tests := []struct {
		name   string
		packet *Packet
	}{
		{
			name: "non-final fragment",
			packet: &Packet{
				Header:  Header{MessageID: id, PacketCount: 3, SequenceNumber: 1},
				Payload: []byte("middle"),
			},
		},
		{
			name: "final fragment",
			packet: &Packet{
				Header:  Header{MessageID: id, PacketCount: 3, SequenceNumber: 2},
				Payload: []byte("tail"),
				Footer:  &Footer{PayloadType: PayloadChat, UserID: 42, UnixTime: 12345},
			},
		},
		{
			name: "empty control packet",
			packet: &Packet{
				Header: Header{MessageID: id, PacketCount: 1, SequenceNumber: 0},
				Footer: &Footer{PayloadType: PayloadAcknowledge, UserID: 7},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.packet.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(encoded) != tt.packet.Size() {
				t.Errorf("Encode() length = %d, want %d", len(encoded), tt.packet.Size())
			}

			decoded, err := DecodePacket(encoded)
			if err != nil {
				t.Fatalf("DecodePacket() error = %v", err)
			}

			if decoded.Header != tt.packet.Header {
				t.Errorf("Header = %+v, want %+v", decoded.Header, tt.packet.Header)
			}
			if !bytes.Equal(decoded.Payload, tt.packet.Payload) {
				t.Errorf("Payload = %q, want %q", decoded.Payload, tt.packet.Payload)
			}
			if (decoded.Footer == nil) != (tt.packet.Footer == nil) {
				t.Fatalf("Footer presence = %v, want %v", decoded.Footer != nil, tt.packet.Footer != nil)
			}
			if decoded.Footer != nil && *decoded.Footer != *tt.packet.Footer {
				t.Errorf("Footer = %+v, want %+v", decoded.Footer, tt.packet.Footer)
			}
		})
	}
}

func TestPacketEncodeFooterPlacement(t *testing.T) {
	id := MessageID{1, 1, 1}

	missing := &Packet{Header: Header{MessageID: id, PacketCount: 2, SequenceNumber: 1}}
	if _, err := missing.Encode(); !errors.Is(err, ErrInvalidSequence) {
		t.Errorf("Encode() without footer on last fragment error = %v, want %v", err, ErrInvalidSequence)
	}

	misplaced := &Packet{
		Header: Header{MessageID: id, PacketCount: 2, SequenceNumber: 0},
		Footer: &Footer{PayloadType: PayloadChat},
	}
	if _, err := misplaced.Encode(); !errors.Is(err, ErrInvalidSequence) {
		t.Errorf("Encode() with footer on first fragment error = %v, want %v", err, ErrInvalidSequence)
	}
}

func TestDecodePacketErrors(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncatedFrame},
		{"short header", []byte{1, 2, 3}, ErrTruncatedFrame},
		{"zero count", []byte{1, 2, 3, 0, 0}, ErrInvalidSequence},
		{"sequence out of range", []byte{1, 2, 3, 2, 5, 0xAA}, ErrInvalidSequence},
		{"last fragment without footer", []byte{1, 2, 3, 1, 0, 0x03, 0, 0}, ErrTruncatedFrame},
		{"unknown payload type", []byte{1, 2, 3, 1, 0, 0x99, 0, 0, 0, 1, 0, 0, 0, 1, 0}, ErrMalformedPayloadType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePacket(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodePacket() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
