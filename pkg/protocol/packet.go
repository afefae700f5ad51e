package protocol

import "fmt"

// Packet is the unit placed on the wire
type Packet struct {
	Header
	Payload []byte
	Footer  *Footer // Present iff this is the last fragment
}

// Size returns the encoded length of the packet
func (p *Packet) Size() int {
	n := HeaderSize + len(p.Payload)
	if p.Footer != nil {
		n += FooterSize
	}
	return n
}

// Encode serialises the packet
func (p *Packet) Encode() ([]byte, error) {
	if err := p.Header.Validate(); err != nil {
		return nil, err
	}
	if p.IsLast() != (p.Footer != nil) {
		return nil, fmt.Errorf("%w: footer must be present exactly on the last fragment", ErrInvalidSequence)
	}

	buf := make([]byte, p.Size())
	p.Header.put(buf)
	copy(buf[HeaderSize:], p.Payload)
	if p.Footer != nil {
		p.Footer.put(buf[HeaderSize+len(p.Payload):])
	}

	return buf, nil
}

// DecodePacket parses a datagram into a Packet. The returned payload
// aliases buf.
func DecodePacket(buf []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.Header.Decode(buf); err != nil {
		return nil, err
	}
	if err := p.Header.Validate(); err != nil {
		return nil, err
	}

	body := buf[HeaderSize:]
	if !p.IsLast() {
		p.Payload = body
		return p, nil
	}

	if len(body) < FooterSize {
		return nil, fmt.Errorf("%w: footer needs %d bytes, got %d", ErrTruncatedFrame, FooterSize, len(body))
	}

	split := len(body) - FooterSize
	footer := &Footer{}
	if err := footer.Decode(body[split:]); err != nil {
		return nil, err
	}

	p.Payload = body[:split]
	p.Footer = footer
	return p, nil
}
