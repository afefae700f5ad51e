package transaction

import (
	"net"
	"sync"
	"time"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
)

// Direction tells which side opened a transaction
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// record is one active transaction. Exactly one of inbound and outbound is
// set. Fields below mu are guarded by it; id, peer and the variant pointer
// are fixed at creation.
type record struct {
	id   protocol.MessageID
	peer *net.UDPAddr

	inbound  *inbound
	outbound *outbound

	mu       sync.Mutex
	deadline time.Time
	attempts int

	// done is set once the record reached a terminal state but may still be
	// in the table for a moment
	done bool
}

// inbound collects fragments of a message we are receiving
type inbound struct {
	slots    []*protocol.Packet
	received int
}

// outbound keeps the encoded fragments of a message we sent, for resends
type outbound struct {
	datagrams [][]byte
}

func newInboundRecord(id protocol.MessageID, peer *net.UDPAddr, count int, deadline time.Time) *record {
	return &record{
		id:       id,
		peer:     peer,
		inbound:  &inbound{slots: make([]*protocol.Packet, count)},
		deadline: deadline,
	}
}

func newOutboundRecord(id protocol.MessageID, peer *net.UDPAddr, datagrams [][]byte, deadline time.Time) *record {
	return &record{
		id:       id,
		peer:     peer,
		outbound: &outbound{datagrams: datagrams},
		deadline: deadline,
	}
}

func (r *record) direction() Direction {
	if r.inbound != nil {
		return Inbound
	}
	return Outbound
}

// store places a fragment in its slot. It reports whether the slot was new.
// Caller holds mu.
func (in *inbound) store(p *protocol.Packet) bool {
	if in.slots[p.SequenceNumber] != nil {
		return false
	}
	in.slots[p.SequenceNumber] = p
	in.received++
	return true
}

func (in *inbound) complete() bool {
	return in.received == len(in.slots)
}

// missing lists the empty slot indices in ascending order. Caller holds mu.
func (in *inbound) missing() []int {
	out := make([]int, 0, len(in.slots)-in.received)
	for i, p := range in.slots {
		if p == nil {
			out = append(out, i)
		}
	}
	return out
}
