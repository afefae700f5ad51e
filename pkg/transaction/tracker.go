// Package transaction implements the acknowledgement and retry protocol:
// one record per message ID, fragment reassembly for inbound messages,
// resend bookkeeping for outbound ones, and a periodic sweep that turns
// elapsed deadlines into repeat requests, resends and failures.
//
// Locking is two-level. The table lock guards insertion, lookup and removal;
// each record has its own lock for per-record work. The table lock is never
// held while a record lock is taken.
package transaction

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
)

var (
	ErrDuplicate          = errors.New("duplicate of a completed message")
	ErrIDConflict         = errors.New("message id already in use")
	ErrCountMismatch      = errors.New("fragment count differs from transaction")
	ErrUnknownTransaction = errors.New("no active transaction")
	ErrGiveUp             = errors.New("retry ceiling reached")
)

// Config holds the timing constants of the retry protocol
type Config struct {
	RepeatWait         time.Duration // Quiet time on an inbound message before asking for missing fragments
	ResendWait         time.Duration // Wait for an acknowledgement before resending
	GiveUpAttempts     int           // Retries before a transaction fails
	CompletedCacheSize int
	Clock              clock.Clock
}

// DefaultConfig returns the default retry settings
func DefaultConfig() Config {
	return Config{
		RepeatWait:         300 * time.Millisecond,
		ResendWait:         time.Second,
		GiveUpAttempts:     3,
		CompletedCacheSize: 1024,
		Clock:              clock.New(),
	}
}

// RepeatRequest asks the sender of an incomplete message for missing fragments
type RepeatRequest struct {
	ID      protocol.MessageID
	Peer    *net.UDPAddr
	Missing []int
}

// Resend is a full retransmission of an unacknowledged message
type Resend struct {
	ID        protocol.MessageID
	Peer      *net.UDPAddr
	Datagrams [][]byte
}

// Failure is a transaction that hit the retry ceiling
type Failure struct {
	ID        protocol.MessageID
	Peer      *net.UDPAddr
	Direction Direction
	Attempts  int
}

// Err returns the failure as an error wrapping ErrGiveUp
func (f Failure) Err() error {
	return fmt.Errorf("%w: %s message %s to %s after %d attempts", ErrGiveUp, f.Direction, f.ID, f.Peer, f.Attempts)
}

// SweepResult partitions the overdue records found by one sweep
type SweepResult struct {
	Repeats  []RepeatRequest
	Resends  []Resend
	Failures []Failure
}

// Empty reports whether the sweep found nothing to do
func (r SweepResult) Empty() bool {
	return len(r.Repeats) == 0 && len(r.Resends) == 0 && len(r.Failures) == 0
}

// Stats is a snapshot of tracker occupancy
type Stats struct {
	Inbound   int `json:"inbound"`
	Outbound  int `json:"outbound"`
	Completed int `json:"completed"`
}

// Tracker owns every active transaction
type Tracker struct {
	cfg       Config
	clock     clock.Clock
	completed *Completed

	mu      sync.Mutex
	records map[protocol.MessageID]*record
}

// NewTracker creates a tracker. Zero config fields take their defaults.
func NewTracker(cfg Config) (*Tracker, error) {
	def := DefaultConfig()
	if cfg.RepeatWait <= 0 {
		cfg.RepeatWait = def.RepeatWait
	}
	if cfg.ResendWait <= 0 {
		cfg.ResendWait = def.ResendWait
	}
	if cfg.GiveUpAttempts <= 0 {
		cfg.GiveUpAttempts = def.GiveUpAttempts
	}
	if cfg.CompletedCacheSize <= 0 {
		cfg.CompletedCacheSize = def.CompletedCacheSize
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	completed, err := NewCompleted(cfg.CompletedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create completed cache: %w", err)
	}

	return &Tracker{
		cfg:       cfg,
		clock:     cfg.Clock,
		completed: completed,
		records:   make(map[protocol.MessageID]*record),
	}, nil
}

// Completed exposes the completed-message cache
func (t *Tracker) Completed() *Completed {
	return t.completed
}

// IsCompleted reports whether id belongs to a recently finished transaction
func (t *Tracker) IsCompleted(id protocol.MessageID) bool {
	return t.completed.Contains(id)
}

// InUse reports whether id is active or recently completed
func (t *Tracker) InUse(id protocol.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, active := t.records[id]
	return active || t.completed.Contains(id)
}

// NewMessageID draws a random ID that is not currently in use
func (t *Tracker) NewMessageID() (protocol.MessageID, error) {
	for {
		id, err := protocol.NewMessageID()
		if err != nil {
			return id, err
		}
		if !t.InUse(id) {
			return id, nil
		}
	}
}

// ===== INBOUND =====

// Receive feeds one decoded packet into its transaction. It returns the
// reassembled message once every fragment is present, nil while fragments
// are still missing, and ErrDuplicate for traffic belonging to a finished
// transaction. The packet is retained; callers must not reuse its buffer.
func (t *Tracker) Receive(p *protocol.Packet, sender *net.UDPAddr) (*protocol.Message, error) {
	if p.PacketCount == 1 {
		return t.receiveSingle(p, sender)
	}

	id := p.MessageID
	now := t.clock.Now()

	t.mu.Lock()
	if t.completed.Contains(id) {
		t.mu.Unlock()
		return nil, ErrDuplicate
	}
	rec, ok := t.records[id]
	if !ok {
		rec = newInboundRecord(id, sender, int(p.PacketCount), now.Add(t.cfg.RepeatWait))
		t.records[id] = rec
		log.Debug("Inbound transaction opened",
			zap.Stringer("message_id", id),
			zap.Stringer("peer", sender),
			zap.Uint8("packets", p.PacketCount))
	}
	t.mu.Unlock()

	if rec.inbound == nil {
		return nil, fmt.Errorf("%w: %s is an outbound transaction", ErrIDConflict, id)
	}

	rec.mu.Lock()
	if rec.done {
		rec.mu.Unlock()
		return nil, ErrDuplicate
	}
	if len(rec.inbound.slots) != int(p.PacketCount) {
		rec.mu.Unlock()
		return nil, fmt.Errorf("%w: %d, transaction has %d", ErrCountMismatch, p.PacketCount, len(rec.inbound.slots))
	}

	rec.inbound.store(p)
	rec.deadline = now.Add(t.cfg.RepeatWait)
	rec.attempts = 0

	if !rec.inbound.complete() {
		rec.mu.Unlock()
		return nil, nil
	}

	rec.done = true
	msg := protocol.Reassemble(rec.inbound.slots, rec.peer)
	rec.mu.Unlock()

	t.finish(rec)
	return msg, nil
}

// receiveSingle handles a one-fragment message without opening a record.
// The duplicate check and cache insertion share one critical section so two
// copies racing through different workers cannot both be delivered.
// Selective repeat requests are never cached because the ACKNOWLEDGE that
// eventually closes the same transaction reuses the ID.
func (t *Tracker) receiveSingle(p *protocol.Packet, sender *net.UDPAddr) (*protocol.Message, error) {
	if p.Footer == nil {
		return nil, fmt.Errorf("%w: single fragment without footer", protocol.ErrTruncatedFrame)
	}

	id := p.MessageID
	pt := p.Footer.PayloadType
	reply := pt == protocol.PayloadAcknowledge || pt == protocol.PayloadSelectiveRepeat

	t.mu.Lock()
	if t.completed.Contains(id) {
		t.mu.Unlock()
		return nil, ErrDuplicate
	}
	if _, active := t.records[id]; active && !reply {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s collides with an active transaction", ErrIDConflict, pt, id)
	}
	if pt != protocol.PayloadSelectiveRepeat {
		t.completed.Add(id)
	}
	t.mu.Unlock()

	return protocol.Reassemble([]*protocol.Packet{p}, sender), nil
}

// ===== OUTBOUND =====

// TrackOutgoing registers a sent message so it is resent until acknowledged
func (t *Tracker) TrackOutgoing(id protocol.MessageID, datagrams [][]byte, peer *net.UDPAddr) error {
	deadline := t.clock.Now().Add(t.cfg.ResendWait)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, active := t.records[id]; active {
		return fmt.Errorf("%w: %s is active", ErrIDConflict, id)
	}
	if t.completed.Contains(id) {
		return fmt.Errorf("%w: %s completed recently", ErrIDConflict, id)
	}

	t.records[id] = newOutboundRecord(id, peer, datagrams, deadline)
	log.Debug("Outbound transaction opened",
		zap.Stringer("message_id", id),
		zap.Stringer("peer", peer),
		zap.Int("packets", len(datagrams)))
	return nil
}

// Abort drops an outbound transaction without marking it completed. Used
// when the initial transmission failed.
func (t *Tracker) Abort(id protocol.MessageID) bool {
	t.mu.Lock()
	rec, ok := t.records[id]
	if ok && rec.outbound != nil {
		delete(t.records, id)
	}
	t.mu.Unlock()

	if !ok || rec.outbound == nil {
		return false
	}

	rec.mu.Lock()
	rec.done = true
	rec.mu.Unlock()
	return true
}

// Close ends an outbound transaction after its acknowledgement arrived. It
// reports whether this call closed it; a later or concurrent terminal event
// returns false.
func (t *Tracker) Close(id protocol.MessageID) bool {
	t.mu.Lock()
	rec, ok := t.records[id]
	if ok && rec.inbound != nil {
		t.mu.Unlock()
		return false
	}
	t.completed.Add(id)
	if ok {
		delete(t.records, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	rec.mu.Lock()
	closed := !rec.done
	rec.done = true
	rec.mu.Unlock()

	if closed {
		log.Debug("Outbound transaction acknowledged", zap.Stringer("message_id", id), zap.Stringer("peer", rec.peer))
	}
	return closed
}

// SelectiveRepeat returns the requested fragments of an outbound message for
// retransmission, resetting its deadline. Indices outside the message are
// ignored.
func (t *Tracker) SelectiveRepeat(id protocol.MessageID, indices []int) ([][]byte, *net.UDPAddr, error) {
	t.mu.Lock()
	rec, ok := t.records[id]
	t.mu.Unlock()

	if !ok || rec.outbound == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.done {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
	}

	out := make([][]byte, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(rec.outbound.datagrams) {
			log.Warn("Selective repeat index out of range",
				zap.Stringer("message_id", id),
				zap.Int("index", idx),
				zap.Int("packets", len(rec.outbound.datagrams)))
			continue
		}
		out = append(out, rec.outbound.datagrams[idx])
	}

	rec.deadline = t.clock.Now().Add(t.cfg.ResendWait)
	rec.attempts++

	return out, rec.peer, nil
}

// ===== SWEEP =====

// Sweep inspects every active record once. Overdue inbound records produce
// repeat requests, overdue outbound records produce full resends, and
// records already at the retry ceiling fail and are removed. All bookkeeping
// (attempt counts, new deadlines) is applied before returning, so the caller
// only has to transmit.
func (t *Tracker) Sweep() SweepResult {
	now := t.clock.Now()

	t.mu.Lock()
	recs := make([]*record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	t.mu.Unlock()

	var (
		res    SweepResult
		failed []*record
	)

	for _, rec := range recs {
		rec.mu.Lock()
		if rec.done || !now.After(rec.deadline) {
			rec.mu.Unlock()
			continue
		}

		if rec.attempts >= t.cfg.GiveUpAttempts {
			rec.done = true
			res.Failures = append(res.Failures, Failure{
				ID:        rec.id,
				Peer:      rec.peer,
				Direction: rec.direction(),
				Attempts:  rec.attempts,
			})
			failed = append(failed, rec)
			rec.mu.Unlock()
			continue
		}

		rec.attempts++
		rec.deadline = now.Add(t.cfg.ResendWait)

		if rec.inbound != nil {
			res.Repeats = append(res.Repeats, RepeatRequest{
				ID:      rec.id,
				Peer:    rec.peer,
				Missing: rec.inbound.missing(),
			})
		} else {
			res.Resends = append(res.Resends, Resend{
				ID:        rec.id,
				Peer:      rec.peer,
				Datagrams: rec.outbound.datagrams,
			})
		}
		rec.mu.Unlock()
	}

	for _, rec := range failed {
		t.finish(rec)
		log.Warn("Transaction failed",
			zap.Stringer("message_id", rec.id),
			zap.Stringer("peer", rec.peer),
			zap.Stringer("direction", rec.direction()),
			zap.Int("attempts", t.cfg.GiveUpAttempts))
	}

	return res
}

// finish removes a terminal record and remembers its ID
func (t *Tracker) finish(rec *record) {
	t.mu.Lock()
	if cur, ok := t.records[rec.id]; ok && cur == rec {
		delete(t.records, rec.id)
	}
	t.completed.Add(rec.id)
	t.mu.Unlock()
}

// Active returns the number of open transactions
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Stats returns occupancy counters
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{Completed: t.completed.Len()}
	for _, rec := range t.records {
		if rec.inbound != nil {
			s.Inbound++
		} else {
			s.Outbound++
		}
	}
	return s
}
