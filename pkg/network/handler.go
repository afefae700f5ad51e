// Package network runs the UDP transport: one socket, a receive loop
// feeding a bounded worker pool, and periodic sweeps for retransmission and
// peer liveness.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/session"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/transaction"
)

var (
	ErrSocketSend = errors.New("socket send failed")
	ErrNotReady   = errors.New("secure session not ready")
	ErrClosed     = errors.New("network handler closed")
	ErrStarted    = errors.New("network handler already started")
)

// MessageListener receives every reassembled, decrypted CHAT message. It is
// called from worker goroutines, possibly concurrently.
type MessageListener func(msg *protocol.Message)

// PeerTracker is the peer-liveness collaborator consulted on connection
// management messages
type PeerTracker interface {
	ReceivedConnection(addr *net.UDPAddr, userID uint32, payload []byte)
	ReceivedHeartbeat(addr *net.UDPAddr)
	ForceDisconnect(addr *net.UDPAddr)
	DisconnectInactive() []*net.UDPAddr
}

type noPeers struct{}

func (noPeers) ReceivedConnection(*net.UDPAddr, uint32, []byte) {}
func (noPeers) ReceivedHeartbeat(*net.UDPAddr) {}
func (noPeers) ForceDisconnect(*net.UDPAddr) {}
func (noPeers) DisconnectInactive() []*net.UDPAddr { return nil }

// Stats is a snapshot of transport counters
type Stats struct {
	LocalAddr      string            `json:"local_addr"`
	DatagramsIn    uint64            `json:"datagrams_in"`
	DatagramsOut   uint64            `json:"datagrams_out"`
	QueueDrops     uint64            `json:"queue_drops"`
	Malformed      uint64            `json:"malformed"`
	Duplicates     uint64            `json:"duplicates"`
	MessagesIn     uint64            `json:"messages_in"`
	MessagesOut    uint64            `json:"messages_out"`
	Delivered      uint64            `json:"delivered"`
	Failed         uint64            `json:"failed"`
	SendErrors     uint64            `json:"send_errors"`
	Resends        uint64            `json:"resends"`
	RepeatRequests uint64            `json:"repeat_requests"`
	Transactions   transaction.Stats `json:"transactions"`
	Sessions       int               `json:"sessions"`
	QueueDepth     int               `json:"queue_depth"`
	QueueCapacity  int               `json:"queue_capacity"`
}

type counters struct {
	datagramsIn    atomic.Uint64
	datagramsOut   atomic.Uint64
	queueDrops     atomic.Uint64
	malformed      atomic.Uint64
	duplicates     atomic.Uint64
	messagesIn     atomic.Uint64
	messagesOut    atomic.Uint64
	delivered      atomic.Uint64
	failed         atomic.Uint64
	sendErrors     atomic.Uint64
	resends        atomic.Uint64
	repeatRequests atomic.Uint64
}

// Handler owns the UDP socket and every transport goroutine
type Handler struct {
	cfg      *Config
	clock    clock.Clock
	tracker  *transaction.Tracker
	sessions *session.Manager
	listener MessageListener
	peers    PeerTracker

	conn  *net.UDPConn
	queue chan datagram

	workers errgroup.Group
	timers  errgroup.Group
	cancel  context.CancelFunc

	// CONNECT ids awaiting acknowledgement; the handshake starts on delivery
	pendingConnects sync.Map

	mu       sync.Mutex
	started  bool
	stopping atomic.Bool
	closed   atomic.Bool

	stats counters
}

// New creates a handler. listener and peers may be nil.
func New(cfg *Config, listener MessageListener, peers PeerTracker) (*Handler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracker, err := transaction.NewTracker(cfg.transactionConfig())
	if err != nil {
		return nil, err
	}

	if listener == nil {
		listener = func(*protocol.Message) {}
	}
	if peers == nil {
		peers = noPeers{}
	}

	return &Handler{
		cfg:      cfg,
		clock:    cfg.Clock,
		tracker:  tracker,
		sessions: session.NewManager(cfg.Rand),
		listener: listener,
		peers:    peers,
	}, nil
}

// Start binds the socket and launches the receive loop, the worker pool and
// the sweep tickers. Failing to bind is the only fatal error.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrStarted
	}

	laddr, err := ResolvePeer(h.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", laddr, err)
	}
	if err := conn.SetReadBuffer(h.cfg.ReadBufferBytes); err != nil {
		log.Warn("Failed to set socket read buffer", zap.Error(err))
	}
	if err := conn.SetWriteBuffer(h.cfg.WriteBufferBytes); err != nil {
		log.Warn("Failed to set socket write buffer", zap.Error(err))
	}

	h.conn = conn
	h.queue = make(chan datagram, h.cfg.IncomingQueueSize)
	h.started = true

	ctx, h.cancel = context.WithCancel(ctx)

	h.workers.Go(h.receiveLoop)
	for i := 0; i < h.cfg.Workers; i++ {
		h.workers.Go(h.worker)
	}

	h.timers.Go(func() error {
		return h.every(ctx, h.cfg.SweepInterval, h.sweepTransactions)
	})
	h.timers.Go(func() error {
		return h.every(ctx, h.cfg.HeartbeatInterval, h.sweepPeers)
	})

	log.Info("Network handler started",
		zap.Stringer("addr", conn.LocalAddr()),
		zap.Uint32("user_id", h.cfg.UserID),
		zap.Int("workers", h.cfg.Workers))
	return nil
}

// Stop shuts the handler down: the receive loop stops accepting datagrams,
// queued datagrams are drained by the workers, the tickers stop, and finally
// the socket is closed. Incomplete transactions are abandoned.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.stopping.Load() {
		return nil
	}
	h.stopping.Store(true)

	// Unblock ReadFromUDP
	if err := h.conn.SetReadDeadline(time.Now()); err != nil {
		log.Warn("Failed to set read deadline", zap.Error(err))
	}

	if err := h.workers.Wait(); err != nil {
		log.Error("Worker exited with error", zap.Error(err))
	}

	h.cancel()
	if err := h.timers.Wait(); err != nil {
		log.Error("Ticker exited with error", zap.Error(err))
	}

	h.closed.Store(true)
	err := h.conn.Close()

	log.Info("Network handler stopped",
		zap.Stringer("addr", h.conn.LocalAddr()),
		zap.Int("abandoned_transactions", h.tracker.Active()))
	return err
}

// every runs fn on each tick until ctx is done
func (h *Handler) every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := h.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// LocalAddr returns the bound socket address, nil before Start
func (h *Handler) LocalAddr() *net.UDPAddr {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr().(*net.UDPAddr)
}

// UserID returns the user id stamped on outgoing messages
func (h *Handler) UserID() uint32 {
	return h.cfg.UserID
}

// Sessions exposes the per-peer handshake state
func (h *Handler) Sessions() *session.Manager {
	return h.sessions
}

// Tracker exposes the transaction tracker
func (h *Handler) Tracker() *transaction.Tracker {
	return h.tracker
}

// Stats returns a snapshot of the transport counters
func (h *Handler) Stats() Stats {
	s := Stats{
		DatagramsIn:    h.stats.datagramsIn.Load(),
		DatagramsOut:   h.stats.datagramsOut.Load(),
		QueueDrops:     h.stats.queueDrops.Load(),
		Malformed:      h.stats.malformed.Load(),
		Duplicates:     h.stats.duplicates.Load(),
		MessagesIn:     h.stats.messagesIn.Load(),
		MessagesOut:    h.stats.messagesOut.Load(),
		Delivered:      h.stats.delivered.Load(),
		Failed:         h.stats.failed.Load(),
		SendErrors:     h.stats.sendErrors.Load(),
		Resends:        h.stats.resends.Load(),
		RepeatRequests: h.stats.repeatRequests.Load(),
		Transactions:   h.tracker.Stats(),
		Sessions:       h.sessions.Len(),
		QueueCapacity:  h.cfg.IncomingQueueSize,
	}
	if addr := h.LocalAddr(); addr != nil {
		s.LocalAddr = addr.String()
	}
	if q := h.queue; q != nil {
		s.QueueDepth = len(q)
	}
	return s
}

// ===== SEND PATH =====

// writeTo transmits one datagram
func (h *Handler) writeTo(buf []byte, to *net.UDPAddr) error {
	if h.conn == nil || h.closed.Load() {
		return ErrClosed
	}

	if _, err := h.conn.WriteToUDP(buf, to); err != nil {
		h.stats.sendErrors.Add(1)
		return fmt.Errorf("%w: %w", ErrSocketSend, err)
	}
	h.stats.datagramsOut.Add(1)
	return nil
}

// SendMessage fragments msg and transmits every fragment to the recipient.
// With track set the message is resent until acknowledged; acknowledgements
// and repeat requests are sent untracked. A socket error aborts the
// remaining fragments and the message is not tracked.
func (h *Handler) SendMessage(msg *protocol.Message, to *net.UDPAddr, track bool) error {
	datagrams, err := msg.Encode(h.cfg.MaxPacketSize)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	if track {
		if err := h.tracker.TrackOutgoing(msg.ID, datagrams, to); err != nil {
			return err
		}
	}

	for i, d := range datagrams {
		if err := h.writeTo(d, to); err != nil {
			if track {
				h.tracker.Abort(msg.ID)
			}
			log.Warn("Failed to send message",
				zap.Stringer("message_id", msg.ID),
				zap.Stringer("type", msg.Type),
				zap.Stringer("peer", to),
				zap.Int("fragment", i),
				zap.Error(err))
			return err
		}
	}

	h.stats.messagesOut.Add(1)
	log.Debug("Message sent",
		zap.Stringer("message_id", msg.ID),
		zap.Stringer("type", msg.Type),
		zap.Stringer("peer", to),
		zap.Int("packets", len(datagrams)),
		zap.Bool("tracked", track))
	return nil
}

// Send originates a tracked message of the given type. Payload types that
// travel encrypted require a ready session with the peer and fail with
// ErrNotReady otherwise.
func (h *Handler) Send(to *net.UDPAddr, payloadType protocol.PayloadType, payload []byte) (protocol.MessageID, error) {
	return h.send(to, payloadType, payload, h.cfg.UserID, protocol.NowUnix())
}

// SendChat sends a chat message to a peer with a ready session
func (h *Handler) SendChat(to *net.UDPAddr, text string) (protocol.MessageID, error) {
	return h.Send(to, protocol.PayloadChat, []byte(text))
}

// Forward re-sends a received message to another peer, keeping the
// original author's user id and timestamp. The payload is re-encrypted for
// the new recipient.
func (h *Handler) Forward(to *net.UDPAddr, msg *protocol.Message) (protocol.MessageID, error) {
	return h.send(to, msg.Type, msg.Payload, msg.UserID, msg.UnixTime)
}

func (h *Handler) send(to *net.UDPAddr, payloadType protocol.PayloadType, payload []byte, userID, unixTime uint32) (protocol.MessageID, error) {
	id, err := h.tracker.NewMessageID()
	if err != nil {
		return id, err
	}
	return id, h.sendAs(id, to, payloadType, payload, userID, unixTime)
}

func (h *Handler) sendAs(id protocol.MessageID, to *net.UDPAddr, payloadType protocol.PayloadType, payload []byte, userID, unixTime uint32) error {
	msg := &protocol.Message{
		ID:       id,
		Payload:  payload,
		Type:     payloadType,
		UserID:   userID,
		UnixTime: unixTime,
	}

	wire := *msg
	if payloadType.ShouldEncrypt() {
		hs, ok := h.sessions.Get(to)
		if !ok || !hs.Ready() {
			return fmt.Errorf("%w: %s", ErrNotReady, to)
		}

		ciphertext, err := hs.Encrypt(payload)
		if err != nil {
			if errors.Is(err, session.ErrSessionKeyNotEstablished) {
				return fmt.Errorf("%w: %w", ErrNotReady, err)
			}
			return err
		}
		wire.Payload = ciphertext
		wire.Flags |= protocol.FlagEncrypted
	}

	if h.cfg.OnSend != nil {
		h.cfg.OnSend(msg, to)
	}
	return h.SendMessage(&wire, to, true)
}

// acknowledge sends an untracked ACKNOWLEDGE reusing the message's ID
func (h *Handler) acknowledge(msg *protocol.Message) {
	ack := protocol.NewReply(msg.ID, protocol.PayloadAcknowledge, h.cfg.UserID, nil)
	if err := h.SendMessage(ack, msg.Sender, false); err != nil {
		log.Debug("Failed to acknowledge", zap.Stringer("message_id", msg.ID), zap.Error(err))
	}
}

// ===== CONNECTION MANAGEMENT =====

// Connect announces ourselves to a peer. payload is an opaque handshake
// initialisation blob handed to the peer's PeerTracker. Any previous
// session with the peer is discarded, and the key exchange starts once the
// peer acknowledges the CONNECT.
func (h *Handler) Connect(to *net.UDPAddr, payload []byte) (protocol.MessageID, error) {
	h.sessions.Reset(to)

	id, err := h.tracker.NewMessageID()
	if err != nil {
		return id, err
	}

	h.pendingConnects.Store(id, to)
	if err := h.sendAs(id, to, protocol.PayloadConnect, payload, h.cfg.UserID, protocol.NowUnix()); err != nil {
		h.pendingConnects.Delete(id)
		return id, err
	}
	return id, nil
}

// Disconnect tells a peer we are leaving and forgets its session
func (h *Handler) Disconnect(to *net.UDPAddr) error {
	_, err := h.Send(to, protocol.PayloadDisconnect, nil)
	h.sessions.Remove(to)
	return err
}

// Heartbeat sends a liveness signal to a peer
func (h *Handler) Heartbeat(to *net.UDPAddr) error {
	_, err := h.Send(to, protocol.PayloadHeartbeat, nil)
	return err
}

// StartHandshake generates our DH key pair for a peer and sends the public
// half. Calling it again for the same session is a no-op.
func (h *Handler) StartHandshake(to *net.UDPAddr) error {
	hs := h.sessions.GetOrCreate(to)

	public, derived, err := hs.GenerateOwnKeys()
	if err != nil {
		return fmt.Errorf("generate keys: %w", err)
	}
	if public != nil {
		if _, err := h.Send(to, protocol.PayloadDHKey, public); err != nil {
			return err
		}
		log.Debug("Handshake started", zap.Stringer("peer", to))
	}
	if derived {
		h.sessionDerived(to, hs)
	}
	return nil
}

// IsReady reports whether encrypted traffic can flow to a peer
func (h *Handler) IsReady(peer *net.UDPAddr) bool {
	hs, ok := h.sessions.Get(peer)
	return ok && hs.Ready()
}
