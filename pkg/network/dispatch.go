package network

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/session"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/transaction"
)

type datagram struct {
	buf  []byte
	from *net.UDPAddr
}

// receiveLoop reads datagrams into the incoming queue. A full queue drops
// the datagram; the retry protocol recovers it. The queue is closed on exit
// so the workers drain it and return.
func (h *Handler) receiveLoop() error {
	defer close(h.queue)

	// One spare byte detects datagrams larger than the configured bound
	buf := make([]byte, h.cfg.MaxPacketSize+1)

	for {
		n, from, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if h.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Socket read failed", zap.Error(err))
			continue
		}

		h.stats.datagramsIn.Add(1)

		if n > h.cfg.MaxPacketSize {
			h.stats.malformed.Add(1)
			log.Debug("Dropping oversize datagram", zap.Stringer("peer", from), zap.Int("size", n))
			continue
		}

		d := datagram{buf: append([]byte(nil), buf[:n]...), from: from}
		select {
		case h.queue <- d:
		default:
			h.stats.queueDrops.Add(1)
			log.Debug("Incoming queue full, dropping datagram", zap.Stringer("peer", from))
		}
	}
}

func (h *Handler) worker() error {
	for d := range h.queue {
		h.onDatagram(d.buf, d.from)
	}
	return nil
}

// onDatagram decodes one datagram and feeds it through the tracker,
// dispatching the message once it is complete
func (h *Handler) onDatagram(buf []byte, from *net.UDPAddr) {
	p, err := protocol.DecodePacket(buf)
	if err != nil {
		h.stats.malformed.Add(1)
		log.Debug("Dropping malformed datagram", zap.Stringer("peer", from), zap.Error(err))
		return
	}

	msg, err := h.tracker.Receive(p, from)
	switch {
	case errors.Is(err, transaction.ErrDuplicate):
		h.stats.duplicates.Add(1)
		log.Debug("Dropping duplicate", zap.Stringer("message_id", p.MessageID), zap.Stringer("peer", from))
		return
	case err != nil:
		h.stats.malformed.Add(1)
		log.Warn("Packet rejected", zap.Stringer("message_id", p.MessageID), zap.Stringer("peer", from), zap.Error(err))
		return
	case msg == nil:
		return
	}

	h.stats.messagesIn.Add(1)
	h.dispatch(msg)
}

// dispatch acts on a complete message. State changes happen before the
// acknowledgement goes out so the peer never races ahead of them.
func (h *Handler) dispatch(msg *protocol.Message) {
	log.Debug("Message received",
		zap.Stringer("message_id", msg.ID),
		zap.Stringer("type", msg.Type),
		zap.Stringer("peer", msg.Sender),
		zap.Uint32("user_id", msg.UserID))

	switch msg.Type {
	case protocol.PayloadConnect:
		h.sessions.Reset(msg.Sender)
		h.peers.ReceivedConnection(msg.Sender, msg.UserID, msg.Payload)
		h.acknowledge(msg)

	case protocol.PayloadDisconnect:
		h.sessions.Remove(msg.Sender)
		h.peers.ForceDisconnect(msg.Sender)
		h.acknowledge(msg)

	case protocol.PayloadHeartbeat:
		h.peers.ReceivedHeartbeat(msg.Sender)
		h.acknowledge(msg)

	case protocol.PayloadChat:
		h.onChat(msg)

	case protocol.PayloadAcknowledge:
		h.onAcknowledge(msg)

	case protocol.PayloadSelectiveRepeat:
		h.onSelectiveRepeat(msg)

	case protocol.PayloadDHKey:
		h.onDHKey(msg)
		h.acknowledge(msg)

	case protocol.PayloadPrepared:
		hs := h.sessions.GetOrCreate(msg.Sender)
		hs.MarkPeerPrepared()
		h.acknowledge(msg)
		h.announceReady(msg.Sender, hs)

	default:
		log.Warn("Unhandled payload type", zap.Stringer("type", msg.Type), zap.Stringer("peer", msg.Sender))
	}
}

// onChat decrypts a CHAT and hands it to the listener. Undecryptable
// messages are dropped without an acknowledgement so the sender sees a
// failure rather than a false delivery.
func (h *Handler) onChat(msg *protocol.Message) {
	if !msg.Encrypted() {
		log.Warn("Dropping unencrypted chat", zap.Stringer("message_id", msg.ID), zap.Stringer("peer", msg.Sender))
		return
	}

	hs, ok := h.sessions.Get(msg.Sender)
	if !ok {
		log.Warn("Dropping chat without session", zap.Stringer("message_id", msg.ID), zap.Stringer("peer", msg.Sender))
		return
	}

	plaintext, err := hs.Decrypt(msg.Payload)
	if err != nil {
		log.Warn("Dropping undecryptable chat",
			zap.Stringer("message_id", msg.ID),
			zap.Stringer("peer", msg.Sender),
			zap.Error(err))
		return
	}

	msg.Payload = plaintext
	msg.Flags &^= protocol.FlagEncrypted

	h.listener(msg)
	h.acknowledge(msg)
}

func (h *Handler) onAcknowledge(msg *protocol.Message) {
	if !h.tracker.Close(msg.ID) {
		log.Debug("Acknowledgement for unknown transaction", zap.Stringer("message_id", msg.ID), zap.Stringer("peer", msg.Sender))
		return
	}

	h.stats.delivered.Add(1)
	if h.cfg.OnDelivered != nil {
		h.cfg.OnDelivered(msg.ID, msg.Sender)
	}

	if v, ok := h.pendingConnects.LoadAndDelete(msg.ID); ok {
		if err := h.StartHandshake(v.(*net.UDPAddr)); err != nil {
			log.Warn("Failed to start handshake", zap.Stringer("peer", msg.Sender), zap.Error(err))
		}
	}
}

func (h *Handler) onSelectiveRepeat(msg *protocol.Message) {
	indices := protocol.DecodeSelectiveRepeat(msg.Payload)

	datagrams, to, err := h.tracker.SelectiveRepeat(msg.ID, indices)
	if err != nil {
		log.Debug("Selective repeat ignored", zap.Stringer("message_id", msg.ID), zap.Error(err))
		return
	}

	for _, d := range datagrams {
		if err := h.writeTo(d, to); err != nil {
			log.Warn("Failed to resend fragment", zap.Stringer("message_id", msg.ID), zap.Error(err))
			return
		}
	}
	log.Debug("Selective repeat served",
		zap.Stringer("message_id", msg.ID),
		zap.Stringer("peer", to),
		zap.Ints("indices", indices),
		zap.Int("sent", len(datagrams)))
}

// onDHKey records the peer's public key and answers with ours if we have
// not sent it yet
func (h *Handler) onDHKey(msg *protocol.Message) {
	hs := h.sessions.GetOrCreate(msg.Sender)

	derived, err := hs.ReceivePeerKey(msg.Payload)
	if err != nil {
		log.Warn("Rejected peer key", zap.Stringer("peer", msg.Sender), zap.Error(err))
		return
	}

	public, derivedOwn, err := hs.GenerateOwnKeys()
	if err != nil {
		log.Error("Failed to generate keys", zap.Stringer("peer", msg.Sender), zap.Error(err))
		return
	}
	if public != nil {
		if _, err := h.Send(msg.Sender, protocol.PayloadDHKey, public); err != nil {
			log.Warn("Failed to send public key", zap.Stringer("peer", msg.Sender), zap.Error(err))
		}
	}

	if derived || derivedOwn {
		h.sessionDerived(msg.Sender, hs)
	}
}

// sessionDerived tells the peer our key is ready
func (h *Handler) sessionDerived(peer *net.UDPAddr, hs *session.Handshake) {
	log.Info("Session key derived", zap.Stringer("peer", peer), zap.String("fingerprint", hs.Fingerprint()))

	if _, err := h.Send(peer, protocol.PayloadPrepared, nil); err != nil {
		log.Warn("Failed to send prepared", zap.Stringer("peer", peer), zap.Error(err))
	}
	h.announceReady(peer, hs)
}

func (h *Handler) announceReady(peer *net.UDPAddr, hs *session.Handshake) {
	if !hs.ClaimReady() {
		return
	}

	log.Info("Secure session ready", zap.Stringer("peer", peer), zap.String("fingerprint", hs.Fingerprint()))
	if h.cfg.OnSessionReady != nil {
		h.cfg.OnSessionReady(peer)
	}
}

// ===== SWEEPS =====

// sweepTransactions transmits everything the tracker's sweep asks for
func (h *Handler) sweepTransactions() {
	res := h.tracker.Sweep()
	if res.Empty() {
		return
	}

	for _, f := range res.Failures {
		h.stats.failed.Add(1)
		h.pendingConnects.Delete(f.ID)
		if f.Direction == transaction.Outbound && h.cfg.OnTransactionFailed != nil {
			h.cfg.OnTransactionFailed(f.ID, f.Peer, f.Err())
		}
	}

	for _, r := range res.Resends {
		h.stats.resends.Add(1)
		for _, d := range r.Datagrams {
			if err := h.writeTo(d, r.Peer); err != nil {
				log.Warn("Failed to resend", zap.Stringer("message_id", r.ID), zap.Stringer("peer", r.Peer), zap.Error(err))
				break
			}
		}
	}

	for _, r := range res.Repeats {
		h.stats.repeatRequests.Add(1)
		req := protocol.NewReply(r.ID, protocol.PayloadSelectiveRepeat, h.cfg.UserID, protocol.EncodeSelectiveRepeat(r.Missing))
		if err := h.SendMessage(req, r.Peer, false); err != nil {
			log.Warn("Failed to request repeat", zap.Stringer("message_id", r.ID), zap.Stringer("peer", r.Peer), zap.Error(err))
		}
	}
}

// sweepPeers drops the sessions of peers that stopped sending heartbeats
func (h *Handler) sweepPeers() {
	for _, addr := range h.peers.DisconnectInactive() {
		h.sessions.Remove(addr)
		log.Info("Peer timed out", zap.Stringer("peer", addr))
	}
}
