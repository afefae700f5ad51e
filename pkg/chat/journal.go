package chat

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/network"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/storage"
)

// recorder writes chat traffic to an optional journal. A nil journal makes
// every method a no-op.
type recorder struct {
	journal *storage.Journal
}

// sending journals an outgoing chat before it hits the wire, so the
// delivery outcome always finds its row
func (r recorder) sending(msg *protocol.Message, peer *net.UDPAddr) {
	if r.journal == nil || msg.Type != protocol.PayloadChat {
		return
	}

	err := r.journal.SaveMessage(&storage.StoredMessage{
		MessageID:  msg.ID.String(),
		Peer:       peer.String(),
		UserID:     msg.UserID,
		Content:    msg.Payload,
		Timestamp:  int64(msg.UnixTime),
		Status:     storage.MessageStatusSending,
		IsOutgoing: true,
	})
	if err != nil {
		log.Warn("Failed to journal outgoing message", zap.Stringer("message_id", msg.ID), zap.Error(err))
	}
}

// sendResult moves a journaled chat to sent, or to failed when the first
// transmit did not happen
func (r recorder) sendResult(id protocol.MessageID, peer *net.UDPAddr, err error) {
	if err != nil {
		r.outcome(id, peer, storage.MessageStatusFailed)
		return
	}
	r.outcome(id, peer, storage.MessageStatusSent)
}

func (r recorder) received(msg *protocol.Message) {
	if r.journal == nil {
		return
	}

	err := r.journal.SaveMessage(&storage.StoredMessage{
		MessageID: msg.ID.String(),
		Peer:      msg.Sender.String(),
		UserID:    msg.UserID,
		Content:   msg.Payload,
		Timestamp: int64(msg.UnixTime),
		Status:    storage.MessageStatusReceived,
	})
	if err != nil {
		log.Warn("Failed to journal incoming message", zap.Stringer("message_id", msg.ID), zap.Error(err))
	}
}

// outcome moves a journaled message along. Control traffic is never
// journaled and a finished row no longer matches, so a missing row is
// expected.
func (r recorder) outcome(id protocol.MessageID, peer *net.UDPAddr, status storage.MessageStatus) {
	if r.journal == nil {
		return
	}

	err := r.journal.UpdateOutgoingStatus(id.String(), peer.String(), status)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn("Failed to journal delivery outcome", zap.Stringer("message_id", id), zap.Error(err))
	}
}

// hooks chains journal bookkeeping and the given extras in front of any
// callbacks already present in cfg
func (r recorder) hooks(cfg *network.Config, onReady func(*net.UDPAddr), onFailed func(protocol.MessageID, *net.UDPAddr, error)) {
	send := cfg.OnSend
	cfg.OnSend = func(msg *protocol.Message, to *net.UDPAddr) {
		r.sending(msg, to)
		if send != nil {
			send(msg, to)
		}
	}

	delivered := cfg.OnDelivered
	cfg.OnDelivered = func(id protocol.MessageID, peer *net.UDPAddr) {
		r.outcome(id, peer, storage.MessageStatusDelivered)
		if delivered != nil {
			delivered(id, peer)
		}
	}

	failed := cfg.OnTransactionFailed
	cfg.OnTransactionFailed = func(id protocol.MessageID, peer *net.UDPAddr, err error) {
		r.outcome(id, peer, storage.MessageStatusFailed)
		if onFailed != nil {
			onFailed(id, peer, err)
		}
		if failed != nil {
			failed(id, peer, err)
		}
	}

	ready := cfg.OnSessionReady
	cfg.OnSessionReady = func(peer *net.UDPAddr) {
		if onReady != nil {
			onReady(peer)
		}
		if ready != nil {
			ready(peer)
		}
	}
}
