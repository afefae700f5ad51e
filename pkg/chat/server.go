package chat

import (
	"context"
	"net"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/network"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/peers"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/storage"
)

// Server relays every chat message it receives to all connected clients
// with a ready session, the author included
type Server struct {
	handler   *network.Handler
	registry  *peers.Registry
	rec       recorder
	onMessage network.MessageListener
}

// NewServer creates a chat server. journal and onMessage may be nil.
func NewServer(cfg *network.Config, journal *storage.Journal, onMessage network.MessageListener) (*Server, error) {
	if cfg == nil {
		cfg = network.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	s := &Server{
		registry:  peers.NewRegistry(cfg.HeartbeatTimeout, cfg.Clock),
		rec:       recorder{journal: journal},
		onMessage: onMessage,
	}
	s.rec.hooks(cfg, nil, nil)

	h, err := network.New(cfg, s.receive, s.registry)
	if err != nil {
		return nil, err
	}
	s.handler = h
	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.handler.Start(ctx); err != nil {
		return err
	}
	log.Info("Chat server started", zap.Stringer("addr", s.handler.LocalAddr()))
	return nil
}

func (s *Server) Stop() error {
	return s.handler.Stop()
}

func (s *Server) receive(msg *protocol.Message) {
	s.rec.received(msg)
	if s.onMessage != nil {
		s.onMessage(msg)
	}

	n := s.broadcast(msg)
	log.Debug("Chat relayed",
		zap.Stringer("message_id", msg.ID),
		zap.Uint32("user_id", msg.UserID),
		zap.Int("recipients", n))
}

// Broadcast sends a chat line authored by the server itself to every ready
// client and returns how many it was sent to
func (s *Server) Broadcast(text string) int {
	return s.broadcast(&protocol.Message{
		Type:     protocol.PayloadChat,
		Payload:  []byte(text),
		UserID:   s.handler.UserID(),
		UnixTime: protocol.NowUnix(),
	})
}

// broadcast forwards msg to every ready client, keeping its author and
// timestamp
func (s *Server) broadcast(msg *protocol.Message) int {
	sent := 0
	for _, addr := range s.registry.Addrs() {
		if !s.handler.IsReady(addr) {
			log.Debug("Skipping client without session", zap.Stringer("peer", addr))
			continue
		}

		id, err := s.handler.Forward(addr, msg)
		s.rec.sendResult(id, addr, err)
		if err != nil {
			log.Warn("Failed to relay chat", zap.Stringer("peer", addr), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Peers lists the connected clients
func (s *Server) Peers() []peers.Peer {
	return s.registry.List()
}

// Registry exposes the client liveness table
func (s *Server) Registry() *peers.Registry {
	return s.registry
}

// Handler exposes the underlying transport
func (s *Server) Handler() *network.Handler {
	return s.handler
}

// Addr returns the bound server address
func (s *Server) Addr() *net.UDPAddr {
	return s.handler.LocalAddr()
}
