// Package chat wraps the network handler into the two roles of a chat
// deployment: clients that connect to one server, and a server that relays
// every chat message to all of its connected clients.
package chat

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/network"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/storage"
)

const (
	minReconnectBackoff = time.Second
	maxReconnectBackoff = 30 * time.Second
)

// Client is a chat participant connected to a single server
type Client struct {
	handler  *network.Handler
	server   *net.UDPAddr
	clock    clock.Clock
	interval time.Duration
	rec      recorder
	hello    []byte

	readyCh   chan struct{}
	lost      chan struct{}
	recovered atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client for the given server. journal and onMessage
// may be nil.
func NewClient(cfg *network.Config, server *net.UDPAddr, journal *storage.Journal, onMessage network.MessageListener) (*Client, error) {
	if cfg == nil {
		cfg = network.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	c := &Client{
		server:   server,
		clock:    cfg.Clock,
		interval: cfg.HeartbeatInterval,
		rec:      recorder{journal: journal},
		readyCh:  make(chan struct{}, 1),
		lost:     make(chan struct{}, 1),
	}

	c.rec.hooks(cfg, c.onReady, c.onFailed)

	listener := func(msg *protocol.Message) {
		c.rec.received(msg)
		if onMessage != nil {
			onMessage(msg)
		}
	}

	h, err := network.New(cfg, listener, nil)
	if err != nil {
		return nil, err
	}
	c.handler = h
	return c, nil
}

// Start binds the socket, announces us to the server and starts the
// heartbeat loop. The key exchange completes asynchronously; see WaitReady.
func (c *Client) Start(ctx context.Context) error {
	if err := c.handler.Start(ctx); err != nil {
		return err
	}

	if _, err := c.handler.Connect(c.server, c.hello); err != nil {
		_ = c.handler.Stop()
		return err
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.keepaliveLoop(ctx)
	}()

	log.Info("Chat client started", zap.Stringer("server", c.server), zap.Stringer("addr", c.handler.LocalAddr()))
	return nil
}

// Stop says goodbye to the server and shuts the transport down
func (c *Client) Stop() error {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}

	if err := c.handler.Disconnect(c.server); err != nil {
		log.Debug("Disconnect not sent", zap.Error(err))
	}
	return c.handler.Stop()
}

// Send sends a chat line to the server. It fails with network.ErrNotReady
// until the key exchange has completed.
func (c *Client) Send(text string) (protocol.MessageID, error) {
	id, err := c.handler.SendChat(c.server, text)
	c.rec.sendResult(id, c.server, err)
	return id, err
}

// SetName sets the display name sent with CONNECT. Call before Start.
func (c *Client) SetName(name string) {
	c.hello = []byte(name)
}

// Ready reports whether chat messages can be sent
func (c *Client) Ready() bool {
	return c.handler.IsReady(c.server)
}

// WaitReady blocks until the secure session with the server is ready
func (c *Client) WaitReady(ctx context.Context) error {
	for !c.Ready() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.readyCh:
		}
	}
	return nil
}

// Handler exposes the underlying transport
func (c *Client) Handler() *network.Handler {
	return c.handler
}

// Server returns the server address
func (c *Client) Server() *net.UDPAddr {
	return c.server
}

func (c *Client) onReady(peer *net.UDPAddr) {
	if peer.String() != c.server.String() {
		return
	}
	c.recovered.Store(true)
	select {
	case c.readyCh <- struct{}{}:
	default:
	}
}

// onFailed treats any transaction the server never acknowledged as a lost
// connection
func (c *Client) onFailed(_ protocol.MessageID, peer *net.UDPAddr, _ error) {
	if peer.String() != c.server.String() {
		return
	}
	select {
	case c.lost <- struct{}{}:
	default:
	}
}
