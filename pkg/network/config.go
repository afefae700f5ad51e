package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/transaction"
)

var ErrInvalidConfig = errors.New("invalid network config")

// Config holds transport configuration. The size and timing values must
// agree between communicating peers.
type Config struct {
	ListenAddr string // host:port or /ip4/<addr>/udp/<port>
	UserID     uint32 // Stamped into the footer of every message we originate

	MaxPacketSize    int // Bytes per datagram, UDP headers excluded
	ReadBufferBytes  int // Socket receive buffer
	WriteBufferBytes int // Socket send buffer

	HeartbeatInterval time.Duration // Client heartbeat period
	HeartbeatTimeout  time.Duration // Silence after which a peer is dropped

	CompletedCacheSize int
	RepeatWait         time.Duration // Quiet time before requesting missing fragments
	ResendWait         time.Duration // Wait for an acknowledgement before resending
	GiveUpAttempts     int
	SweepInterval      time.Duration // Transaction sweep period

	Workers           int // Datagram decode/dispatch goroutines
	IncomingQueueSize int // Datagrams buffered between the socket and the workers

	Clock clock.Clock // Defaults to the wall clock
	Rand  io.Reader   // Key generation entropy, defaults to crypto/rand

	// Optional callbacks. They may run on handler goroutines and must not block.
	// OnSend sees every originated message, plaintext, before its first
	// fragment is transmitted.
	OnSend              func(msg *protocol.Message, to *net.UDPAddr)
	OnDelivered         func(id protocol.MessageID, peer *net.UDPAddr)
	OnTransactionFailed func(id protocol.MessageID, peer *net.UDPAddr, err error)
	OnSessionReady      func(peer *net.UDPAddr)
}

// DefaultConfig returns default transport configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:         "0.0.0.0:0",
		MaxPacketSize:      protocol.MaxPacketSize,
		ReadBufferBytes:    1 << 20,
		WriteBufferBytes:   1 << 20,
		HeartbeatInterval:  5 * time.Second,
		HeartbeatTimeout:   15 * time.Second,
		CompletedCacheSize: 1024,
		RepeatWait:         300 * time.Millisecond,
		ResendWait:         time.Second,
		GiveUpAttempts:     3,
		SweepInterval:      100 * time.Millisecond,
		Workers:            6,
		IncomingQueueSize:  500,
		Clock:              clock.New(),
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch {
	case c.MaxPacketSize < protocol.HeaderSize+protocol.FooterSize:
		return fmt.Errorf("%w: max packet size %d cannot hold header and footer", ErrInvalidConfig, c.MaxPacketSize)
	case c.MaxPacketSize > 65507:
		return fmt.Errorf("%w: max packet size %d exceeds a UDP datagram", ErrInvalidConfig, c.MaxPacketSize)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.IncomingQueueSize <= 0:
		return fmt.Errorf("%w: incoming queue size must be positive", ErrInvalidConfig)
	case c.SweepInterval <= 0 || c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: sweep and heartbeat intervals must be positive", ErrInvalidConfig)
	case c.RepeatWait <= 0 || c.ResendWait <= 0:
		return fmt.Errorf("%w: repeat and resend waits must be positive", ErrInvalidConfig)
	case c.GiveUpAttempts <= 0:
		return fmt.Errorf("%w: give-up attempts must be positive", ErrInvalidConfig)
	case c.CompletedCacheSize <= 0:
		return fmt.Errorf("%w: completed cache size must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) transactionConfig() transaction.Config {
	return transaction.Config{
		RepeatWait:         c.RepeatWait,
		ResendWait:         c.ResendWait,
		GiveUpAttempts:     c.GiveUpAttempts,
		CompletedCacheSize: c.CompletedCacheSize,
		Clock:              c.Clock,
	}
}
