// Package config loads node configuration from a YAML file
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/api"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/network"
)

// Config is the on-disk node configuration. Durations are written the way
// time.ParseDuration reads them ("250ms", "5s", "720h").
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Peer      PeerConfig      `yaml:"peer"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// TransportConfig mirrors network.Config. Size and timing values must agree
// between communicating peers.
type TransportConfig struct {
	Listen             string        `yaml:"listen"`
	UserID             uint32        `yaml:"user_id"`
	MaxPacketSize      int           `yaml:"max_packet_size"`
	ReadBufferBytes    int           `yaml:"read_buffer_bytes"`
	WriteBufferBytes   int           `yaml:"write_buffer_bytes"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"`
	CompletedCacheSize int           `yaml:"completed_cache_size"`
	RepeatWait         time.Duration `yaml:"repeat_wait"`
	ResendWait         time.Duration `yaml:"resend_wait"`
	GiveUpAttempts     int           `yaml:"give_up_attempts"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	Workers            int           `yaml:"workers"`
	IncomingQueueSize  int           `yaml:"incoming_queue_size"`
}

// PeerConfig selects client mode. An empty Server runs the node as a server.
type PeerConfig struct {
	Server string `yaml:"server"` // host:port or /ip4/<addr>/udp/<port>
	Name   string `yaml:"name"`   // Sent as the CONNECT payload
}

type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Listen       string        `yaml:"listen"`
	EnableCORS   bool          `yaml:"cors"`
	RateLimit    int           `yaml:"rate_limit"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StorageConfig struct {
	Path      string        `yaml:"path"`      // Empty disables the message journal
	Retention time.Duration `yaml:"retention"` // Journal rows older than this are pruned at startup, 0 keeps everything
}

// Default returns the configuration used when no file is given
func Default() *Config {
	transport := network.DefaultConfig()
	httpAPI := api.DefaultConfig()

	return &Config{
		Log: LogConfig{Level: "info"},
		Transport: TransportConfig{
			Listen:             transport.ListenAddr,
			UserID:             transport.UserID,
			MaxPacketSize:      transport.MaxPacketSize,
			ReadBufferBytes:    transport.ReadBufferBytes,
			WriteBufferBytes:   transport.WriteBufferBytes,
			HeartbeatInterval:  transport.HeartbeatInterval,
			HeartbeatTimeout:   transport.HeartbeatTimeout,
			CompletedCacheSize: transport.CompletedCacheSize,
			RepeatWait:         transport.RepeatWait,
			ResendWait:         transport.ResendWait,
			GiveUpAttempts:     transport.GiveUpAttempts,
			SweepInterval:      transport.SweepInterval,
			Workers:            transport.Workers,
			IncomingQueueSize:  transport.IncomingQueueSize,
		},
		API: APIConfig{
			Listen:       httpAPI.ListenAddr,
			EnableCORS:   httpAPI.EnableCORS,
			RateLimit:    httpAPI.RateLimit,
			ReadTimeout:  httpAPI.ReadTimeout,
			WriteTimeout: httpAPI.WriteTimeout,
		},
		Storage: StorageConfig{Retention: 30 * 24 * time.Hour},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the transport settings and the sections network.Config
// does not cover
func (c *Config) Validate() error {
	if err := c.Network().Validate(); err != nil {
		return err
	}
	if c.Storage.Retention < 0 {
		return errors.New("storage retention must not be negative")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api listen address is required when the api is enabled")
	}
	return nil
}

// Network builds the transport configuration. Callbacks, clock and entropy
// source are left at their defaults.
func (c *Config) Network() *network.Config {
	cfg := network.DefaultConfig()
	t := c.Transport

	cfg.ListenAddr = t.Listen
	cfg.UserID = t.UserID
	cfg.MaxPacketSize = t.MaxPacketSize
	cfg.ReadBufferBytes = t.ReadBufferBytes
	cfg.WriteBufferBytes = t.WriteBufferBytes
	cfg.HeartbeatInterval = t.HeartbeatInterval
	cfg.HeartbeatTimeout = t.HeartbeatTimeout
	cfg.CompletedCacheSize = t.CompletedCacheSize
	cfg.RepeatWait = t.RepeatWait
	cfg.ResendWait = t.ResendWait
	cfg.GiveUpAttempts = t.GiveUpAttempts
	cfg.SweepInterval = t.SweepInterval
	cfg.Workers = t.Workers
	cfg.IncomingQueueSize = t.IncomingQueueSize
	return cfg
}

// HTTP builds the status API configuration
func (c *Config) HTTP() *api.Config {
	return &api.Config{
		ListenAddr:   c.API.Listen,
		EnableCORS:   c.API.EnableCORS,
		RateLimit:    c.API.RateLimit,
		ReadTimeout:  c.API.ReadTimeout,
		WriteTimeout: c.API.WriteTimeout,
	}
}
