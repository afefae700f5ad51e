// Command node runs a chat server, or a chat client when -peer is given
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/api"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/chat"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/config"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/network"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/protocol"
	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/storage"
)

const handshakeTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	listenAddr = flag.String("listen", "", "Local UDP address (host:port or multiaddr)")
	peerAddr   = flag.String("peer", "", "Server to connect to; runs as a client when set")
	userID     = flag.Uint("user", 0, "User ID stamped on outgoing messages")
	name       = flag.String("name", "", "Name announced to the server")
	apiAddr    = flag.String("api", "", "Serve the HTTP status API on this address")
	dbPath     = flag.String("db", "", "Journal messages to this SQLite database")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	devLog     = flag.Bool("dev", false, "Human-readable console logging")
)

// node is whichever chat role we run, seen through what main needs
type node interface {
	Stop() error
	Handler() *network.Handler
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	journal := openJournal(cfg.Storage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		running node
		send    func(text string) error
		peers   api.PeerLister
	)

	if cfg.Peer.Server == "" {
		server, err := chat.NewServer(cfg.Network(), journal, printMessage)
		if err != nil {
			log.Fatal("Failed to create server", zap.Error(err))
		}
		if err := server.Start(ctx); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
		running, peers = server, server.Registry()
		send = func(text string) error {
			n := server.Broadcast(text)
			fmt.Printf("(sent to %d clients)\n", n)
			return nil
		}
	} else {
		client, err := startClient(ctx, cfg, journal)
		if err != nil {
			log.Fatal("Failed to start client", zap.Error(err))
		}
		running = client
		send = func(text string) error {
			_, err := client.Send(text)
			return err
		}
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(running.Handler(), peers, journal, cfg.HTTP())
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Error("API server error", zap.Error(err))
			}
		}()
	}

	printStatus(cfg, running.Handler())

	go readInput(send)

	waitForShutdown(running, cancel, journal)
}

// loadConfig reads -config when given and applies the flags that were set
// on top of it
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Transport.Listen = *listenAddr
		case "peer":
			cfg.Peer.Server = *peerAddr
		case "user":
			cfg.Transport.UserID = uint32(*userID)
		case "name":
			cfg.Peer.Name = *name
		case "api":
			cfg.API.Enabled = *apiAddr != ""
			cfg.API.Listen = *apiAddr
		case "db":
			cfg.Storage.Path = *dbPath
		case "log-level":
			cfg.Log.Level = *logLevel
		case "dev":
			cfg.Log.Development = *devLog
		}
	})

	if *userID > 0xFFFFFFFF {
		return nil, fmt.Errorf("user id %d does not fit in 32 bits", *userID)
	}
	return cfg, cfg.Validate()
}

func openJournal(cfg config.StorageConfig) *storage.Journal {
	if cfg.Path == "" {
		return nil
	}

	journal, err := storage.NewJournal(cfg.Path)
	if err != nil {
		log.Fatal("Failed to open journal", zap.String("path", cfg.Path), zap.Error(err))
	}

	if cfg.Retention > 0 {
		pruned, err := journal.DeleteBefore(time.Now().Add(-cfg.Retention))
		if err != nil {
			log.Warn("Failed to prune journal", zap.Error(err))
		} else if pruned > 0 {
			log.Info("Pruned journal", zap.Int64("messages", pruned), zap.Duration("retention", cfg.Retention))
		}
	}
	return journal
}

func startClient(ctx context.Context, cfg *config.Config, journal *storage.Journal) (*chat.Client, error) {
	server, err := network.ResolvePeer(cfg.Peer.Server)
	if err != nil {
		return nil, err
	}

	client, err := chat.NewClient(cfg.Network(), server, journal, printMessage)
	if err != nil {
		return nil, err
	}
	client.SetName(cfg.Peer.Name)

	if err := client.Start(ctx); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := client.WaitReady(waitCtx); err != nil {
		// The keepalive loop keeps reconnecting in the background
		log.Warn("Handshake with server not complete yet", zap.Stringer("server", server), zap.Error(err))
	}
	return client, nil
}

func printMessage(msg *protocol.Message) {
	fmt.Printf("[%s] user %d: %s\n", time.Unix(int64(msg.UnixTime), 0).Format("15:04:05"), msg.UserID, msg.Payload)
}

func readInput(send func(string) error) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := send(text); err != nil {
			fmt.Printf("(not sent: %v)\n", err)
		}
	}
}

func printStatus(cfg *config.Config, h *network.Handler) {
	local := h.LocalAddr()
	role := "server"
	if cfg.Peer.Server != "" {
		role = "client of " + cfg.Peer.Server
	}

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Role: %s\n", role)
	fmt.Printf("   User ID: %d\n", h.UserID())
	fmt.Printf("   Listening: %s\n", local)
	if maddr, err := network.Multiaddr(local); err == nil {
		fmt.Printf("   Multiaddr: %s\n", maddr)
	}
	if cfg.API.Enabled {
		fmt.Printf("   Status API: http://%s/health\n", cfg.API.Listen)
	}
	if cfg.Storage.Path != "" {
		fmt.Printf("   Journal: %s\n", cfg.Storage.Path)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Type a line and press Enter to send. Ctrl+C to stop.")
	fmt.Println()
}

func waitForShutdown(running node, cancel context.CancelFunc, journal *storage.Journal) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Info("Shutting down gracefully")

	if err := running.Stop(); err != nil {
		log.Warn("Error stopping node", zap.Error(err))
	}
	cancel()

	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn("Error closing journal", zap.Error(err))
		}
	}

	log.Info("Node stopped")
}
