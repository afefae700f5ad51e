// Package peers tracks the clients connected to a node and drops the ones
// that stop sending heartbeats.
package peers

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
)

// Peer is a point-in-time view of one connected client
type Peer struct {
	Addr        string    `json:"addr"`
	UserID      uint32    `json:"user_id"`
	Name        string    `json:"name,omitempty"` // CONNECT payload as sent
	KnownUser   bool      `json:"known_user"`     // False when first seen through a heartbeat
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	Heartbeats  uint64    `json:"heartbeats"`
}

type entry struct {
	addr     *net.UDPAddr
	info     Peer
	hello    []byte
	deadline time.Time
}

// Registry is the liveness table of connected peers
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]*entry
	clock   clock.Clock
	timeout time.Duration
}

// NewRegistry creates an empty registry. A peer is inactive once timeout
// passes without a connection or heartbeat from it.
func NewRegistry(timeout time.Duration, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		peers:   make(map[string]*entry),
		clock:   clk,
		timeout: timeout,
	}
}

// ReceivedConnection (re)registers a peer. payload is the opaque blob the
// peer sent with its CONNECT.
func (r *Registry) ReceivedConnection(addr *net.UDPAddr, userID uint32, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.add(addr, userID, true, payload)
	log.Info("Peer connected", zap.Stringer("peer", addr), zap.Uint32("user_id", userID))
}

// add must be called with mu held
func (r *Registry) add(addr *net.UDPAddr, userID uint32, known bool, payload []byte) *entry {
	now := r.clock.Now()
	e := &entry{
		addr: addr,
		info: Peer{
			Addr:        addr.String(),
			UserID:      userID,
			Name:        string(payload),
			KnownUser:   known,
			ConnectedAt: now,
			LastSeen:    now,
		},
		hello:    append([]byte(nil), payload...),
		deadline: now.Add(r.timeout),
	}
	r.peers[addr.String()] = e
	return e
}

// ReceivedHeartbeat extends a peer's deadline. An unknown sender is
// registered without a user id.
func (r *Registry) ReceivedHeartbeat(addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.peers[addr.String()]
	if !ok {
		e = r.add(addr, 0, false, nil)
		log.Info("Peer registered by heartbeat", zap.Stringer("peer", addr))
	}

	now := r.clock.Now()
	e.info.LastSeen = now
	e.info.Heartbeats++
	e.deadline = now.Add(r.timeout)
	log.Debug("Heartbeat", zap.Stringer("peer", addr))
}

// ForceDisconnect forgets a peer
func (r *Registry) ForceDisconnect(addr *net.UDPAddr) {
	r.mu.Lock()
	_, ok := r.peers[addr.String()]
	delete(r.peers, addr.String())
	r.mu.Unlock()

	if ok {
		log.Info("Peer disconnected", zap.Stringer("peer", addr))
	}
}

// DisconnectInactive removes and returns every peer whose deadline passed
func (r *Registry) DisconnectInactive() []*net.UDPAddr {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []*net.UDPAddr
	for key, e := range r.peers {
		if now.Before(e.deadline) {
			continue
		}
		delete(r.peers, key)
		dropped = append(dropped, e.addr)
		log.Info("Peer inactive", zap.Stringer("peer", e.addr), zap.Time("last_seen", e.info.LastSeen))
	}
	return dropped
}

// Get returns one peer
func (r *Registry) Get(addr *net.UDPAddr) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.peers[addr.String()]
	if !ok {
		return Peer{}, false
	}
	return e.info, true
}

// Hello returns the payload a peer sent with its CONNECT
func (r *Registry) Hello(addr *net.UDPAddr) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.peers[addr.String()]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.hello...), true
}

// Addrs returns the address of every connected peer
func (r *Registry) Addrs() []*net.UDPAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*net.UDPAddr, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.addr)
	}
	return out
}

// List returns every peer sorted by address
func (r *Registry) List() []Peer {
	r.mu.RLock()
	out := make([]Peer, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
