package session

import (
	"io"
	"net"
	"sort"
	"sync"
)

// PeerSession is a point-in-time view of one peer's handshake
type PeerSession struct {
	Addr          string `json:"addr"`
	State         string `json:"state"`
	SelfPrepared  bool   `json:"self_prepared"`
	OtherPrepared bool   `json:"other_prepared"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

type entry struct {
	addr      *net.UDPAddr
	handshake *Handshake
}

// Manager keeps one Handshake per peer address
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	rand     io.Reader
}

// NewManager creates an empty manager. Handshakes read entropy from rand,
// or crypto/rand when nil.
func NewManager(rand io.Reader) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		rand:     rand,
	}
}

// Get returns the handshake for addr if one exists
func (m *Manager) Get(addr *net.UDPAddr) (*Handshake, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[addr.String()]
	if !ok {
		return nil, false
	}
	return e.handshake, true
}

// GetOrCreate returns the handshake for addr, creating an idle one if needed
func (m *Manager) GetOrCreate(addr *net.UDPAddr) *Handshake {
	if h, ok := m.Get(addr); ok {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := addr.String()
	if e, ok := m.sessions[key]; ok {
		return e.handshake
	}

	h := NewHandshake(m.rand)
	m.sessions[key] = &entry{addr: addr, handshake: h}
	return h
}

// Reset discards any existing state for addr and starts a fresh handshake
func (m *Manager) Reset(addr *net.UDPAddr) *Handshake {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := NewHandshake(m.rand)
	m.sessions[addr.String()] = &entry{addr: addr, handshake: h}
	return h
}

// Remove forgets addr
func (m *Manager) Remove(addr *net.UDPAddr) {
	m.mu.Lock()
	delete(m.sessions, addr.String())
	m.mu.Unlock()
}

// ReadyPeers returns the addresses whose handshake is complete on both sides
func (m *Manager) ReadyPeers() []*net.UDPAddr {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var ready []*net.UDPAddr
	for _, e := range entries {
		if e.handshake.Ready() {
			ready = append(ready, e.addr)
		}
	}
	return ready
}

// Len returns the number of tracked peers
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot lists every session sorted by address
func (m *Manager) Snapshot() []PeerSession {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]PeerSession, 0, len(entries))
	for _, e := range entries {
		h := e.handshake
		out = append(out, PeerSession{
			Addr:          e.addr.String(),
			State:         h.State().String(),
			SelfPrepared:  h.SelfPrepared(),
			OtherPrepared: h.OtherPrepared(),
			Fingerprint:   h.Fingerprint(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
