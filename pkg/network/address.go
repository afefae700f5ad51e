package network

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var ErrInvalidAddress = errors.New("invalid peer address")

// ResolvePeer parses a peer address given either as host:port or as a
// multiaddr such as /ip4/127.0.0.1/udp/9000
func ResolvePeer(s string) (*net.UDPAddr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if !strings.HasPrefix(s, "/") {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return addr, nil
	}

	maddr, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	addr, err := manet.ToNetAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a UDP address", ErrInvalidAddress, s)
	}
	return udp, nil
}

// Multiaddr renders a UDP address in multiaddr form
func Multiaddr(addr *net.UDPAddr) (string, error) {
	maddr, err := manet.FromNetAddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return maddr.String(), nil
}
