// Package memnet is an in-process datagram network for tests and local
// simulations. Payloads are copied on send; an optional filter drops them.
package memnet

import (
	"fmt"
	"sync"

	"voxelsync.dev/internal/transport"
)

// DropFunc decides whether a datagram is lost.
type DropFunc func(from, to transport.Addr, b []byte) bool

type Network struct {
	mu    sync.Mutex
	peers map[transport.Addr]*Endpoint
	drop  DropFunc
	queue int
}

func NewNetwork(queue int) *Network {
	return &Network{peers: map[transport.Addr]*Endpoint{}, queue: queue}
}

// SetDrop installs a loss filter; nil delivers everything.
func (n *Network) SetDrop(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

// Listen registers an endpoint at addr.
func (n *Network) Listen(addr transport.Addr) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[addr]; ok {
		return nil, fmt.Errorf("memnet: address %q in use", addr)
	}
	ep := &Endpoint{net: n, addr: addr, in: transport.NewInbox(n.queue)}
	n.peers[addr] = ep
	return ep, nil
}

type Endpoint struct {
	net  *Network
	addr transport.Addr
	in   *transport.Inbox

	mu     sync.Mutex
	closed bool
}

func (e *Endpoint) Addr() transport.Addr { return e.addr }

func (e *Endpoint) TryRecv() (transport.Datagram, bool) { return e.in.TryRecv() }

func (e *Endpoint) Send(to transport.Addr, b []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	e.net.mu.Lock()
	dst := e.net.peers[to]
	drop := e.net.drop
	e.net.mu.Unlock()
	if dst == nil {
		// Datagrams to nowhere vanish silently.
		return nil
	}
	if drop != nil && drop(e.addr, to, b) {
		return nil
	}
	cp := append([]byte(nil), b...)
	dst.in.Offer(transport.Datagram{From: e.addr, Data: cp})
	return nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.net.mu.Lock()
	delete(e.net.peers, e.addr)
	e.net.mu.Unlock()
	return nil
}

func (e *Endpoint) Dropped() uint64 { return e.in.Dropped() }
func (e *Endpoint) Limited() uint64 { return 0 }
