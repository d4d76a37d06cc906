// Package udp carries datagrams over a UDP socket.
package udp

import (
	"errors"
	"log"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"voxelsync.dev/internal/transport"
)

const readBufSize = 64 * 1024

type Options struct {
	Queue      int     // inbox capacity
	RatePerSec float64 // per-sender datagram rate, 0 disables limiting
	Burst      int
	Logger     *log.Logger
}

type Conn struct {
	pc   *net.UDPConn
	peer netip.AddrPort // default destination for clients
	in   *transport.Inbox
	lim  *transport.Limiter
	log  *log.Logger

	limited atomic.Uint64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// Listen opens a server socket.
func Listen(addr string, opts Options) (*Conn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	return start(pc, netip.AddrPort{}, opts), nil
}

// Dial opens a client socket whose Send with an empty address goes to the
// server.
func Dial(addr string, opts Options) (*Conn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	network := "udp"
	if ua.IP.To4() != nil {
		network = "udp4"
	}
	pc, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, err
	}
	return start(pc, ua.AddrPort(), opts), nil
}

func start(pc *net.UDPConn, peer netip.AddrPort, opts Options) *Conn {
	c := &Conn{
		pc:   pc,
		peer: peer,
		in:   transport.NewInbox(opts.Queue),
		lim:  transport.NewLimiter(opts.RatePerSec, opts.Burst),
		log:  opts.Logger,
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

func (c *Conn) LocalAddr() net.Addr { return c.pc.LocalAddr() }

func (c *Conn) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, from, err := c.pc.ReadFromUDPAddrPort(buf)
		if err != nil {
			if c.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if c.log != nil {
				c.log.Printf("udp read: %v", err)
			}
			continue
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		addr := transport.Addr(from.String())
		if !c.lim.Allow(addr) {
			c.limited.Add(1)
			continue
		}
		c.in.Offer(transport.Datagram{From: addr, Data: append([]byte(nil), buf[:n]...)})
	}
}

func (c *Conn) TryRecv() (transport.Datagram, bool) { return c.in.TryRecv() }

func (c *Conn) Send(to transport.Addr, b []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	dst := c.peer
	if to != "" {
		ap, err := netip.ParseAddrPort(string(to))
		if err != nil {
			return err
		}
		dst = ap
	}
	if !dst.IsValid() {
		return transport.ErrUnknownPeer
	}
	_, err := c.pc.WriteToUDPAddrPort(b, dst)
	return err
}

// Forget releases per-peer state once a session ends.
func (c *Conn) Forget(a transport.Addr) { c.lim.Forget(a) }

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.pc.Close()
	c.wg.Wait()
	return err
}

func (c *Conn) Dropped() uint64 { return c.in.Dropped() }
func (c *Conn) Limited() uint64 { return c.limited.Load() }
