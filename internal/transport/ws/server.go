// Package ws carries datagrams as binary WebSocket messages, one message per
// datagram, so browser clients can speak the same protocol as UDP clients.
package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/transport"
)

type Options struct {
	Queue      int // inbox capacity
	OutQueue   int // per-connection send queue
	RatePerSec float64
	Burst      int
	Logger     *log.Logger
}

// Listener is the server side. Each upgraded connection becomes one peer
// address; its departure is reported as a Gone datagram.
type Listener struct {
	in  *transport.Inbox
	lim *transport.Limiter
	log *log.Logger
	out int

	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[transport.Addr]chan []byte
	seq    uint64
	closed bool

	limited atomic.Uint64
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewListener(opts Options) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.OutQueue <= 0 {
		opts.OutQueue = 64
	}
	return &Listener{
		in:  transport.NewInbox(opts.Queue),
		lim: transport.NewLimiter(opts.RatePerSec, opts.Burst),
		log: opts.Logger,
		out: opts.OutQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		peers:  map[transport.Addr]chan []byte{},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *Listener) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := l.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(protocol.MaxDatagramSize)

		addr, out, ok := l.register(r.RemoteAddr)
		if !ok {
			return
		}
		defer l.unregister(addr)

		ctx, cancel := context.WithCancel(l.ctx)
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if !l.lim.Allow(addr) {
				l.limited.Add(1)
				continue
			}
			l.in.Offer(transport.Datagram{From: addr, Data: msg})
		}
	}
}

func (l *Listener) register(remote string) (transport.Addr, chan []byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", nil, false
	}
	l.seq++
	addr := transport.Addr(fmt.Sprintf("ws:%s#%d", remote, l.seq))
	out := make(chan []byte, l.out)
	l.peers[addr] = out
	return addr, out, true
}

func (l *Listener) unregister(addr transport.Addr) {
	l.mu.Lock()
	delete(l.peers, addr)
	l.mu.Unlock()
	l.lim.Forget(addr)
	l.in.Offer(transport.Datagram{From: addr, Gone: true})
}

func (l *Listener) TryRecv() (transport.Datagram, bool) { return l.in.TryRecv() }

// Send queues b for the peer, dropping its oldest pending message when the
// queue is full.
func (l *Listener) Send(to transport.Addr, b []byte) error {
	l.mu.Lock()
	out, ok := l.peers[to]
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if !ok {
		return transport.ErrUnknownPeer
	}
	sendLatest(out, b)
	return nil
}

func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	return nil
}

func (l *Listener) Dropped() uint64 { return l.in.Dropped() }
func (l *Listener) Limited() uint64 { return l.limited.Load() }

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
