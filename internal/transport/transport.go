// Package transport moves opaque datagrams between peers. Implementations
// never block the simulation goroutine: received datagrams are queued by an
// ingress goroutine and drained with TryRecv.
package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Addr identifies a peer within one Conn.
type Addr string

// Datagram is one received payload. Gone is set instead of Data when a
// stream-backed peer disconnected.
type Datagram struct {
	From Addr
	Data []byte
	Gone bool
}

// Conn is an unreliable, unordered datagram endpoint.
type Conn interface {
	// TryRecv returns the next queued datagram, or false when none is queued.
	TryRecv() (Datagram, bool)
	// Send transmits b to a peer. Delivery is not guaranteed.
	Send(to Addr, b []byte) error
	Close() error
}

var (
	ErrClosed      = errors.New("transport closed")
	ErrUnknownPeer = errors.New("unknown peer")
)

// Inbox is the bounded queue between an ingress goroutine and TryRecv. A
// full inbox drops the incoming datagram.
type Inbox struct {
	ch      chan Datagram
	dropped atomic.Uint64
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 1024
	}
	return &Inbox{ch: make(chan Datagram, size)}
}

func (q *Inbox) Offer(d Datagram) bool {
	select {
	case q.ch <- d:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *Inbox) TryRecv() (Datagram, bool) {
	select {
	case d := <-q.ch:
		return d, true
	default:
		return Datagram{}, false
	}
}

// Dropped counts datagrams refused because the inbox was full.
func (q *Inbox) Dropped() uint64 { return q.dropped.Load() }

// limiterSweepMin is the bucket count at which idle buckets are first swept.
const limiterSweepMin = 1024

// Limiter applies a token bucket per sender address. Buckets that have
// refilled are swept whenever the table doubles, so addresses that never
// join do not accumulate.
type Limiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	peers   map[Addr]*rate.Limiter
	sweepAt int
}

// NewLimiter returns nil when perSec is not positive; a nil Limiter allows
// everything.
func NewLimiter(perSec float64, burst int) *Limiter {
	if perSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limit:   rate.Limit(perSec),
		burst:   burst,
		now:     time.Now,
		peers:   map[Addr]*rate.Limiter{},
		sweepAt: limiterSweepMin,
	}
}

func (l *Limiter) Allow(a Addr) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	lim, ok := l.peers[a]
	if !ok {
		if len(l.peers) >= l.sweepAt {
			l.sweep(now)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.peers[a] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

// sweep drops full buckets; a new bucket starts full. Callers hold mu.
func (l *Limiter) sweep(now time.Time) {
	for a, lim := range l.peers {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.peers, a)
		}
	}
	l.sweepAt = max(2*len(l.peers), limiterSweepMin)
}

// Forget drops the bucket of a departed peer.
func (l *Limiter) Forget(a Addr) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.peers, a)
	l.mu.Unlock()
}

// Stats is implemented by transports that count ingress drops.
type Stats interface {
	Dropped() uint64
	Limited() uint64
}
