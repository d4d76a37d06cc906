package transport

import (
	"fmt"
	"testing"
	"time"
)

func TestLimiter_PerAddressBurst(t *testing.T) {
	l := NewLimiter(0.001, 2)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("burst not honoured")
	}
	if l.Allow("a") {
		t.Fatalf("third datagram inside the burst window allowed")
	}
	if !l.Allow("b") {
		t.Fatalf("limit leaked across addresses")
	}
	l.Forget("a")
	if !l.Allow("a") {
		t.Fatalf("forgotten peer still limited")
	}

	var none *Limiter
	if !none.Allow("a") || NewLimiter(0, 1) != nil {
		t.Fatalf("nil limiter must allow everything")
	}
}

func TestLimiter_SweepsRefilledBuckets(t *testing.T) {
	l := NewLimiter(10, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < limiterSweepMin-1; i++ {
		if !l.Allow(Addr(fmt.Sprintf("p%d", i))) {
			t.Fatalf("first datagram of p%d refused", i)
		}
	}
	l.Allow("hot")
	if len(l.peers) != limiterSweepMin {
		t.Fatalf("peers=%d want=%d", len(l.peers), limiterSweepMin)
	}

	now = now.Add(time.Second)
	if !l.Allow("hot") || !l.Allow("hot") {
		t.Fatalf("hot peer refused after refill")
	}
	l.Allow("new")
	if len(l.peers) != 2 {
		t.Fatalf("peers=%d want=2 after sweep", len(l.peers))
	}
	if l.Allow("hot") {
		t.Fatalf("sweep dropped a bucket that was still limiting")
	}
	if l.sweepAt != limiterSweepMin {
		t.Fatalf("sweepAt=%d want=%d", l.sweepAt, limiterSweepMin)
	}
}

func TestInbox_TailDrop(t *testing.T) {
	q := NewInbox(1)
	if !q.Offer(Datagram{From: "a"}) || q.Offer(Datagram{From: "b"}) {
		t.Fatalf("bound not enforced")
	}
	d, ok := q.TryRecv()
	if !ok || d.From != "a" || q.Dropped() != 1 {
		t.Fatalf("got %+v ok=%v dropped=%d", d, ok, q.Dropped())
	}
}
