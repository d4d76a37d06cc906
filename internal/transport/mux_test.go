package transport

import (
	"errors"
	"testing"
)

type fakeConn struct {
	in   *Inbox
	sent map[Addr][][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{in: NewInbox(8), sent: map[Addr][][]byte{}} }

func (f *fakeConn) TryRecv() (Datagram, bool) { return f.in.TryRecv() }
func (f *fakeConn) Close() error              { return nil }
func (f *fakeConn) Dropped() uint64           { return f.in.Dropped() }
func (f *fakeConn) Limited() uint64           { return 1 }

func (f *fakeConn) Send(to Addr, b []byte) error {
	f.sent[to] = append(f.sent[to], b)
	return nil
}

func TestMux_PrefixesAndRoutes(t *testing.T) {
	u, w := newFakeConn(), newFakeConn()
	m := NewMux()
	m.Add("udp", u)
	m.Add("ws", w)

	u.in.Offer(Datagram{From: "1.2.3.4:5", Data: []byte{1}})
	u.in.Offer(Datagram{From: "1.2.3.4:5", Data: []byte{2}})
	w.in.Offer(Datagram{From: "ws:x#1", Gone: true})

	var from []Addr
	for {
		d, ok := m.TryRecv()
		if !ok {
			break
		}
		from = append(from, d.From)
	}
	if len(from) != 3 || from[0] != "udp|1.2.3.4:5" || from[1] != "ws|ws:x#1" || from[2] != "udp|1.2.3.4:5" {
		t.Fatalf("from=%v want round robin with prefixes", from)
	}

	if err := m.Send("ws|ws:x#1", []byte{9}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(w.sent["ws:x#1"]) != 1 || len(u.sent) != 0 {
		t.Fatalf("routed to udp=%v ws=%v", u.sent, w.sent)
	}
	if err := m.Send("tcp|x", nil); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("err=%v want ErrUnknownPeer", err)
	}
	if err := m.Send("noprefix", nil); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("err=%v want ErrUnknownPeer", err)
	}
	if m.Limited() != 2 {
		t.Fatalf("limited=%d want=2", m.Limited())
	}
}
