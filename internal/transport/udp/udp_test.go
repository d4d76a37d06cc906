package udp

import (
	"bytes"
	"testing"
	"time"

	"voxelsync.dev/internal/transport"
)

func recvWithin(t *testing.T, c *Conn, d time.Duration) transport.Datagram {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if dg, ok := c.TryRecv(); ok {
			return dg
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no datagram within %s", d)
	return transport.Datagram{}
}

func TestLoopbackRoundTrip(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", Options{Queue: 8})
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer srv.Close()

	cli, err := Dial(srv.LocalAddr().String(), Options{Queue: 8})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()

	if err := cli.Send("", []byte("ping")); err != nil {
		t.Fatalf("client send: %v", err)
	}
	dg := recvWithin(t, srv, 2*time.Second)
	if !bytes.Equal(dg.Data, []byte("ping")) {
		t.Fatalf("server got %q", dg.Data)
	}
	if err := srv.Send(dg.From, []byte("pong")); err != nil {
		t.Fatalf("server send: %v", err)
	}
	back := recvWithin(t, cli, 2*time.Second)
	if !bytes.Equal(back.Data, []byte("pong")) {
		t.Fatalf("client got %q", back.Data)
	}
}

func TestSendWithoutPeerFails(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", Options{})
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer srv.Close()
	if err := srv.Send("", []byte{1}); err == nil {
		t.Fatalf("expected error without destination")
	}
	_ = srv.Close()
	if err := srv.Send("127.0.0.1:9", []byte{1}); err != transport.ErrClosed {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}
