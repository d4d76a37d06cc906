package ws

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/transport"
)

// ServerAddr is the only peer a client connection knows.
const ServerAddr transport.Addr = "server"

// ClientConn is the dialing side.
type ClientConn struct {
	conn *websocket.Conn
	in   *transport.Inbox

	wmu    sync.Mutex
	closed atomic.Bool
	done   chan struct{}
}

func Dial(ctx context.Context, url string, queue int) (*ClientConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(protocol.MaxDatagramSize)
	c := &ClientConn{conn: conn, in: transport.NewInbox(queue), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *ClientConn) readLoop() {
	defer close(c.done)
	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.in.Offer(transport.Datagram{From: ServerAddr, Gone: true})
			}
			return
		}
		if mt == websocket.BinaryMessage {
			c.in.Offer(transport.Datagram{From: ServerAddr, Data: msg})
		}
	}
}

func (c *ClientConn) TryRecv() (transport.Datagram, bool) { return c.in.TryRecv() }

func (c *ClientConn) Send(_ transport.Addr, b []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *ClientConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *ClientConn) Dropped() uint64 { return c.in.Dropped() }
func (c *ClientConn) Limited() uint64 { return 0 }
