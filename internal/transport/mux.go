package transport

import (
	"errors"
	"strings"
)

// Mux presents several Conns as one. Peer addresses are prefixed with the
// name of the Conn they arrived on, so replies find their way back.
type Mux struct {
	names []string
	conns []Conn
	next  int
}

func NewMux() *Mux { return &Mux{} }

// Add registers c under name. Names must not contain '|'.
func (m *Mux) Add(name string, c Conn) {
	m.names = append(m.names, name)
	m.conns = append(m.conns, c)
}

// TryRecv polls the Conns round robin so a busy one cannot starve the rest.
func (m *Mux) TryRecv() (Datagram, bool) {
	n := len(m.conns)
	for i := 0; i < n; i++ {
		k := (m.next + i) % n
		d, ok := m.conns[k].TryRecv()
		if !ok {
			continue
		}
		m.next = (k + 1) % n
		d.From = Addr(m.names[k] + "|" + string(d.From))
		return d, true
	}
	return Datagram{}, false
}

func (m *Mux) Send(to Addr, b []byte) error {
	name, peer, ok := strings.Cut(string(to), "|")
	if !ok {
		return ErrUnknownPeer
	}
	for i, n := range m.names {
		if n == name {
			return m.conns[i].Send(Addr(peer), b)
		}
	}
	return ErrUnknownPeer
}

// Forget passes a departed peer on to Conns that keep per-peer state.
func (m *Mux) Forget(a Addr) {
	name, peer, ok := strings.Cut(string(a), "|")
	if !ok {
		return
	}
	for i, n := range m.names {
		if f, isF := m.conns[i].(interface{ Forget(Addr) }); n == name && isF {
			f.Forget(Addr(peer))
		}
	}
}

func (m *Mux) Close() error {
	var errs []error
	for _, c := range m.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mux) Dropped() uint64 {
	var n uint64
	for _, c := range m.conns {
		if s, ok := c.(Stats); ok {
			n += s.Dropped()
		}
	}
	return n
}

func (m *Mux) Limited() uint64 {
	var n uint64
	for _, c := range m.conns {
		if s, ok := c.(Stats); ok {
			n += s.Limited()
		}
	}
	return n
}
