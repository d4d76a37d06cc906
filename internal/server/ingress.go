package server

import (
	"errors"
	"fmt"

	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/transport"
)

var (
	errUnknownSender = errors.New("unknown sender")
	errVersion       = errors.New("protocol version mismatch")
	errServerFull    = errors.New("server full")
	errQueueFull     = errors.New("session input queue full")
)

// poll drains at most 1+2×sessions datagrams so a backlog cannot starve the
// tick.
func (s *Server) poll(now uint64) {
	budget := 1 + 2*s.sessions.Len()
	for i := 0; i < budget; i++ {
		d, ok := s.conn.TryRecv()
		if !ok {
			return
		}
		if err := s.handleDatagram(d); err != nil {
			s.metrics.drop(dropCode(err))
			s.debugf("drop datagram from %s at tick %d: %v", d.From, now, err)
		}
	}
}

func dropCode(err error) string {
	switch {
	case errors.Is(err, errUnknownSender):
		return protocol.CodeUnknownSender
	case errors.Is(err, errQueueFull):
		return protocol.CodeQueueFull
	case errors.Is(err, errVersion), errors.Is(err, errServerFull):
		return protocol.CodeMalformed
	}
	if c := protocol.CodeOf(err); c != "" {
		return c
	}
	return protocol.CodeMalformed
}

// handleDatagram decodes and routes one datagram. A non-nil error means it
// was dropped.
func (s *Server) handleDatagram(d transport.Datagram) error {
	if d.Gone {
		if sess, ok := s.SessionByAddr(d.From); ok {
			s.leave(sess, "transport closed")
		}
		return nil
	}
	h, pk, err := protocol.Decode(d.Data)
	if err != nil {
		return err
	}
	if h.Dir != protocol.ClientToServer {
		return fmt.Errorf("%w: server-bound %s", protocol.ErrMalformedPacket, h.Kind())
	}

	if join, ok := pk.(*protocol.Join); ok {
		if h.PacketID != protocol.JoinPacketID {
			return fmt.Errorf("%w: JOIN with packet id %d", protocol.ErrMalformedPacket, h.PacketID)
		}
		return s.join(d.From, join)
	}

	sess, ok := s.SessionByAddr(d.From)
	if !ok || h.ClientID != sess.ID {
		return fmt.Errorf("%w: %s from %s client %d", errUnknownSender, h.Kind(), d.From, h.ClientID)
	}
	if h.PacketID <= sess.LastPacketID {
		return fmt.Errorf("%w: id %d after %d", protocol.ErrStalePacket, h.PacketID, sess.LastPacketID)
	}
	sess.LastPacketID = h.PacketID
	s.metrics.packet(h.Kind().String())

	switch pk := pk.(type) {
	case *protocol.InputState:
		return s.queueInput(sess, h, pk)
	case *protocol.AckSnapshot:
		s.ackSnapshot(sess, pk)
	case *protocol.CorrectionAck:
		s.correctionAck(sess, pk)
	case *protocol.Disconnect:
		s.leave(sess, "disconnect")
	}
	return nil
}

func (s *Server) join(addr transport.Addr, pk *protocol.Join) error {
	if pk.Version != protocol.Version {
		return fmt.Errorf("%w: client %d server %d", errVersion, pk.Version, protocol.Version)
	}
	s.metrics.packet(protocol.KindJoin.String())

	// A known address rejoining has restarted: reset its packet ids and
	// resend the world.
	if sess, ok := s.SessionByAddr(addr); ok {
		sess.LastPacketID = protocol.JoinPacketID
		sess.queue = sess.queue[:0]
		sess.clearCorrection()
		sess.hard.addAll()
		s.sendHandshake(sess)
		s.logger.Printf("client %d (%s) rejoined from %s", sess.ID, sess.Name, addr)
		s.audit(AuditEntry{Kind: EventJoin, ClientID: sess.ID, Addr: string(addr), Detail: "rejoin"})
		return nil
	}

	if s.sessions.Len() >= MaxSessions {
		return fmt.Errorf("%w: %d sessions", errServerFull, s.sessions.Len())
	}
	s.nextID++
	id := s.nextID
	name := protocol.SanitizeName(pk.Name)
	if name == "" {
		name = fmt.Sprintf("player-%d", id)
	}
	sess := newSession(id, name, addr, s.spawnBody(), s.grid.Len())
	sess.hard.addAll()

	for el := s.sessions.Front(); el != nil; el = el.Next() {
		other := el.Value
		s.send(other, &protocol.ClientJoined{ClientID: sess.ID, Name: sess.Name, Position: sess.Body.Position})
	}
	s.sessions.Set(id, sess)
	s.byAddr[addr] = id
	s.joins = append(s.joins, id)
	s.metrics.setSessions(s.sessions.Len())

	s.sendHandshake(sess)
	for el := s.sessions.Front(); el != nil; el = el.Next() {
		if other := el.Value; other.ID != id {
			s.send(sess, &protocol.ClientJoined{ClientID: other.ID, Name: other.Name, Position: other.Body.Position})
		}
	}
	s.logger.Printf("client %d (%s) joined from %s", id, name, addr)
	s.audit(AuditEntry{Kind: EventJoin, ClientID: id, Addr: string(addr), Detail: name})
	return nil
}

func (s *Server) sendHandshake(sess *Session) {
	t := s.cfg.Tuning
	dims := s.grid.Dims()
	s.send(sess, &protocol.Handshake{
		Version:        protocol.Version,
		ClientID:       sess.ID,
		GridDims:       [3]uint32{uint32(dims[0]), uint32(dims[1]), uint32(dims[2])},
		ChunkEdge:      protocol.ChunkEdge,
		TickRateHz:     uint16(t.TickRateHz),
		SendRateHz:     uint16(t.SendRateHz),
		DispatchRateHz: uint16(t.DispatchRateHz),
		TotalChunks:    uint32(s.grid.Len()),
		SpawnPosition:  sess.Body.Position,
		SpawnDirection: sess.Body.Direction(),
	})
}

func (s *Server) leave(sess *Session, reason string) {
	s.sessions.Delete(sess.ID)
	delete(s.byAddr, sess.Addr)
	if f, ok := s.conn.(interface{ Forget(transport.Addr) }); ok {
		f.Forget(sess.Addr)
	}
	s.leaves = append(s.leaves, sess.ID)
	s.metrics.setSessions(s.sessions.Len())
	s.logger.Printf("client %d (%s) left: %s", sess.ID, sess.Name, reason)
	s.audit(AuditEntry{Kind: EventLeave, ClientID: sess.ID, Addr: string(sess.Addr), Detail: reason})
}

func (s *Server) queueInput(sess *Session, h protocol.Header, pk *protocol.InputState) error {
	if len(pk.Resync) > 0 {
		chunks := make([]int, 0, len(pk.Resync))
		for _, idx := range pk.Resync {
			chunks = append(chunks, int(idx))
		}
		sess.hard.add(chunks...)
		s.audit(AuditEntry{Kind: EventResync, ClientID: sess.ID, Code: protocol.CodeHistoryOverflow, Chunks: chunks})
	}
	// Input built on a state the server has rejected is meaningless until the
	// correction is acknowledged.
	if sess.AwaitingCorrectionAck {
		return nil
	}
	limit := s.cfg.Tuning.Net.SessionQueue
	if limit <= 0 {
		limit = 32
	}
	if len(sess.queue) >= limit {
		s.audit(AuditEntry{Kind: EventDrop, ClientID: sess.ID, Code: protocol.CodeQueueFull})
		return fmt.Errorf("%w: client %d", errQueueFull, sess.ID)
	}
	sess.queue = append(sess.queue, queuedInput{h: h, pk: pk})
	return nil
}

// ackSnapshot queues full resends of the chunks changed in every cycle the
// client reports missing. Cycles older than the log cost the whole world.
func (s *Server) ackSnapshot(sess *Session, pk *protocol.AckSnapshot) {
	if pk.LatestCycle > sess.LastAckCycle {
		sess.LastAckCycle = pk.LatestCycle
	}
	var chunks []int
	for _, c := range pk.Missed {
		if c == 0 || c > s.cycle {
			continue
		}
		changed, ok := s.cycles.lookup(c)
		if !ok {
			sess.hard.addAll()
			s.audit(AuditEntry{Kind: EventResync, ClientID: sess.ID, Detail: fmt.Sprintf("cycle %d expired", c)})
			return
		}
		chunks = append(chunks, changed...)
	}
	if len(chunks) > 0 {
		sess.hard.add(chunks...)
		s.audit(AuditEntry{Kind: EventResync, ClientID: sess.ID, Detail: "missed snapshots", Chunks: chunks})
	}
}

func (s *Server) correctionAck(sess *Session, pk *protocol.CorrectionAck) {
	if !sess.AwaitingCorrectionAck || pk.CorrectionTick != sess.CorrectionTick {
		return
	}
	sess.clearCorrection()
	s.audit(AuditEntry{Kind: EventCorrected, ClientID: sess.ID, Detail: fmt.Sprintf("tick %d", pk.CorrectionTick)})
}
