package server

import (
	"errors"
	"fmt"

	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/player"
	"voxelsync.dev/internal/sim/terrain"
)

// simulate runs every queued INPUT_STATE in arrival order, session by
// session in join order.
func (s *Server) simulate() {
	for el := s.sessions.Front(); el != nil; el = el.Next() {
		sess := el.Value
		for len(sess.queue) > 0 && !sess.AwaitingCorrectionAck {
			in := sess.queue[0]
			sess.queue = sess.queue[1:]
			s.reconcile(sess, in.h, in.pk)
		}
		if sess.AwaitingCorrectionAck {
			sess.queue = sess.queue[:0]
		}
	}
}

type cell struct {
	chunk int
	index uint16
}

// reconcile replays one INPUT_STATE through the shared simulation and checks
// the client's claims against the result. It reports whether the client
// diverged.
func (s *Server) reconcile(sess *Session, h protocol.Header, pk *protocol.InputState) bool {
	var reason string

	// Reported cells in report order; a cell reported twice keeps its latest
	// value. pre holds the server value before this packet.
	var order []cell
	reported := map[cell]uint8{}
	pre := map[cell]uint8{}
	for _, rc := range pk.Chunks {
		ch := s.grid.Chunk(int(rc.Index))
		if ch == nil {
			reason = fmt.Sprintf("chunk %d outside world", rc.Index)
			continue
		}
		for _, v := range rc.Voxels {
			c := cell{int(rc.Index), uint16(terrain.LocalIndex(int(v.X), int(v.Y), int(v.Z)))}
			if _, ok := reported[c]; !ok {
				order = append(order, c)
				pre[c] = ch.Voxels[c.index]
			}
			reported[c] = v.Value
		}
	}

	// Cells the simulation changed, with their value before the first change.
	var touchedOrder []cell
	touched := map[cell]uint8{}
	for _, in := range pk.States {
		st := player.FromWire(in)
		edits, err := player.Step(s.grid, &sess.Body, st, s.params)
		if err != nil && !errors.Is(err, terrain.ErrHistoryOverflow) {
			s.logger.Printf("client %d step tick %d: %v", sess.ID, st.Tick, err)
		}
		sess.Actions = st.Actions
		for _, e := range edits {
			c := cell{e.Chunk, uint16(terrain.LocalIndex(int(e.X), int(e.Y), int(e.Z)))}
			if _, ok := touched[c]; !ok {
				touched[c] = e.Prev
				touchedOrder = append(touchedOrder, c)
			}
		}
	}

	if len(pk.States) > 0 {
		eps := s.cfg.Tuning.Reconcile
		if !player.PoseMatches(&sess.Body, pk.FinalPosition, pk.FinalDirection, eps.PositionEpsilon, eps.DirectionEpsilon) {
			reason = "pose"
		}
	}

	for _, c := range order {
		post := reported[c]
		if reason == "" && s.value(c) != post {
			reason = fmt.Sprintf("voxel chunk %d cell %d", c.chunk, c.index)
		}
		sess.mods.Merge(c.chunk, c.index, pre[c], post)
	}
	for _, c := range touchedOrder {
		if _, ok := reported[c]; ok {
			continue
		}
		if s.value(c) == touched[c] {
			continue
		}
		if reason == "" {
			reason = fmt.Sprintf("unreported edit chunk %d cell %d", c.chunk, c.index)
		}
		sess.mods.Merge(c.chunk, c.index, touched[c], protocol.Sentinel)
	}

	sess.LastInputTick = h.Tick
	if reason == "" {
		return false
	}
	sess.AwaitingCorrectionAck = true
	sess.CorrectionTick = h.Tick
	sess.correctionSends = 0
	sess.queue = sess.queue[:0]
	s.metrics.correction()
	s.audit(AuditEntry{Kind: EventCorrection, ClientID: sess.ID, Code: protocol.CodeDivergence, Detail: fmt.Sprintf("tick %d: %s", h.Tick, reason)})
	return true
}

func (s *Server) value(c cell) uint8 {
	return s.grid.Chunk(c.chunk).Voxels[c.index]
}
