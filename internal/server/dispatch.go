package server

import (
	"voxelsync.dev/internal/persistence/snapshot"
	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/encoding"
	"voxelsync.dev/internal/sim/terrain"
)

// dispatch drains the world's change accumulator once and sends every
// session the same delta set, personalised with sentinels for the edits the
// session itself authored and, while it awaits one, its correction.
func (s *Server) dispatch(now uint64) {
	s.cycle++

	records := s.grid.DrainChanged()
	resync := s.grid.TakeResync()
	s.metrics.overflow(len(resync))
	if len(resync) > 0 {
		s.audit(AuditEntry{Kind: EventResync, Code: protocol.CodeHistoryOverflow, Chunks: resync})
	}

	deltas, hard := splitDeltas(records, resync)
	touched := make([]int, 0, len(records)+len(resync))
	for _, r := range records {
		touched = append(touched, r.Chunk)
	}
	touched = appendMissing(touched, resync)
	s.cycles.record(s.cycle, touched)

	players := s.playerPoses()
	for el := s.sessions.Front(); el != nil; el = el.Next() {
		sess := el.Value
		sess.hard.add(hard...)

		pk := &protocol.Snapshot{
			Cycle:        s.cycle,
			AckInputTick: sess.LastInputTick,
			Deltas:       s.personalize(sess, deltas),
			Players:      players,
		}
		if sess.AwaitingCorrectionAck {
			pk.Correction = s.buildCorrection(sess)
		}
		s.metrics.snapshot(s.send(sess, pk))
		s.sendHardUpdates(sess)

		if !sess.AwaitingCorrectionAck {
			sess.mods.Reset()
		}
	}

	s.writeTickLog(now, records, resync)
	s.maybeSnapshot(now)
}

// splitDeltas fits the drained records into one snapshot. Records larger
// than a wire record are split; chunks that would push the snapshot past its
// chunk-record cap, and chunks whose history overflowed, are returned for a
// full resend instead.
func splitDeltas(records []terrain.Record, resync []int) (deltas []terrain.Record, hard []int) {
	skip := map[int]bool{}
	for _, idx := range resync {
		skip[idx] = true
	}
	hard = append(hard, resync...)
	for _, r := range records {
		if skip[r.Chunk] {
			continue
		}
		parts := r.Split(protocol.MaxVoxelsPerRecord)
		if len(deltas)+len(parts) > protocol.MaxChunksPerPacket {
			hard = append(hard, r.Chunk)
			continue
		}
		deltas = append(deltas, parts...)
	}
	return deltas, hard
}

func appendMissing(dst []int, src []int) []int {
	seen := make(map[int]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range src {
		if !seen[v] {
			seen[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}

func (s *Server) playerPoses() []protocol.PlayerPose {
	poses := make([]protocol.PlayerPose, 0, s.sessions.Len())
	for el := s.sessions.Front(); el != nil && len(poses) < protocol.MaxPlayersPerSnapshot; el = el.Next() {
		sess := el.Value
		poses = append(poses, protocol.PlayerPose{
			ClientID:  sess.ID,
			Position:  sess.Body.Position,
			Direction: sess.Body.Direction(),
			Yaw:       sess.Body.Yaw,
			Pitch:     sess.Body.Pitch,
			Actions:   uint32(sess.Actions),
		})
	}
	return poses
}

// personalize converts the shared records for one session. A change whose
// new value equals what the session itself reported for that cell is sent
// as Sentinel: the client already shows it.
func (s *Server) personalize(sess *Session, deltas []terrain.Record) []protocol.ChunkDelta {
	out := make([]protocol.ChunkDelta, 0, len(deltas))
	for _, r := range deltas {
		d := protocol.ChunkDelta{Index: uint32(r.Chunk), Voxels: make([]protocol.DeltaVoxel, len(r.Changes))}
		for i, c := range r.Changes {
			next := c.Next
			if !sess.AwaitingCorrectionAck {
				idx := uint16(terrain.LocalIndex(int(c.X), int(c.Y), int(c.Z)))
				if post, ok := sess.mods.Post(r.Chunk, idx); ok && post == c.Next {
					next = protocol.Sentinel
				}
			}
			d.Voxels[i] = protocol.DeltaVoxel{X: c.X, Y: c.Y, Z: c.Z, Prev: c.Prev, Next: next}
		}
		out = append(out, d)
	}
	return out
}

// buildCorrection lists the authoritative value of every cell in the
// session's modification log, Sentinel where the client's value already
// matches, together with the authoritative pose. Cells that do not fit, and
// chunks the log could not hold, are resent in full the first time the
// correction goes out.
func (s *Server) buildCorrection(sess *Session) *protocol.Correction {
	b := &sess.Body
	c := &protocol.Correction{
		Tick:      sess.CorrectionTick,
		NeedPose:  true,
		Position:  b.Position,
		Direction: b.Direction(),
		Velocity:  b.Velocity,
		Up:        b.Up,
		Physics:   b.Physics,
	}
	first := sess.correctionSends == 0
	sess.correctionSends++

	for _, e := range sess.mods.Entries() {
		if len(c.Voxels) == protocol.MaxCorrectionVoxels {
			if first {
				sess.hard.add(e.Chunk)
			}
			continue
		}
		cur := s.grid.Chunk(e.Chunk).Voxels[e.Cell]
		v := cur
		if e.Post == cur {
			v = protocol.Sentinel
		} else {
			c.DidVoxel = true
		}
		x, y, z := terrain.LocalPos(int(e.Cell))
		c.Voxels = append(c.Voxels, protocol.CorrectionVoxel{Index: uint32(e.Chunk), X: uint8(x), Y: uint8(y), Z: uint8(z), Value: v})
	}
	if first {
		sess.hard.add(sess.mods.Overflowed()...)
	}
	sess.DidVoxelCorrection = c.DidVoxel
	return c
}

func (s *Server) writeTickLog(now uint64, records []terrain.Record, resync []int) {
	if s.tickLogger == nil {
		s.joins, s.leaves = s.joins[:0], s.leaves[:0]
		return
	}
	if len(records) == 0 && len(resync) == 0 && len(s.joins) == 0 && len(s.leaves) == 0 {
		return
	}
	entry := TickLogEntry{
		Tick:   now,
		Cycle:  s.cycle,
		Joins:  append([]uint32(nil), s.joins...),
		Leaves: append([]uint32(nil), s.leaves...),
		Deltas: records,
		Digest: snapshot.FormatDigest(s.grid.Digest()),
	}
	for _, idx := range resync {
		entry.Dumps = append(entry.Dumps, ChunkDump{Chunk: idx, RLE: encoding.EncodeRLE(s.grid.Chunk(idx).Voxels[:])})
	}
	if err := s.tickLogger.WriteTick(entry); err != nil {
		s.logger.Printf("tick log: %v", err)
	}
	s.joins, s.leaves = s.joins[:0], s.leaves[:0]
}
