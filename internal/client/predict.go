package client

import (
	"errors"

	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/player"
	"voxelsync.dev/internal/sim/terrain"
)

// predict simulates one tick of local input. Terraform edits land in the
// grid right away and are captured by its history.
func (c *Client) predict(in Input) {
	st := player.State{
		Actions: in.Actions,
		MouseDX: in.MouseDX,
		MouseDY: in.MouseDY,
		Tick:    c.tick,
		DT:      1 / float32(c.hs.TickRateHz),
	}
	if _, err := player.Step(c.grid, &c.body, st, c.params); err != nil && !errors.Is(err, terrain.ErrHistoryOverflow) {
		c.logger.Printf("step tick %d: %v", c.tick, err)
	}
	st.Position = c.body.Position
	st.Direction = c.body.Direction()
	if err := c.states.Push(st); err != nil {
		c.logger.Printf("tick %d: %v", c.tick, err)
	}
}

// flush ends a send interval: buffered states and drained voxel history go
// out as one INPUT_STATE and the drained pre-values become a revert entry.
func (c *Client) flush() error {
	if c.mode == ModeAwaitingCorrection {
		c.states.Reset()
		return nil
	}
	states := c.states.Drain()
	records := c.grid.DrainChanged()
	c.resync = appendUnique(c.resync, c.grid.TakeResync())

	pk := &protocol.InputState{
		FinalPosition:  c.body.Position,
		FinalDirection: c.body.Direction(),
	}
	for _, st := range states {
		pk.States = append(pk.States, st.ToWire())
	}
	for _, rec := range records {
		parts := rec.Split(protocol.MaxVoxelsPerRecord)
		if len(pk.Chunks)+len(parts) > protocol.MaxChunksPerPacket {
			// The server sees the cells as unreported edits and corrects them.
			c.stats.DroppedRecords++
			continue
		}
		for _, part := range parts {
			rc := protocol.ReportedChunk{Index: uint32(part.Chunk), Voxels: make([]protocol.ReportedVoxel, len(part.Changes))}
			for i, ch := range part.Changes {
				rc.Voxels[i] = protocol.ReportedVoxel{X: ch.X, Y: ch.Y, Z: ch.Z, Value: ch.Next}
			}
			pk.Chunks = append(pk.Chunks, rc)
		}
	}
	pk.Resync = c.takeResync()

	if len(pk.States) == 0 && len(pk.Chunks) == 0 && len(pk.Resync) == 0 {
		return nil
	}
	if len(records) > 0 {
		if c.ring.Push(RevertEntry{Tick: c.tick, Records: records}) {
			c.stats.RingEvictions++
		}
	}
	return c.send(pk)
}

// requestMissing asks for chunks the world population has not delivered
// after a quiet period.
func (c *Client) requestMissing() error {
	if c.tick-c.lastHardTick < uint64(c.cfg.ResyncAfterTicks) {
		return nil
	}
	c.lastHardTick = c.tick
	for idx, ok := range c.loaded {
		if !ok {
			c.resync = appendUnique(c.resync, []int{idx})
		}
	}
	pk := &protocol.InputState{Resync: c.takeResync()}
	if len(pk.Resync) == 0 {
		return nil
	}
	return c.send(pk)
}

func (c *Client) takeResync() []uint32 {
	n := min(len(c.resync), protocol.MaxResyncChunks)
	if n == 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(c.resync[i])
	}
	c.resync = c.resync[n:]
	return out
}

func appendUnique(dst, src []int) []int {
	for _, v := range src {
		dup := false
		for _, have := range dst {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
