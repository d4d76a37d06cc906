package client

import (
	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/terrain"
)

// RevertEntry holds the pre-values of every cell the client changed during
// one send interval. Tick is the header tick of that interval's INPUT_STATE.
type RevertEntry struct {
	Tick    uint64
	Records []terrain.Record
}

// RevertRing keeps the most recent entries, oldest first. Pushing into a full
// ring evicts the oldest entry.
type RevertRing struct {
	buf   []RevertEntry
	head  int
	count int
}

func NewRevertRing(depth int) *RevertRing {
	if depth <= 0 {
		depth = 20
	}
	return &RevertRing{buf: make([]RevertEntry, depth)}
}

func (r *RevertRing) Len() int { return r.count }
func (r *RevertRing) Cap() int { return len(r.buf) }

// Push appends e and reports whether the oldest entry was evicted for it.
func (r *RevertRing) Push(e RevertEntry) bool {
	if r.count == len(r.buf) {
		r.buf[r.head] = e
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = e
	r.count++
	return false
}

// At returns the i-th entry, oldest first.
func (r *RevertRing) At(i int) RevertEntry {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Prune drops entries at or below tick; the server has accepted them.
func (r *RevertRing) Prune(tick uint64) {
	for r.count > 0 && r.buf[r.head].Tick <= tick {
		r.buf[r.head] = RevertEntry{}
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
}

func (r *RevertRing) Reset() {
	for i := range r.buf {
		r.buf[i] = RevertEntry{}
	}
	r.head = 0
	r.count = 0
}

// Revert walks from the newest entry backwards restoring pre-values, through
// the entry for tick, then empties the ring. Entries older than tick are not
// touched. Writes bypass the grid history. It returns the number of entries
// reverted.
func (r *RevertRing) Revert(g *terrain.Grid, tick uint64) int {
	n := r.rewind(g, tick)
	r.Reset()
	return n
}

// rewind pops and undoes the newest entries whose tick is at least tick.
func (r *RevertRing) rewind(g *terrain.Grid, tick uint64) int {
	n := 0
	for r.count > 0 {
		e := r.At(r.count - 1)
		if e.Tick < tick {
			break
		}
		for i := len(e.Records) - 1; i >= 0; i-- {
			rec := e.Records[i]
			for j := len(rec.Changes) - 1; j >= 0; j-- {
				c := rec.Changes[j]
				g.SetRaw(rec.Chunk, int(c.X), int(c.Y), int(c.Z), c.Prev)
			}
		}
		r.buf[(r.head+r.count-1)%len(r.buf)] = RevertEntry{}
		r.count--
		n++
	}
	return n
}

// applyCorrection rewinds local prediction to the server's state right after
// corr.Tick and adopts the authoritative pose.
func (c *Client) applyCorrection(corr *protocol.Correction) {
	// Edits since the last send belong to the rewind too.
	if recs := c.grid.DrainChanged(); len(recs) > 0 {
		if c.ring.Push(RevertEntry{Tick: c.tick, Records: recs}) {
			c.stats.RingEvictions++
		}
	}

	// A sentinel means "your value at corr.Tick was right". Intervals after
	// corr.Tick were never accepted, so undo them before reading that value.
	n := c.ring.rewind(c.grid, corr.Tick+1)
	predicted := make([]uint8, len(corr.Voxels))
	for i, v := range corr.Voxels {
		if ch := c.grid.Chunk(int(v.Index)); ch != nil {
			predicted[i] = ch.Get(int(v.X), int(v.Y), int(v.Z))
		}
	}
	n += c.ring.Revert(c.grid, corr.Tick)
	c.stats.Reverted += n

	for i, v := range corr.Voxels {
		val := v.Value
		if val == protocol.Sentinel {
			val = predicted[i]
		}
		c.grid.SetRaw(int(v.Index), int(v.X), int(v.Y), int(v.Z), val)
	}

	if corr.NeedPose {
		c.body.Position = corr.Position
		c.body.SetDirection(corr.Direction)
		c.body.Velocity = corr.Velocity
		c.body.Up = corr.Up
		c.body.Physics = corr.Physics
	}

	c.states.Reset()
	c.mode = ModeAwaitingCorrection
	c.correctionTick = corr.Tick
	c.hasCorrection = true
	c.stats.Corrections++
	c.sendCorrectionAck(corr.Tick)
}
