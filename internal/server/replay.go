package server

import (
	"fmt"

	"voxelsync.dev/internal/persistence/snapshot"
	"voxelsync.dev/internal/sim/encoding"
	"voxelsync.dev/internal/sim/terrain"
)

// Replay rebuilds a world from a snapshot and the tick log written after it.
type Replay struct {
	grid  *terrain.Grid
	from  uint64
	last  uint64
	cycle uint64

	Applied int
	Skipped int
}

// NewReplay replays onto g, which holds the world as of tick from.
func NewReplay(g *terrain.Grid, from uint64) *Replay {
	return &Replay{grid: g, from: from, last: from}
}

func (r *Replay) Grid() *terrain.Grid { return r.grid }

// Last is the tick and cycle of the newest applied entry. cycle is zero
// until an entry was applied.
func (r *Replay) Last() (tick, cycle uint64) { return r.last, r.cycle }

// Apply writes the post values of e and its chunk dumps, then checks the
// world digest logged with it. Entries the snapshot already covers are
// skipped.
func (r *Replay) Apply(e TickLogEntry) error {
	if e.Tick <= r.from {
		r.Skipped++
		return nil
	}
	if e.Tick <= r.last && r.Applied > 0 {
		return fmt.Errorf("tick %d out of order after %d", e.Tick, r.last)
	}
	for _, rec := range e.Deltas {
		if r.grid.Chunk(rec.Chunk) == nil {
			return fmt.Errorf("tick %d: chunk %d outside grid", e.Tick, rec.Chunk)
		}
		for _, c := range rec.Changes {
			r.grid.SetRaw(rec.Chunk, int(c.X), int(c.Y), int(c.Z), c.Next)
		}
	}
	for _, d := range e.Dumps {
		voxels, err := encoding.DecodeRLE(d.RLE, terrain.ChunkVolume)
		if err != nil {
			return fmt.Errorf("tick %d: dump of chunk %d: %w", e.Tick, d.Chunk, err)
		}
		if err := r.grid.LoadChunk(d.Chunk, voxels); err != nil {
			return fmt.Errorf("tick %d: %w", e.Tick, err)
		}
	}
	if got := snapshot.FormatDigest(r.grid.Digest()); e.Digest != "" && got != e.Digest {
		return fmt.Errorf("digest mismatch at tick %d cycle %d: got=%s want=%s", e.Tick, e.Cycle, got, e.Digest)
	}
	r.last, r.cycle = e.Tick, e.Cycle
	r.Applied++
	return nil
}
