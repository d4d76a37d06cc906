package terrain

import "fmt"

// Chunk is N³ voxel cells. Chunks live in a Grid arena and are addressed by
// their index there.
type Chunk struct {
	Coord  ChunkCoord
	Voxels [ChunkVolume]uint8

	hist        *History
	needsResync bool
}

// Origin is the world voxel position of cell (0,0,0).
func (c *Chunk) Origin() VoxelPos { return c.Coord.Origin() }

func (c *Chunk) Get(x, y, z int) uint8 {
	return c.Voxels[LocalIndex(x, y, z)]
}

// EnableHistory starts recording writes made through Set.
func (c *Chunk) EnableHistory() {
	if c.hist == nil {
		c.hist = newHistory()
	}
}

func (c *Chunk) History() *History { return c.hist }

// Set writes v (clamped to MaxValue) at a local position and records the
// pre-write value in the history when one is attached. A full history still
// applies the write, flags the chunk and returns ErrHistoryOverflow.
func (c *Chunk) Set(x, y, z int, v uint8) (bool, error) {
	if !inLocal(x, y, z) {
		return false, fmt.Errorf("local position (%d,%d,%d) outside chunk", x, y, z)
	}
	if v > MaxValue {
		v = MaxValue
	}
	i := LocalIndex(x, y, z)
	prev := c.Voxels[i]
	if prev == v {
		return false, nil
	}
	var err error
	if c.hist != nil {
		if err = c.hist.record(i, prev); err != nil {
			c.needsResync = true
		}
	}
	c.Voxels[i] = v
	return true, err
}

// SetRaw writes without touching the history. Used for authoritative
// overwrites that must not be reported back.
func (c *Chunk) SetRaw(x, y, z int, v uint8) bool {
	if !inLocal(x, y, z) {
		return false
	}
	if v > MaxValue {
		v = MaxValue
	}
	i := LocalIndex(x, y, z)
	if c.Voxels[i] == v {
		return false
	}
	c.Voxels[i] = v
	return true
}

// Load replaces every cell and discards any pending history.
func (c *Chunk) Load(voxels []byte) error {
	if len(voxels) != ChunkVolume {
		return fmt.Errorf("chunk %v: got %d voxels want %d", c.Coord, len(voxels), ChunkVolume)
	}
	for i, v := range voxels {
		if v > MaxValue {
			return fmt.Errorf("chunk %v: voxel %d has reserved value %d", c.Coord, i, v)
		}
	}
	copy(c.Voxels[:], voxels)
	if c.hist != nil {
		c.hist.reset()
	}
	c.needsResync = false
	return nil
}

// DrainHistory returns every cell changed since the last drain and resets
// the history. Cells written back to their baseline value are omitted.
func (c *Chunk) DrainHistory(idx int) Record {
	rec := Record{Chunk: idx}
	if c.hist == nil || len(c.hist.dirty) == 0 {
		return rec
	}
	rec.Changes = make([]Change, 0, len(c.hist.dirty))
	for _, i := range c.hist.dirty {
		prev, next := c.hist.baseline[i], c.Voxels[i]
		if prev == next {
			continue
		}
		x, y, z := LocalPos(int(i))
		rec.Changes = append(rec.Changes, Change{X: uint8(x), Y: uint8(y), Z: uint8(z), Prev: prev, Next: next})
	}
	c.hist.reset()
	return rec
}

func (c *Chunk) NeedsResync() bool { return c.needsResync }
func (c *Chunk) ClearResync()      { c.needsResync = false }
