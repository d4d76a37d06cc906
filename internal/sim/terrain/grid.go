package terrain

import (
	"errors"
	"fmt"
)

// NoChunk is returned by lookups that fall outside the grid.
const NoChunk = -1

// MaxChunks bounds the chunk count of a grid (64 MiB of voxels).
const MaxChunks = 16384

// Grid is the arena that owns every chunk of a finite world. Chunks are
// addressed by plain integer indices; pointers returned by Chunk are valid
// only until the next call that may relocate the arena.
type Grid struct {
	dims   [3]int
	chunks []Chunk

	// changed accumulates chunks written through SetVoxel since the last
	// DrainChanged, in first-touch order.
	changed     []int
	changedMark []bool

	mesh     []int
	meshMark []bool
}

// NewGrid allocates dx*dy*dz zeroed chunks. With history enabled every write
// through SetVoxel is recorded for delta sync.
func NewGrid(dx, dy, dz int, history bool) (*Grid, error) {
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return nil, fmt.Errorf("bad grid dims %dx%dx%d", dx, dy, dz)
	}
	if dx > MaxChunks || dy > MaxChunks || dz > MaxChunks || dx*dy*dz > MaxChunks {
		return nil, fmt.Errorf("grid dims %dx%dx%d exceed %d chunks", dx, dy, dz, MaxChunks)
	}
	n := dx * dy * dz
	g := &Grid{
		dims:        [3]int{dx, dy, dz},
		chunks:      make([]Chunk, n),
		changedMark: make([]bool, n),
		meshMark:    make([]bool, n),
	}
	for i := range g.chunks {
		g.chunks[i].Coord = g.CoordOf(i)
		if history {
			g.chunks[i].EnableHistory()
		}
	}
	return g, nil
}

// LoadGrid builds a grid from a flat array of chunk voxel arrays laid out in
// index order.
func LoadGrid(dims [3]int, flat []byte, history bool) (*Grid, error) {
	g, err := NewGrid(dims[0], dims[1], dims[2], history)
	if err != nil {
		return nil, err
	}
	if len(flat) != g.Len()*ChunkVolume {
		return nil, fmt.Errorf("flat chunk array: got %d bytes want %d", len(flat), g.Len()*ChunkVolume)
	}
	for i := range g.chunks {
		if err := g.chunks[i].Load(flat[i*ChunkVolume : (i+1)*ChunkVolume]); err != nil {
			return nil, err
		}
		g.markMesh(i)
	}
	return g, nil
}

func (g *Grid) Dims() [3]int { return g.dims }
func (g *Grid) Len() int     { return len(g.chunks) }

// Bounds is the world voxel extent of the grid along each axis.
func (g *Grid) Bounds() VoxelPos {
	return VoxelPos{X: g.dims[0] * ChunkSize, Y: g.dims[1] * ChunkSize, Z: g.dims[2] * ChunkSize}
}

// Chunk returns the chunk at idx, or nil when idx is out of range.
func (g *Grid) Chunk(idx int) *Chunk {
	if idx < 0 || idx >= len(g.chunks) {
		return nil
	}
	return &g.chunks[idx]
}

// Index flattens a chunk coordinate. ok is false outside the grid.
func (g *Grid) Index(c ChunkCoord) (int, bool) {
	if c.X < 0 || c.Y < 0 || c.Z < 0 || c.X >= g.dims[0] || c.Y >= g.dims[1] || c.Z >= g.dims[2] {
		return NoChunk, false
	}
	return c.X + g.dims[0]*(c.Y+g.dims[1]*c.Z), true
}

func (g *Grid) CoordOf(idx int) ChunkCoord {
	return ChunkCoord{
		X: idx % g.dims[0],
		Y: (idx / g.dims[0]) % g.dims[1],
		Z: idx / (g.dims[0] * g.dims[1]),
	}
}

// Lookup resolves a world voxel position to a chunk index and local position.
func (g *Grid) Lookup(p VoxelPos) (int, VoxelPos, bool) {
	c, l := WorldToChunk(p)
	idx, ok := g.Index(c)
	return idx, l, ok
}

// Wrap re-resolves a local position that may have left [0,N) on any axis
// into the neighbouring chunk that owns it. ok is false when that chunk is
// outside the grid.
func (g *Grid) Wrap(idx int, local VoxelPos) (int, VoxelPos, bool) {
	if idx < 0 || idx >= len(g.chunks) {
		return NoChunk, local, false
	}
	if inLocal(local.X, local.Y, local.Z) {
		return idx, local, true
	}
	return g.Lookup(ChunkToWorld(g.CoordOf(idx), local))
}

// Get returns the value at a world position; ok is false outside the grid.
func (g *Grid) Get(p VoxelPos) (uint8, bool) {
	idx, l, ok := g.Lookup(p)
	if !ok {
		return 0, false
	}
	return g.chunks[idx].Get(l.X, l.Y, l.Z), true
}

// SetVoxel writes through the chunk history and marks the chunk changed and
// mesh dirty. ErrHistoryOverflow is passed through; the write is applied.
func (g *Grid) SetVoxel(idx, x, y, z int, v uint8) error {
	ch := g.Chunk(idx)
	if ch == nil {
		return fmt.Errorf("chunk index %d outside grid of %d", idx, len(g.chunks))
	}
	wrote, err := ch.Set(x, y, z, v)
	if err != nil && !errors.Is(err, ErrHistoryOverflow) {
		return err
	}
	if wrote {
		g.markChanged(idx)
		g.markMesh(idx)
	}
	return err
}

// SetRaw writes without history; only the mesh is marked dirty.
func (g *Grid) SetRaw(idx, x, y, z int, v uint8) bool {
	ch := g.Chunk(idx)
	if ch == nil {
		return false
	}
	if !ch.SetRaw(x, y, z, v) {
		return false
	}
	g.markMesh(idx)
	return true
}

// LoadChunk replaces a whole chunk, discarding its pending history.
func (g *Grid) LoadChunk(idx int, voxels []byte) error {
	ch := g.Chunk(idx)
	if ch == nil {
		return fmt.Errorf("chunk index %d outside grid of %d", idx, len(g.chunks))
	}
	if err := ch.Load(voxels); err != nil {
		return err
	}
	g.markMesh(idx)
	return nil
}

func (g *Grid) markChanged(idx int) {
	if !g.changedMark[idx] {
		g.changedMark[idx] = true
		g.changed = append(g.changed, idx)
	}
}

func (g *Grid) markMesh(idx int) {
	if !g.meshMark[idx] {
		g.meshMark[idx] = true
		g.mesh = append(g.mesh, idx)
	}
}

// Changed reports the chunks touched since the last drain without clearing.
func (g *Grid) Changed() []int {
	return append([]int(nil), g.changed...)
}

// DrainChanged drains the history of every changed chunk and clears the
// accumulator. Records with no effective change are skipped.
func (g *Grid) DrainChanged() []Record {
	if len(g.changed) == 0 {
		return nil
	}
	out := make([]Record, 0, len(g.changed))
	for _, idx := range g.changed {
		g.changedMark[idx] = false
		rec := g.chunks[idx].DrainHistory(idx)
		if len(rec.Changes) > 0 {
			out = append(out, rec)
		}
	}
	g.changed = g.changed[:0]
	return out
}

// TakeResync returns and clears the chunks whose history overflowed.
func (g *Grid) TakeResync() []int {
	var out []int
	for i := range g.chunks {
		if c := &g.chunks[i]; c.NeedsResync() {
			c.ClearResync()
			out = append(out, i)
		}
	}
	return out
}

// TakeMeshDirty returns the queue of chunks whose voxels changed since the
// previous call, for the mesh builder.
func (g *Grid) TakeMeshDirty() []int {
	out := g.mesh
	for _, idx := range out {
		g.meshMark[idx] = false
	}
	g.mesh = nil
	return out
}

// Flat copies every chunk into one array in index order.
func (g *Grid) Flat() []byte {
	out := make([]byte, 0, len(g.chunks)*ChunkVolume)
	for i := range g.chunks {
		out = append(out, g.chunks[i].Voxels[:]...)
	}
	return out
}
