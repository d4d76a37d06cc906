package terrain

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Digest hashes the chunk voxels.
func (c *Chunk) Digest() uint64 {
	return xxhash.Sum64(c.Voxels[:])
}

// Digest hashes the grid dims and every chunk digest in index order.
func (g *Grid) Digest() uint64 {
	d := xxhash.New()
	var tmp [8]byte
	for _, n := range g.dims {
		binary.LittleEndian.PutUint64(tmp[:], uint64(n))
		d.Write(tmp[:])
	}
	for i := range g.chunks {
		binary.LittleEndian.PutUint64(tmp[:], g.chunks[i].Digest())
		d.Write(tmp[:])
	}
	return d.Sum64()
}
