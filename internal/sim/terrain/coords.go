package terrain

// ChunkSize is the edge length N of a cubic chunk.
const (
	ChunkSize   = 16
	ChunkVolume = ChunkSize * ChunkSize * ChunkSize
)

// ChunkCoord is the integer grid position of a chunk.
type ChunkCoord struct {
	X, Y, Z int
}

// VoxelPos is an integer voxel position, either in world space or local to a
// chunk depending on context.
type VoxelPos struct {
	X, Y, Z int
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// WorldToChunk splits a world voxel position into the owning chunk and the
// local position inside it.
func WorldToChunk(p VoxelPos) (ChunkCoord, VoxelPos) {
	c := ChunkCoord{
		X: FloorDiv(p.X, ChunkSize),
		Y: FloorDiv(p.Y, ChunkSize),
		Z: FloorDiv(p.Z, ChunkSize),
	}
	l := VoxelPos{
		X: Mod(p.X, ChunkSize),
		Y: Mod(p.Y, ChunkSize),
		Z: Mod(p.Z, ChunkSize),
	}
	return c, l
}

// ChunkToWorld is the inverse of WorldToChunk.
func ChunkToWorld(c ChunkCoord, local VoxelPos) VoxelPos {
	return VoxelPos{
		X: c.X*ChunkSize + local.X,
		Y: c.Y*ChunkSize + local.Y,
		Z: c.Z*ChunkSize + local.Z,
	}
}

// Origin is the world position of the chunk's (0,0,0) cell.
func (c ChunkCoord) Origin() VoxelPos {
	return ChunkToWorld(c, VoxelPos{})
}

// LocalIndex flattens a local position; x varies fastest.
func LocalIndex(x, y, z int) int {
	return x + ChunkSize*(y+ChunkSize*z)
}

func LocalPos(i int) (x, y, z int) {
	return i % ChunkSize, (i / ChunkSize) % ChunkSize, i / (ChunkSize * ChunkSize)
}

func inLocal(x, y, z int) bool {
	return x >= 0 && x < ChunkSize && y >= 0 && y < ChunkSize && z >= 0 && z < ChunkSize
}
