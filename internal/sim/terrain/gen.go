package terrain

// GenParams drives the seeded heightmap generator.
type GenParams struct {
	Seed       int64
	BaseHeight int // world y of the mean surface
	Amplitude  int // max deviation from BaseHeight
	CellSize   int // horizontal spacing of the value-noise lattice
	Falloff    int // density change per voxel across the surface
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// heightAt bilinearly interpolates lattice heights in integer permille steps
// so every platform produces the same world for a seed.
func heightAt(p GenParams, x, z int) int {
	cell := p.CellSize
	if cell <= 0 {
		cell = 1
	}
	gx, gz := FloorDiv(x, cell), FloorDiv(z, cell)
	fx, fz := Mod(x, cell)*1000/cell, Mod(z, cell)*1000/cell

	corner := func(cx, cz int) int {
		if p.Amplitude <= 0 {
			return 0
		}
		return int(Hash2(p.Seed, cx, cz)%uint64(2*p.Amplitude+1)) - p.Amplitude
	}
	h00, h10 := corner(gx, gz), corner(gx+1, gz)
	h01, h11 := corner(gx, gz+1), corner(gx+1, gz+1)
	top := h00*(1000-fx) + h10*fx
	bot := h01*(1000-fx) + h11*fx
	h := (top*(1000-fz) + bot*fz) / 1000000
	return p.BaseHeight + h
}

// Generate fills every chunk with a density field around a hashed heightmap.
// Writes bypass the history.
func Generate(g *Grid, p GenParams) {
	falloff := p.Falloff
	if falloff <= 0 {
		falloff = 32
	}
	b := g.Bounds()
	for z := 0; z < b.Z; z++ {
		for x := 0; x < b.X; x++ {
			h := heightAt(p, x, z)
			for y := 0; y < b.Y; y++ {
				v := clampValue(int(IsoLevel) + (h-y)*falloff)
				idx, l, _ := g.Lookup(VoxelPos{X: x, Y: y, Z: z})
				g.chunks[idx].Voxels[LocalIndex(l.X, l.Y, l.Z)] = uint8(v)
			}
		}
	}
	for i := range g.chunks {
		g.markMesh(i)
	}
}

// SurfaceY returns the y just above the highest solid cell of column (x,z),
// or 0 when the column has none.
func (g *Grid) SurfaceY(x, z int) int {
	top := g.Bounds().Y
	for y := top - 1; y >= 0; y-- {
		if g.Solid(VoxelPos{X: x, Y: y, Z: z}) {
			return y + 1
		}
	}
	return 0
}
