package terrain

import (
	"errors"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// IsoLevel is the density at and above which a cell counts as solid.
const IsoLevel uint8 = 128

const rayStep = float32(0.25)

// Brush parameterizes a sphere terraform edit.
type Brush struct {
	Radius   float32
	Strength float32 // value delta at the centre, fading linearly to the rim
	Reach    float32 // max ray length from the eye
}

// Edit is one cell write produced by a terraform.
type Edit struct {
	Chunk   int
	X, Y, Z uint8
	Prev    uint8
	Value   uint8
}

// VoxelAt returns the cell containing a world-space point.
func VoxelAt(p mgl32.Vec3) VoxelPos {
	return VoxelPos{
		X: int(math32.Floor(p[0])),
		Y: int(math32.Floor(p[1])),
		Z: int(math32.Floor(p[2])),
	}
}

// Solid reports whether the cell at p is inside the grid and at or above the
// iso level.
func (g *Grid) Solid(p VoxelPos) bool {
	v, ok := g.Get(p)
	return ok && v >= IsoLevel
}

// Raycast marches from origin along dir in fixed steps and returns the first
// solid cell within reach and the last non-solid cell visited before it.
// When the origin itself is solid, front equals hit.
func (g *Grid) Raycast(origin, dir mgl32.Vec3, reach float32) (hit, front VoxelPos, ok bool) {
	if dir.Len() == 0 || reach <= 0 {
		return VoxelPos{}, VoxelPos{}, false
	}
	d := dir.Normalize()
	steps := int(math32.Ceil(reach / rayStep))
	front = VoxelAt(origin)
	for i := 0; i <= steps; i++ {
		p := VoxelAt(origin.Add(d.Mul(float32(i) * rayStep)))
		if g.Solid(p) {
			if i == 0 {
				front = p
			}
			return p, front, true
		}
		front = p
	}
	return VoxelPos{}, VoxelPos{}, false
}

// Terraform computes the writes of a sphere brush. Digging centres on the
// first solid cell hit by the ray and subtracts density; building centres on
// the cell in front of it and adds density. Cells past a chunk edge are
// re-resolved with Wrap; cells outside the grid are skipped. The grid is not
// modified.
func (g *Grid) Terraform(origin, dir mgl32.Vec3, b Brush, dig bool) []Edit {
	if b.Radius <= 0 || b.Strength == 0 {
		return nil
	}
	hit, front, ok := g.Raycast(origin, dir, b.Reach)
	if !ok {
		return nil
	}
	centre := front
	if dig {
		centre = hit
	}
	idx, local, ok := g.Lookup(centre)
	if !ok {
		return nil
	}
	r := int(math32.Ceil(b.Radius))
	var edits []Edit
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				dist := math32.Sqrt(float32(dx*dx + dy*dy + dz*dz))
				if dist > b.Radius {
					continue
				}
				delta := int(math32.Floor(b.Strength*(1-dist/b.Radius) + 0.5))
				if delta == 0 {
					continue
				}
				n, l, ok := g.Wrap(idx, VoxelPos{X: local.X + dx, Y: local.Y + dy, Z: local.Z + dz})
				if !ok {
					continue
				}
				cur := int(g.chunks[n].Get(l.X, l.Y, l.Z))
				next := cur + delta
				if dig {
					next = cur - delta
				}
				next = clampValue(next)
				if next == cur {
					continue
				}
				edits = append(edits, Edit{Chunk: n, X: uint8(l.X), Y: uint8(l.Y), Z: uint8(l.Z), Prev: uint8(cur), Value: uint8(next)})
			}
		}
	}
	return edits
}

// Apply writes edits through the history. Every edit is applied even when a
// history overflows; ErrHistoryOverflow is returned once in that case.
func (g *Grid) Apply(edits []Edit) error {
	var overflow error
	for _, e := range edits {
		err := g.SetVoxel(e.Chunk, int(e.X), int(e.Y), int(e.Z), e.Value)
		switch {
		case err == nil:
		case errors.Is(err, ErrHistoryOverflow):
			overflow = err
		default:
			return err
		}
	}
	return overflow
}

func clampValue(v int) int {
	if v < 0 {
		return 0
	}
	if v > int(MaxValue) {
		return int(MaxValue)
	}
	return v
}
