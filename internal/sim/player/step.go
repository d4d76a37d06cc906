package player

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
)

// Physics modes carried in corrections.
const (
	PhysicsAirborne uint8 = 0
	PhysicsGrounded uint8 = 1
)

const maxPitch = 89

// Params are the simulation constants shared by client and server.
type Params struct {
	WalkSpeed        float32
	JumpSpeed        float32
	Gravity          float32
	MouseSensitivity float32
	EyeHeight        float32
	MaxDT            float32
	Brush            terrain.Brush
}

func ParamsFrom(t tuning.Tuning) Params {
	return Params{
		WalkSpeed:        t.Movement.WalkSpeed,
		JumpSpeed:        t.Movement.JumpSpeed,
		Gravity:          t.Movement.Gravity,
		MouseSensitivity: t.Movement.MouseSensitivity,
		EyeHeight:        t.Movement.EyeHeight,
		MaxDT:            t.Movement.MaxDT,
		Brush: terrain.Brush{
			Radius:   t.Brush.Radius,
			Strength: t.Brush.Strength,
			Reach:    t.Brush.Reach,
		},
	}
}

// Body is the simulated physical state of one player.
type Body struct {
	Position mgl32.Vec3 // feet
	Velocity mgl32.Vec3
	Up       mgl32.Vec3
	Yaw      float32 // degrees, 0 looks along +Z
	Pitch    float32 // degrees, positive looks up
	Physics  uint8
}

// Spawn places a body on the surface of column (x,z).
func Spawn(g *terrain.Grid, x, z int) Body {
	y := g.SurfaceY(x, z)
	return Body{
		Position: mgl32.Vec3{float32(x) + 0.5, float32(y), float32(z) + 0.5},
		Up:       mgl32.Vec3{0, 1, 0},
		Physics:  PhysicsGrounded,
	}
}

// Direction is the unit look vector.
func (b *Body) Direction() mgl32.Vec3 {
	yaw, pitch := mgl32.DegToRad(b.Yaw), mgl32.DegToRad(b.Pitch)
	cp := math32.Cos(pitch)
	return mgl32.Vec3{cp * math32.Sin(yaw), math32.Sin(pitch), cp * math32.Cos(yaw)}
}

// Eye is the ray origin for terraforming.
func (b *Body) Eye(p Params) mgl32.Vec3 {
	return b.Position.Add(mgl32.Vec3{0, p.EyeHeight, 0})
}

// SetDirection points the body along d. The roll-free yaw/pitch pair is
// recovered from the vector.
func (b *Body) SetDirection(d mgl32.Vec3) {
	if d.Len() == 0 {
		return
	}
	d = d.Normalize()
	b.Yaw = mgl32.RadToDeg(math32.Atan2(d[0], d[2]))
	b.Pitch = mgl32.RadToDeg(math32.Asin(clampf(d[1], -1, 1)))
}

func (b *Body) blocked(g *terrain.Grid, p mgl32.Vec3) bool {
	feet := terrain.VoxelAt(p)
	head := feet
	head.Y++
	return g.Solid(feet) || g.Solid(head)
}

// Step advances body by one input state and returns the terraform edits it
// applied to g. The result depends only on the body, the input and the grid
// contents, so client and server reach the same pose and the same voxels.
// A history overflow while applying edits is returned; the edits still land.
func Step(g *terrain.Grid, b *Body, s State, p Params) ([]terrain.Edit, error) {
	dt := s.DT
	if dt < 0 {
		dt = 0
	}
	if p.MaxDT > 0 && dt > p.MaxDT {
		dt = p.MaxDT
	}

	b.Yaw = wrapDegrees(b.Yaw + s.MouseDX*p.MouseSensitivity)
	b.Pitch = clampf(b.Pitch-s.MouseDY*p.MouseSensitivity, -maxPitch, maxPitch)

	yaw := mgl32.DegToRad(b.Yaw)
	fwd := mgl32.Vec3{math32.Sin(yaw), 0, math32.Cos(yaw)}
	right := mgl32.Vec3{fwd[2], 0, -fwd[0]}

	var wish mgl32.Vec3
	if s.Actions.Forward() {
		wish = wish.Add(fwd)
	}
	if s.Actions.Back() {
		wish = wish.Sub(fwd)
	}
	if s.Actions.Right() {
		wish = wish.Add(right)
	}
	if s.Actions.Left() {
		wish = wish.Sub(right)
	}
	speed := p.WalkSpeed
	if s.Actions.Crouch() {
		speed *= 0.5
	}
	if wish.Len() > 0 {
		wish = wish.Normalize().Mul(speed)
	}
	b.Velocity[0], b.Velocity[2] = wish[0], wish[2]

	if b.Physics == PhysicsGrounded && s.Actions.Jump() {
		b.Velocity[1] = p.JumpSpeed
		b.Physics = PhysicsAirborne
	}
	b.Velocity[1] -= p.Gravity * dt

	b.move(g, dt)
	if b.Up.Len() == 0 {
		b.Up = mgl32.Vec3{0, 1, 0}
	}

	if !s.Actions.Terraforming() {
		return nil, nil
	}
	edits := g.Terraform(b.Eye(p), b.Direction(), p.Brush, s.Actions.Dig())
	return edits, g.Apply(edits)
}

// move integrates one axis at a time and cancels motion into solid cells.
func (b *Body) move(g *terrain.Grid, dt float32) {
	bounds := g.Bounds()
	limits := [3]float32{float32(bounds.X), float32(bounds.Y), float32(bounds.Z)}
	grounded := false
	for axis := 0; axis < 3; axis++ {
		delta := b.Velocity[axis] * dt
		if delta == 0 {
			continue
		}
		next := b.Position
		next[axis] += delta
		if b.blocked(g, next) {
			if axis == 1 && delta < 0 {
				grounded = true
			}
			b.Velocity[axis] = 0
			continue
		}
		b.Position = next
	}
	for axis := 0; axis < 3; axis++ {
		if b.Position[axis] < 0 {
			b.Position[axis] = 0
			if axis == 1 {
				grounded = true
			}
			b.Velocity[axis] = 0
		}
		if hi := limits[axis] - 0.001; b.Position[axis] > hi {
			b.Position[axis] = hi
			b.Velocity[axis] = 0
		}
	}
	if grounded {
		b.Physics = PhysicsGrounded
		if b.Velocity[1] < 0 {
			b.Velocity[1] = 0
		}
	} else {
		b.Physics = PhysicsAirborne
	}
}

// PoseMatches compares a reported pose against the simulated one.
func PoseMatches(b *Body, pos, dir mgl32.Vec3, posEps, dirEps float32) bool {
	if b.Position.Sub(pos).Len() > posEps {
		return false
	}
	return b.Direction().Sub(dir).Len() <= dirEps
}

func wrapDegrees(v float32) float32 {
	v = math32.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return v
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
