package player

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"voxelsync.dev/internal/protocol"
)

// State is one sampled tick of player input together with the pose that
// resulted from simulating it.
type State struct {
	Actions   Actions
	MouseDX   float32
	MouseDY   float32
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Tick      uint64
	DT        float32
}

func (s State) ToWire() protocol.InputRecord {
	return protocol.InputRecord{
		Actions:   uint32(s.Actions),
		MouseDX:   s.MouseDX,
		MouseDY:   s.MouseDY,
		Position:  s.Position,
		Direction: s.Direction,
		Tick:      s.Tick,
		DT:        s.DT,
	}
}

func FromWire(in protocol.InputRecord) State {
	return State{
		Actions:   Actions(in.Actions),
		MouseDX:   in.MouseDX,
		MouseDY:   in.MouseDY,
		Position:  in.Position,
		Direction: in.Direction,
		Tick:      in.Tick,
		DT:        in.DT,
	}
}

// ErrRingFull is returned by StateRing.Push when no slot is free.
var ErrRingFull = errors.New("state ring full")

// StateRing buffers states between two send intervals.
type StateRing struct {
	buf   []State
	head  int // oldest
	count int
}

func NewStateRing(capacity int) *StateRing {
	if capacity <= 0 {
		capacity = protocol.MaxStatesPerPacket
	}
	return &StateRing{buf: make([]State, capacity)}
}

func (r *StateRing) Len() int { return r.count }
func (r *StateRing) Cap() int { return len(r.buf) }

func (r *StateRing) Push(s State) error {
	if r.count == len(r.buf) {
		return ErrRingFull
	}
	r.buf[(r.head+r.count)%len(r.buf)] = s
	r.count++
	return nil
}

// Drain returns the buffered states oldest first and empties the ring.
func (r *StateRing) Drain() []State {
	out := make([]State, r.count)
	for i := range out {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.Reset()
	return out
}

func (r *StateRing) Reset() {
	r.head = 0
	r.count = 0
}
