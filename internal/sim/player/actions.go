package player

// Actions is the per-tick input flag set.
type Actions uint32

const (
	ActForward Actions = 1 << iota
	ActBack
	ActLeft
	ActRight
	ActJump
	ActDig
	ActBuild
	ActCrouch
)

func (a Actions) Has(f Actions) bool        { return a&f == f }
func (a Actions) With(f Actions) Actions    { return a | f }
func (a Actions) Without(f Actions) Actions { return a &^ f }

func (a Actions) Forward() bool { return a.Has(ActForward) }
func (a Actions) Back() bool    { return a.Has(ActBack) }
func (a Actions) Left() bool    { return a.Has(ActLeft) }
func (a Actions) Right() bool   { return a.Has(ActRight) }
func (a Actions) Jump() bool    { return a.Has(ActJump) }
func (a Actions) Dig() bool     { return a.Has(ActDig) }
func (a Actions) Build() bool   { return a.Has(ActBuild) }
func (a Actions) Crouch() bool  { return a.Has(ActCrouch) }

// Terraforming reports whether the input edits voxels this tick.
func (a Actions) Terraforming() bool { return a.Dig() || a.Build() }
