package server

import (
	"testing"

	"voxelsync.dev/internal/sim/tuning"
)

func TestNewWorld_DeterministicPerSeed(t *testing.T) {
	tune := tuning.Defaults()
	tune.GridDims = []int{2, 2, 2}
	a, err := NewWorld(tune)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	b, _ := NewWorld(tune)
	if a.Digest() != b.Digest() {
		t.Fatalf("same seed produced different worlds")
	}
	if a.Chunk(0).History() == nil {
		t.Fatalf("world grid has no history")
	}
	// Generation must not leave anything for the first dispatch to send.
	if recs := a.DrainChanged(); len(recs) != 0 {
		t.Fatalf("generated world has %d pending records", len(recs))
	}

	tune.GridDims = []int{2, 2}
	if _, err := NewWorld(tune); err == nil {
		t.Fatalf("two grid dims accepted")
	}
}
