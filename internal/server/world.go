package server

import (
	"fmt"

	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
)

// NewWorld generates a fresh grid for t with history enabled, ready for New.
func NewWorld(t tuning.Tuning) (*terrain.Grid, error) {
	if len(t.GridDims) != 3 {
		return nil, fmt.Errorf("grid_dims needs 3 values, got %d", len(t.GridDims))
	}
	g, err := terrain.NewGrid(t.GridDims[0], t.GridDims[1], t.GridDims[2], true)
	if err != nil {
		return nil, err
	}
	terrain.Generate(g, terrain.GenParams{
		Seed:       t.Gen.Seed,
		BaseHeight: t.Gen.BaseHeight,
		Amplitude:  t.Gen.Amplitude,
		CellSize:   t.Gen.CellSize,
		Falloff:    t.Gen.Falloff,
	})
	return g, nil
}
