package server

import "voxelsync.dev/internal/sim/terrain"

// Box is an inclusive world-space voxel region.
type Box struct {
	Min, Max terrain.VoxelPos
}

func (b Box) Contains(p terrain.VoxelPos) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Rollback restores the pre-edit value of every logged change inside box
// made at or after tick since. g must hold the world as of the newest entry;
// entries are undone newest first. Chunks resent as full dumps carry no
// previous values; each dump overlapping box counts as skipped.
func Rollback(g *terrain.Grid, entries []TickLogEntry, since uint64, box Box) (applied, skipped int) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Tick < since {
			break
		}
		for _, d := range e.Dumps {
			if chunkOverlaps(g, d.Chunk, box) {
				skipped++
			}
		}
		for r := len(e.Deltas) - 1; r >= 0; r-- {
			rec := e.Deltas[r]
			if g.Chunk(rec.Chunk) == nil {
				skipped += len(rec.Changes)
				continue
			}
			origin := chunkOrigin(g, rec.Chunk)
			for c := len(rec.Changes) - 1; c >= 0; c-- {
				ch := rec.Changes[c]
				p := terrain.VoxelPos{X: origin.X + int(ch.X), Y: origin.Y + int(ch.Y), Z: origin.Z + int(ch.Z)}
				if !box.Contains(p) {
					continue
				}
				g.SetRaw(rec.Chunk, int(ch.X), int(ch.Y), int(ch.Z), ch.Prev)
				applied++
			}
		}
	}
	return applied, skipped
}

func chunkOrigin(g *terrain.Grid, idx int) terrain.VoxelPos {
	c := g.CoordOf(idx)
	return terrain.VoxelPos{X: c.X * terrain.ChunkSize, Y: c.Y * terrain.ChunkSize, Z: c.Z * terrain.ChunkSize}
}

func chunkOverlaps(g *terrain.Grid, idx int, box Box) bool {
	if g.Chunk(idx) == nil {
		return false
	}
	o := chunkOrigin(g, idx)
	end := terrain.VoxelPos{X: o.X + terrain.ChunkSize - 1, Y: o.Y + terrain.ChunkSize - 1, Z: o.Z + terrain.ChunkSize - 1}
	return o.X <= box.Max.X && end.X >= box.Min.X &&
		o.Y <= box.Max.Y && end.Y >= box.Min.Y &&
		o.Z <= box.Max.Z && end.Z >= box.Min.Z
}
