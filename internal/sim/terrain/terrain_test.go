package terrain

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestWorldToChunk_RoundTrip(t *testing.T) {
	for cz := -3; cz <= 3; cz++ {
		for cy := -3; cy <= 3; cy++ {
			for cx := -3; cx <= 3; cx++ {
				c := ChunkCoord{X: cx, Y: cy, Z: cz}
				for _, l := range []VoxelPos{{0, 0, 0}, {15, 15, 15}, {3, 9, 14}} {
					gotC, gotL := WorldToChunk(ChunkToWorld(c, l))
					if gotC != c || gotL != l {
						t.Fatalf("round trip %v/%v: got %v/%v", c, l, gotC, gotL)
					}
				}
			}
		}
	}
	c, l := WorldToChunk(VoxelPos{X: -1, Y: 16, Z: -17})
	if c != (ChunkCoord{X: -1, Y: 1, Z: -2}) || l != (VoxelPos{X: 15, Y: 0, Z: 15}) {
		t.Fatalf("negative split: got %v/%v", c, l)
	}
}

func TestLocalIndex_RoundTrip(t *testing.T) {
	for i := 0; i < ChunkVolume; i++ {
		x, y, z := LocalPos(i)
		if LocalIndex(x, y, z) != i {
			t.Fatalf("index %d -> (%d,%d,%d) -> %d", i, x, y, z, LocalIndex(x, y, z))
		}
	}
}

func TestHistory_CapacityAndOverflowIsolation(t *testing.T) {
	g, err := NewGrid(2, 1, 1, true)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	for i := 0; i < HistoryCapacity; i++ {
		x, y, z := LocalPos(i)
		if err := g.SetVoxel(0, x, y, z, 7); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if n := g.Chunk(0).History().Len(); n != HistoryCapacity {
		t.Fatalf("history len=%d want=%d", n, HistoryCapacity)
	}

	// Rewriting a recorded cell needs no new slot.
	if err := g.SetVoxel(0, 0, 0, 0, 9); err != nil {
		t.Fatalf("rewrite recorded cell: %v", err)
	}

	x, y, z := LocalPos(HistoryCapacity)
	err = g.SetVoxel(0, x, y, z, 11)
	if !errors.Is(err, ErrHistoryOverflow) {
		t.Fatalf("err=%v want ErrHistoryOverflow", err)
	}
	if got := g.Chunk(0).Get(x, y, z); got != 11 {
		t.Fatalf("overflowing write not applied: got %d", got)
	}
	if !g.Chunk(0).NeedsResync() {
		t.Fatalf("chunk 0 not flagged for resync")
	}

	// The neighbouring chunk keeps recording normally.
	if err := g.SetVoxel(1, 1, 2, 3, 5); err != nil {
		t.Fatalf("neighbour write: %v", err)
	}
	if g.Chunk(1).NeedsResync() || g.Chunk(1).History().Len() != 1 {
		t.Fatalf("neighbour history affected: resync=%v len=%d", g.Chunk(1).NeedsResync(), g.Chunk(1).History().Len())
	}

	resync := g.TakeResync()
	if len(resync) != 1 || resync[0] != 0 {
		t.Fatalf("resync=%v want=[0]", resync)
	}
	if len(g.TakeResync()) != 0 || g.Chunk(0).NeedsResync() {
		t.Fatalf("resync flags not cleared")
	}
}

func TestNewGrid_RejectsOversizedDims(t *testing.T) {
	for _, d := range [][3]int{
		{0, 1, 1},
		{MaxChunks + 1, 1, 1},
		{1 << 20, 1 << 20, 1 << 20},
		{256, 256, 1},
	} {
		if _, err := NewGrid(d[0], d[1], d[2], false); err == nil {
			t.Fatalf("dims %v accepted", d)
		}
	}
	g, err := NewGrid(MaxChunks, 1, 1, false)
	if err != nil || g.Len() != MaxChunks {
		t.Fatalf("largest grid: err=%v", err)
	}
}

func TestDrainChanged_ReportsPrevNextAndResets(t *testing.T) {
	g, _ := NewGrid(1, 1, 2, true)
	g.chunks[1].Voxels[LocalIndex(4, 4, 4)] = 30

	_ = g.SetVoxel(1, 4, 4, 4, 200)
	_ = g.SetVoxel(1, 4, 4, 4, 210)
	_ = g.SetVoxel(0, 1, 1, 1, 50)
	_ = g.SetVoxel(0, 1, 1, 1, 0) // back to baseline

	recs := g.DrainChanged()
	if len(recs) != 1 {
		t.Fatalf("records=%d want=1 (%+v)", len(recs), recs)
	}
	r := recs[0]
	if r.Chunk != 1 || len(r.Changes) != 1 {
		t.Fatalf("record=%+v", r)
	}
	c := r.Changes[0]
	if c.X != 4 || c.Y != 4 || c.Z != 4 || c.Prev != 30 || c.Next != 210 {
		t.Fatalf("change=%+v want (4,4,4) 30->210", c)
	}
	if g.Chunk(1).History().Baseline(LocalIndex(4, 4, 4)) != Sentinel {
		t.Fatalf("baseline not reset")
	}
	if recs := g.DrainChanged(); len(recs) != 0 {
		t.Fatalf("second drain=%+v want empty", recs)
	}
}

func TestChunkSetRawAndLoadBypassHistory(t *testing.T) {
	g, _ := NewGrid(1, 1, 1, true)
	g.SetRaw(0, 2, 2, 2, 99)
	if g.Chunk(0).History().Len() != 0 {
		t.Fatalf("SetRaw recorded history")
	}
	_ = g.SetVoxel(0, 3, 3, 3, 1)
	if err := g.LoadChunk(0, make([]byte, ChunkVolume)); err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if g.Chunk(0).History().Len() != 0 {
		t.Fatalf("Load kept history")
	}
	bad := make([]byte, ChunkVolume)
	bad[10] = Sentinel
	if err := g.LoadChunk(0, bad); err == nil {
		t.Fatalf("expected reserved value to be rejected")
	}
	if err := g.LoadChunk(0, bad[:100]); err == nil {
		t.Fatalf("expected short chunk to be rejected")
	}
}

func TestGrid_WrapReResolvesNeighbour(t *testing.T) {
	g, _ := NewGrid(3, 3, 3, false)
	mid, _ := g.Index(ChunkCoord{X: 1, Y: 1, Z: 1})

	idx, l, ok := g.Wrap(mid, VoxelPos{X: -1, Y: 16, Z: 5})
	want, _ := g.Index(ChunkCoord{X: 0, Y: 2, Z: 1})
	if !ok || idx != want || l != (VoxelPos{X: 15, Y: 0, Z: 5}) {
		t.Fatalf("wrap: idx=%d local=%v ok=%v want idx=%d local=(15,0,5)", idx, l, ok, want)
	}

	corner, _ := g.Index(ChunkCoord{})
	if _, _, ok := g.Wrap(corner, VoxelPos{X: -1}); ok {
		t.Fatalf("wrap outside the grid should report no chunk")
	}
	if _, _, ok := g.Lookup(VoxelPos{X: 48}); ok {
		t.Fatalf("lookup past the grid should report no chunk")
	}
}

func fillLowerLayer(g *Grid, v uint8) {
	for i := range g.chunks {
		if g.chunks[i].Coord.Y == 0 {
			for j := range g.chunks[i].Voxels {
				g.chunks[i].Voxels[j] = v
			}
		}
	}
}

func TestTerraform_SpillsAcrossChunkEdge(t *testing.T) {
	g, _ := NewGrid(2, 2, 2, true)
	fillLowerLayer(g, 200)

	b := Brush{Radius: 2, Strength: 100, Reach: 10}
	eye := mgl32.Vec3{16.5, 20.5, 16.5}
	down := mgl32.Vec3{0, -1, 0}
	edits := g.Terraform(eye, down, b, true)
	if len(edits) == 0 {
		t.Fatalf("no edits")
	}
	hitIdx, _ := g.Index(ChunkCoord{X: 1, Y: 0, Z: 1})
	westIdx, _ := g.Index(ChunkCoord{X: 0, Y: 0, Z: 1})
	var sawHit, sawWest bool
	for _, e := range edits {
		if e.Chunk == hitIdx && e.X == 0 && e.Y == 15 && e.Z == 0 {
			sawHit = true
			if e.Value != 100 {
				t.Fatalf("centre value=%d want=100", e.Value)
			}
		}
		if e.Chunk == westIdx {
			sawWest = true
		}
	}
	if !sawHit || !sawWest {
		t.Fatalf("edits miss centre or neighbour chunk: hit=%v west=%v", sawHit, sawWest)
	}

	again := g.Terraform(eye, down, b, true)
	if len(again) != len(edits) {
		t.Fatalf("terraform not deterministic: %d vs %d", len(again), len(edits))
	}
	for i := range edits {
		if again[i] != edits[i] {
			t.Fatalf("edit %d differs: %+v vs %+v", i, again[i], edits[i])
		}
	}

	if err := g.Apply(edits); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	recs := g.DrainChanged()
	if len(recs) < 2 {
		t.Fatalf("records=%d want >=2", len(recs))
	}
}

func TestTerraform_BuildFillsCellInFront(t *testing.T) {
	g, _ := NewGrid(3, 4, 2, true)
	// One solid cell under world (36,52,20), which is chunk (2,3,1) local (4,4,4).
	below, l, _ := g.Lookup(VoxelPos{X: 36, Y: 51, Z: 20})
	g.chunks[below].Voxels[LocalIndex(l.X, l.Y, l.Z)] = 200

	edits := g.Terraform(mgl32.Vec3{36.5, 55.5, 20.5}, mgl32.Vec3{0, -1, 0}, Brush{Radius: 0.5, Strength: 200, Reach: 8}, false)
	want, _ := g.Index(ChunkCoord{X: 2, Y: 3, Z: 1})
	if len(edits) != 1 {
		t.Fatalf("edits=%+v want exactly one", edits)
	}
	e := edits[0]
	if e.Chunk != want || e.X != 4 || e.Y != 4 || e.Z != 4 || e.Prev != 0 || e.Value != 200 {
		t.Fatalf("edit=%+v want chunk %d (4,4,4) 0->200", e, want)
	}
}

func TestRaycast_MissesEmptyWorld(t *testing.T) {
	g, _ := NewGrid(1, 1, 1, false)
	if _, _, ok := g.Raycast(mgl32.Vec3{8, 8, 8}, mgl32.Vec3{1, 0, 0}, 32); ok {
		t.Fatalf("hit in an empty world")
	}
	if _, _, ok := g.Raycast(mgl32.Vec3{8, 8, 8}, mgl32.Vec3{}, 32); ok {
		t.Fatalf("hit with a zero direction")
	}
}

func TestTakeMeshDirty_Unique(t *testing.T) {
	g, _ := NewGrid(2, 1, 1, true)
	g.SetRaw(1, 0, 0, 0, 3)
	_ = g.SetVoxel(1, 0, 0, 1, 3)
	_ = g.SetVoxel(0, 0, 0, 1, 3)
	got := g.TakeMeshDirty()
	if len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Fatalf("mesh dirty=%v want=[1 0]", got)
	}
	if len(g.TakeMeshDirty()) != 0 {
		t.Fatalf("mesh queue not cleared")
	}
}

func TestGenerate_DeterministicPerSeed(t *testing.T) {
	p := GenParams{Seed: 42, BaseHeight: 20, Amplitude: 6, CellSize: 8, Falloff: 32}
	a, _ := NewGrid(2, 2, 2, false)
	b, _ := NewGrid(2, 2, 2, false)
	Generate(a, p)
	Generate(b, p)
	if a.Digest() != b.Digest() {
		t.Fatalf("same seed produced different worlds")
	}
	p.Seed = 43
	c, _ := NewGrid(2, 2, 2, false)
	Generate(c, p)
	if a.Digest() == c.Digest() {
		t.Fatalf("different seeds produced the same world")
	}
	y := a.SurfaceY(5, 5)
	if y < 20-6 || y > 20+6+1 {
		t.Fatalf("surface y=%d outside amplitude band", y)
	}

	re, err := LoadGrid(a.Dims(), a.Flat(), false)
	if err != nil {
		t.Fatalf("LoadGrid: %v", err)
	}
	if re.Digest() != a.Digest() {
		t.Fatalf("flat round trip changed digest")
	}
}
