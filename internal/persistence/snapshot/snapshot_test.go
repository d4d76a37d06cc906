package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
)

func generated(t *testing.T) *terrain.Grid {
	t.Helper()
	g, err := terrain.NewGrid(2, 2, 2, false)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	terrain.Generate(g, terrain.GenParams{Seed: 7, BaseHeight: 16, Amplitude: 4, CellSize: 8, Falloff: 32})
	return g
}

func TestSnapshot_RoundTripRestoresGrid(t *testing.T) {
	g := generated(t)
	snap := Export("w1", 90, 30, g, tuning.Defaults())

	dir := t.TempDir()
	path := filepath.Join(dir, FileName(90))
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Tick != 90 || h.Cycle != 30 || h.WorldID != "w1" || h.Dims != [3]int{2, 2, 2} {
		t.Fatalf("header=%+v", h)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Tuning.TickRateHz != tuning.Defaults().TickRateHz {
		t.Fatalf("tuning tick rate=%v", got.Tuning.TickRateHz)
	}
	g2, err := got.Grid(true)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	if g2.Digest() != g.Digest() {
		t.Fatalf("digest=%016x want=%016x", g2.Digest(), g.Digest())
	}
	if FormatDigest(g2.Digest()) != h.Digest {
		t.Fatalf("header digest=%s", h.Digest)
	}
}

func TestSnapshot_GridRejectsTamperedChunk(t *testing.T) {
	snap := Export("w1", 3, 1, generated(t), tuning.Defaults())
	snap.Chunks[0].Digest++
	if _, err := snap.Grid(false); err == nil {
		t.Fatalf("tampered chunk digest accepted")
	}

	snap = Export("w1", 3, 1, generated(t), tuning.Defaults())
	snap.Chunks = snap.Chunks[1:]
	if _, err := snap.Grid(false); err == nil {
		t.Fatalf("missing chunk accepted")
	}
}

func TestLatest_PicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := Latest(filepath.Join(dir, "none")); ok || err != nil {
		t.Fatalf("missing dir ok=%v err=%v", ok, err)
	}
	for _, name := range []string{FileName(9), FileName(120), FileName(30), "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path, ok, err := Latest(dir)
	if err != nil || !ok || filepath.Base(path) != FileName(120) {
		t.Fatalf("latest=%s ok=%v err=%v", path, ok, err)
	}
}
