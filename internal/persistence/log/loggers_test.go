package log

import (
	"path/filepath"
	"testing"
	"time"

	"voxelsync.dev/internal/server"
	"voxelsync.dev/internal/sim/terrain"
)

func TestTickLogger_RotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for i := uint64(1); i <= 4; i++ {
		if i == 3 {
			clock = clock.Add(2 * time.Minute)
		}
		e := server.TickLogEntry{
			Tick:   i * 3,
			Cycle:  i,
			Deltas: []terrain.Record{{Chunk: int(i), Changes: []terrain.Change{{X: 1, Y: 2, Z: 3, Prev: 0, Next: uint8(i)}}}},
			Digest: "00000000000000ff",
		}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(TickDir(dir), "ticks")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "ticks-2026-03-01-10.jsonl.zst" {
		t.Fatalf("files=%v want two hourly files", files)
	}

	var got []server.TickLogEntry
	if err := ReadTicks(dir, func(e server.TickLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("entries=%d want=4", len(got))
	}
	for i, e := range got {
		want := uint64(i + 1)
		if e.Cycle != want || len(e.Deltas) != 1 || e.Deltas[0].Changes[0].Next != uint8(want) {
			t.Fatalf("entry %d=%+v", i, e)
		}
	}
}

func TestJSONLZstdWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for run := 0; run < 2; run++ {
		w := NewJSONLZstdWriter(dir, "audit")
		w.now = func() time.Time { return clock }
		if err := w.Write(server.AuditEntry{Tick: uint64(run), Kind: server.EventJoin}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	files, _ := Files(dir, "audit")
	if len(files) != 1 {
		t.Fatalf("files=%v want one", files)
	}
	var ticks []uint64
	if err := ReadJSONL(files[0], func(e server.AuditEntry) error {
		ticks = append(ticks, e.Tick)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(ticks) != 2 || ticks[0] != 0 || ticks[1] != 1 {
		t.Fatalf("ticks=%v want [0 1] from two frames", ticks)
	}
}

func TestFiles_MissingDir(t *testing.T) {
	files, err := Files(filepath.Join(t.TempDir(), "nope"), "ticks")
	if err != nil || files != nil {
		t.Fatalf("files=%v err=%v", files, err)
	}
}
