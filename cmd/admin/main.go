package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "voxelsync.dev/internal/persistence/log"
	"voxelsync.dev/internal/persistence/snapshot"
	"voxelsync.dev/internal/server"
	"voxelsync.dev/internal/sim/terrain"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	world := fs.String("world", "", "world directory name (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *world != "" {
		base = filepath.Join(base, *world)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	world := fs.String("world", "", "world directory name")
	snapPath := fs.String("snapshot", "", "snapshot path to rollback from (optional; defaults to latest)")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (required)")
	sinceTick := fs.Uint64("since_tick", 0, "rollback changes since tick (inclusive)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*world) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	if strings.TrimSpace(*aabb) == "" {
		fmt.Fprintln(os.Stderr, "missing -aabb")
		os.Exit(2)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *world)
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" {
		p, ok, err := snapshot.Latest(filepath.Join(worldDir, "snapshots"))
		if err != nil || !ok {
			fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
			os.Exit(2)
		}
		snapshotToLoad = p
	}

	snap, err := snapshot.ReadSnapshot(snapshotToLoad)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	g, err := snap.Grid(false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore snapshot:", err)
		os.Exit(1)
	}

	box, err := parseAABB(*aabb)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -aabb:", err)
		os.Exit(2)
	}

	// Only changes the snapshot already contains can be undone on top of it.
	var entries []server.TickLogEntry
	err = persistlog.ReadTicks(worldDir, func(e server.TickLogEntry) error {
		if e.Tick >= *sinceTick && e.Tick <= snap.Header.Tick {
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read tick log:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("no matching tick log entries; nothing to rollback")
		return
	}

	applied, skipped := server.Rollback(g, entries, *sinceTick, box)

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.rollback.snap.zst", snap.Header.Tick))
	}
	out := snapshot.Export(snap.Header.WorldID, snap.Header.Tick, snap.Header.Cycle, g, snap.Tuning)
	if err := snapshot.WriteSnapshot(*outPath, out); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("rollback ok: snapshot=%s tick=%d aabb=%s since=%d entries=%d applied=%d skipped=%d out=%s\n",
		filepath.Base(snapshotToLoad), snap.Header.Tick, *aabb, *sinceTick, len(entries), applied, skipped, *outPath)
}

func parseAABB(s string) (server.Box, error) {
	var box server.Box
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return box, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return box, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return box, err
	}
	box.Min = terrain.VoxelPos{X: min(a[0], b[0]), Y: min(a[1], b[1]), Z: min(a[2], b[2])}
	box.Max = terrain.VoxelPos{X: max(a[0], b[0]), Y: max(a[1], b[1]), Z: max(a[2], b[2])}
	return box, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
