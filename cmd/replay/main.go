package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "voxelsync.dev/internal/persistence/log"
	"voxelsync.dev/internal/persistence/snapshot"
	"voxelsync.dev/internal/server"
)

var errStop = errors.New("stop")

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		worldDir = flag.String("world_dir", "", "world data dir holding ticks/ (default: two levels above -snapshot)")
		toTick   = flag.Uint64("to_tick", 0, "stop after tick (inclusive, optional)")
		out      = flag.String("out", "", "write the replayed world as a snapshot to this path (optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d world=%s tick=%d cycle=%d dims=%v chunks=%d digest=%s\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Header.Cycle,
		snap.Header.Dims, len(snap.Chunks), snap.Header.Digest)

	g, err := snap.Grid(false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore snapshot:", err)
		os.Exit(1)
	}

	dir := *worldDir
	if dir == "" {
		// <world>/snapshots/<tick>.snap.zst
		dir = filepath.Dir(filepath.Dir(*snapPath))
	}

	r := server.NewReplay(g, snap.Header.Tick)
	err = persistlog.ReadTicks(dir, func(e server.TickLogEntry) error {
		if *toTick != 0 && e.Tick > *toTick {
			return errStop
		}
		return r.Apply(e)
	})
	if err != nil && !errors.Is(err, errStop) {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: applied=%d skipped=%d digest=%s\n", r.Applied, r.Skipped, snapshot.FormatDigest(g.Digest()))

	if *out != "" {
		tick, cycle := r.Last()
		if r.Applied == 0 {
			cycle = snap.Header.Cycle
		}
		res := snapshot.Export(snap.Header.WorldID, tick, cycle, g, snap.Tuning)
		if err := snapshot.WriteSnapshot(*out, res); err != nil {
			fmt.Fprintln(os.Stderr, "write snapshot:", err)
			os.Exit(1)
		}
	}
}
