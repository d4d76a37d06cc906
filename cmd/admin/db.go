package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	world := fs.String("world", "", "world directory name (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	clientID := fs.Uint("client", 0, "client id filter (audits)")
	kind := fs.String("kind", "", "audit kind filter, e.g. CORRECTION (audits)")
	chunk := fs.Int("chunk", -1, "chunk index filter (changes)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*world) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *world, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,cycle,path,world_id,chunks,digest FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		must(err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Cycle   int64  `json:"cycle"`
				Path    string `json:"path"`
				WorldID string `json:"world_id"`
				Chunks  int    `json:"chunks"`
				Digest  string `json:"digest"`
			}
			must(rows.Scan(&r.Tick, &r.Cycle, &r.Path, &r.WorldID, &r.Chunks, &r.Digest))
			printJSON(r)
		}
		must(rows.Err())

	case "ticks":
		rows, err := db.Query(`SELECT tick,cycle,digest,joins,leaves,records,voxels,dumps FROM ticks ORDER BY tick DESC LIMIT ?`, *limit)
		must(err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Cycle   int64  `json:"cycle"`
				Digest  string `json:"digest"`
				Joins   int    `json:"joins"`
				Leaves  int    `json:"leaves"`
				Records int    `json:"records"`
				Voxels  int    `json:"voxels"`
				Dumps   int    `json:"dumps"`
			}
			must(rows.Scan(&r.Tick, &r.Cycle, &r.Digest, &r.Joins, &r.Leaves, &r.Records, &r.Voxels, &r.Dumps))
			printJSON(r)
		}
		must(rows.Err())

	case "audits":
		query := `SELECT tick,kind,client_id,COALESCE(addr,''),COALESCE(code,''),COALESCE(detail,'') FROM audits`
		var (
			where []string
			qargs []any
		)
		if *clientID != 0 {
			where = append(where, "client_id=?")
			qargs = append(qargs, *clientID)
		}
		if k := strings.TrimSpace(*kind); k != "" {
			where = append(where, "kind=?")
			qargs = append(qargs, k)
		}
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY tick DESC, seq DESC LIMIT ?"
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		must(err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Kind     string `json:"kind"`
				ClientID uint32 `json:"client_id,omitempty"`
				Addr     string `json:"addr,omitempty"`
				Code     string `json:"code,omitempty"`
				Detail   string `json:"detail,omitempty"`
			}
			must(rows.Scan(&r.Tick, &r.Kind, &r.ClientID, &r.Addr, &r.Code, &r.Detail))
			printJSON(r)
		}
		must(rows.Err())

	case "changes":
		query := `SELECT tick,chunk,voxels,dump FROM chunk_changes ORDER BY tick DESC LIMIT ?`
		qargs := []any{*limit}
		if *chunk >= 0 {
			query = `SELECT tick,chunk,voxels,dump FROM chunk_changes WHERE chunk=? ORDER BY tick DESC LIMIT ?`
			qargs = []any{*chunk, *limit}
		}
		rows, err := db.Query(query, qargs...)
		must(err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64 `json:"tick"`
				Chunk  int   `json:"chunk"`
				Voxels int   `json:"voxels"`
				Dump   bool  `json:"dump"`
			}
			must(rows.Scan(&r.Tick, &r.Chunk, &r.Voxels, &r.Dump))
			printJSON(r)
		}
		must(rows.Err())

	case "tuning":
		rows, err := db.Query(`SELECT world_id,digest,json,updated_at FROM tunings ORDER BY updated_at DESC`)
		must(err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				WorldID   string          `json:"world_id"`
				Digest    string          `json:"digest"`
				Tuning    json.RawMessage `json:"tuning"`
				UpdatedAt string          `json:"updated_at"`
			}
			var raw string
			must(rows.Scan(&r.WorldID, &r.Digest, &raw, &r.UpdatedAt))
			r.Tuning = json.RawMessage(raw)
			printJSON(r)
		}
		must(rows.Err())

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-limit N] snapshots|ticks|audits|changes|tuning")
		os.Exit(2)
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
