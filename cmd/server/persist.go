package main

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelsync.dev/internal/persistence/indexdb"
	persistlog "voxelsync.dev/internal/persistence/log"
	"voxelsync.dev/internal/persistence/objstore"
	"voxelsync.dev/internal/persistence/snapshot"
)

// persister owns every durable sink of one world: snapshot files, the JSONL
// logs, the optional sqlite index and the optional object store mirror.
type persister struct {
	worldDir string
	logger   *log.Logger

	ticks  *persistlog.TickLogger
	audits *persistlog.AuditLogger
	idx    *indexdb.SQLiteIndex
	mirror *objstore.Mirror
}

func snapshotDir(worldDir string) string { return filepath.Join(worldDir, "snapshots") }

func openPersister(worldDir, worldID, dataDir string, disableDB bool, logger *log.Logger) (*persister, error) {
	p := &persister{
		worldDir: worldDir,
		logger:   logger,
		ticks:    persistlog.NewTickLogger(worldDir),
		audits:   persistlog.NewAuditLogger(worldDir),
	}
	if !disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			p.Close()
			return nil, err
		}
		p.idx = idx
	}
	if cfg, ok := objstore.ConfigFromEnv(); ok {
		client, err := objstore.New(cfg)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.mirror = objstore.NewMirror(client, objstore.MirrorConfig{
			DataDir: dataDir,
			Prefix:  strings.TrimSpace(os.Getenv("VOXELSYNC_S3_PREFIX")),
			Workers: envInt("VOXELSYNC_S3_UPLOAD_WORKERS", 2),
			Logger:  logger,
		})
		logger.Printf("mirroring snapshots of world=%s to bucket=%s", worldID, cfg.Bucket)
	}
	return p, nil
}

func (p *persister) tickLoggers() persistlog.MultiTickLogger {
	m := persistlog.MultiTickLogger{p.ticks}
	if p.idx != nil {
		m = append(m, p.idx)
	}
	return m
}

func (p *persister) auditLoggers() persistlog.MultiAuditLogger {
	m := persistlog.MultiAuditLogger{p.audits}
	if p.idx != nil {
		m = append(m, p.idx)
	}
	return m
}

// writeSnapshot stores snap, then makes the tick log durable up to it so a
// replay from this snapshot never misses an entry.
func (p *persister) writeSnapshot(snap snapshot.SnapshotV1) error {
	path := filepath.Join(snapshotDir(p.worldDir), snapshot.FileName(snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	if err := p.ticks.Flush(); err != nil {
		p.logger.Printf("tick log flush: %v", err)
	}
	if p.idx != nil {
		p.idx.RecordSnapshot(path, snap)
	}
	p.mirror.Enqueue(path)
	return nil
}

func (p *persister) Close() error {
	var errs []error
	if err := p.ticks.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.audits.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.idx != nil {
		if err := p.idx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.mirror != nil {
		p.mirror.Close()
	}
	return errors.Join(errs...)
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
