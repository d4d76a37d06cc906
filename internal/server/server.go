// Package server is the authoritative side of the voxel sync protocol. A
// Server owns the world grid and every client session; all of it is mutated
// only from the goroutine that calls Tick.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl32"

	"voxelsync.dev/internal/persistence/snapshot"
	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/player"
	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
	"voxelsync.dev/internal/transport"
)

type Config struct {
	Tuning  tuning.Tuning
	WorldID string

	// Spawns are used round robin for new sessions. Empty spreads players
	// around the surface at the grid centre.
	Spawns []mgl32.Vec3
	// SpawnDirection is the initial look vector; zero looks along +Z.
	SpawnDirection mgl32.Vec3

	Logger  *log.Logger
	Metrics *Metrics
	// Debug logs every dropped datagram.
	Debug bool
}

type Server struct {
	cfg     Config
	conn    transport.Conn
	grid    *terrain.Grid
	params  player.Params
	logger  *log.Logger
	metrics *Metrics

	tick  atomic.Uint64
	cycle uint64

	nextID  uint32
	spawned int

	sessions *orderedmap.OrderedMap[uint32, *Session]
	byAddr   map[transport.Addr]uint32

	cycles        *cycleLog
	dispatchEvery uint64
	lastSnapTick  uint64

	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1

	// Joins and leaves since the last tick log entry.
	joins  []uint32
	leaves []uint32
}

// New wraps an existing world. The grid must record history: its drained
// changes are the deltas every client receives.
func New(conn transport.Conn, grid *terrain.Grid, cfg Config) (*Server, error) {
	if conn == nil || grid == nil {
		return nil, errors.New("server needs a connection and a grid")
	}
	if grid.Len() == 0 || grid.Chunk(0).History() == nil {
		return nil, errors.New("server grid must be created with history enabled")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if cfg.SpawnDirection.Len() == 0 {
		cfg.SpawnDirection = mgl32.Vec3{0, 0, 1}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	t := cfg.Tuning
	return &Server{
		cfg:           cfg,
		conn:          conn,
		grid:          grid,
		params:        player.ParamsFrom(t),
		logger:        logger,
		metrics:       cfg.Metrics,
		sessions:      orderedmap.NewOrderedMap[uint32, *Session](),
		byAddr:        map[transport.Addr]uint32{},
		cycles:        newCycleLog(t.Reconcile.CycleLogDepth),
		dispatchEvery: uint64(t.TicksPer(t.DispatchRateHz)),
	}, nil
}

func (s *Server) SetTickLogger(l TickLogger)                    { s.tickLogger = l }
func (s *Server) SetAuditLogger(l AuditLogger)                  { s.auditLogger = l }
func (s *Server) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { s.snapshotSink = ch }

// Resume continues tick and cycle numbering from a snapshot.
func (s *Server) Resume(tick, cycle uint64) {
	s.tick.Store(tick)
	s.lastSnapTick = tick
	s.cycle = cycle
}

// CurrentTick is safe to call from any goroutine.
func (s *Server) CurrentTick() uint64 { return s.tick.Load() }

// The accessors below are for the loop goroutine and tests.

func (s *Server) Cycle() uint64         { return s.cycle }
func (s *Server) Grid() *terrain.Grid   { return s.grid }
func (s *Server) SessionCount() int     { return s.sessions.Len() }
func (s *Server) Tuning() tuning.Tuning { return s.cfg.Tuning }

func (s *Server) Session(id uint32) (*Session, bool) {
	return s.sessions.Get(id)
}

func (s *Server) SessionByAddr(addr transport.Addr) (*Session, bool) {
	id, ok := s.byAddr[addr]
	if !ok {
		return nil, false
	}
	return s.sessions.Get(id)
}

// Run ticks at the configured rate until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.Tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one server step: drain the transport, simulate queued input and,
// on dispatch ticks, send snapshots.
func (s *Server) Tick() {
	start := time.Now()
	now := s.tick.Add(1)

	s.poll(now)
	s.simulate()
	if now%s.dispatchEvery == 0 {
		s.dispatch(now)
	}

	s.metrics.observeTick(time.Since(start).Seconds())
}

// ExportSnapshot captures the world. Call it from the loop goroutine or after
// Run returned.
func (s *Server) ExportSnapshot() snapshot.SnapshotV1 {
	return snapshot.Export(s.cfg.WorldID, s.tick.Load(), s.cycle, s.grid, s.cfg.Tuning)
}

func (s *Server) maybeSnapshot(now uint64) {
	every := uint64(s.cfg.Tuning.SnapshotEveryTicks)
	if s.snapshotSink == nil || every == 0 || now-s.lastSnapTick < every {
		return
	}
	s.lastSnapTick = now
	select {
	case s.snapshotSink <- s.ExportSnapshot():
	default:
		s.logger.Printf("snapshot sink full; skipped tick=%d", now)
	}
}

func (s *Server) send(sess *Session, pk protocol.Packet) int {
	sess.sendID++
	b, err := protocol.Encode(protocol.Header{Tick: s.tick.Load(), PacketID: sess.sendID, ClientID: sess.ID}, pk)
	if err != nil {
		s.logger.Printf("encode %s for client %d: %v", pk.Kind(), sess.ID, err)
		return 0
	}
	if err := s.conn.Send(sess.Addr, b); err != nil {
		s.debugf("send %s to %s: %v", pk.Kind(), sess.Addr, err)
		return 0
	}
	return len(b)
}

func (s *Server) debugf(format string, args ...any) {
	if s.cfg.Debug {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) spawnBody() player.Body {
	n := s.spawned
	s.spawned++
	var b player.Body
	if len(s.cfg.Spawns) > 0 {
		b = player.Body{Position: s.cfg.Spawns[n%len(s.cfg.Spawns)], Up: mgl32.Vec3{0, 1, 0}}
	} else {
		bounds := s.grid.Bounds()
		x := bounds.X/2 + (n%4)*2
		z := bounds.Z/2 + (n/4%4)*2
		b = player.Spawn(s.grid, min(x, bounds.X-1), min(z, bounds.Z-1))
	}
	b.SetDirection(s.cfg.SpawnDirection)
	return b
}
