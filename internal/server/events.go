package server

import "voxelsync.dev/internal/sim/terrain"

// Audit event kinds.
const (
	EventJoin       = "JOIN"
	EventLeave      = "LEAVE"
	EventCorrection = "CORRECTION"
	EventCorrected  = "CORRECTED"
	EventDrop       = "DROP"
	EventResync     = "RESYNC"
)

// TickLogEntry records one dispatch cycle: the voxel deltas it broadcast, the
// chunks it had to resend in full and the world digest afterwards. Replaying
// entries in order over a snapshot reproduces the world.
type TickLogEntry struct {
	Tick   uint64           `json:"tick"`
	Cycle  uint64           `json:"cycle"`
	Joins  []uint32         `json:"joins,omitempty"`
	Leaves []uint32         `json:"leaves,omitempty"`
	Deltas []terrain.Record `json:"deltas,omitempty"`
	Dumps  []ChunkDump      `json:"dumps,omitempty"`
	Digest string           `json:"digest"`
}

// ChunkDump is the full content of a chunk whose history could not describe
// its changes.
type ChunkDump struct {
	Chunk int    `json:"chunk"`
	RLE   []byte `json:"rle"`
}

type AuditEntry struct {
	Tick     uint64 `json:"tick"`
	Kind     string `json:"kind"`
	ClientID uint32 `json:"client_id,omitempty"`
	Addr     string `json:"addr,omitempty"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Chunks   []int  `json:"chunks,omitempty"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

func (s *Server) audit(e AuditEntry) {
	if s.auditLogger == nil {
		return
	}
	e.Tick = s.tick.Load()
	_ = s.auditLogger.WriteAudit(e)
}
