package server

import (
	"sort"

	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/player"
	"voxelsync.dev/internal/transport"
)

// MaxSessions bounds the session table; it matches the player table of a
// snapshot so every pose fits.
const MaxSessions = protocol.MaxPlayersPerSnapshot

// Session is the server-side state of one connected client. It is owned by
// the server loop.
type Session struct {
	ID   uint32
	Name string
	Addr transport.Addr
	Body player.Body

	// Actions are the flags of the last simulated state, broadcast with the
	// pose.
	Actions player.Actions

	LastPacketID  uint64
	LastInputTick uint64

	AwaitingCorrectionAck bool
	DidVoxelCorrection    bool
	CorrectionTick        uint64

	LastAckCycle uint64

	queue           []queuedInput
	mods            *ModLog
	hard            *hardQueue
	sendID          uint64
	correctionSends int
}

type queuedInput struct {
	h  protocol.Header
	pk *protocol.InputState
}

func newSession(id uint32, name string, addr transport.Addr, body player.Body, chunks int) *Session {
	return &Session{
		ID:   id,
		Name: name,
		Addr: addr,
		Body: body,
		mods: NewModLog(protocol.MaxCorrectionVoxels),
		hard: newHardQueue(chunks),
	}
}

// QueuedInputs is the number of INPUT_STATE packets waiting for simulation.
func (s *Session) QueuedInputs() int { return len(s.queue) }

// ModLog exposes the session's modification log.
func (s *Session) ModLog() *ModLog { return s.mods }

// PendingHardChunks is the number of chunks queued for a full resend.
func (s *Session) PendingHardChunks() int { return len(s.hard.pending) }

func (s *Session) clearCorrection() {
	s.AwaitingCorrectionAck = false
	s.DidVoxelCorrection = false
	s.correctionSends = 0
	s.mods.Reset()
}

// ModEntry is one cell in a ModLog. Post is the value the client reported,
// or protocol.Sentinel when the server changed a cell the client did not
// report.
type ModEntry struct {
	Chunk int
	Cell  uint16
	Pre   uint8
	Post  uint8
}

type modKey struct {
	chunk int
	cell  uint16
}

// ModLog holds a client's voxel edits since they were last confirmed. Edits
// to a cell already present keep the earliest Pre and the latest Post. Edits
// beyond the capacity are not stored; their chunks are remembered instead.
type ModLog struct {
	limit    int
	index    map[modKey]int
	entries  []ModEntry
	overflow map[int]struct{}
}

func NewModLog(limit int) *ModLog {
	return &ModLog{limit: limit, index: map[modKey]int{}, overflow: map[int]struct{}{}}
}

// Merge records one cell. It reports false when the log is full.
func (l *ModLog) Merge(chunk int, cell uint16, pre, post uint8) bool {
	k := modKey{chunk, cell}
	if i, ok := l.index[k]; ok {
		l.entries[i].Post = post
		return true
	}
	if len(l.entries) >= l.limit {
		l.overflow[chunk] = struct{}{}
		return false
	}
	l.index[k] = len(l.entries)
	l.entries = append(l.entries, ModEntry{Chunk: chunk, Cell: cell, Pre: pre, Post: post})
	return true
}

// Post returns the recorded post-value of a cell.
func (l *ModLog) Post(chunk int, cell uint16) (uint8, bool) {
	i, ok := l.index[modKey{chunk, cell}]
	if !ok {
		return 0, false
	}
	return l.entries[i].Post, true
}

// Entries are in first-merge order.
func (l *ModLog) Entries() []ModEntry { return l.entries }

func (l *ModLog) Len() int { return len(l.entries) }

// Overflowed lists chunks with edits that did not fit, ascending.
func (l *ModLog) Overflowed() []int {
	out := make([]int, 0, len(l.overflow))
	for c := range l.overflow {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

func (l *ModLog) Reset() {
	clear(l.index)
	clear(l.overflow)
	l.entries = l.entries[:0]
}
