package server

import "voxelsync.dev/internal/protocol"

// hardQueue paces full-chunk resends to one client. Chunks are sent in
// batches: the batch starts with whatever is pending at that moment, and
// chunks queued while a batch is in flight wait for the next one. A chunk
// already pending is not queued twice; its content is read when it is sent.
type hardQueue struct {
	pending   []int
	queued    []bool
	batchLeft int
}

func newHardQueue(chunks int) *hardQueue {
	return &hardQueue{queued: make([]bool, chunks)}
}

func (q *hardQueue) add(chunks ...int) {
	for _, idx := range chunks {
		if idx < 0 || idx >= len(q.queued) || q.queued[idx] {
			continue
		}
		q.queued[idx] = true
		q.pending = append(q.pending, idx)
	}
}

func (q *hardQueue) addAll() {
	for idx := range q.queued {
		q.add(idx)
	}
}

// next takes up to n chunks. first is set on the packet that opens a batch,
// which also announces the batch total.
func (q *hardQueue) next(n int) (chunks []int, first bool, total int) {
	if len(q.pending) == 0 {
		return nil, false, 0
	}
	if q.batchLeft == 0 {
		q.batchLeft = len(q.pending)
		first, total = true, q.batchLeft
	}
	if n > q.batchLeft {
		n = q.batchLeft
	}
	chunks = append([]int(nil), q.pending[:n]...)
	for _, idx := range chunks {
		q.queued[idx] = false
	}
	q.pending = q.pending[n:]
	q.batchLeft -= n
	return chunks, first, total
}

// sendHardUpdates emits up to the configured number of CHUNK_HARD_UPDATE
// packets for sess.
func (s *Server) sendHardUpdates(sess *Session) {
	for i := 0; i < s.cfg.Tuning.Net.HardUpdatesPerCycle; i++ {
		chunks, first, total := sess.hard.next(protocol.HardUpdateChunksPerPacket)
		if len(chunks) == 0 {
			return
		}
		pk := &protocol.ChunkHardUpdate{First: first, Total: uint32(total)}
		for _, idx := range chunks {
			pk.Chunks = append(pk.Chunks, protocol.HardChunk{Index: uint32(idx), Voxels: s.grid.Chunk(idx).Voxels[:]})
		}
		if s.send(sess, pk) > 0 {
			s.metrics.hardUpdate()
		}
	}
}

// cycleLog remembers which chunks each recent dispatch cycle changed, so a
// client that reports a lost snapshot can be sent those chunks in full.
type cycleLog struct {
	cycles []uint64
	chunks [][]int
	next   int
	count  int
}

func newCycleLog(depth int) *cycleLog {
	if depth <= 0 {
		depth = 1
	}
	return &cycleLog{cycles: make([]uint64, depth), chunks: make([][]int, depth)}
}

func (l *cycleLog) record(cycle uint64, chunks []int) {
	l.cycles[l.next] = cycle
	l.chunks[l.next] = chunks
	l.next = (l.next + 1) % len(l.cycles)
	if l.count < len(l.cycles) {
		l.count++
	}
}

// lookup returns the chunks changed in cycle. ok is false when the cycle is
// no longer (or not yet) in the log.
func (l *cycleLog) lookup(cycle uint64) ([]int, bool) {
	for i := 0; i < l.count; i++ {
		j := (l.next - 1 - i + len(l.cycles)) % len(l.cycles)
		if l.cycles[j] == cycle {
			return l.chunks[j], true
		}
	}
	return nil, false
}
