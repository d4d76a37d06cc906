package terrain

import "errors"

// Sentinel marks a baseline cell that has not been modified since the last
// drain. It is never a valid voxel value.
const Sentinel uint8 = 255

// MaxValue is the largest storable voxel value.
const MaxValue uint8 = 254

// HistoryCapacity bounds the dirty list of one chunk.
const HistoryCapacity = ChunkVolume / 4

// ErrHistoryOverflow is returned when a write cannot be recorded because the
// dirty list is full. The write itself has been applied and the chunk is
// flagged for a full resync.
var ErrHistoryOverflow = errors.New("chunk history overflow")

// History tracks the pre-write value of every cell modified since the last
// drain. Every index in dirty has a non-sentinel baseline and appears once.
type History struct {
	baseline [ChunkVolume]uint8
	dirty    []uint16
}

func newHistory() *History {
	h := &History{dirty: make([]uint16, 0, HistoryCapacity)}
	h.resetBaseline()
	return h
}

func (h *History) resetBaseline() {
	for i := range h.baseline {
		h.baseline[i] = Sentinel
	}
}

// Len is the number of recorded cells.
func (h *History) Len() int { return len(h.dirty) }

// Baseline returns the recorded pre-value of cell i, or Sentinel.
func (h *History) Baseline(i int) uint8 { return h.baseline[i] }

// record notes prev as the baseline of cell i unless one is already present.
func (h *History) record(i int, prev uint8) error {
	if h.baseline[i] != Sentinel {
		return nil
	}
	if len(h.dirty) >= HistoryCapacity {
		return ErrHistoryOverflow
	}
	h.baseline[i] = prev
	h.dirty = append(h.dirty, uint16(i))
	return nil
}

func (h *History) reset() {
	for _, i := range h.dirty {
		h.baseline[i] = Sentinel
	}
	h.dirty = h.dirty[:0]
}

// Change is one drained cell: the value at the previous drain and now.
type Change struct {
	X    uint8 `json:"x"`
	Y    uint8 `json:"y"`
	Z    uint8 `json:"z"`
	Prev uint8 `json:"prev"`
	Next uint8 `json:"next"`
}

// Record is the drained history of one chunk, in modification order.
type Record struct {
	Chunk   int      `json:"chunk"`
	Changes []Change `json:"changes"`
}

// Split cuts r into records of at most max changes each.
func (r Record) Split(max int) []Record {
	if max <= 0 || len(r.Changes) <= max {
		return []Record{r}
	}
	out := make([]Record, 0, (len(r.Changes)+max-1)/max)
	for start := 0; start < len(r.Changes); start += max {
		end := start + max
		if end > len(r.Changes) {
			end = len(r.Changes)
		}
		out = append(out, Record{Chunk: r.Chunk, Changes: r.Changes[start:end]})
	}
	return out
}
