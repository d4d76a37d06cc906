package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// ChunkEdge and ChunkVolume describe the cubic chunk carried by hard updates.
const (
	ChunkEdge   = 16
	ChunkVolume = ChunkEdge * ChunkEdge * ChunkEdge
)

// Packet is implemented by every payload layout. Size must return exactly the
// number of bytes Marshal writes.
type Packet interface {
	Kind() Kind
	Size() int
	Marshal(w *Writer)
	Unmarshal(r *Reader)
}

// validator is implemented by packets with field constraints beyond layout.
type validator interface {
	validate() error
}

func newPacket(k Kind) Packet {
	switch k {
	case KindJoin:
		return &Join{}
	case KindInputState:
		return &InputState{}
	case KindAckSnapshot:
		return &AckSnapshot{}
	case KindCorrectionAck:
		return &CorrectionAck{}
	case KindDisconnect:
		return &Disconnect{}
	case KindHandshake:
		return &Handshake{}
	case KindChunkHardUpdate:
		return &ChunkHardUpdate{}
	case KindSnapshot:
		return &Snapshot{}
	case KindClientJoined:
		return &ClientJoined{}
	}
	return nil
}

// Encode serializes h and pk into a single datagram. The direction, type and size
// fields of h are filled from pk.
func Encode(h Header, pk Packet) ([]byte, error) {
	total := HeaderSize + pk.Size()
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrPacketTooLarge, pk.Kind(), total)
	}
	k := pk.Kind()
	if v, ok := pk.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	h.Dir, h.Type, h.Size = k.Dir, k.Type, uint32(total)

	w := NewWriter(total)
	h.Marshal(w)
	pk.Marshal(w)
	if w.Len() != total {
		return nil, fmt.Errorf("%s: size accounting mismatch: wrote %d, declared %d", k, w.Len(), total)
	}
	return w.Bytes(), nil
}

// Decode parses one datagram. Any violation (size mismatch, unknown type,
// truncated or trailing payload, out-of-range fields) yields ErrMalformedPacket.
func Decode(b []byte) (Header, Packet, error) {
	h, err := PeekHeader(b)
	if err != nil {
		return h, nil, err
	}
	pk := newPacket(h.Kind())
	if pk == nil {
		return h, nil, fmt.Errorf("%w: unknown %s packet type %d", ErrMalformedPacket, h.Dir, h.Type)
	}
	r := NewReader(b[HeaderSize:])
	pk.Unmarshal(r)
	if err := r.Err(); err != nil {
		return h, nil, fmt.Errorf("%w: %s: %w", ErrMalformedPacket, h.Kind(), err)
	}
	if r.Remaining() != 0 {
		return h, nil, fmt.Errorf("%w: %s: %d trailing bytes", ErrMalformedPacket, h.Kind(), r.Remaining())
	}
	if v, ok := pk.(validator); ok {
		if err := v.validate(); err != nil {
			return h, nil, fmt.Errorf("%w: %s: %v", ErrMalformedPacket, h.Kind(), err)
		}
	}
	return h, pk, nil
}

func checkCoord(x, y, z uint8) error {
	if x >= ChunkEdge || y >= ChunkEdge || z >= ChunkEdge {
		return fmt.Errorf("voxel coordinate (%d,%d,%d) outside chunk", x, y, z)
	}
	return nil
}

// ---- client -> server ----

// Join asks the server for a session. It is always sent with JoinPacketID.
type Join struct {
	Version uint16
	Name    string
}

func (*Join) Kind() Kind  { return KindJoin }
func (p *Join) Size() int { return SizeU16 + SizeString(p.Name) }
func (p *Join) Marshal(w *Writer) {
	w.U16(p.Version)
	w.String(p.Name)
}
func (p *Join) Unmarshal(r *Reader) {
	p.Version = r.U16()
	p.Name = r.String()
}

// InputRecord is one sampled player state on the wire.
type InputRecord struct {
	Actions   uint32
	MouseDX   float32
	MouseDY   float32
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Tick      uint64
	DT        float32
}

const inputRecordSize = SizeU32 + 2*SizeF32 + 2*SizeVec3 + SizeU64 + SizeF32

func (in *InputRecord) marshal(w *Writer) {
	w.U32(in.Actions)
	w.F32(in.MouseDX)
	w.F32(in.MouseDY)
	w.Vec3(in.Position)
	w.Vec3(in.Direction)
	w.U64(in.Tick)
	w.F32(in.DT)
}

func (in *InputRecord) unmarshal(r *Reader) {
	in.Actions = r.U32()
	in.MouseDX = r.F32()
	in.MouseDY = r.F32()
	in.Position = r.Vec3()
	in.Direction = r.Vec3()
	in.Tick = r.U64()
	in.DT = r.F32()
}

// ReportedVoxel is a client's observed value for one cell.
type ReportedVoxel struct {
	X, Y, Z uint8
	Value   uint8
}

const reportedVoxelSize = 4

// ReportedChunk lists the cells a client changed in one chunk during a send
// interval.
type ReportedChunk struct {
	Index  uint32
	Voxels []ReportedVoxel
}

func (c *ReportedChunk) size() int {
	return SizeU32 + SizeU16 + len(c.Voxels)*reportedVoxelSize
}

// InputState carries buffered player states, the client's resulting pose (used
// only for divergence comparison) and its voxel edits.
type InputState struct {
	States         []InputRecord
	FinalPosition  mgl32.Vec3
	FinalDirection mgl32.Vec3
	Chunks         []ReportedChunk
	// Resync lists chunk indices whose local history overflowed; the server
	// answers with hard updates.
	Resync []uint32
}

func (*InputState) Kind() Kind { return KindInputState }

func (p *InputState) Size() int {
	n := SizeU16 + len(p.States)*inputRecordSize + 2*SizeVec3 + SizeU16
	for i := range p.Chunks {
		n += p.Chunks[i].size()
	}
	return n + SizeU16 + len(p.Resync)*SizeU32
}

func (p *InputState) Marshal(w *Writer) {
	w.U16(uint16(len(p.States)))
	for i := range p.States {
		p.States[i].marshal(w)
	}
	w.Vec3(p.FinalPosition)
	w.Vec3(p.FinalDirection)
	w.U16(uint16(len(p.Chunks)))
	for _, c := range p.Chunks {
		w.U32(c.Index)
		w.U16(uint16(len(c.Voxels)))
		for _, v := range c.Voxels {
			w.U8(v.X)
			w.U8(v.Y)
			w.U8(v.Z)
			w.U8(v.Value)
		}
	}
	w.U16(uint16(len(p.Resync)))
	for _, idx := range p.Resync {
		w.U32(idx)
	}
}

func (p *InputState) Unmarshal(r *Reader) {
	n := r.Count(MaxStatesPerPacket, inputRecordSize)
	p.States = make([]InputRecord, n)
	for i := range p.States {
		p.States[i].unmarshal(r)
	}
	p.FinalPosition = r.Vec3()
	p.FinalDirection = r.Vec3()
	n = r.Count(MaxChunksPerPacket, SizeU32+SizeU16)
	p.Chunks = make([]ReportedChunk, n)
	for i := range p.Chunks {
		c := &p.Chunks[i]
		c.Index = r.U32()
		m := r.Count(MaxVoxelsPerRecord, reportedVoxelSize)
		c.Voxels = make([]ReportedVoxel, m)
		for j := range c.Voxels {
			c.Voxels[j] = ReportedVoxel{X: r.U8(), Y: r.U8(), Z: r.U8(), Value: r.U8()}
		}
	}
	n = r.Count(MaxResyncChunks, SizeU32)
	p.Resync = make([]uint32, n)
	for i := range p.Resync {
		p.Resync[i] = r.U32()
	}
}

func (p *InputState) validate() error {
	if len(p.States) > MaxStatesPerPacket {
		return fmt.Errorf("%d states exceed %d", len(p.States), MaxStatesPerPacket)
	}
	if len(p.Chunks) > MaxChunksPerPacket {
		return fmt.Errorf("%d chunks exceed %d", len(p.Chunks), MaxChunksPerPacket)
	}
	if len(p.Resync) > MaxResyncChunks {
		return fmt.Errorf("%d resync chunks exceed %d", len(p.Resync), MaxResyncChunks)
	}
	for _, c := range p.Chunks {
		if len(c.Voxels) > MaxVoxelsPerRecord {
			return fmt.Errorf("chunk %d: %d voxels exceed %d", c.Index, len(c.Voxels), MaxVoxelsPerRecord)
		}
		for _, v := range c.Voxels {
			if err := checkCoord(v.X, v.Y, v.Z); err != nil {
				return err
			}
			if v.Value == Sentinel {
				return fmt.Errorf("reported voxel value %d is reserved", v.Value)
			}
		}
	}
	return nil
}

func (p *AckSnapshot) validate() error {
	if len(p.Missed) > MaxMissedCycles {
		return fmt.Errorf("%d missed cycles exceed %d", len(p.Missed), MaxMissedCycles)
	}
	return nil
}

// AckSnapshot tells the server the newest dispatch cycle received and which
// cycles were observed missing since the previous ack.
type AckSnapshot struct {
	LatestCycle uint64
	Missed      []uint64
}

func (*AckSnapshot) Kind() Kind  { return KindAckSnapshot }
func (p *AckSnapshot) Size() int { return SizeU64 + SizeU16 + len(p.Missed)*SizeU64 }
func (p *AckSnapshot) Marshal(w *Writer) {
	w.U64(p.LatestCycle)
	w.U16(uint16(len(p.Missed)))
	for _, c := range p.Missed {
		w.U64(c)
	}
}
func (p *AckSnapshot) Unmarshal(r *Reader) {
	p.LatestCycle = r.U64()
	n := r.Count(MaxMissedCycles, SizeU64)
	p.Missed = make([]uint64, n)
	for i := range p.Missed {
		p.Missed[i] = r.U64()
	}
}

// CorrectionAck confirms that the correction for CorrectionTick was applied.
type CorrectionAck struct {
	CorrectionTick uint64
}

func (*CorrectionAck) Kind() Kind            { return KindCorrectionAck }
func (*CorrectionAck) Size() int             { return SizeU64 }
func (p *CorrectionAck) Marshal(w *Writer)   { w.U64(p.CorrectionTick) }
func (p *CorrectionAck) Unmarshal(r *Reader) { p.CorrectionTick = r.U64() }

// Disconnect ends the session. It has no payload.
type Disconnect struct{}

func (*Disconnect) Kind() Kind        { return KindDisconnect }
func (*Disconnect) Size() int         { return 0 }
func (*Disconnect) Marshal(*Writer)   {}
func (*Disconnect) Unmarshal(*Reader) {}
