package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// ---- server -> client ----

// Handshake answers a JOIN. The assigned client id is also carried in the
// header of every later server packet.
type Handshake struct {
	Version        uint16
	ClientID       uint32
	GridDims       [3]uint32
	ChunkEdge      uint8
	TickRateHz     uint16
	SendRateHz     uint16
	DispatchRateHz uint16
	TotalChunks    uint32
	SpawnPosition  mgl32.Vec3
	SpawnDirection mgl32.Vec3
}

func (*Handshake) Kind() Kind { return KindHandshake }
func (*Handshake) Size() int {
	return SizeU16 + SizeU32 + 3*SizeU32 + SizeU8 + 3*SizeU16 + SizeU32 + 2*SizeVec3
}
func (p *Handshake) Marshal(w *Writer) {
	w.U16(p.Version)
	w.U32(p.ClientID)
	for _, d := range p.GridDims {
		w.U32(d)
	}
	w.U8(p.ChunkEdge)
	w.U16(p.TickRateHz)
	w.U16(p.SendRateHz)
	w.U16(p.DispatchRateHz)
	w.U32(p.TotalChunks)
	w.Vec3(p.SpawnPosition)
	w.Vec3(p.SpawnDirection)
}
func (p *Handshake) Unmarshal(r *Reader) {
	p.Version = r.U16()
	p.ClientID = r.U32()
	for i := range p.GridDims {
		p.GridDims[i] = r.U32()
	}
	p.ChunkEdge = r.U8()
	p.TickRateHz = r.U16()
	p.SendRateHz = r.U16()
	p.DispatchRateHz = r.U16()
	p.TotalChunks = r.U32()
	p.SpawnPosition = r.Vec3()
	p.SpawnDirection = r.Vec3()
}

// HardChunk is one full chunk voxel array.
type HardChunk struct {
	Index  uint32
	Voxels []byte // len == ChunkVolume
}

// ChunkHardUpdate carries up to HardUpdateChunksPerPacket full chunks. The
// first packet of a batch sets First and announces the batch Total.
type ChunkHardUpdate struct {
	First  bool
	Total  uint32
	Chunks []HardChunk
}

func (*ChunkHardUpdate) Kind() Kind { return KindChunkHardUpdate }
func (p *ChunkHardUpdate) Size() int {
	n := SizeU8
	if p.First {
		n += SizeU32
	}
	return n + SizeU8 + len(p.Chunks)*(SizeU32+ChunkVolume)
}
func (p *ChunkHardUpdate) Marshal(w *Writer) {
	w.Bool(p.First)
	if p.First {
		w.U32(p.Total)
	}
	w.U8(uint8(len(p.Chunks)))
	for _, c := range p.Chunks {
		w.U32(c.Index)
		w.Raw(c.Voxels)
	}
}
func (p *ChunkHardUpdate) Unmarshal(r *Reader) {
	p.First = r.Bool()
	if p.First {
		p.Total = r.U32()
	}
	n := int(r.U8())
	if n > HardUpdateChunksPerPacket || n*(SizeU32+ChunkVolume) > r.Remaining() {
		r.fail()
		return
	}
	p.Chunks = make([]HardChunk, n)
	for i := range p.Chunks {
		p.Chunks[i].Index = r.U32()
		p.Chunks[i].Voxels = make([]byte, ChunkVolume)
		r.Raw(p.Chunks[i].Voxels)
	}
}
func (p *ChunkHardUpdate) validate() error {
	if len(p.Chunks) > HardUpdateChunksPerPacket {
		return fmt.Errorf("%d chunks exceed batch size %d", len(p.Chunks), HardUpdateChunksPerPacket)
	}
	for _, c := range p.Chunks {
		if len(c.Voxels) != ChunkVolume {
			return fmt.Errorf("chunk %d carries %d voxels, want %d", c.Index, len(c.Voxels), ChunkVolume)
		}
	}
	return nil
}

// DeltaVoxel is a server-side change of one cell. Next == Sentinel tells the
// recipient its own prediction for the cell was confirmed.
type DeltaVoxel struct {
	X, Y, Z    uint8
	Prev, Next uint8
}

const deltaVoxelSize = 5

// ChunkDelta lists the changed cells of one chunk.
type ChunkDelta struct {
	Index  uint32
	Voxels []DeltaVoxel
}

func (c *ChunkDelta) size() int { return SizeU32 + SizeU16 + len(c.Voxels)*deltaVoxelSize }

// PlayerPose is the public state of one connected player.
type PlayerPose struct {
	ClientID  uint32
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Yaw       float32
	Pitch     float32
	Actions   uint32
}

const playerPoseSize = SizeU32 + 2*SizeVec3 + 2*SizeF32 + SizeU32

// CorrectionVoxel is the authoritative value of a cell the client predicted.
// Value == Sentinel means the prediction already matched.
type CorrectionVoxel struct {
	Index   uint32
	X, Y, Z uint8
	Value   uint8
}

const correctionVoxelSize = SizeU32 + 4

// Correction overrides a client's prediction back to the server state right
// after Tick.
type Correction struct {
	Tick uint64
	// NeedPose is need_to_do_correction: apply the pose fields unconditionally.
	NeedPose bool
	// DidVoxel reports that at least one voxel value is overridden.
	DidVoxel  bool
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Velocity  mgl32.Vec3
	Up        mgl32.Vec3
	Physics   uint8
	Voxels    []CorrectionVoxel
}

func (c *Correction) size() int {
	return SizeU64 + 2*SizeU8 + 4*SizeVec3 + SizeU8 + SizeU16 + len(c.Voxels)*correctionVoxelSize
}

// Snapshot is the per-client game state sent every dispatch cycle.
type Snapshot struct {
	// Cycle is the global dispatch counter; gaps reveal lost snapshots.
	Cycle uint64
	// AckInputTick is the tick of the last INPUT_STATE of the recipient the
	// server has simulated.
	AckInputTick uint64
	Deltas       []ChunkDelta
	Players      []PlayerPose
	Correction   *Correction
}

func (*Snapshot) Kind() Kind { return KindSnapshot }

func (p *Snapshot) Size() int {
	n := 2*SizeU64 + SizeU16
	for i := range p.Deltas {
		n += p.Deltas[i].size()
	}
	n += SizeU16 + len(p.Players)*playerPoseSize + SizeU8
	if p.Correction != nil {
		n += p.Correction.size()
	}
	return n
}

func (p *Snapshot) Marshal(w *Writer) {
	w.U64(p.Cycle)
	w.U64(p.AckInputTick)
	w.U16(uint16(len(p.Deltas)))
	for _, d := range p.Deltas {
		w.U32(d.Index)
		w.U16(uint16(len(d.Voxels)))
		for _, v := range d.Voxels {
			w.U8(v.X)
			w.U8(v.Y)
			w.U8(v.Z)
			w.U8(v.Prev)
			w.U8(v.Next)
		}
	}
	w.U16(uint16(len(p.Players)))
	for _, pl := range p.Players {
		w.U32(pl.ClientID)
		w.Vec3(pl.Position)
		w.Vec3(pl.Direction)
		w.F32(pl.Yaw)
		w.F32(pl.Pitch)
		w.U32(pl.Actions)
	}
	w.Bool(p.Correction != nil)
	if c := p.Correction; c != nil {
		w.U64(c.Tick)
		w.Bool(c.NeedPose)
		w.Bool(c.DidVoxel)
		w.Vec3(c.Position)
		w.Vec3(c.Direction)
		w.Vec3(c.Velocity)
		w.Vec3(c.Up)
		w.U8(c.Physics)
		w.U16(uint16(len(c.Voxels)))
		for _, v := range c.Voxels {
			w.U32(v.Index)
			w.U8(v.X)
			w.U8(v.Y)
			w.U8(v.Z)
			w.U8(v.Value)
		}
	}
}

func (p *Snapshot) Unmarshal(r *Reader) {
	p.Cycle = r.U64()
	p.AckInputTick = r.U64()
	n := r.Count(MaxChunksPerPacket, SizeU32+SizeU16)
	p.Deltas = make([]ChunkDelta, n)
	for i := range p.Deltas {
		d := &p.Deltas[i]
		d.Index = r.U32()
		m := r.Count(MaxVoxelsPerRecord, deltaVoxelSize)
		d.Voxels = make([]DeltaVoxel, m)
		for j := range d.Voxels {
			d.Voxels[j] = DeltaVoxel{X: r.U8(), Y: r.U8(), Z: r.U8(), Prev: r.U8(), Next: r.U8()}
		}
	}
	n = r.Count(MaxPlayersPerSnapshot, playerPoseSize)
	p.Players = make([]PlayerPose, n)
	for i := range p.Players {
		pl := &p.Players[i]
		pl.ClientID = r.U32()
		pl.Position = r.Vec3()
		pl.Direction = r.Vec3()
		pl.Yaw = r.F32()
		pl.Pitch = r.F32()
		pl.Actions = r.U32()
	}
	p.Correction = nil
	if r.Bool() {
		c := &Correction{}
		c.Tick = r.U64()
		c.NeedPose = r.Bool()
		c.DidVoxel = r.Bool()
		c.Position = r.Vec3()
		c.Direction = r.Vec3()
		c.Velocity = r.Vec3()
		c.Up = r.Vec3()
		c.Physics = r.U8()
		m := r.Count(MaxCorrectionVoxels, correctionVoxelSize)
		c.Voxels = make([]CorrectionVoxel, m)
		for j := range c.Voxels {
			c.Voxels[j] = CorrectionVoxel{Index: r.U32(), X: r.U8(), Y: r.U8(), Z: r.U8(), Value: r.U8()}
		}
		p.Correction = c
	}
}

func (p *Snapshot) validate() error {
	if len(p.Deltas) > MaxChunksPerPacket {
		return fmt.Errorf("%d chunk deltas exceed %d", len(p.Deltas), MaxChunksPerPacket)
	}
	if len(p.Players) > MaxPlayersPerSnapshot {
		return fmt.Errorf("%d players exceed %d", len(p.Players), MaxPlayersPerSnapshot)
	}
	for _, d := range p.Deltas {
		if len(d.Voxels) > MaxVoxelsPerRecord {
			return fmt.Errorf("chunk %d: %d voxels exceed %d", d.Index, len(d.Voxels), MaxVoxelsPerRecord)
		}
		for _, v := range d.Voxels {
			if err := checkCoord(v.X, v.Y, v.Z); err != nil {
				return err
			}
		}
	}
	if c := p.Correction; c != nil {
		if len(c.Voxels) > MaxCorrectionVoxels {
			return fmt.Errorf("%d correction voxels exceed %d", len(c.Voxels), MaxCorrectionVoxels)
		}
		for _, v := range c.Voxels {
			if err := checkCoord(v.X, v.Y, v.Z); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClientJoined announces a new player to everyone else.
type ClientJoined struct {
	ClientID uint32
	Name     string
	Position mgl32.Vec3
}

func (*ClientJoined) Kind() Kind  { return KindClientJoined }
func (p *ClientJoined) Size() int { return SizeU32 + SizeString(p.Name) + SizeVec3 }
func (p *ClientJoined) Marshal(w *Writer) {
	w.U32(p.ClientID)
	w.String(p.Name)
	w.Vec3(p.Position)
}
func (p *ClientJoined) Unmarshal(r *Reader) {
	p.ClientID = r.U32()
	p.Name = r.String()
	p.Position = r.Vec3()
}
