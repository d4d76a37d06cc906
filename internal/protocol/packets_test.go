package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func fullChunk(seed byte) []byte {
	b := make([]byte, ChunkVolume)
	for i := range b {
		b[i] = byte(int(seed)+i) % 255
	}
	return b
}

func samplePackets() []Packet {
	return []Packet{
		&Join{Version: Version, Name: "alice"},
		&InputState{
			States: []InputRecord{
				{Actions: 0x5, MouseDX: 1.5, MouseDY: -0.25, Position: mgl32.Vec3{1, 2, 3}, Direction: mgl32.Vec3{0, 0, 1}, Tick: 10, DT: 1.0 / 60},
				{Actions: 0x80, Position: mgl32.Vec3{1, 2, 3.5}, Direction: mgl32.Vec3{0, 0, 1}, Tick: 11, DT: 1.0 / 60},
			},
			FinalPosition:  mgl32.Vec3{1, 2, 3.5},
			FinalDirection: mgl32.Vec3{0, 0, 1},
			Chunks: []ReportedChunk{
				{Index: 42, Voxels: []ReportedVoxel{{X: 4, Y: 4, Z: 4, Value: 200}, {X: 15, Y: 0, Z: 7, Value: 0}}},
			},
			Resync: []uint32{3, 9},
		},
		&AckSnapshot{LatestCycle: 77, Missed: []uint64{74, 75}},
		&CorrectionAck{CorrectionTick: 12},
		&Disconnect{},
		&Handshake{
			Version: Version, ClientID: 3, GridDims: [3]uint32{4, 2, 4}, ChunkEdge: ChunkEdge,
			TickRateHz: 60, SendRateHz: 30, DispatchRateHz: 20, TotalChunks: 32,
			SpawnPosition: mgl32.Vec3{8, 40, 8}, SpawnDirection: mgl32.Vec3{0, 0, 1},
		},
		&ChunkHardUpdate{First: true, Total: 9, Chunks: []HardChunk{{Index: 0, Voxels: fullChunk(1)}, {Index: 1, Voxels: fullChunk(2)}}},
		&ChunkHardUpdate{First: false, Chunks: []HardChunk{{Index: 8, Voxels: fullChunk(3)}}},
		&Snapshot{
			Cycle:        5,
			AckInputTick: 10,
			Deltas: []ChunkDelta{
				{Index: 42, Voxels: []DeltaVoxel{{X: 4, Y: 4, Z: 4, Prev: 0, Next: Sentinel}}},
				{Index: 7, Voxels: []DeltaVoxel{{X: 1, Y: 2, Z: 3, Prev: 10, Next: 20}}},
			},
			Players: []PlayerPose{{ClientID: 1, Position: mgl32.Vec3{1, 2, 3}, Direction: mgl32.Vec3{1, 0, 0}, Yaw: 90, Pitch: -10, Actions: 3}},
			Correction: &Correction{
				Tick: 10, NeedPose: true, DidVoxel: true,
				Position: mgl32.Vec3{1, 2, 3}, Direction: mgl32.Vec3{0, 0, 1}, Velocity: mgl32.Vec3{0, -1, 0}, Up: mgl32.Vec3{0, 1, 0},
				Physics: 1,
				Voxels:  []CorrectionVoxel{{Index: 42, X: 4, Y: 4, Z: 4, Value: 150}, {Index: 42, X: 5, Y: 4, Z: 4, Value: Sentinel}},
			},
		},
		&Snapshot{Cycle: 6, Deltas: []ChunkDelta{}, Players: []PlayerPose{}},
		&ClientJoined{ClientID: 4, Name: "bob", Position: mgl32.Vec3{0, 10, 0}},
	}
}

func TestEncodeDecode_RoundTripAllKinds(t *testing.T) {
	for i, pk := range samplePackets() {
		h := Header{Tick: uint64(100 + i), PacketID: uint64(i + 1), ClientID: 7}
		b, err := Encode(h, pk)
		if err != nil {
			t.Fatalf("%s: encode: %v", pk.Kind(), err)
		}
		if len(b) != HeaderSize+pk.Size() {
			t.Fatalf("%s: len=%d want=%d", pk.Kind(), len(b), HeaderSize+pk.Size())
		}
		gotH, got, err := Decode(b)
		if err != nil {
			t.Fatalf("%s: decode: %v", pk.Kind(), err)
		}
		if gotH.Kind() != pk.Kind() || gotH.Tick != h.Tick || gotH.PacketID != h.PacketID || gotH.ClientID != h.ClientID {
			t.Fatalf("%s: header mismatch: %+v", pk.Kind(), gotH)
		}
		if !reflect.DeepEqual(got, pk) {
			t.Fatalf("%s: round trip mismatch:\n got=%+v\nwant=%+v", pk.Kind(), got, pk)
		}
		again, err := Encode(h, got)
		if err != nil {
			t.Fatalf("%s: re-encode: %v", pk.Kind(), err)
		}
		if !bytes.Equal(again, b) {
			t.Fatalf("%s: re-encoded bytes differ", pk.Kind())
		}
	}
}

func TestDecode_SizeMismatchIsMalformed(t *testing.T) {
	b, err := Encode(Header{PacketID: 1}, &CorrectionAck{CorrectionTick: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, _, err = Decode(append(b, 0))
	if !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("extra byte: err=%v want malformed", err)
	}
	_, _, err = Decode(b[:len(b)-1])
	if !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("short datagram: err=%v want malformed", err)
	}
	_, _, err = Decode(b[:HeaderSize-1])
	if !errors.Is(err, ErrTruncatedPacket) {
		t.Fatalf("short header: err=%v want truncated", err)
	}
}

func TestDecode_TruncatedPayloadWithConsistentHeader(t *testing.T) {
	// A header that declares the right size but a payload whose counts point
	// past the end must fail with a truncation, not read out of bounds.
	w := NewWriter(HeaderSize + 2)
	h := Header{Dir: ClientToServer, Type: TypeAckSnapshot, Size: HeaderSize + 2, PacketID: 1}
	h.Marshal(w)
	w.U16(0)
	_, _, err := Decode(w.Bytes())
	if !errors.Is(err, ErrMalformedPacket) || !errors.Is(err, ErrTruncatedPacket) {
		t.Fatalf("err=%v want malformed+truncated", err)
	}
}

func TestDecode_RejectsUnknownTypeAndBadCoords(t *testing.T) {
	w := NewWriter(HeaderSize)
	Header{Dir: ServerToClient, Type: 15, Size: HeaderSize}.Marshal(w)
	if _, _, err := Decode(w.Bytes()); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("unknown type: err=%v want malformed", err)
	}

	pk := &InputState{Chunks: []ReportedChunk{{Index: 1, Voxels: []ReportedVoxel{{X: 16, Y: 0, Z: 0, Value: 1}}}}}
	if _, err := Encode(Header{PacketID: 1}, pk); err == nil {
		t.Fatalf("expected encode to reject x=16")
	}
}

func TestEncode_RejectsOverCapRecords(t *testing.T) {
	voxels := make([]DeltaVoxel, MaxVoxelsPerRecord+1)
	pk := &Snapshot{Deltas: []ChunkDelta{{Index: 1, Voxels: voxels}}}
	if _, err := Encode(Header{}, pk); err == nil {
		t.Fatalf("expected encode to reject %d voxels in one record", len(voxels))
	}
}

func TestWorstCaseSnapshotFitsDatagram(t *testing.T) {
	pk := &Snapshot{Correction: &Correction{Voxels: make([]CorrectionVoxel, MaxCorrectionVoxels)}}
	for i := 0; i < MaxChunksPerPacket; i++ {
		pk.Deltas = append(pk.Deltas, ChunkDelta{Index: uint32(i), Voxels: make([]DeltaVoxel, MaxVoxelsPerRecord)})
	}
	pk.Players = make([]PlayerPose, MaxPlayersPerSnapshot)
	if n := HeaderSize + pk.Size(); n > MaxDatagramSize {
		t.Fatalf("worst case snapshot is %d bytes, datagram limit %d", n, MaxDatagramSize)
	}
	hu := &ChunkHardUpdate{First: true, Chunks: make([]HardChunk, HardUpdateChunksPerPacket)}
	if n := HeaderSize + hu.Size(); n > MaxDatagramSize {
		t.Fatalf("full hard update is %d bytes, datagram limit %d", n, MaxDatagramSize)
	}
}
