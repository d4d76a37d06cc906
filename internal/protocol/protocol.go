package protocol

// Version is bumped whenever the datagram layout changes. It travels in JOIN and
// HANDSHAKE so mismatched builds refuse each other early.
const Version uint16 = 3

// Direction is the one-bit mode field of the header.
type Direction uint8

const (
	ClientToServer Direction = 0
	ServerToClient Direction = 1
)

func (d Direction) String() string {
	if d == ServerToClient {
		return "server"
	}
	return "client"
}

// Type is the 4-bit packet type tag. Its meaning depends on the Direction.
type Type uint8

// Client -> server packet types.
const (
	TypeJoin Type = iota
	TypeInputState
	TypeAckSnapshot
	TypeCorrectionAck
	TypeDisconnect
)

// Server -> client packet types.
const (
	TypeHandshake Type = iota
	TypeChunkHardUpdate
	TypeSnapshot
	TypeClientJoined
)

// Kind pairs a direction with a type tag; it identifies a packet layout.
type Kind struct {
	Dir  Direction
	Type Type
}

var (
	KindJoin            = Kind{ClientToServer, TypeJoin}
	KindInputState      = Kind{ClientToServer, TypeInputState}
	KindAckSnapshot     = Kind{ClientToServer, TypeAckSnapshot}
	KindCorrectionAck   = Kind{ClientToServer, TypeCorrectionAck}
	KindDisconnect      = Kind{ClientToServer, TypeDisconnect}
	KindHandshake       = Kind{ServerToClient, TypeHandshake}
	KindChunkHardUpdate = Kind{ServerToClient, TypeChunkHardUpdate}
	KindSnapshot        = Kind{ServerToClient, TypeSnapshot}
	KindClientJoined    = Kind{ServerToClient, TypeClientJoined}
)

var kindNames = map[Kind]string{
	KindJoin:            "JOIN",
	KindInputState:      "INPUT_STATE",
	KindAckSnapshot:     "ACK_SNAPSHOT",
	KindCorrectionAck:   "CORRECTION_ACK",
	KindDisconnect:      "DISCONNECT",
	KindHandshake:       "HANDSHAKE",
	KindChunkHardUpdate: "CHUNK_HARD_UPDATE",
	KindSnapshot:        "SNAPSHOT",
	KindClientJoined:    "CLIENT_JOINED",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "UNKNOWN"
}

// Protocol limits.
const (
	// JoinPacketID is the packet id a client uses for JOIN. It bypasses the
	// monotonic packet id check so a restarted client can always rejoin.
	JoinPacketID uint64 = 0

	// MaxVoxelsPerRecord caps the voxels carried for one chunk in one packet.
	MaxVoxelsPerRecord = 100
	// MaxChunksPerPacket caps the chunk records of INPUT_STATE and SNAPSHOT so a
	// packet stays below the datagram limit.
	MaxChunksPerPacket = 64
	// MaxStatesPerPacket caps buffered player states in one INPUT_STATE.
	MaxStatesPerPacket = 128
	// MaxPlayersPerSnapshot caps the player table of a SNAPSHOT.
	MaxPlayersPerSnapshot = 64
	// MaxCorrectionVoxels caps the authoritative voxel list of a correction.
	MaxCorrectionVoxels = 1024
	// MaxMissedCycles caps the missed dispatch cycles reported in one ACK_SNAPSHOT.
	MaxMissedCycles = 16
	// MaxResyncChunks caps chunk indices a client may ask to be resent.
	MaxResyncChunks = 32
	// HardUpdateChunksPerPacket is the batch size of CHUNK_HARD_UPDATE.
	HardUpdateChunksPerPacket = 8
	// MaxNameLen bounds player names (without the terminator).
	MaxNameLen = 32

	// MaxDatagramSize is the largest payload a UDP datagram can carry.
	MaxDatagramSize = 65507

	// Sentinel marks "unmodified" in histories and "prediction already
	// matched" in correction lists.
	Sentinel uint8 = 255
)
