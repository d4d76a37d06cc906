// Package client is the predicting side of the voxel sync protocol. It
// simulates local input immediately, reports the result to the server and
// rewinds when the server disagrees. A Client is driven by one goroutine
// calling Tick.
package client

import (
	"fmt"
	"io"
	"log"

	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/player"
	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
	"voxelsync.dev/internal/transport"
)

// Mode is the prediction state.
type Mode uint8

const (
	// ModeNormal predicts input and reports it every send interval.
	ModeNormal Mode = iota
	// ModeAwaitingCorrection holds input after a correction until a snapshot
	// without one shows the server accepted the acknowledgement.
	ModeAwaitingCorrection
)

func (m Mode) String() string {
	if m == ModeAwaitingCorrection {
		return "awaiting_correction"
	}
	return "normal"
}

type Config struct {
	Name string
	// Tuning supplies the simulation constants; they must match the
	// server's. Rates come from the handshake.
	Tuning tuning.Tuning
	Logger *log.Logger

	// JoinRetryTicks resends JOIN until a handshake arrives. Zero means one
	// second at the tuning tick rate.
	JoinRetryTicks int
	// ResyncAfterTicks asks for missing chunks when world population
	// stalls. Zero means one second.
	ResyncAfterTicks int
}

// Input is one tick of local controls.
type Input struct {
	Actions player.Actions
	MouseDX float32
	MouseDY float32
}

// RemotePlayer is the latest known state of another client.
type RemotePlayer struct {
	ID   uint32
	Name string
	Pose protocol.PlayerPose
}

type Stats struct {
	Snapshots      uint64
	MissedCycles   uint64
	Corrections    uint64
	Reverted       int
	RingEvictions  uint64
	DroppedRecords uint64
	Malformed      uint64
}

type Client struct {
	cfg    Config
	conn   transport.Conn
	server transport.Addr
	logger *log.Logger
	params player.Params

	id        uint32
	hs        protocol.Handshake
	grid      *terrain.Grid
	body      player.Body
	mode      Mode
	tick      uint64
	sendEvery uint64
	packetID  uint64
	joinWait  int

	states *player.StateRing
	ring   *RevertRing

	correctionTick uint64
	hasCorrection  bool

	loaded       []bool
	loadedCount  int
	lastHardTick uint64
	resync       []int

	lastCycle uint64
	ackTick   uint64
	players   map[uint32]*RemotePlayer
	stats     Stats
}

// New prepares a client that talks to server over conn. Call Join to start.
func New(conn transport.Conn, server transport.Addr, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.JoinRetryTicks <= 0 {
		cfg.JoinRetryTicks = max(cfg.Tuning.TickRateHz, 1)
	}
	if cfg.ResyncAfterTicks <= 0 {
		cfg.ResyncAfterTicks = max(cfg.Tuning.TickRateHz, 1)
	}
	return &Client{
		cfg:     cfg,
		conn:    conn,
		server:  server,
		logger:  logger,
		params:  player.ParamsFrom(cfg.Tuning),
		states:  player.NewStateRing(protocol.MaxStatesPerPacket),
		ring:    NewRevertRing(cfg.Tuning.Reconcile.RevertRingDepth),
		players: map[uint32]*RemotePlayer{},
	}
}

func (c *Client) ID() uint32                    { return c.id }
func (c *Client) Mode() Mode                    { return c.mode }
func (c *Client) CurrentTick() uint64           { return c.tick }
func (c *Client) Grid() *terrain.Grid           { return c.grid }
func (c *Client) Body() player.Body             { return c.body }
func (c *Client) Ring() *RevertRing             { return c.ring }
func (c *Client) Stats() Stats                  { return c.stats }
func (c *Client) LastCycle() uint64             { return c.lastCycle }
func (c *Client) Handshake() protocol.Handshake { return c.hs }

// Joined reports whether a handshake arrived.
func (c *Client) Joined() bool { return c.grid != nil }

// Ready reports whether every chunk of the world has been received.
func (c *Client) Ready() bool {
	return c.grid != nil && c.loadedCount == c.grid.Len()
}

// Players returns the other clients, keyed by id.
func (c *Client) Players() map[uint32]RemotePlayer {
	out := make(map[uint32]RemotePlayer, len(c.players))
	for id, p := range c.players {
		out[id] = *p
	}
	return out
}

// Join sends the JOIN request. Tick resends it until the server answers.
func (c *Client) Join() error {
	c.joinWait = 0
	return c.sendPacket(protocol.JoinPacketID, 0, &protocol.Join{Version: protocol.Version, Name: protocol.SanitizeName(c.cfg.Name)})
}

// Disconnect tells the server the session is over.
func (c *Client) Disconnect() error {
	if c.grid == nil {
		return nil
	}
	return c.send(&protocol.Disconnect{})
}

// Tick advances the client by one simulation tick.
func (c *Client) Tick(in Input) error {
	c.poll()
	if c.grid == nil {
		c.joinWait++
		if c.joinWait >= c.cfg.JoinRetryTicks {
			return c.Join()
		}
		return nil
	}

	c.tick++
	if c.Ready() && c.mode == ModeNormal {
		c.predict(in)
	}
	if c.tick%c.sendEvery != 0 {
		return nil
	}
	if !c.Ready() {
		return c.requestMissing()
	}
	return c.flush()
}

func (c *Client) send(pk protocol.Packet) error {
	c.packetID++
	return c.sendPacket(c.packetID, c.tick, pk)
}

func (c *Client) sendPacket(id, tick uint64, pk protocol.Packet) error {
	b, err := protocol.Encode(protocol.Header{Tick: tick, PacketID: id, ClientID: c.id}, pk)
	if err != nil {
		return fmt.Errorf("encode %s: %w", pk.Kind(), err)
	}
	return c.conn.Send(c.server, b)
}

func (c *Client) sendCorrectionAck(tick uint64) {
	if err := c.send(&protocol.CorrectionAck{CorrectionTick: tick}); err != nil {
		c.logger.Printf("send correction ack: %v", err)
	}
}
