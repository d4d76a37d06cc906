package client

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
)

const pollBudget = 256

func (c *Client) poll() {
	for i := 0; i < pollBudget; i++ {
		d, ok := c.conn.TryRecv()
		if !ok {
			return
		}
		if d.Gone || d.From != c.server {
			continue
		}
		h, pk, err := protocol.Decode(d.Data)
		if err != nil || h.Dir != protocol.ServerToClient {
			c.stats.Malformed++
			continue
		}
		c.handle(h, pk)
	}
}

func (c *Client) handle(h protocol.Header, pk protocol.Packet) {
	if hs, ok := pk.(*protocol.Handshake); ok {
		c.onHandshake(hs)
		return
	}
	if c.grid == nil || h.ClientID != c.id {
		return
	}
	switch pk := pk.(type) {
	case *protocol.ChunkHardUpdate:
		c.onHardUpdate(pk)
	case *protocol.Snapshot:
		c.onSnapshot(pk)
	case *protocol.ClientJoined:
		if pk.ClientID != c.id {
			c.players[pk.ClientID] = &RemotePlayer{ID: pk.ClientID, Name: pk.Name, Pose: protocol.PlayerPose{ClientID: pk.ClientID, Position: pk.Position}}
		}
	}
}

func (c *Client) onHandshake(hs *protocol.Handshake) {
	if hs.Version != protocol.Version {
		c.logger.Printf("handshake version %d, want %d", hs.Version, protocol.Version)
		return
	}
	if c.grid != nil {
		// A repeated handshake answers a repeated JOIN; the world is being
		// resent anyway.
		return
	}
	if hs.ChunkEdge != terrain.ChunkSize {
		c.logger.Printf("handshake chunk edge %d, want %d", hs.ChunkEdge, terrain.ChunkSize)
		return
	}
	g, err := terrain.NewGrid(int(hs.GridDims[0]), int(hs.GridDims[1]), int(hs.GridDims[2]), true)
	if err != nil {
		c.logger.Printf("handshake: %v", err)
		return
	}
	c.hs = *hs
	c.id = hs.ClientID
	c.grid = g
	c.loaded = make([]bool, g.Len())
	c.body.Position = hs.SpawnPosition
	c.body.Up = mgl32.Vec3{0, 1, 0}
	c.body.SetDirection(hs.SpawnDirection)
	rates := tuning.Tuning{TickRateHz: int(hs.TickRateHz)}
	c.sendEvery = uint64(rates.TicksPer(int(hs.SendRateHz)))
	c.logger.Printf("joined as client %d, world %v chunks=%d", c.id, hs.GridDims, hs.TotalChunks)
}

func (c *Client) onHardUpdate(pk *protocol.ChunkHardUpdate) {
	for _, ch := range pk.Chunks {
		idx := int(ch.Index)
		if err := c.grid.LoadChunk(idx, ch.Voxels); err != nil {
			c.logger.Printf("hard update chunk %d: %v", idx, err)
			continue
		}
		if !c.loaded[idx] {
			c.loaded[idx] = true
			c.loadedCount++
		}
	}
	c.lastHardTick = c.tick
}

// onSnapshot applies one dispatch cycle. A correction is handled before the
// deltas so they land on the rewound state.
func (c *Client) onSnapshot(pk *protocol.Snapshot) {
	if pk.Cycle <= c.lastCycle {
		return
	}
	if c.lastCycle != 0 && pk.Cycle > c.lastCycle+1 {
		c.reportMissed(c.lastCycle+1, pk.Cycle-1, pk.Cycle)
	}
	c.lastCycle = pk.Cycle
	c.ackTick = pk.AckInputTick
	c.stats.Snapshots++

	switch {
	case pk.Correction != nil:
		if c.mode == ModeAwaitingCorrection && c.hasCorrection && pk.Correction.Tick == c.correctionTick {
			// Our acknowledgement has not reached the server yet.
			c.sendCorrectionAck(c.correctionTick)
		} else {
			c.applyCorrection(pk.Correction)
		}
	case c.mode == ModeAwaitingCorrection:
		c.mode = ModeNormal
		c.hasCorrection = false
	}
	if c.mode == ModeNormal {
		c.ring.Prune(pk.AckInputTick)
	}

	for _, d := range pk.Deltas {
		for _, v := range d.Voxels {
			if v.Next == protocol.Sentinel {
				continue
			}
			c.grid.SetRaw(int(d.Index), int(v.X), int(v.Y), int(v.Z), v.Next)
		}
	}

	c.updatePlayers(pk.Players)
}

// reportMissed sends the missing cycle range in ACK_SNAPSHOT packets of at
// most MaxMissedCycles each. The server only remembers the last
// cycle_log_depth cycles and resends the whole world for anything older, so
// a longer gap is reported as its first cycle alone.
func (c *Client) reportMissed(from, to, latest uint64) {
	c.stats.MissedCycles += to - from + 1
	depth := uint64(protocol.MaxMissedCycles)
	if d := c.cfg.Tuning.Reconcile.CycleLogDepth; d > 0 {
		depth = uint64(d)
	}
	if to-from+1 > depth {
		to = from
	}
	var batch []uint64
	for cyc := from; cyc <= to; cyc++ {
		batch = append(batch, cyc)
		if len(batch) == protocol.MaxMissedCycles || cyc == to {
			if err := c.send(&protocol.AckSnapshot{LatestCycle: latest, Missed: batch}); err != nil {
				c.logger.Printf("send ack snapshot: %v", err)
			}
			batch = nil
		}
	}
}

func (c *Client) updatePlayers(poses []protocol.PlayerPose) {
	seen := make(map[uint32]bool, len(poses))
	for _, p := range poses {
		if p.ClientID == c.id {
			continue
		}
		seen[p.ClientID] = true
		rp, ok := c.players[p.ClientID]
		if !ok {
			rp = &RemotePlayer{ID: p.ClientID}
			c.players[p.ClientID] = rp
		}
		rp.Pose = p
	}
	if len(poses) >= protocol.MaxPlayersPerSnapshot {
		return
	}
	for id := range c.players {
		if !seen[id] {
			delete(c.players, id)
		}
	}
}
