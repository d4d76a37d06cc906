package server

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelsync.dev/internal/client"
	"voxelsync.dev/internal/persistence/snapshot"
	"voxelsync.dev/internal/protocol"
	"voxelsync.dev/internal/sim/player"
	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
	"voxelsync.dev/internal/transport"
	"voxelsync.dev/internal/transport/memnet"
)

// testTuning runs everything at one rate, without gravity, with a brush that
// fills exactly the cell in front of the ray hit.
func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.TickRateHz, t.SendRateHz, t.DispatchRateHz = 60, 60, 60
	t.GridDims = []int{3, 4, 2}
	t.Movement.Gravity = 0
	t.Brush = tuning.Brush{Radius: 0.5, Strength: 200, Reach: 8}
	return t
}

// Looking down at 45 degrees from (x+0.5, 53.9, 16.8) the build ray passes
// (x, 52, 20) and hits a solid cell at (x, 51, 20).
var lookDown = mgl32.Vec3{0, -1, 1}

func spawnAt(x float32) mgl32.Vec3 { return mgl32.Vec3{x + 0.5, 53.9, 16.8} }

type recorder struct {
	ticks  []TickLogEntry
	audits []AuditEntry
}

func (r *recorder) WriteTick(e TickLogEntry) error { r.ticks = append(r.ticks, e); return nil }
func (r *recorder) WriteAudit(e AuditEntry) error  { r.audits = append(r.audits, e); return nil }

func (r *recorder) kinds() []string {
	var out []string
	for _, a := range r.audits {
		out = append(out, a.Kind)
	}
	return out
}

type world struct {
	t       *testing.T
	srv     *Server
	rec     *recorder
	order   []transport.Addr
	clients map[transport.Addr]*client.Client
	snaps   map[transport.Addr][]*protocol.Snapshot
}

// newWorld starts a server whose grid holds a solid cell (value 200) at each
// of solids, and joins one client per spawn x coordinate.
func newWorld(t *testing.T, solids []terrain.VoxelPos, clients map[transport.Addr]float32, order ...transport.Addr) *world {
	t.Helper()
	tu := testTuning()
	g, err := terrain.NewGrid(3, 4, 2, true)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	for _, p := range solids {
		idx, l, ok := g.Lookup(p)
		if !ok {
			t.Fatalf("solid %v outside grid", p)
		}
		g.SetRaw(idx, l.X, l.Y, l.Z, 200)
	}

	w := &world{
		t:       t,
		rec:     &recorder{},
		order:   order,
		clients: map[transport.Addr]*client.Client{},
		snaps:   map[transport.Addr][]*protocol.Snapshot{},
	}
	n := memnet.NewNetwork(512)
	n.SetDrop(func(from, to transport.Addr, b []byte) bool {
		if from != "server" {
			return false
		}
		if _, pk, err := protocol.Decode(b); err == nil {
			if s, ok := pk.(*protocol.Snapshot); ok {
				w.snaps[to] = append(w.snaps[to], s)
			}
		}
		return false
	})

	conn, err := n.Listen("server")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var spawns []mgl32.Vec3
	for _, addr := range order {
		spawns = append(spawns, spawnAt(clients[addr]))
	}
	w.srv, err = New(conn, g, Config{Tuning: tu, WorldID: "test", Spawns: spawns, SpawnDirection: lookDown})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	w.srv.SetTickLogger(w.rec)
	w.srv.SetAuditLogger(w.rec)

	for _, addr := range order {
		ep, err := n.Listen(addr)
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		c := client.New(ep, "server", client.Config{Name: string(addr), Tuning: tu})
		if err := c.Join(); err != nil {
			t.Fatalf("join %s: %v", addr, err)
		}
		w.clients[addr] = c
	}
	return w
}

// step runs one server tick and then one tick of every client.
func (w *world) step(inputs map[transport.Addr]client.Input) {
	w.t.Helper()
	w.srv.Tick()
	for _, addr := range w.order {
		if err := w.clients[addr].Tick(inputs[addr]); err != nil {
			w.t.Fatalf("client %s tick: %v", addr, err)
		}
	}
}

func (w *world) untilReady() {
	w.t.Helper()
	for i := 0; i < 30; i++ {
		ready := true
		for _, c := range w.clients {
			ready = ready && c.Ready()
		}
		if ready {
			return
		}
		w.step(nil)
	}
	w.t.Fatalf("clients did not load the world")
}

// deltasSince returns the non-empty delta lists addr received after the first
// skip snapshots.
func (w *world) deltasSince(addr transport.Addr, skip int) [][]protocol.ChunkDelta {
	var out [][]protocol.ChunkDelta
	for _, s := range w.snaps[addr][skip:] {
		if len(s.Deltas) > 0 {
			out = append(out, s.Deltas)
		}
	}
	return out
}

func chunkIndex(t *testing.T, g *terrain.Grid, x, y, z int) int {
	t.Helper()
	idx, ok := g.Index(terrain.ChunkCoord{X: x, Y: y, Z: z})
	if !ok {
		t.Fatalf("chunk (%d,%d,%d) outside grid", x, y, z)
	}
	return idx
}

func TestDispatch_OwnEditComesBackAsSentinel(t *testing.T) {
	w := newWorld(t, []terrain.VoxelPos{{X: 36, Y: 51, Z: 20}},
		map[transport.Addr]float32{"a": 36, "b": 20}, "a", "b")
	w.untilReady()

	a, b := w.clients["a"], w.clients["b"]
	if a.CurrentTick() >= 9 {
		t.Fatalf("client a already at tick %d", a.CurrentTick())
	}
	for a.CurrentTick() < 9 {
		w.step(nil)
	}
	skipA, skipB := len(w.snaps["a"]), len(w.snaps["b"])

	w.step(map[transport.Addr]client.Input{"a": {Actions: player.ActBuild}})
	if a.CurrentTick() != 10 {
		t.Fatalf("build tick=%d want=10", a.CurrentTick())
	}
	w.step(nil)

	idx := chunkIndex(t, w.srv.Grid(), 2, 3, 1)
	want := protocol.DeltaVoxel{X: 4, Y: 4, Z: 4, Prev: 0, Next: protocol.Sentinel}

	gotA := w.deltasSince("a", skipA)
	if len(gotA) != 1 || len(gotA[0]) != 1 || gotA[0][0].Index != uint32(idx) || len(gotA[0][0].Voxels) != 1 || gotA[0][0].Voxels[0] != want {
		t.Fatalf("author deltas=%+v want one sentinel for chunk %d cell (4,4,4)", gotA, idx)
	}
	want.Next = 200
	gotB := w.deltasSince("b", skipB)
	if len(gotB) != 1 || len(gotB[0]) != 1 || gotB[0][0].Index != uint32(idx) || len(gotB[0][0].Voxels) != 1 || gotB[0][0].Voxels[0] != want {
		t.Fatalf("observer deltas=%+v want 0->200 for chunk %d cell (4,4,4)", gotB, idx)
	}

	for name, g := range map[string]*terrain.Grid{"server": w.srv.Grid(), "a": a.Grid(), "b": b.Grid()} {
		if v := g.Chunk(idx).Get(4, 4, 4); v != 200 {
			t.Fatalf("%s cell=%d want=200", name, v)
		}
	}
	if a.Mode() != client.ModeNormal {
		t.Fatalf("author mode=%s want normal", a.Mode())
	}
	if a.Ring().Len() != 0 {
		t.Fatalf("author revert ring len=%d want=0 once the input is acknowledged", a.Ring().Len())
	}
	sess, _ := w.srv.SessionByAddr("a")
	if sess.AwaitingCorrectionAck || sess.LastInputTick < 10 {
		t.Fatalf("session awaiting=%v last input=%d", sess.AwaitingCorrectionAck, sess.LastInputTick)
	}
	if w.srv.Grid().Digest() != a.Grid().Digest() || a.Grid().Digest() != b.Grid().Digest() {
		t.Fatalf("worlds diverged")
	}
}

func TestDispatch_SimultaneousEditsReachEveryone(t *testing.T) {
	w := newWorld(t, []terrain.VoxelPos{{X: 36, Y: 51, Z: 20}, {X: 20, Y: 51, Z: 20}},
		map[transport.Addr]float32{"a": 36, "b": 20}, "a", "b")
	w.untilReady()
	w.step(nil)
	skipA, skipB := len(w.snaps["a"]), len(w.snaps["b"])
	ticks := len(w.rec.ticks)

	build := client.Input{Actions: player.ActBuild}
	w.step(map[transport.Addr]client.Input{"a": build, "b": build})
	w.step(nil)

	g := w.srv.Grid()
	idxA, idxB := chunkIndex(t, g, 2, 3, 1), chunkIndex(t, g, 1, 3, 1)
	check := func(addr transport.Addr, skip, own, other int) {
		t.Helper()
		got := w.deltasSince(addr, skip)
		if len(got) != 1 || len(got[0]) != 2 {
			t.Fatalf("%s deltas=%+v want both chunks in one snapshot", addr, got)
		}
		next := map[uint32]uint8{}
		for _, d := range got[0] {
			if len(d.Voxels) != 1 || d.Voxels[0].X != 4 || d.Voxels[0].Y != 4 || d.Voxels[0].Z != 4 {
				t.Fatalf("%s delta=%+v", addr, d)
			}
			next[d.Index] = d.Voxels[0].Next
		}
		if next[uint32(own)] != protocol.Sentinel || next[uint32(other)] != 200 {
			t.Fatalf("%s next values=%v want own chunk %d sentinel, chunk %d 200", addr, next, own, other)
		}
	}
	check("a", skipA, idxA, idxB)
	check("b", skipB, idxB, idxA)

	for _, addr := range w.order {
		if w.clients[addr].Grid().Digest() != g.Digest() {
			t.Fatalf("client %s world differs from the server", addr)
		}
	}

	var logged *TickLogEntry
	for i := ticks; i < len(w.rec.ticks); i++ {
		if len(w.rec.ticks[i].Deltas) > 0 {
			logged = &w.rec.ticks[i]
		}
	}
	if logged == nil || len(logged.Deltas) != 2 {
		t.Fatalf("tick log entry=%+v want both records", logged)
	}
	if logged.Digest != snapshot.FormatDigest(g.Digest()) {
		t.Fatalf("logged digest=%s want=%s", logged.Digest, snapshot.FormatDigest(g.Digest()))
	}
}

func TestServer_JoinBroadcastsAndAudits(t *testing.T) {
	w := newWorld(t, nil, map[transport.Addr]float32{"a": 8, "b": 24}, "a", "b")
	w.untilReady()

	if w.srv.SessionCount() != 2 {
		t.Fatalf("sessions=%d want=2", w.srv.SessionCount())
	}
	a, b := w.clients["a"], w.clients["b"]
	if a.ID() == b.ID() || a.ID() == 0 || b.ID() == 0 {
		t.Fatalf("ids a=%d b=%d", a.ID(), b.ID())
	}
	if p, ok := a.Players()[b.ID()]; !ok || p.Name != "b" {
		t.Fatalf("a sees players=%+v", a.Players())
	}
	if p, ok := b.Players()[a.ID()]; !ok || p.Name != "a" {
		t.Fatalf("b sees players=%+v", b.Players())
	}
	joins := 0
	for _, k := range w.rec.kinds() {
		if k == EventJoin {
			joins++
		}
	}
	if joins != 2 {
		t.Fatalf("join audits=%d want=2", joins)
	}

	if err := b.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	w.step(nil)
	w.step(nil)
	if w.srv.SessionCount() != 1 {
		t.Fatalf("sessions=%d want=1 after disconnect", w.srv.SessionCount())
	}
	if _, ok := a.Players()[b.ID()]; ok {
		t.Fatalf("a still lists b after it left")
	}
}
