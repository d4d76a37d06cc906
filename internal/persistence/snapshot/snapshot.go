package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"voxelsync.dev/internal/sim/encoding"
	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
	Cycle   uint64 `json:"cycle"`
	Dims    [3]int `json:"dims"`
	Digest  string `json:"digest"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	// Effective tuning, captured so a resumed server runs with the same rates
	// and simulation constants.
	Tuning tuning.Tuning `json:"tuning"`

	Chunks []ChunkV1 `json:"chunks"`
}

// ChunkV1 is one chunk's voxels, run-length encoded, with its content digest.
type ChunkV1 struct {
	Index  int    `json:"index"`
	RLE    []byte `json:"rle"`
	Digest uint64 `json:"digest"`
}

// FormatDigest renders a grid digest the way headers and event logs store it.
func FormatDigest(d uint64) string { return fmt.Sprintf("%016x", d) }

// Export captures every chunk of g.
func Export(worldID string, tick, cycle uint64, g *terrain.Grid, t tuning.Tuning) SnapshotV1 {
	snap := SnapshotV1{
		Header: Header{
			Version: Version,
			WorldID: worldID,
			Tick:    tick,
			Cycle:   cycle,
			Dims:    g.Dims(),
			Digest:  FormatDigest(g.Digest()),
		},
		Tuning: t,
		Chunks: make([]ChunkV1, 0, g.Len()),
	}
	for i := 0; i < g.Len(); i++ {
		ch := g.Chunk(i)
		snap.Chunks = append(snap.Chunks, ChunkV1{
			Index:  i,
			RLE:    encoding.EncodeRLE(ch.Voxels[:]),
			Digest: ch.Digest(),
		})
	}
	return snap
}

// Grid rebuilds the world and checks every chunk digest and the grid digest
// against the recorded ones.
func (s SnapshotV1) Grid(history bool) (*terrain.Grid, error) {
	dims := s.Header.Dims
	n := dims[0] * dims[1] * dims[2]
	if n <= 0 || len(s.Chunks) != n {
		return nil, fmt.Errorf("snapshot has %d chunks for dims %v", len(s.Chunks), dims)
	}
	flat := make([]byte, n*terrain.ChunkVolume)
	for _, c := range s.Chunks {
		if c.Index < 0 || c.Index >= n {
			return nil, fmt.Errorf("snapshot chunk index %d out of range", c.Index)
		}
		voxels, err := encoding.DecodeRLE(c.RLE, terrain.ChunkVolume)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		if len(voxels) != terrain.ChunkVolume {
			return nil, fmt.Errorf("chunk %d: %d voxels want %d", c.Index, len(voxels), terrain.ChunkVolume)
		}
		copy(flat[c.Index*terrain.ChunkVolume:], voxels)
	}
	g, err := terrain.LoadGrid(dims, flat, history)
	if err != nil {
		return nil, err
	}
	for _, c := range s.Chunks {
		if got := g.Chunk(c.Index).Digest(); got != c.Digest {
			return nil, fmt.Errorf("chunk %d digest %016x want %016x", c.Index, got, c.Digest)
		}
	}
	if s.Header.Digest != "" {
		if got := FormatDigest(g.Digest()); got != s.Header.Digest {
			return nil, fmt.Errorf("world digest %s want %s", got, s.Header.Digest)
		}
	}
	return g, nil
}

// FileName is the on-disk name of the snapshot taken at tick.
func FileName(tick uint64) string {
	return strconv.FormatUint(tick, 10) + ".snap.zst"
}

// Latest returns the path of the highest-tick snapshot in dir.
func Latest(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var (
		best  uint64
		found string
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if found == "" || tick > best {
			best, found = tick, filepath.Join(dir, name)
		}
	}
	return found, found != "", nil
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line duplicates snap.Header; it exists for cheap inspection.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
