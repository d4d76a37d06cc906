package protocol

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var le = binary.LittleEndian

// Encoded sizes of the primitive values.
const (
	SizeU8   = 1
	SizeU16  = 2
	SizeU32  = 4
	SizeU64  = 8
	SizeF32  = 4
	SizeVec3 = 3 * SizeF32
)

// SizeString is the encoded size of s: its bytes up to the first NUL plus the
// terminator.
func SizeString(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return i + 1
		}
	}
	return len(s) + 1
}

// Writer appends little-endian values to a buffer allocated once from the
// exact byte budget computed by the caller.
type Writer struct {
	buf []byte
}

func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

func (w *Writer) Len() int      { return len(w.buf) }
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) U16(v uint16)  { w.buf = le.AppendUint16(w.buf, v) }
func (w *Writer) U32(v uint32)  { w.buf = le.AppendUint32(w.buf, v) }
func (w *Writer) U64(v uint64)  { w.buf = le.AppendUint64(w.buf, v) }
func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

func (w *Writer) Vec3(v mgl32.Vec3) {
	w.F32(v[0])
	w.F32(v[1])
	w.F32(v[2])
}

// String writes s followed by a NUL. Bytes after an embedded NUL are dropped so
// the reader sees exactly what SizeString accounted for; callers sanitize names
// with SanitizeName first.
func (w *Writer) String(s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			s = s[:i]
			break
		}
	}
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// Raw appends b verbatim; used for fixed-size voxel arrays.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Reader is the mirror of Writer. The first out-of-bounds read records
// ErrTruncatedPacket; later reads return zero values. Callers check Err once
// after decoding a whole packet.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) fail() {
	if r.err == nil {
		r.err = ErrTruncatedPacket
	}
	r.off = len(r.buf)
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail()
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(SizeU8)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U16() uint16 {
	b := r.take(SizeU16)
	if b == nil {
		return 0
	}
	return le.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(SizeU32)
	if b == nil {
		return 0
	}
	return le.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(SizeU64)
	if b == nil {
		return 0
	}
	return le.Uint64(b)
}

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

func (r *Reader) Vec3() mgl32.Vec3 {
	return mgl32.Vec3{r.F32(), r.F32(), r.F32()}
}

// String reads up to and including the next NUL.
func (r *Reader) String() string {
	if r.err != nil {
		return ""
	}
	for i := r.off; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.off:i])
			r.off = i + 1
			return s
		}
	}
	r.fail()
	return ""
}

// Raw fills dst from the buffer.
func (r *Reader) Raw(dst []byte) {
	b := r.take(len(dst))
	if b == nil {
		return
	}
	copy(dst, b)
}

// Count reads a u16 element count and rejects counts above max, or counts
// whose minimum encoded size (elemSize bytes each) exceeds what is left.
func (r *Reader) Count(max, elemSize int) int {
	n := int(r.U16())
	if r.err != nil {
		return 0
	}
	if n > max || n*elemSize > r.Remaining() {
		r.fail()
		return 0
	}
	return n
}

// SanitizeName strips NULs and caps the length to MaxNameLen bytes.
func SanitizeName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s) && len(out) < MaxNameLen; i++ {
		if s[i] != 0 {
			out = append(out, s[i])
		}
	}
	return string(out)
}
