package protocol

import "fmt"

// HeaderSize is the encoded header length: one packed word, tick, packet id and
// client id.
const HeaderSize = SizeU32 + SizeU64 + SizeU64 + SizeU32

// MaxPacketSize is the largest value the 27-bit size field can declare.
const MaxPacketSize = 1<<27 - 1

// Header precedes every datagram.
//
//	word0:     mode:1 | type:4 | total_size:27   (bit 0 is mode)
//	tick:      u64
//	packet_id: u64
//	client_id: u32
type Header struct {
	Dir      Direction
	Type     Type
	Size     uint32 // total bytes including the header
	Tick     uint64
	PacketID uint64
	ClientID uint32
}

func (h Header) Kind() Kind { return Kind{Dir: h.Dir, Type: h.Type} }

func (h Header) word() uint32 {
	return uint32(h.Dir&1) | uint32(h.Type&0xF)<<1 | (h.Size&MaxPacketSize)<<5
}

func (h Header) Marshal(w *Writer) {
	w.U32(h.word())
	w.U64(h.Tick)
	w.U64(h.PacketID)
	w.U32(h.ClientID)
}

func (h *Header) Unmarshal(r *Reader) {
	word := r.U32()
	h.Dir = Direction(word & 1)
	h.Type = Type((word >> 1) & 0xF)
	h.Size = word >> 5
	h.Tick = r.U64()
	h.PacketID = r.U64()
	h.ClientID = r.U32()
}

// PeekHeader decodes only the header of b and checks the declared size against
// len(b).
func PeekHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes, header needs %d: %w", ErrMalformedPacket, len(b), HeaderSize, ErrTruncatedPacket)
	}
	h.Unmarshal(NewReader(b[:HeaderSize]))
	if int(h.Size) != len(b) {
		return h, fmt.Errorf("%w: declared size %d, received %d", ErrMalformedPacket, h.Size, len(b))
	}
	return h, nil
}
