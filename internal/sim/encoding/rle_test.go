package encoding

import "testing"

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint8, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 200)
	}
	in = append(in, 9, 254, 254, 254)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc, len(in))
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_RejectsOverLimit(t *testing.T) {
	enc := EncodeRLE(make([]uint8, 64))
	if _, err := DecodeRLE(enc, 63); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := DecodeRLE([]byte{0x80}, 10); err == nil {
		t.Fatalf("expected varint error")
	}
}
