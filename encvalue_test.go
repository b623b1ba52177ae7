package overlaycache

import (
	"bytes"
	"errors"
	"testing"
)

func TestValueFlags_Ver(t *testing.T) {
	if (vfVer1 | vfChecksum).ver() != vfVer1 {
		t.Fatalf("valueFlags.ver returned unexpected value")
	}
}

func TestOverlayValue_RoundTrip(t *testing.T) {
	for _, flags := range []valueFlags{vfVer1, vfDefault} {
		for _, batch := range []int{-7, 0, 1, 1 << 40} {
			raw := appendOverlayValue([]byte{0xEE}, flags, batch, []byte("payload"))
			var v overlayValue
			if err := v.decode(raw[1:]); err != nil {
				t.Fatalf("decode(flags=%x, batch=%d) failed: %v", flags, batch, err)
			}
			deepEqual(t, v.Flags, flags)
			deepEqual(t, v.LargestBatchID, batch)
			deepEqual(t, string(v.Mutation), "payload")
		}
	}
}

func TestOverlayValue_EmptyMutation(t *testing.T) {
	var v overlayValue
	ensure(v.decode(appendOverlayValue(nil, vfVer1, 3, nil)))
	deepEqual(t, len(v.Mutation), 0)
	deepEqual(t, v.LargestBatchID, 3)
}

func TestOverlayValue_Corrupt(t *testing.T) {
	good := appendOverlayValue(nil, vfDefault, 5, []byte("payload"))

	flipped := bytes.Clone(good)
	flipped[3] ^= 0x01

	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{0x01}},
		{"unsupported flags", x("40 0a 00")},
		{"unsupported version", x("02 0a 00")},
		{"checksum mismatch", flipped},
		{"missing checksum", x("11 0a 00")},
		{"truncated mutation", x("01 0a 05 61")},
		{"trailing bytes", append(appendOverlayValue(nil, vfVer1, 5, nil), 0x42)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v overlayValue
			err := v.decode(tt.raw)
			if !errors.Is(err, ErrCorruptRecord) {
				t.Fatalf("decode err = %v, wanted ErrCorruptRecord", err)
			}
		})
	}
}

func TestAppendOverlayValue_PanicsOnUnsupportedFlags(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	appendOverlayValue(nil, valueFlags(1<<10), 1, nil)
}
