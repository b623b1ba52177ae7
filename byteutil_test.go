package overlaycache

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	_ = bb.WriteByte(4)
	_, _ = bb.Write([]byte{9, 8})

	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 3, 4, 9, 8}) {
		t.Fatalf("bb.Buf = %x, wanted 010203040908", bb.Buf)
	}
}

func TestByteUtil_AppendHelpers(t *testing.T) {
	src := []byte{0xAA, 0xBB, 0xCC}
	buf := appendRaw(nil, src)
	if !reflect.DeepEqual(buf, src) {
		t.Fatalf("appendRaw = %x, wanted %x", buf, src)
	}

	buf = appendUint64(nil, 0x0102030405060708)
	if !reflect.DeepEqual(buf, x("0102030405060708")) {
		t.Fatalf("appendUint64 = %x, wanted 0102030405060708", buf)
	}

	buf = appendVarbytes([]byte{0x77}, src)
	if !reflect.DeepEqual(buf, x("77 03 AABBCC")) {
		t.Fatalf("appendVarbytes = %x, wanted 7703aabbcc", buf)
	}

	d := makeByteDecoder(appendVarint(appendUvarint(nil, 300), -5))
	if v := must(d.Uvarint()); v != 300 {
		t.Fatalf("Uvarint = %d, wanted 300", v)
	}
	if v := must(d.Varint()); v != -5 {
		t.Fatalf("Varint = %d, wanted -5", v)
	}
	if !d.Done() {
		t.Fatalf("Done() = false, wanted true")
	}
}

func TestEnsureCapacity(t *testing.T) {
	buf := ensureCapacity([]byte{1}, 100)
	if cap(buf) < 100 || !reflect.DeepEqual(buf, []byte{1}) {
		t.Fatalf("ensureCapacity = %x (cap %d), wanted 01 with cap >= 100", buf, cap(buf))
	}
	same := ensureCapacity(buf, 10)
	if &same[0] != &buf[0] {
		t.Fatalf("ensureCapacity reallocated a large enough buffer")
	}
}

func TestByteDecoder_Errors(t *testing.T) {
	t.Run("invalid uvarint", func(t *testing.T) {
		d := makeByteDecoder([]byte{0x80}) // continuation bit with no terminator
		_, err := d.Uvarint()
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("Uvarint err = %T %v, wanted *DataError", err, err)
		}
		if de.Off != 0 {
			t.Fatalf("DataError.Off = %d, wanted 0", de.Off)
		}
	})

	t.Run("uvarint overflows int", func(t *testing.T) {
		var b [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(b[:], uint64(math.MaxInt)+1)
		d := makeByteDecoder(b[:n])
		_, err := d.Uvarinti()
		if err == nil {
			t.Fatalf("Uvarinti err = nil, wanted error")
		}
	})

	t.Run("Raw not enough data", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2})
		_, err := d.Raw(3)
		if err == nil {
			t.Fatalf("Raw err = nil, wanted error")
		}
	})

	t.Run("Byte at end", func(t *testing.T) {
		d := makeByteDecoder([]byte{1})
		must(d.Byte())
		var de *DataError
		if _, err := d.Byte(); !errors.As(err, &de) || de.Off != 1 {
			t.Fatalf("Byte err = %v, wanted *DataError at offset 1", err)
		}
	})

	t.Run("Fixed64 truncated", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2, 3})
		if _, err := d.Fixed64(); err == nil {
			t.Fatalf("Fixed64 err = nil, wanted error")
		}
	})
}
