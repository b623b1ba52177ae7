package overlaycache

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3
	vfChecksum

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = (vfVer1 | vfChecksum)
	vfDefault       = vfVer1 | vfChecksum

	checksumSize = 8
	minValueSize = 3
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

// overlayValue is the value stored under an overlay key:
//
//	flags:uvarint batch:varint len:uvarint mutation:bytes checksum:64?
//
// The checksum is xxhash64 of everything before it.
type overlayValue struct {
	Flags          valueFlags
	LargestBatchID int
	Mutation       []byte
}

func appendOverlayValue(buf []byte, flags valueFlags, largestBatchID int, mutation []byte) []byte {
	if (flags &^ vfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	start := len(buf)
	buf = appendUvarint(buf, uint64(flags))
	buf = appendVarint(buf, int64(largestBatchID))
	buf = appendVarbytes(buf, mutation)
	if flags&vfChecksum != 0 {
		buf = appendUint64(buf, xxhash.Sum64(buf[start:]))
	}
	return buf
}

func (vle *overlayValue) decode(data []byte) error {
	if len(data) < minValueSize {
		return dataErrf(data, 0, ErrCorruptRecord, "invalid value: at least %d bytes required", minValueSize)
	}
	d := makeByteDecoder(data)

	v, err := d.Uvarint()
	if err != nil {
		return corruptRecord(err)
	}
	if (v &^ uint64(vfSupportedMask)) != 0 {
		return dataErrf(data, 0, ErrCorruptRecord, "invalid value: unsupported flags %x", v)
	}
	vle.Flags = valueFlags(v)
	if vle.Flags.ver() != vfVer1 {
		return dataErrf(data, 0, ErrCorruptRecord, "invalid value: unsupported version %d", vle.Flags.ver())
	}

	if vle.Flags&vfChecksum != 0 {
		if len(d.Buf) < checksumSize {
			return dataErrf(data, d.Off(), ErrCorruptRecord, "invalid value: missing checksum")
		}
		body := data[:len(data)-checksumSize]
		expected := binary.BigEndian.Uint64(data[len(body):])
		if actual := xxhash.Sum64(body); actual != expected {
			return dataErrf(data, len(body), ErrCorruptRecord, "invalid value: checksum %016x, expected %016x", actual, expected)
		}
		d.Buf = d.Buf[:len(d.Buf)-checksumSize]
	}

	batchID, err := d.Varint()
	if err != nil {
		return corruptRecord(err)
	}
	vle.LargestBatchID = int(batchID)

	vle.Mutation, err = d.VarBytes()
	if err != nil {
		return corruptRecord(err)
	}
	if !d.Done() {
		return dataErrf(data, d.Off(), ErrCorruptRecord, "invalid value: %d trailing bytes", len(d.Buf))
	}
	return nil
}

func corruptRecord(err error) error {
	if de, ok := err.(*DataError); ok && de.Err == nil {
		de.Err = ErrCorruptRecord
		return de
	}
	return fmt.Errorf("%w: %w", ErrCorruptRecord, err)
}
