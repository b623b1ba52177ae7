package overlaycache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Serializer turns mutations into opaque payloads and back. Decoding must
// return field values in the set accepted by SaveOverlays.
type Serializer interface {
	EncodeMutation(buf []byte, m *Mutation) ([]byte, error)
	DecodeMutation(data []byte) (Mutation, error)
}

type encodingMethod int

const (
	MsgPack encodingMethod = iota
	JSON

	defaultSerializer = MsgPack
)

var _ Serializer = MsgPack

func (enc encodingMethod) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("encoding(%d)", int(enc))
	}
}

func (enc encodingMethod) EncodeMutation(buf []byte, m *Mutation) ([]byte, error) {
	switch enc {
	case MsgPack:
		bb := bytesBuilder{buf}
		e := msgpack.GetEncoder()
		e.Reset(&bb)
		e.SetSortMapKeys(true)
		err := e.Encode(m)
		msgpack.PutEncoder(e)
		if err != nil {
			return buf, fmt.Errorf("failed to encode mutation using MsgPack: %w", err)
		}
		return bb.Buf, nil
	case JSON:
		jm := *m
		jm.Fields = jsonFields(m.Fields)
		raw, err := json.Marshal(&jm)
		if err != nil {
			return buf, fmt.Errorf("failed to encode mutation to JSON: %w", err)
		}
		return appendRaw(buf, raw), nil
	default:
		panic("unsupported encoding")
	}
}

func (enc encodingMethod) DecodeMutation(data []byte) (Mutation, error) {
	var m Mutation
	switch enc {
	case MsgPack:
		var r bytes.Reader
		r.Reset(data)
		d := msgpack.GetDecoder()
		d.Reset(&r)
		d.UseLooseInterfaceDecoding(true)
		err := d.Decode(&m)
		msgpack.PutDecoder(d)
		if err != nil {
			return Mutation{}, dataErrf(data, 0, fmt.Errorf("%w: %w", ErrDecode, err), "msgpack")
		}
	case JSON:
		d := json.NewDecoder(bytes.NewReader(data))
		d.UseNumber()
		err := d.Decode(&m)
		if err == nil {
			if _, terr := d.Token(); terr != io.EOF {
				err = errors.New("trailing data")
			}
		}
		if err != nil {
			return Mutation{}, dataErrf(data, 0, fmt.Errorf("%w: %w", ErrDecode, err), "json")
		}
	default:
		panic("unsupported encoding")
	}
	if m.Kind < MutationSet || m.Kind > MutationVerify {
		return Mutation{}, dataErrf(data, 0, ErrDecode, "invalid mutation kind %d", int(m.Kind))
	}
	if err := canonicalizeFields(m.Fields); err != nil {
		return Mutation{}, dataErrf(data, 0, fmt.Errorf("%w: %w", ErrDecode, err), "%v", enc)
	}
	return m, nil
}
