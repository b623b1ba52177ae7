package overlaycache

import (
	"errors"
	"math"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func numericFields() map[string]any {
	return map[string]any{
		"small":    int64(42),
		"negative": int64(-7),
		"big":      int64(1) << 40,
		"min":      int64(math.MinInt64),
		"max":      int64(math.MaxInt64),
		"float":    1.5,
		"whole":    2.0,
		"huge":     1e300,
		"tiny":     -5e-324,
		"list":     []any{int64(1), 2.5, "x", nil, []any{}},
		"nested":   map[string]any{"n": int64(200), "f": 0.0},
	}
}

func TestSerializer_RoundTrip(t *testing.T) {
	exists := false
	mutations := []Mutation{
		{Kind: MutationSet, Fields: map[string]any{"a": "b", "n": map[string]any{"x": true}}},
		{Kind: MutationPatch, Fields: map[string]any{"a": "c"}, FieldMask: []string{"a", "z"}},
		{Kind: MutationDelete},
		{Kind: MutationVerify, Precondition: &Precondition{Exists: &exists}},
		{Kind: MutationDelete, Precondition: &Precondition{UpdateTime: 1234567}},
		{Kind: MutationSet, Fields: numericFields()},
	}
	for _, enc := range []encodingMethod{MsgPack, JSON} {
		t.Run(enc.String(), func(t *testing.T) {
			for _, m := range mutations {
				raw, err := enc.EncodeMutation([]byte{0xEE}, &m)
				ensure(err)
				if raw[0] != 0xEE {
					t.Fatalf("EncodeMutation did not append to the buffer")
				}
				got, err := enc.DecodeMutation(raw[1:])
				ensure(err)
				diffEqual(t, got, m)
			}
		})
	}
}

func TestSerializer_MsgPackIsDeterministic(t *testing.T) {
	m := Mutation{Kind: MutationSet, Fields: map[string]any{"z": "1", "a": "2", "m": "3", "b": "4"}}
	first := must(MsgPack.EncodeMutation(nil, &m))
	for range 20 {
		deepEqual(t, hexstr(must(MsgPack.EncodeMutation(nil, &m))), hexstr(first))
	}
}

func TestSerializer_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		enc  encodingMethod
		raw  []byte
	}{
		{"msgpack garbage", MsgPack, []byte{0xc1}},
		{"msgpack truncated", MsgPack, must(MsgPack.EncodeMutation(nil, &Mutation{Kind: MutationSet, Fields: map[string]any{"a": "b"}}))[:4]},
		{"msgpack invalid kind", MsgPack, must(MsgPack.EncodeMutation(nil, &Mutation{Kind: 42}))},
		{"json garbage", JSON, []byte("{")},
		{"json unknown kind", JSON, []byte(`{"kind":"upsert"}`)},
		{"json missing kind", JSON, []byte(`{}`)},
		{"json trailing data", JSON, []byte(`{"kind":"set"} x`)},
		{"json huge integer", JSON, []byte(`{"kind":"set","fields":{"n":99999999999999999999}}`)},
		{"msgpack huge integer", MsgPack, must(msgpack.Marshal(map[string]any{"k": "set", "f": map[string]any{"n": uint64(math.MaxUint64)}}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.enc.DecodeMutation(tt.raw)
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("DecodeMutation err = %v, wanted ErrDecode", err)
			}
		})
	}
}

func TestSerializer_DecodesCanonicalNumbers(t *testing.T) {
	// payloads written by other encoders use the narrowest wire types
	raw := must(msgpack.Marshal(map[string]any{
		"k": "set",
		"f": map[string]any{"i8": int8(-3), "u8": uint8(200), "u32": uint32(70000), "f32": float32(0.5), "list": []any{uint16(1)}},
	}))
	m := must(MsgPack.DecodeMutation(raw))
	diffEqual(t, m.Fields, map[string]any{"i8": int64(-3), "u8": int64(200), "u32": int64(70000), "f32": 0.5, "list": []any{int64(1)}})

	m = must(JSON.DecodeMutation([]byte(`{"kind":"set","fields":{"i":3,"f":3.0,"e":1e2,"list":[1,{"x":-0.5}]}}`)))
	diffEqual(t, m.Fields, map[string]any{"i": int64(3), "f": 3.0, "e": 100.0, "list": []any{int64(1), map[string]any{"x": -0.5}}})
}

func TestSerializer_JSONKeepsFloatsApart(t *testing.T) {
	m := Mutation{Kind: MutationSet, Fields: map[string]any{"f": 2.0, "i": int64(2), "e": 1e21}}
	deepEqual(t, string(must(JSON.EncodeMutation(nil, &m))), `{"kind":"set","fields":{"e":1e+21,"f":2.0,"i":2}}`)
	if m.Fields["f"] != 2.0 {
		t.Fatalf("EncodeMutation modified the mutation: %v", m.Fields)
	}
}

func TestMutation_Validate(t *testing.T) {
	valid := Mutation{Kind: MutationSet, Fields: numericFields()}
	ensure(valid.validate())

	tests := []struct {
		name string
		m    Mutation
	}{
		{"zero kind", Mutation{}},
		{"unknown kind", Mutation{Kind: 9}},
		{"int", Mutation{Kind: MutationSet, Fields: map[string]any{"n": 42}}},
		{"int32", Mutation{Kind: MutationSet, Fields: map[string]any{"n": int32(42)}}},
		{"uint64", Mutation{Kind: MutationSet, Fields: map[string]any{"n": uint64(42)}}},
		{"float32", Mutation{Kind: MutationSet, Fields: map[string]any{"n": float32(1)}}},
		{"nan", Mutation{Kind: MutationSet, Fields: map[string]any{"n": math.NaN()}}},
		{"inf", Mutation{Kind: MutationSet, Fields: map[string]any{"n": math.Inf(-1)}}},
		{"bytes", Mutation{Kind: MutationSet, Fields: map[string]any{"b": []byte("x")}}},
		{"nested int", Mutation{Kind: MutationSet, Fields: map[string]any{"m": map[string]any{"l": []any{1}}}}},
		{"nil list", Mutation{Kind: MutationSet, Fields: map[string]any{"l": []any(nil)}}},
		{"nil map", Mutation{Kind: MutationSet, Fields: map[string]any{"m": map[string]any(nil)}}},
		{"struct", Mutation{Kind: MutationSet, Fields: map[string]any{"s": struct{}{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.m.validate(); !errors.Is(err, ErrInvalidMutation) {
				t.Fatalf("validate() err = %v, wanted ErrInvalidMutation", err)
			}
		})
	}
}

func TestMutationKind_Text(t *testing.T) {
	var k MutationKind
	ensure(k.UnmarshalText([]byte("verify")))
	deepEqual(t, k, MutationVerify)
	deepEqual(t, string(must(MutationPatch.MarshalText())), "patch")
	if err := k.UnmarshalText([]byte("nope")); err == nil {
		t.Fatalf("UnmarshalText(nope) err = nil, wanted error")
	}
	deepEqual(t, MutationKind(9).String(), "invalid mutation kind 9")
}
