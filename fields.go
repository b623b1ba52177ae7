package overlaycache

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Mutation field values are limited to nil, bool, int64, float64, string,
// and []any or map[string]any holding the same. Every Serializer decodes
// them back into exactly these types.

func (m *Mutation) validate() error {
	if m.Kind < MutationSet || m.Kind > MutationVerify {
		return fmt.Errorf("%w: invalid kind %d", ErrInvalidMutation, int(m.Kind))
	}
	for k, v := range m.Fields {
		if err := validateFieldValue(v); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func validateFieldValue(v any) error {
	switch v := v.(type) {
	case nil, bool, int64, string:
		return nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite number %v", ErrInvalidMutation, v)
		}
		return nil
	case []any:
		if v == nil {
			return fmt.Errorf("%w: nil []any, use nil", ErrInvalidMutation)
		}
		for i, e := range v {
			if err := validateFieldValue(e); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case map[string]any:
		if v == nil {
			return fmt.Errorf("%w: nil map[string]any, use nil", ErrInvalidMutation)
		}
		for k, e := range v {
			if err := validateFieldValue(e); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported field value type %T", ErrInvalidMutation, v)
	}
}

// canonicalFieldValue converts a freshly decoded value into the field value
// set. Containers are rewritten in place.
func canonicalFieldValue(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, int64, float64, string:
		return v, nil
	case float32:
		return float64(v), nil
	case json.Number:
		s := v.String()
		if strings.ContainsAny(s, ".eE") {
			return v.Float64()
		}
		return v.Int64()
	case []any:
		for i, e := range v {
			c, err := canonicalFieldValue(e)
			if err != nil {
				return nil, err
			}
			v[i] = c
		}
		return v, nil
	case map[string]any:
		return v, canonicalizeFields(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", u)
		}
		return int64(u), nil
	default:
		return nil, fmt.Errorf("unsupported field value type %T", v)
	}
}

func canonicalizeFields(fields map[string]any) error {
	for k, v := range fields {
		c, err := canonicalFieldValue(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = c
	}
	return nil
}

// jsonFieldValue returns a copy of v in which floats always carry a decimal
// point or exponent, so that JSON keeps 1.0 apart from 1.
func jsonFieldValue(v any) any {
	switch v := v.(type) {
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return json.Number(s)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = jsonFieldValue(e)
		}
		return out
	case map[string]any:
		return jsonFields(v)
	default:
		return v
	}
}

func jsonFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = jsonFieldValue(v)
	}
	return out
}
