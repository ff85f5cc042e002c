// Package codec implements the JSON encode/decode contract used for
// every Message.data and Chat.metadata payload: round-trips arbitrary
// JSON values, normalizing NaN/+Inf/-Inf to null and -0 to 0 on encode.
package codec

import (
	"bytes"
	"encoding/json"
	"math"
)

// Encode marshals v to a JSON string after normalizing non-finite
// floats and negative zero. v is typically the generic representation
// produced by Decode (map[string]any, []any, string, float64, bool,
// nil) but arbitrary json.Marshal-able values are accepted.
func Encode(v any) (string, error) {
	normalized := normalize(v)
	buf, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// Decode parses a JSON string into the generic any representation
// (numbers become float64, objects become map[string]any, and so on).
// An empty string decodes to nil.
func Decode(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber() // preserved only transiently; fromNumber() converts back below
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalize(fromNumber(v)), nil
}

// normalize walks a decoded-or-about-to-be-encoded JSON value,
// replacing NaN/+Inf/-Inf floats with nil and negative zero with 0,
// per spec.md §4.A.
func normalize(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		if x == 0 {
			return float64(0) // collapses -0 to 0
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// fromNumber converts json.Number leaves (produced by UseNumber) back
// into float64 so normalize's type switch above sees plain numbers.
func fromNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0.0
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = fromNumber(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = fromNumber(val)
		}
		return out
	default:
		return v
	}
}

// ContentOf extracts the text search should index from a decoded
// Message.data value: the string verbatim if data is a string,
// otherwise its JSON form (spec.md §4.C).
func ContentOf(data any) string {
	if s, ok := data.(string); ok {
		return s
	}
	encoded, err := Encode(data)
	if err != nil {
		return ""
	}
	return encoded
}
