package codec

import (
	"math"
	"testing"
)

func TestEncodeNormalizesNonFiniteFloats(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"NaN", math.NaN(), "null"},
		{"+Inf", math.Inf(1), "null"},
		{"-Inf", math.Inf(-1), "null"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"plain number", 3.5, "3.5"},
		{"nested in map", map[string]any{"x": math.NaN()}, `{"x":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode(%v) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Encode(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeEmptyStringIsNil(t *testing.T) {
	v, err := Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\") error = %v", err)
	}
	if v != nil {
		t.Errorf("Decode(\"\") = %v, want nil", v)
	}
}

func TestDecodeRoundTripsNumbers(t *testing.T) {
	v, err := Decode(`{"a":1,"b":[1,2,3.5]}`)
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Decode result = %T, want map[string]any", v)
	}
	if a, ok := m["a"].(float64); !ok || a != 1 {
		t.Errorf(`m["a"] = %v, want float64(1)`, m["a"])
	}
}

func TestContentOf(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"plain string", "hello", "hello"},
		{"map value", map[string]any{"role": "user"}, `{"role":"user"}`},
		{"nil", nil, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentOf(tt.in); got != tt.want {
				t.Errorf("ContentOf(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
