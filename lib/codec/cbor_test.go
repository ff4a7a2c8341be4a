// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// indexEntry is representative of the fingerprint index record shape.
type indexEntry struct {
	Artifact    string `cbor:"artifact"`
	Fingerprint string `cbor:"fingerprint"`
	Complete    bool   `cbor:"complete"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	original := indexEntry{
		Artifact:    "core-runtime_lib_generic",
		Fingerprint: "a3f9b2c1",
		Complete:    true,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded indexEntry
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, original)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	// Map iteration order is randomized in Go; deterministic encoding
	// must still produce identical bytes on every call.
	value := map[string]string{
		"core-runtime": "aaaa",
		"amd-llvm":     "bbbb",
		"base":         "cccc",
		"sysdeps":      "dddd",
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding is not deterministic: %x != %x", first, again)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	// Encode a superset, decode into the known struct: forward
	// compatibility for cache format additions.
	data, err := Marshal(map[string]any{
		"artifact":    "base_lib_generic",
		"fingerprint": "ffff",
		"complete":    false,
		"added_later": 42,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded indexEntry
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Artifact != "base_lib_generic" || decoded.Fingerprint != "ffff" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDefaultMapType(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"key": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded any is %T, want map[string]any", decoded)
	}
	if _, ok := outer["nested"].(map[string]any); !ok {
		t.Errorf("nested value is %T, want map[string]any", outer["nested"])
	}
}
