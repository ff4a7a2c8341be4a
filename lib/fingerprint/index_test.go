// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marbre/therock/lib/hashutil"
)

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprints.cbor")

	index := NewIndex()
	f := FromHash(hashutil.HashFingerprint([]byte("x")))
	index.Put("core-runtime_lib_generic", f)

	if err := index.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadIndex(path)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if got := loaded.Get("core-runtime_lib_generic"); got != f {
		t.Errorf("Get = %v, want %v", got, f)
	}
}

func TestIndexMissingFileIsEmpty(t *testing.T) {
	index, err := LoadIndex(filepath.Join(t.TempDir(), "absent.cbor"))
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if index.Get("anything").Valid() {
		t.Error("empty index returned a valid fingerprint")
	}
}

func TestIndexPutInvalidRemoves(t *testing.T) {
	index := NewIndex()
	index.Put("artifact", FromHash(hashutil.HashFingerprint([]byte("x"))))
	index.Put("artifact", Invalid)
	if index.Get("artifact").Valid() {
		t.Error("Put(Invalid) should remove the entry")
	}
}

func TestIndexSaveDeterministic(t *testing.T) {
	dir := t.TempDir()
	index := NewIndex()
	for _, name := range []string{"b", "a", "c"} {
		index.Put(name, FromHash(hashutil.HashFingerprint([]byte(name))))
	}

	first := filepath.Join(dir, "first.cbor")
	second := filepath.Join(dir, "second.cbor")
	if err := index.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := index.Save(second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	firstBytes, _ := os.ReadFile(first)
	secondBytes, _ := os.ReadFile(second)
	if string(firstBytes) != string(secondBytes) {
		t.Error("index encoding is not deterministic")
	}
}

func TestIndexCorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprints.cbor")
	if err := os.WriteFile(path, []byte("\xff\xff not cbor"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadIndex(path); err == nil {
		t.Error("corrupt index should error, not silently reset")
	}
}
