// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package hashutil

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func TestDomainSeparation(t *testing.T) {
	data := []byte("components: runtime, headers")
	if HashDescriptor(data) == HashFingerprint(data) {
		t.Error("descriptor and fingerprint domains produced the same hash for identical input")
	}
}

func TestHashDeterministic(t *testing.T) {
	data := []byte("ARTIFACT=core-runtime")
	if HashFingerprint(data) != HashFingerprint(data) {
		t.Error("HashFingerprint is not deterministic")
	}
}

func TestHashSensitivity(t *testing.T) {
	a := HashDescriptor([]byte("a"))
	b := HashDescriptor([]byte("b"))
	if a == b {
		t.Error("different inputs produced identical descriptor hashes")
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	hash := HashDescriptor([]byte("round trip"))
	parsed, err := ParseHash(FormatHash(hash))
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != hash {
		t.Errorf("round trip mismatch: %x != %x", parsed, hash)
	}
}

func TestParseHashRejectsBadInput(t *testing.T) {
	if _, err := ParseHash("zz"); err == nil {
		t.Error("ParseHash should reject non-hex input")
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Error("ParseHash should reject short input")
	}
}

func TestSHA256File(t *testing.T) {
	content := []byte("archive bytes")
	path := filepath.Join(t.TempDir(), "bundle.tar.xz")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File: %v", err)
	}
	want := sha256.Sum256(content)
	if got != want {
		t.Errorf("SHA256File = %x, want %x", got, want)
	}
}

func TestSHA256FileNonexistent(t *testing.T) {
	if _, err := SHA256File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("SHA256File should fail for a missing file")
	}
}

func TestFormatParseDigestRoundTrip(t *testing.T) {
	digest := sha256.Sum256([]byte("sidecar"))
	parsed, err := ParseDigest(FormatDigest(digest))
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != digest {
		t.Errorf("digest round trip mismatch")
	}
}
