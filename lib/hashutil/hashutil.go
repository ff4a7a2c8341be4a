// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashutil provides the content hashing used across the
// artifact pipeline: BLAKE3 keyed hashes for build identities
// (descriptor hashes, artifact fingerprints) and streamed SHA-256
// digests for archive checksum sidecars, where compatibility with
// the standard sha256sum tooling matters more than speed.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same input bytes produce different hashes in
// different contexts, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. These are fixed constants; changing them
// invalidates every hash previously computed in that domain. The byte
// values are the ASCII encoding of the domain name, zero-padded to
// 32 bytes, so the keys are inspectable in hex dumps.
var (
	descriptorDomainKey = domainKey{
		't', 'h', 'e', 'r', 'o', 'c', 'k', '.',
		'd', 'e', 's', 'c', 'r', 'i', 'p', 't', 'o', 'r',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	fingerprintDomainKey = domainKey{
		't', 'h', 'e', 'r', 'o', 'c', 'k', '.',
		'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashDescriptor computes the descriptor-domain hash of raw descriptor
// file bytes. This is the descriptor's identity for fingerprinting:
// any byte change to the descriptor changes every dependent artifact
// fingerprint.
func HashDescriptor(data []byte) Hash {
	return keyedHash(descriptorDomainKey, data)
}

// HashFingerprint computes the fingerprint-domain hash of the
// canonical fingerprint input string assembled by lib/fingerprint.
func HashFingerprint(data []byte) Hash {
	return keyedHash(fingerprintDomainKey, data)
}

// FormatHash returns the hex-encoded string representation of a hash.
// This is the canonical format used in fingerprint files, logs, and
// CLI output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// keyedHash computes the BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("hashutil: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// SHA256File computes the SHA-256 digest of the file at path. The file
// is streamed through the hash function (via io.Copy) to keep memory
// usage constant regardless of file size.
func SHA256File(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return [32]byte{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// FormatDigest returns the hex-encoded string representation of a
// SHA-256 digest, as written to checksum sidecar files.
func FormatDigest(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a hex-encoded SHA-256 digest string into a
// 32-byte array.
func ParseDigest(hexString string) ([32]byte, error) {
	var digest [32]byte
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}
