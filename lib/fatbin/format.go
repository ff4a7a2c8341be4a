// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package fatbin decomposes fat binaries (single compiled files
// embedding code objects for multiple hardware architectures behind
// one host-visible entry point) into a host-only generic remainder
// plus per-architecture code object payloads.
//
// The on-disk container is the offload bundle layout: a magic string,
// an entry table of (offset, size, target ID) triples, and the raw
// code object payloads. Host entries carry target IDs beginning
// "host-"; device entries carry an offload-kind-prefixed target
// triple whose architecture identifier follows the "--" separator
// (for example "hipv4-amdgcn-amd-amdhsa--gfx90a").
//
// Splitting replaces each device payload in the generic copy with a
// small locator naming the companion file the payload was extracted
// to. Merging the generic bundle with one architecture's bundle at
// install time puts the companion next to the binary, where the
// locator points.
package fatbin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Magic identifies an offload bundle container.
const Magic = "__CLANG_OFFLOAD_BUNDLE__"

// ErrNotFatBinary is returned when a file declared fat does not carry
// the offload bundle container layout. Callers surface this as a
// configuration error: the split database is presumed authoritative.
var ErrNotFatBinary = errors.New("not an offload bundle container")

// hostPrefix marks target IDs whose payload is host code.
const hostPrefix = "host-"

// archSeparator separates the architecture identifier from the rest
// of a device target ID.
const archSeparator = "--"

// Entry is one code object in an offload bundle.
type Entry struct {
	// TargetID identifies the payload's target, e.g.
	// "host-x86_64-unknown-linux-gnu" or
	// "hipv4-amdgcn-amd-amdhsa--gfx90a".
	TargetID string

	// Payload is the raw code object bytes.
	Payload []byte
}

// Bundle is a parsed offload bundle: an ordered list of entries.
// Entry order is preserved through strip/recombine round trips.
type Bundle struct {
	Entries []Entry
}

// IsHost reports whether a target ID names the host code object.
func IsHost(targetID string) bool {
	return strings.HasPrefix(targetID, hostPrefix)
}

// ArchOf extracts the architecture identifier from a device target
// ID: the substring after the "--" separator. Returns "" when the ID
// carries no architecture (host IDs, malformed IDs).
func ArchOf(targetID string) string {
	if IsHost(targetID) {
		return ""
	}
	idx := strings.LastIndex(targetID, archSeparator)
	if idx < 0 {
		return ""
	}
	return targetID[idx+len(archSeparator):]
}

// IsFatBinary reports whether data begins with the offload bundle
// magic.
func IsFatBinary(data []byte) bool {
	return len(data) >= len(Magic) && string(data[:len(Magic)]) == Magic
}

// Parse decodes an offload bundle container.
func Parse(data []byte) (*Bundle, error) {
	if !IsFatBinary(data) {
		return nil, ErrNotFatBinary
	}

	cursor := len(Magic)
	readUint64 := func() (uint64, error) {
		if cursor+8 > len(data) {
			return 0, fmt.Errorf("%w: truncated header", ErrNotFatBinary)
		}
		v := binary.LittleEndian.Uint64(data[cursor:])
		cursor += 8
		return v, nil
	}

	count, err := readUint64()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: zero entries", ErrNotFatBinary)
	}
	// Each table row is at least 24 bytes, so a count the remaining
	// bytes cannot hold is corrupt. This also bounds the allocation
	// below.
	if count > uint64(len(data)-cursor)/24 {
		return nil, fmt.Errorf("%w: entry count %d exceeds file size", ErrNotFatBinary, count)
	}

	bundle := &Bundle{Entries: make([]Entry, 0, count)}
	for i := uint64(0); i < count; i++ {
		offset, err := readUint64()
		if err != nil {
			return nil, err
		}
		size, err := readUint64()
		if err != nil {
			return nil, err
		}
		idLength, err := readUint64()
		if err != nil {
			return nil, err
		}
		// Bounds are compared in uint64 before any conversion to int:
		// hostile header fields must not wrap into valid-looking
		// slice indices.
		if idLength > uint64(len(data)-cursor) {
			return nil, fmt.Errorf("%w: truncated target ID", ErrNotFatBinary)
		}
		targetID := string(data[cursor : cursor+int(idLength)])
		cursor += int(idLength)

		if offset > uint64(len(data)) || size > uint64(len(data))-offset {
			return nil, fmt.Errorf("%w: entry %s points past end of file", ErrNotFatBinary, targetID)
		}
		bundle.Entries = append(bundle.Entries, Entry{
			TargetID: targetID,
			Payload:  data[offset : offset+size],
		})
	}
	return bundle, nil
}

// ReadFile reads and parses an offload bundle file.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	bundle, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bundle, nil
}

// Encode serializes the bundle back into container bytes. Encoding is
// deterministic: the entry table and payloads follow entry order, so
// parse → encode round trips byte-identically for containers this
// package wrote.
func (b *Bundle) Encode() []byte {
	headerSize := len(Magic) + 8
	for _, entry := range b.Entries {
		headerSize += 24 + len(entry.TargetID)
	}

	var buffer bytes.Buffer
	buffer.WriteString(Magic)

	writeUint64 := func(v uint64) {
		var scratch [8]byte
		binary.LittleEndian.PutUint64(scratch[:], v)
		buffer.Write(scratch[:])
	}

	writeUint64(uint64(len(b.Entries)))
	offset := uint64(headerSize)
	for _, entry := range b.Entries {
		writeUint64(offset)
		writeUint64(uint64(len(entry.Payload)))
		writeUint64(uint64(len(entry.TargetID)))
		buffer.WriteString(entry.TargetID)
		offset += uint64(len(entry.Payload))
	}
	for _, entry := range b.Entries {
		buffer.Write(entry.Payload)
	}
	return buffer.Bytes()
}

// Entry returns the entry with the given target ID, or nil.
func (b *Bundle) Entry(targetID string) *Entry {
	for i := range b.Entries {
		if b.Entries[i].TargetID == targetID {
			return &b.Entries[i]
		}
	}
	return nil
}

// TargetIDs returns the bundle's target IDs in entry order.
func (b *Bundle) TargetIDs() []string {
	ids := make([]string, len(b.Entries))
	for i, entry := range b.Entries {
		ids[i] = entry.TargetID
	}
	return ids
}

// locatorPrefix marks a payload that was extracted to a companion
// file during splitting.
const locatorPrefix = "OFFLOAD_EXTERN:"

// LocatorPayload builds the locator payload naming a companion file.
// The name is a bare filename: the loader resolves it relative to the
// binary's own directory, which is where distribution assembly places
// the architecture bundle's companion files.
func LocatorPayload(companion string) []byte {
	return []byte(locatorPrefix + companion + "\n")
}

// ParseLocator reports whether payload is a locator and, if so, the
// companion filename it names.
func ParseLocator(payload []byte) (string, bool) {
	if !bytes.HasPrefix(payload, []byte(locatorPrefix)) {
		return "", false
	}
	name := strings.TrimSuffix(string(payload[len(locatorPrefix):]), "\n")
	if name == "" || strings.ContainsAny(name, "/\n") {
		return "", false
	}
	return name, true
}
