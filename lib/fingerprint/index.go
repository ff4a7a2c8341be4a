// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marbre/therock/lib/codec"
	"github.com/marbre/therock/lib/errdefs"
)

// Index is the scheduler's persisted record of the last successful
// fingerprint per artifact. It lets a new run diff previous against
// current fingerprints without stat-ing every bundle. The index is a
// cache: losing it costs one re-check, never correctness, because
// the per-bundle fingerprint files remain authoritative.
//
// Encoded as deterministic CBOR (lib/codec) so rewriting an unchanged
// index produces identical bytes.
type Index struct {
	// Fingerprints maps artifact bundle name to hex fingerprint.
	Fingerprints map[string]string `cbor:"fingerprints"`
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{Fingerprints: make(map[string]string)}
}

// Get returns the recorded fingerprint for an artifact, or Invalid
// when none is recorded.
func (x *Index) Get(artifact string) Fingerprint {
	hexString, ok := x.Fingerprints[artifact]
	if !ok {
		return Invalid
	}
	f, err := Parse(hexString)
	if err != nil {
		return Invalid
	}
	return f
}

// Put records a fingerprint. An invalid fingerprint removes the
// entry, mirroring the on-disk file semantics.
func (x *Index) Put(artifact string, f Fingerprint) {
	if !f.Valid() {
		delete(x.Fingerprints, artifact)
		return
	}
	x.Fingerprints[artifact] = f.String()
}

// LoadIndex reads an index file. A missing file yields an empty
// index; a corrupt file is an environment error (the scheduler should
// not silently discard state it cannot read; the operator deletes
// the file explicitly).
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndex(), nil
		}
		return nil, errdefs.Environment(path, fmt.Errorf("reading fingerprint index: %w", err))
	}

	var index Index
	if err := codec.Unmarshal(data, &index); err != nil {
		return nil, errdefs.Environment(path, fmt.Errorf("decoding fingerprint index: %w", err))
	}
	if index.Fingerprints == nil {
		index.Fingerprints = make(map[string]string)
	}
	return &index, nil
}

// Save writes the index atomically.
func (x *Index) Save(path string) error {
	data, err := codec.Marshal(x)
	if err != nil {
		return fmt.Errorf("encoding fingerprint index: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.Environment(path, fmt.Errorf("creating index directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".fingerprint-index-*")
	if err != nil {
		return errdefs.Environment(path, fmt.Errorf("creating temp index: %w", err))
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errdefs.Environment(path, fmt.Errorf("writing index: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errdefs.Environment(path, fmt.Errorf("closing index: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errdefs.Environment(path, fmt.Errorf("renaming index: %w", err))
	}
	success = true
	return nil
}
