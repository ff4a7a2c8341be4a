// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint computes and persists artifact fingerprints:
// the content-derived identities that decide whether a cached
// artifact bundle may be reused.
//
// A fingerprint covers the artifact's logical name, its descriptor's
// content hash, and the fingerprints of every declared subproject
// dependency. It changes if and only if some transitive input
// changed. A fingerprint is invalid when any dependency's fingerprint
// could not be computed; invalidity propagates and is never silently
// treated as "unchanged": the fingerprint file on disk is removed so
// downstream consumers see "must rebuild".
package fingerprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marbre/therock/lib/errdefs"
	"github.com/marbre/therock/lib/hashutil"
)

// FileSuffix is appended to a bundle directory path to form its
// fingerprint file path: the fingerprint lives next to the bundle,
// not inside it, so bundle manifests stay purely content.
const FileSuffix = ".fingerprint"

// Fingerprint is an artifact's content identity, or the distinguished
// invalid value. The zero value is invalid.
type Fingerprint struct {
	hash  hashutil.Hash
	valid bool
}

// Invalid is the fingerprint of an artifact whose inputs could not
// all be fingerprinted.
var Invalid = Fingerprint{}

// Valid reports whether the fingerprint carries a usable identity.
func (f Fingerprint) Valid() bool { return f.valid }

// String returns the hex form, or "<invalid>" for invalid
// fingerprints (for logs; never persisted).
func (f Fingerprint) String() string {
	if !f.valid {
		return "<invalid>"
	}
	return hashutil.FormatHash(f.hash)
}

// FromHash wraps an already-computed hash as a valid fingerprint.
func FromHash(hash hashutil.Hash) Fingerprint {
	return Fingerprint{hash: hash, valid: true}
}

// Parse parses the persisted hex form into a valid fingerprint.
func Parse(s string) (Fingerprint, error) {
	hash, err := hashutil.ParseHash(strings.TrimSpace(s))
	if err != nil {
		return Invalid, fmt.Errorf("parsing fingerprint: %w", err)
	}
	return FromHash(hash), nil
}

// Dep names one declared subproject dependency and its fingerprint.
type Dep struct {
	Name        string
	Fingerprint Fingerprint
}

// Compute derives the fingerprint for an artifact from its logical
// name, its descriptor's content hash, and its dependency
// fingerprints. The hash input is the ordered concatenation of
// "ARTIFACT=<name>", "DESCRIPTOR=<hex>", and "<dep>=<hex>" lines with
// dependencies sorted by name, so the result is stable across runs
// regardless of declaration order.
//
// If any dependency fingerprint is invalid, the result is Invalid.
// Compute never fails for business-logic reasons.
func Compute(artifactName string, descriptorHash hashutil.Hash, deps []Dep) Fingerprint {
	sorted := make([]Dep, len(deps))
	copy(sorted, deps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var input strings.Builder
	fmt.Fprintf(&input, "ARTIFACT=%s\n", artifactName)
	fmt.Fprintf(&input, "DESCRIPTOR=%s\n", hashutil.FormatHash(descriptorHash))
	for _, dep := range sorted {
		if !dep.Fingerprint.Valid() {
			return Invalid
		}
		fmt.Fprintf(&input, "%s=%s\n", dep.Name, dep.Fingerprint.String())
	}

	return FromHash(hashutil.HashFingerprint([]byte(input.String())))
}

// FilePath returns the fingerprint file path for a bundle directory.
func FilePath(bundleDir string) string {
	return strings.TrimSuffix(bundleDir, string(os.PathSeparator)) + FileSuffix
}

// WriteFile persists the fingerprint for a bundle directory. A valid
// fingerprint is written atomically (temp file + rename); an invalid
// fingerprint removes any existing file instead, so staleness can
// never be mistaken for validity. Only I/O failures error.
func WriteFile(bundleDir string, f Fingerprint) error {
	path := FilePath(bundleDir)

	if !f.Valid() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errdefs.Environment(path, fmt.Errorf("removing stale fingerprint: %w", err))
		}
		return nil
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fingerprint-*")
	if err != nil {
		return errdefs.Environment(path, fmt.Errorf("creating temp fingerprint: %w", err))
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(f.String() + "\n"); err != nil {
		tmp.Close()
		return errdefs.Environment(path, fmt.Errorf("writing fingerprint: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errdefs.Environment(path, fmt.Errorf("closing fingerprint: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errdefs.Environment(path, fmt.Errorf("renaming fingerprint: %w", err))
	}
	success = true
	return nil
}

// ReadFile reads the persisted fingerprint for a bundle directory.
// Absence means "must rebuild" and returns (Invalid, false, nil); a
// malformed file is treated the same way after removal, since a
// half-written fingerprint must not gate rebuilds.
func ReadFile(bundleDir string) (Fingerprint, bool, error) {
	path := FilePath(bundleDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Invalid, false, nil
		}
		return Invalid, false, errdefs.Environment(path, fmt.Errorf("reading fingerprint: %w", err))
	}

	f, err := Parse(string(data))
	if err != nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return Invalid, false, errdefs.Environment(path, fmt.Errorf("removing malformed fingerprint: %w", err))
		}
		return Invalid, false, nil
	}
	return f, true, nil
}
