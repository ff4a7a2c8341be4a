// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle defines the artifact bundle layout shared by the
// slicer, the architecture splitter, the distribution assembler, and
// the archive writer.
//
// A bundle is a directory named <slice>_<component>[_<scope>] holding
// the files selected for one artifact component at one target scope.
// The scope is either "generic" (target-neutral or host-only content)
// or a hardware architecture family identifier. A bundle is complete
// exactly when its manifest file exists: the manifest is written last,
// atomically, after every file is in place, so a crashed or cancelled
// producer leaves a directory that downstream stages correctly treat
// as incomplete.
package bundle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marbre/therock/lib/errdefs"
)

// ManifestFilename is the manifest file written inside each bundle
// directory. Its presence is the sole completion signal consumed by
// downstream stages.
const ManifestFilename = "artifact_manifest.txt"

// ScopeGeneric is the target scope for target-neutral bundles.
const ScopeGeneric = "generic"

// Name returns the canonical bundle directory (and archive) base name
// for a slice, artifact component, and target scope. An empty scope
// produces the two-part form used for unsplit intermediates.
func Name(slice, component, scope string) string {
	if scope == "" {
		return slice + "_" + component
	}
	return slice + "_" + component + "_" + scope
}

// WriteManifest writes the bundle manifest enumerating the given
// relative paths. Paths are normalized to slash separators, sorted,
// and written one per line. The write is atomic (temp file + rename in
// the bundle directory) so a partially-written manifest can never be
// observed as complete.
//
// Duplicate paths indicate a producer bug and fail the write.
func WriteManifest(bundleDir string, paths []string) error {
	normalized := make([]string, len(paths))
	for i, p := range paths {
		normalized[i] = filepath.ToSlash(p)
	}
	sort.Strings(normalized)

	for i := 1; i < len(normalized); i++ {
		if normalized[i] == normalized[i-1] {
			return fmt.Errorf("manifest for %s lists %q twice", bundleDir, normalized[i])
		}
	}

	tmp, err := os.CreateTemp(bundleDir, ".manifest-*")
	if err != nil {
		return errdefs.Environment(bundleDir, fmt.Errorf("creating temp manifest: %w", err))
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	writer := bufio.NewWriter(tmp)
	for _, p := range normalized {
		if _, err := writer.WriteString(p + "\n"); err != nil {
			tmp.Close()
			return errdefs.Environment(bundleDir, fmt.Errorf("writing manifest: %w", err))
		}
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return errdefs.Environment(bundleDir, fmt.Errorf("flushing manifest: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errdefs.Environment(bundleDir, fmt.Errorf("closing manifest: %w", err))
	}

	if err := os.Rename(tmpPath, filepath.Join(bundleDir, ManifestFilename)); err != nil {
		return errdefs.Environment(bundleDir, fmt.Errorf("renaming manifest: %w", err))
	}
	success = true
	return nil
}

// ReadManifest reads a bundle's manifest and returns the listed
// relative paths in manifest (sorted) order. A missing manifest is an
// InputNotReadyError: the bundle is incomplete and must be
// regenerated by its producer.
//
// Every path must be clean, slash-separated, and strictly inside the
// bundle. Consumers materialize manifest entries into other trees, so
// a tampered manifest must not be able to reach outside them.
func ReadManifest(bundleDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, ManifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.InputNotReady(bundleDir, "bundle manifest missing")
		}
		return nil, errdefs.Environment(bundleDir, fmt.Errorf("reading manifest: %w", err))
	}

	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !validManifestPath(line) {
			return nil, errdefs.Environment(bundleDir, fmt.Errorf("manifest lists invalid path %q", line))
		}
		paths = append(paths, line)
	}
	return paths, nil
}

// validManifestPath reports whether p is a clean relative path that
// stays inside the bundle directory.
func validManifestPath(p string) bool {
	if p == "" || path.IsAbs(p) || path.Clean(p) != p {
		return false
	}
	return p != "." && p != ".." && !strings.HasPrefix(p, "../")
}

// IsComplete reports whether the bundle's manifest exists.
func IsComplete(bundleDir string) bool {
	_, err := os.Stat(filepath.Join(bundleDir, ManifestFilename))
	return err == nil
}

// Remove deletes a bundle directory and its sibling split marker.
// The fingerprint sibling is owned by the fingerprint layer and is
// not touched here.
func Remove(bundleDir string) error {
	if err := os.RemoveAll(bundleDir); err != nil {
		return errdefs.Environment(bundleDir, fmt.Errorf("removing bundle: %w", err))
	}
	if err := os.Remove(SplitMarkerPath(bundleDir)); err != nil && !os.IsNotExist(err) {
		return errdefs.Environment(bundleDir, fmt.Errorf("removing split marker: %w", err))
	}
	return nil
}

// Fresh prepares bundleDir as a new, empty bundle directory, removing
// any previous contents first: the stale manifest and any leftover
// split marker, which would otherwise let an old split's successors
// pass the up-to-date check after a re-slice. Exclusive
// ownership of the directory by one producing invocation is the
// caller's contract.
func Fresh(bundleDir string) error {
	if err := Remove(bundleDir); err != nil {
		return err
	}
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return errdefs.Environment(bundleDir, fmt.Errorf("creating bundle directory: %w", err))
	}
	return nil
}

// LinkOrCopy materializes src at dst, creating parent directories as
// needed. A hard link is attempted first (bundles and staged trees
// normally share a filesystem, making materialization free); on
// failure the file is copied with its mode bits preserved.
func LinkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errdefs.Environment(dst, fmt.Errorf("creating parent directory: %w", err))
	}

	// A leftover destination would make os.Link fail and a copy
	// append-truncate over a hard link would write through to the
	// source, so remove it first.
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return errdefs.Environment(dst, fmt.Errorf("removing stale file: %w", err))
	}

	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

// copyFile copies src to dst preserving the file mode.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errdefs.Environment(src, fmt.Errorf("stat: %w", err))
	}

	in, err := os.Open(src)
	if err != nil {
		return errdefs.Environment(src, fmt.Errorf("opening: %w", err))
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errdefs.Environment(dst, fmt.Errorf("creating: %w", err))
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errdefs.Environment(dst, fmt.Errorf("copying: %w", err))
	}
	if err := out.Close(); err != nil {
		return errdefs.Environment(dst, fmt.Errorf("closing: %w", err))
	}
	return nil
}

// SplitMarkerPath returns the path of the split marker for a bundle
// directory. The architecture splitter writes the marker next to the
// unsplit intermediate once splitting succeeds; the archive writer
// refuses bundles carrying it, because the split outputs supersede
// the unsplit directory.
func SplitMarkerPath(bundleDir string) string {
	return strings.TrimSuffix(bundleDir, string(os.PathSeparator)) + ".split"
}

// WriteSplitMarker records that bundleDir has been decomposed into
// the named successor bundles.
func WriteSplitMarker(bundleDir string, successors []string) error {
	var builder strings.Builder
	for _, s := range successors {
		builder.WriteString(s)
		builder.WriteByte('\n')
	}
	if err := os.WriteFile(SplitMarkerPath(bundleDir), []byte(builder.String()), 0o644); err != nil {
		return errdefs.Environment(bundleDir, fmt.Errorf("writing split marker: %w", err))
	}
	return nil
}

// ReadSplitMarker returns the successor bundle names recorded by the
// split of bundleDir. A missing marker is an InputNotReadyError: the
// bundle has not been split yet.
func ReadSplitMarker(bundleDir string) ([]string, error) {
	data, err := os.ReadFile(SplitMarkerPath(bundleDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.InputNotReady(bundleDir, "bundle not split yet")
		}
		return nil, errdefs.Environment(bundleDir, fmt.Errorf("reading split marker: %w", err))
	}
	var successors []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			successors = append(successors, line)
		}
	}
	return successors, nil
}

// IsSplitStale reports whether bundleDir is the unsplit intermediate
// of a target-split slice.
func IsSplitStale(bundleDir string) bool {
	_, err := os.Stat(SplitMarkerPath(bundleDir))
	return err == nil
}
