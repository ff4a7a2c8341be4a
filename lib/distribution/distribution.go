// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package distribution assembles install trees: flat merges of
// several complete artifact bundles into one directory, the way the
// bundles' contents will sit on an end user's machine.
//
// Assembly is validate-then-write. Every input bundle must be
// complete and no two bundles may claim the same relative path;
// both conditions are checked against the manifests before the first
// file is materialized, so a failed assembly never leaves a partial
// merge of conflicting inputs behind.
package distribution

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marbre/therock/lib/bundle"
	"github.com/marbre/therock/lib/errdefs"
)

// manifestFilename records, inside the distribution tree, which
// relative paths the last assembly wrote. It drives pruning: a path
// recorded by a previous run but claimed by no current bundle is a
// leftover and is removed.
const manifestFilename = ".dist_manifest"

// Result reports one assembled distribution.
type Result struct {
	// Dir is the distribution tree.
	Dir string

	// Files maps each relative path in the tree to the bundle
	// directory that contributed it.
	Files map[string]string
}

// Assemble merges the given bundles into outRoot/name. Inputs are
// validated first: an incomplete bundle is an InputNotReadyError, an
// unsplit intermediate that has already been split is an
// InputNotReadyError (its split outputs supersede it), and two
// bundles claiming one relative path is an OverlapError. Nothing is
// written until validation passes.
//
// Assembly is idempotent. Files are hard-linked (or copied) from the
// bundles, and paths written by a previous assembly that no current
// bundle claims are pruned.
func Assemble(name string, bundles []string, outRoot string) (*Result, error) {
	owner := make(map[string]string)
	contents := make(map[string][]string, len(bundles))
	for _, bundleDir := range bundles {
		if bundle.IsSplitStale(bundleDir) {
			return nil, errdefs.InputNotReady(bundleDir,
				"bundle was split; assemble its generic and architecture successors instead")
		}
		paths, err := bundle.ReadManifest(bundleDir)
		if err != nil {
			return nil, err
		}
		for _, rel := range paths {
			if first, taken := owner[rel]; taken {
				return nil, &errdefs.OverlapError{
					Path:   rel,
					First:  filepath.Base(first),
					Second: filepath.Base(bundleDir),
				}
			}
			owner[rel] = bundleDir
		}
		contents[bundleDir] = paths
	}

	distDir := filepath.Join(outRoot, name)
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		return nil, errdefs.Environment(distDir, fmt.Errorf("creating distribution directory: %w", err))
	}

	previous, err := readDistManifest(distDir)
	if err != nil {
		return nil, err
	}

	for _, bundleDir := range bundles {
		for _, rel := range contents[bundleDir] {
			src := filepath.Join(bundleDir, filepath.FromSlash(rel))
			dst := filepath.Join(distDir, filepath.FromSlash(rel))
			if err := bundle.LinkOrCopy(src, dst); err != nil {
				return nil, err
			}
		}
	}

	// Prune leftovers from a previous assembly with a different
	// bundle set. Only paths the previous run recorded are touched:
	// files a user dropped into the tree by hand are not ours to
	// delete.
	for _, rel := range previous {
		if _, claimed := owner[rel]; claimed {
			continue
		}
		stale := filepath.Join(distDir, filepath.FromSlash(rel))
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return nil, errdefs.Environment(stale, fmt.Errorf("pruning stale file: %w", err))
		}
		removeEmptyParents(distDir, filepath.Dir(stale))
	}

	if err := writeDistManifest(distDir, owner); err != nil {
		return nil, err
	}
	return &Result{Dir: distDir, Files: owner}, nil
}

// readDistManifest returns the relative paths the previous assembly
// recorded, or nil when the tree is new.
func readDistManifest(distDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(distDir, manifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Environment(distDir, fmt.Errorf("reading distribution manifest: %w", err))
	}
	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// writeDistManifest atomically records the assembled paths.
func writeDistManifest(distDir string, owner map[string]string) error {
	paths := make([]string, 0, len(owner))
	for rel := range owner {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	tmp, err := os.CreateTemp(distDir, ".dist-manifest-*")
	if err != nil {
		return errdefs.Environment(distDir, fmt.Errorf("creating temp manifest: %w", err))
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	writer := bufio.NewWriter(tmp)
	for _, rel := range paths {
		if _, err := writer.WriteString(rel + "\n"); err != nil {
			tmp.Close()
			return errdefs.Environment(distDir, fmt.Errorf("writing manifest: %w", err))
		}
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return errdefs.Environment(distDir, fmt.Errorf("flushing manifest: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errdefs.Environment(distDir, fmt.Errorf("closing manifest: %w", err))
	}
	if err := os.Rename(tmpPath, filepath.Join(distDir, manifestFilename)); err != nil {
		return errdefs.Environment(distDir, fmt.Errorf("renaming manifest: %w", err))
	}
	success = true
	return nil
}

// removeEmptyParents removes now-empty directories left behind by
// pruning, walking up to (but never removing) the distribution root.
func removeEmptyParents(distDir, dir string) {
	for dir != distDir && strings.HasPrefix(dir, distDir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
