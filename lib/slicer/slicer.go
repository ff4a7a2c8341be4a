// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package slicer materializes declared subsets of a component's
// staged install tree into artifact bundle directories.
//
// Slicing owns bundle directories exclusively: each invocation
// recreates its output directories from scratch, hard-links (or
// copies) the selected staged files in deterministic order, and
// writes each bundle's manifest last. Re-slicing unchanged inputs
// therefore yields byte-identical bundles and manifests.
//
// Overlap between artifact components of one slice is validated over
// every component the descriptor declares, not just the requested
// subset, and fails before any manifest is written, so a later
// distribution merge can never silently collide.
package slicer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/marbre/therock/lib/bundle"
	"github.com/marbre/therock/lib/descriptor"
	"github.com/marbre/therock/lib/errdefs"
)

// Request describes one slicing invocation.
type Request struct {
	// SliceName names the slice; it prefixes every produced bundle
	// directory.
	SliceName string

	// Descriptor is the component's validated artifact descriptor.
	Descriptor *descriptor.Descriptor

	// StagedTree is the root of the component's fully-staged install
	// tree (read-only input).
	StagedTree string

	// Components lists the requested artifact component names. Empty
	// means every component the descriptor declares.
	Components []string

	// Scope is the target scope suffix for produced bundle names:
	// bundle.ScopeGeneric for ordinary slices, or empty for the
	// unsplit intermediate of a slice that the architecture splitter
	// will decompose.
	Scope string

	// OutputRoot is the directory bundle directories are created in.
	OutputRoot string
}

// Result reports the produced bundles.
type Result struct {
	// Bundles maps artifact component name to its bundle directory.
	Bundles map[string]string
}

// Slice materializes the requested artifact components. See the
// package comment for the ownership and ordering contract.
func Slice(req Request) (*Result, error) {
	requested := req.Components
	if len(requested) == 0 {
		requested = req.Descriptor.ComponentNames()
	}

	// Resolve every requested component up front so an undeclared
	// name fails before any filesystem work.
	matchers := make(map[string]*descriptor.Component, len(requested))
	for _, name := range requested {
		component, err := req.Descriptor.Component(name)
		if err != nil {
			return nil, err
		}
		matchers[name] = component
	}

	files, err := walkStagedTree(req.StagedTree)
	if err != nil {
		return nil, err
	}

	// Overlap validation runs over all declared components so a
	// collision between two components is caught even when only one
	// of them was requested this invocation.
	selected, err := assign(req.Descriptor, files)
	if err != nil {
		return nil, fmt.Errorf("slice %s: %w", req.SliceName, err)
	}

	result := &Result{Bundles: make(map[string]string, len(requested))}
	for _, name := range requested {
		bundleDir := filepath.Join(req.OutputRoot, bundle.Name(req.SliceName, name, req.Scope))
		if err := materialize(req.StagedTree, bundleDir, selected[name]); err != nil {
			return nil, fmt.Errorf("slice %s component %s: %w", req.SliceName, name, err)
		}
		result.Bundles[name] = bundleDir
	}
	return result, nil
}

// walkStagedTree returns the sorted slash-relative paths of every
// regular file under root. A missing or unreadable root is an
// InputNotReadyError: the external engine has not staged the
// component yet.
func walkStagedTree(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.InputNotReady(root, "staged tree missing")
		}
		return nil, errdefs.Environment(root, fmt.Errorf("stat staged tree: %w", err))
	}
	if !info.IsDir() {
		return nil, errdefs.InputNotReady(root, "staged tree is not a directory")
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return errdefs.Environment(path, fmt.Errorf("walking staged tree: %w", err))
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errdefs.Environment(path, fmt.Errorf("relativizing: %w", err))
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// assign maps every declared component to the files it selects,
// failing with OverlapError when two components claim the same file.
func assign(desc *descriptor.Descriptor, files []string) (map[string][]string, error) {
	declared := desc.ComponentNames()
	selected := make(map[string][]string, len(declared))

	for _, rel := range files {
		owner := ""
		for _, name := range declared {
			component, err := desc.Component(name)
			if err != nil {
				return nil, err
			}
			if !component.Matches(rel) {
				continue
			}
			if owner != "" {
				return nil, &errdefs.OverlapError{Path: rel, First: owner, Second: name}
			}
			owner = name
			selected[name] = append(selected[name], rel)
		}
	}
	return selected, nil
}

// materialize creates a fresh bundle directory, links the selected
// files into it, and writes the manifest last. files may be empty: a
// component legitimately selecting nothing still produces a complete
// (empty-manifest) bundle.
func materialize(stagedTree, bundleDir string, files []string) error {
	if err := bundle.Fresh(bundleDir); err != nil {
		return err
	}

	for _, rel := range files {
		src := filepath.Join(stagedTree, filepath.FromSlash(rel))
		dst := filepath.Join(bundleDir, filepath.FromSlash(rel))
		if err := bundle.LinkOrCopy(src, dst); err != nil {
			return err
		}
	}

	return bundle.WriteManifest(bundleDir, files)
}
