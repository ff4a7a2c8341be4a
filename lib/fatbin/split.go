// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package fatbin

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/marbre/therock/lib/bundle"
	"github.com/marbre/therock/lib/errdefs"
)

// CompanionSuffix is appended (after the architecture identifier) to
// a fat binary's relative path to name the companion file holding one
// extracted code object: <rel>.<arch>.co.
const CompanionSuffix = ".co"

// Request describes one architecture split: decomposing a complete
// unsplit bundle into a generic bundle plus one bundle per
// architecture found in its declared fat binaries.
type Request struct {
	// SliceName and Component name the bundle being split; the output
	// bundle names are derived from them.
	SliceName string
	Component string

	// UnsplitDir is the complete (manifested) unsplit intermediate
	// bundle produced by the slicer.
	UnsplitDir string

	// Database declares which bundle files are fat binaries.
	Database *Database

	// Decomposer takes the declared fat binaries apart.
	Decomposer Decomposer

	// OutputRoot is the directory the output bundles are created
	// under.
	OutputRoot string
}

// Result reports the bundles a split produced.
type Result struct {
	// GenericDir is the generic bundle: every non-fat file unchanged,
	// plus each fat binary with its device payloads replaced by
	// locators.
	GenericDir string

	// ArchDirs maps each architecture identifier to its bundle of
	// companion files.
	ArchDirs map[string]string
}

// companionName returns the bundle-relative companion path for one
// architecture's payload of the fat binary at rel.
func companionName(rel, arch string) string {
	return rel + "." + arch + CompanionSuffix
}

// Split decomposes an unsplit bundle per the split database. Every
// database entry must name a file the bundle's manifest lists, and
// every declared file must carry at least one device code object; a
// violation of either is a configuration error and nothing is
// written. On success the unsplit directory gains a split marker so
// the archive writer refuses it in favor of the split outputs.
func Split(req Request) (*Result, error) {
	paths, err := bundle.ReadManifest(req.UnsplitDir)
	if err != nil {
		return nil, err
	}
	manifested := make(map[string]bool, len(paths))
	for _, p := range paths {
		manifested[p] = true
	}

	for _, fb := range req.Database.FatBinaries {
		if !manifested[fb.Path] {
			return nil, errdefs.Configuration(fb.Path,
				"split database entry not present in bundle %s", req.UnsplitDir)
		}
	}

	// First pass: list every declared binary's targets so the full
	// architecture set is known before any output directory is
	// created. A declared file with no device entries fails here,
	// leaving the unsplit bundle untouched.
	type plan struct {
		rel        string
		external   map[string]string // target ID -> companion basename
		archRel    map[string]string // arch -> companion relative path
		archTarget map[string]string // arch -> target ID
	}
	plans := make([]plan, 0, len(req.Database.FatBinaries))
	archSet := make(map[string]bool)
	for _, fb := range req.Database.FatBinaries {
		srcPath := filepath.Join(req.UnsplitDir, filepath.FromSlash(fb.Path))
		targets, err := req.Decomposer.List(srcPath)
		if err != nil {
			return nil, errdefs.Configuration(fb.Path, "listing targets: %v", err)
		}

		p := plan{
			rel:        fb.Path,
			external:   make(map[string]string),
			archRel:    make(map[string]string),
			archTarget: make(map[string]string),
		}
		for _, targetID := range targets {
			if IsHost(targetID) {
				continue
			}
			arch := ArchOf(targetID)
			if arch == "" {
				return nil, errdefs.Configuration(fb.Path,
					"device target %q carries no architecture identifier", targetID)
			}
			if _, dup := p.archRel[arch]; dup {
				return nil, errdefs.Configuration(fb.Path,
					"two device targets for architecture %s", arch)
			}
			companion := companionName(fb.Path, arch)
			p.external[targetID] = path.Base(companion)
			p.archRel[arch] = companion
			p.archTarget[arch] = targetID
			archSet[arch] = true
		}
		if len(p.external) == 0 {
			return nil, errdefs.Configuration(fb.Path, "no device code objects found")
		}
		plans = append(plans, p)
	}

	fatByRel := make(map[string]*plan, len(plans))
	for i := range plans {
		fatByRel[plans[i].rel] = &plans[i]
	}

	genericDir := filepath.Join(req.OutputRoot,
		bundle.Name(req.SliceName, req.Component, bundle.ScopeGeneric))
	if err := bundle.Fresh(genericDir); err != nil {
		return nil, err
	}
	archDirs := make(map[string]string, len(archSet))
	archManifests := make(map[string][]string, len(archSet))
	for arch := range archSet {
		dir := filepath.Join(req.OutputRoot,
			bundle.Name(req.SliceName, req.Component, arch))
		if err := bundle.Fresh(dir); err != nil {
			return nil, err
		}
		archDirs[arch] = dir
	}

	var genericManifest []string
	for _, rel := range paths {
		srcPath := filepath.Join(req.UnsplitDir, filepath.FromSlash(rel))
		p, fat := fatByRel[rel]
		if !fat {
			if err := bundle.LinkOrCopy(srcPath, filepath.Join(genericDir, filepath.FromSlash(rel))); err != nil {
				return nil, err
			}
			genericManifest = append(genericManifest, rel)
			continue
		}

		for arch, companion := range p.archRel {
			outPath := filepath.Join(archDirs[arch], filepath.FromSlash(companion))
			if err := req.Decomposer.Extract(srcPath, p.archTarget[arch], outPath); err != nil {
				return nil, err
			}
			archManifests[arch] = append(archManifests[arch], companion)
		}
		if err := req.Decomposer.Strip(srcPath, filepath.Join(genericDir, filepath.FromSlash(rel)), p.external); err != nil {
			return nil, err
		}
		genericManifest = append(genericManifest, rel)
	}

	// Manifests last: each output bundle becomes complete only once
	// all of its files are in place.
	if err := bundle.WriteManifest(genericDir, genericManifest); err != nil {
		return nil, err
	}
	for arch, dir := range archDirs {
		if err := bundle.WriteManifest(dir, archManifests[arch]); err != nil {
			return nil, err
		}
	}

	successors := []string{filepath.Base(genericDir)}
	for _, dir := range archDirs {
		successors = append(successors, filepath.Base(dir))
	}
	sort.Strings(successors)
	if err := bundle.WriteSplitMarker(req.UnsplitDir, successors); err != nil {
		return nil, err
	}

	return &Result{GenericDir: genericDir, ArchDirs: archDirs}, nil
}

// Recombine reconstitutes a runnable binary from a stripped generic
// copy plus the companion files sitting in companionDir (typically
// the directory the binary was installed to). Locator entries whose
// companion exists are replaced with the companion's payload; locator
// entries whose companion is absent are dropped, so recombining with
// no companions at all yields a host-only binary. Non-locator entries
// pass through unchanged.
func Recombine(genericPath, companionDir, outPath string) error {
	info, err := os.Stat(genericPath)
	if err != nil {
		return errdefs.Environment(genericPath, fmt.Errorf("stat: %w", err))
	}
	parsed, err := ReadFile(genericPath)
	if err != nil {
		return err
	}

	merged := &Bundle{}
	for _, entry := range parsed.Entries {
		companion, isLocator := ParseLocator(entry.Payload)
		if !isLocator {
			merged.Entries = append(merged.Entries, entry)
			continue
		}
		payload, err := os.ReadFile(filepath.Join(companionDir, companion))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errdefs.Environment(companion, fmt.Errorf("reading companion: %w", err))
		}
		merged.Entries = append(merged.Entries, Entry{TargetID: entry.TargetID, Payload: payload})
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errdefs.Environment(outPath, fmt.Errorf("creating parent directory: %w", err))
	}
	if err := os.WriteFile(outPath, merged.Encode(), info.Mode().Perm()); err != nil {
		return errdefs.Environment(outPath, fmt.Errorf("writing recombined binary: %w", err))
	}
	return nil
}
