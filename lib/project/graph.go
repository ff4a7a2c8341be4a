// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marbre/therock/lib/archive"
	"github.com/marbre/therock/lib/buildgraph"
	"github.com/marbre/therock/lib/bundle"
	"github.com/marbre/therock/lib/descriptor"
	"github.com/marbre/therock/lib/distribution"
	"github.com/marbre/therock/lib/errdefs"
	"github.com/marbre/therock/lib/fatbin"
	"github.com/marbre/therock/lib/fingerprint"
	"github.com/marbre/therock/lib/slicer"
)

// IndexFilename is the fingerprint index cache written under the
// output root.
const IndexFilename = "fingerprints.cbor"

// RunnerOptions configures pipeline execution.
type RunnerOptions struct {
	// Decomposer takes fat binaries apart during split nodes. Nil
	// selects the in-process parser.
	Decomposer fatbin.Decomposer
}

// Runner executes pipeline operations for one project: directly (the
// per-operation CLI subcommands) or via the build graph. The
// fingerprint index is read and updated from parallel graph nodes,
// so access goes through the mutex.
type Runner struct {
	project    *Project
	decomposer fatbin.Decomposer
	outputRoot string

	mu    sync.Mutex
	index *fingerprint.Index
}

// NewRunner loads the project's fingerprint index and returns a
// runner for its pipeline operations.
func NewRunner(project *Project, opts RunnerOptions) (*Runner, error) {
	b := &Runner{
		project:    project,
		decomposer: opts.Decomposer,
		outputRoot: project.Resolve(project.OutputRoot),
	}
	if b.decomposer == nil {
		b.decomposer = fatbin.Native{}
	}
	index, err := fingerprint.LoadIndex(filepath.Join(b.outputRoot, IndexFilename))
	if err != nil {
		return nil, err
	}
	b.index = index
	return b, nil
}

// Graph translates the project into an executable build graph. Node
// names are kind-prefixed: stage/<component>, slice/<component>,
// split/<component>, archive/<component>, dist/<distribution>.
//
// The fingerprint index under the output root gates slice nodes: a
// component whose computed fingerprint matches the index entry and
// whose bundles are all complete is skipped. Call SaveIndex after the
// run to persist what was recomputed.
func (b *Runner) Graph() (*buildgraph.Registry, error) {
	registry := buildgraph.NewRegistry()
	for _, name := range b.project.ComponentNames() {
		component := b.project.Components[name]
		if err := b.addComponent(registry, component); err != nil {
			return nil, err
		}
	}
	for _, dist := range b.project.Distributions {
		if err := b.addDistribution(registry, dist); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// SaveIndex writes the fingerprint index cache atomically.
func (b *Runner) SaveIndex() error {
	if err := os.MkdirAll(b.outputRoot, 0o755); err != nil {
		return errdefs.Environment(b.outputRoot, fmt.Errorf("creating output root: %w", err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Save(filepath.Join(b.outputRoot, IndexFilename))
}

// Project returns the project the runner executes.
func (b *Runner) Project() *Project {
	return b.project
}

// component resolves a declared component by name.
func (b *Runner) component(name string) (*Component, error) {
	component, declared := b.project.Components[name]
	if !declared {
		return nil, errdefs.Configuration(name, "component not declared in project")
	}
	return component, nil
}

// SliceComponent slices one component and records its fingerprint.
func (b *Runner) SliceComponent(name string) error {
	component, err := b.component(name)
	if err != nil {
		return err
	}
	return b.runSlice(component)
}

// SplitComponent splits one component's declared fat binaries.
func (b *Runner) SplitComponent(name string) error {
	component, err := b.component(name)
	if err != nil {
		return err
	}
	if component.Split == nil {
		return errdefs.Configuration(name, "component declares no split config")
	}
	return b.runSplit(component)
}

// ArchiveComponent archives one component's complete bundles.
func (b *Runner) ArchiveComponent(name string) error {
	component, err := b.component(name)
	if err != nil {
		return err
	}
	return b.runArchive(component)
}

// AssembleDistribution assembles one declared distribution tree.
func (b *Runner) AssembleDistribution(name string) error {
	for _, dist := range b.project.Distributions {
		if dist.Name != name {
			continue
		}
		bundles := make([]string, len(dist.Bundles))
		for i, bundleName := range dist.Bundles {
			bundles[i] = filepath.Join(b.outputRoot, bundleName)
		}
		_, err := distribution.Assemble(dist.Name, bundles, b.project.Resolve(b.project.DistRoot))
		return err
	}
	return errdefs.Configuration(name, "distribution not declared in project")
}

// ComponentFingerprint computes a component's current fingerprint and
// reports whether its outputs are up to date.
func (b *Runner) ComponentFingerprint(name string) (fingerprint.Fingerprint, bool, error) {
	component, err := b.component(name)
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}
	current, err := b.fingerprintFor(component)
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}
	upToDate, err := b.sliceUpToDate(component)
	if err != nil {
		return current, false, err
	}
	return current, upToDate, nil
}

func (b *Runner) addComponent(registry *buildgraph.Registry, component *Component) error {
	stagedTree := b.project.Resolve(component.StagedTree)
	if err := registry.Add(&buildgraph.Node{
		Name: "stage/" + component.Name,
		Kind: buildgraph.KindStage,
		Action: func(context.Context) error {
			info, err := os.Stat(stagedTree)
			if err != nil {
				if os.IsNotExist(err) {
					return errdefs.InputNotReady(stagedTree, "staged tree missing")
				}
				return errdefs.Environment(stagedTree, fmt.Errorf("stat staged tree: %w", err))
			}
			if !info.IsDir() {
				return errdefs.InputNotReady(stagedTree, "staged tree is not a directory")
			}
			return nil
		},
	}); err != nil {
		return err
	}

	sliceDeps := []string{"stage/" + component.Name}
	for _, dep := range component.Deps {
		sliceDeps = append(sliceDeps, "slice/"+dep)
	}
	if err := registry.Add(&buildgraph.Node{
		Name:     "slice/" + component.Name,
		Kind:     buildgraph.KindArtifact,
		Deps:     sliceDeps,
		UpToDate: func(ctx context.Context) (bool, error) { return b.sliceUpToDate(component) },
		Action:   func(ctx context.Context) error { return b.runSlice(component) },
	}); err != nil {
		return err
	}

	archiveDeps := []string{"slice/" + component.Name}
	if component.Split != nil {
		if err := registry.Add(&buildgraph.Node{
			Name:     "split/" + component.Name,
			Kind:     buildgraph.KindSplit,
			Deps:     []string{"slice/" + component.Name},
			UpToDate: func(ctx context.Context) (bool, error) { return b.splitUpToDate(component) },
			Action:   func(ctx context.Context) error { return b.runSplit(component) },
		}); err != nil {
			return err
		}
		archiveDeps = []string{"split/" + component.Name}
	}

	return registry.Add(&buildgraph.Node{
		Name:   "archive/" + component.Name,
		Kind:   buildgraph.KindArchive,
		Deps:   archiveDeps,
		Action: func(ctx context.Context) error { return b.runArchive(component) },
	})
}

func (b *Runner) addDistribution(registry *buildgraph.Registry, dist Distribution) error {
	depSet := make(map[string]bool)
	var deps []string
	for _, bundleName := range dist.Bundles {
		component, err := b.project.componentForBundle(bundleName)
		if err != nil {
			return err
		}
		dep := "slice/" + component.Name
		if component.Split != nil {
			dep = "split/" + component.Name
		}
		if !depSet[dep] {
			depSet[dep] = true
			deps = append(deps, dep)
		}
	}

	bundles := make([]string, len(dist.Bundles))
	for i, bundleName := range dist.Bundles {
		bundles[i] = filepath.Join(b.outputRoot, bundleName)
	}
	distRoot := b.project.Resolve(b.project.DistRoot)
	return registry.Add(&buildgraph.Node{
		Name: "dist/" + dist.Name,
		Kind: buildgraph.KindDistribution,
		Deps: deps,
		Action: func(ctx context.Context) error {
			_, err := distribution.Assemble(dist.Name, bundles, distRoot)
			return err
		},
	})
}

// fingerprintFor computes the component's current fingerprint from
// its descriptor hash and its dependencies' fingerprints in the
// index. Any dependency without a known fingerprint makes the result
// invalid, which forces a rebuild.
func (b *Runner) fingerprintFor(component *Component) (fingerprint.Fingerprint, error) {
	desc, err := descriptor.Load(b.project.Resolve(component.Descriptor))
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}

	b.mu.Lock()
	deps := make([]fingerprint.Dep, len(component.Deps))
	for i, name := range component.Deps {
		deps[i] = fingerprint.Dep{Name: name, Fingerprint: b.index.Get(name)}
	}
	b.mu.Unlock()

	return fingerprint.Compute(component.Name, desc.Hash(), deps), nil
}

// sliceScope returns the bundle scope for one of the component's
// artifact components: the empty unsplit scope for the artifact the
// splitter will decompose, generic otherwise.
func (component *Component) sliceScope(artifactName string) string {
	if component.Split != nil && component.Split.Artifact == artifactName {
		return ""
	}
	return bundle.ScopeGeneric
}

// sliceArtifacts resolves the artifact component names a slice node
// produces.
func (b *Runner) sliceArtifacts(component *Component) ([]string, error) {
	if len(component.Artifacts) > 0 {
		return component.Artifacts, nil
	}
	desc, err := descriptor.Load(b.project.Resolve(component.Descriptor))
	if err != nil {
		return nil, err
	}
	return desc.ComponentNames(), nil
}

func (b *Runner) sliceUpToDate(component *Component) (bool, error) {
	current, err := b.fingerprintFor(component)
	if err != nil {
		return false, err
	}
	if !current.Valid() {
		return false, nil
	}
	b.mu.Lock()
	known := b.index.Get(component.Name)
	b.mu.Unlock()
	if !known.Valid() || known != current {
		return false, nil
	}

	// The fingerprint matches; every bundle must also be complete and
	// carry the matching fingerprint file, or a partial previous run
	// could masquerade as done.
	artifacts, err := b.sliceArtifacts(component)
	if err != nil {
		return false, err
	}
	for _, artifact := range artifacts {
		dir := filepath.Join(b.outputRoot, bundle.Name(component.Name, artifact, component.sliceScope(artifact)))
		if !bundle.IsComplete(dir) {
			return false, nil
		}
		recorded, present, err := fingerprint.ReadFile(dir)
		if err != nil {
			return false, err
		}
		if !present || recorded != current {
			return false, nil
		}
	}
	return true, nil
}

func (b *Runner) runSlice(component *Component) error {
	desc, err := descriptor.Load(b.project.Resolve(component.Descriptor))
	if err != nil {
		return err
	}
	artifacts, err := b.sliceArtifacts(component)
	if err != nil {
		return err
	}

	// One invocation per scope: the unsplit intermediate uses the
	// two-part bundle name, everything else is generic.
	byScope := make(map[string][]string)
	for _, artifact := range artifacts {
		scope := component.sliceScope(artifact)
		byScope[scope] = append(byScope[scope], artifact)
	}

	var produced []string
	for scope, names := range byScope {
		result, err := slicer.Slice(slicer.Request{
			SliceName:  component.Name,
			Descriptor: desc,
			StagedTree: b.project.Resolve(component.StagedTree),
			Components: names,
			Scope:      scope,
			OutputRoot: b.outputRoot,
		})
		if err != nil {
			return err
		}
		for _, dir := range result.Bundles {
			produced = append(produced, dir)
		}
	}

	current, err := b.fingerprintFor(component)
	if err != nil {
		return err
	}
	for _, dir := range produced {
		if err := fingerprint.WriteFile(dir, current); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.index.Put(component.Name, current)
	b.mu.Unlock()
	return nil
}

// unsplitDir returns the component's unsplit intermediate bundle
// directory.
func (b *Runner) unsplitDir(component *Component) string {
	return filepath.Join(b.outputRoot, bundle.Name(component.Name, component.Split.Artifact, ""))
}

func (b *Runner) splitUpToDate(component *Component) (bool, error) {
	dir := b.unsplitDir(component)
	if !bundle.IsSplitStale(dir) {
		return false, nil
	}
	successors, err := bundle.ReadSplitMarker(dir)
	if err != nil {
		return false, err
	}
	for _, successor := range successors {
		if !bundle.IsComplete(filepath.Join(b.outputRoot, successor)) {
			return false, nil
		}
	}
	return true, nil
}

func (b *Runner) runSplit(component *Component) error {
	db, err := fatbin.LoadDatabase(b.project.Resolve(component.Split.Database))
	if err != nil {
		return err
	}
	_, err = fatbin.Split(fatbin.Request{
		SliceName:  component.Name,
		Component:  component.Split.Artifact,
		UnsplitDir: b.unsplitDir(component),
		Database:   db,
		Decomposer: b.decomposer,
		OutputRoot: b.outputRoot,
	})
	return err
}

// archiveBundles returns the bundle directories an archive node
// covers: the component's generic bundles plus, for a split
// component, the split successors instead of the stale intermediate.
func (b *Runner) archiveBundles(component *Component) ([]string, error) {
	artifacts, err := b.sliceArtifacts(component)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, artifact := range artifacts {
		scope := component.sliceScope(artifact)
		if scope != "" {
			dirs = append(dirs, filepath.Join(b.outputRoot, bundle.Name(component.Name, artifact, scope)))
			continue
		}
		successors, err := bundle.ReadSplitMarker(filepath.Join(b.outputRoot, bundle.Name(component.Name, artifact, "")))
		if err != nil {
			return nil, err
		}
		for _, successor := range successors {
			dirs = append(dirs, filepath.Join(b.outputRoot, successor))
		}
	}
	return dirs, nil
}

func (b *Runner) runArchive(component *Component) error {
	dirs, err := b.archiveBundles(component)
	if err != nil {
		return err
	}
	archiveDir := b.project.Resolve(b.project.Archive.Dir)
	for _, dir := range dirs {
		outputPath := filepath.Join(archiveDir, filepath.Base(dir)+b.project.Archive.Extension)
		if _, _, err := archive.Write(dir, outputPath, archive.Options{Level: b.project.Archive.Level}); err != nil {
			return err
		}
	}
	return nil
}
