// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package project loads the therock-project.jsonc build
// configuration: the components to slice, how to split and archive
// them, and the distributions to assemble. A loaded project
// translates into a buildgraph registry for execution.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/marbre/therock/lib/archive"
	"github.com/marbre/therock/lib/errdefs"
)

// DefaultFilename is the conventional project file name.
const DefaultFilename = "therock-project.jsonc"

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

// Component is one staged subproject the pipeline slices.
type Component struct {
	// Name is the component (and slice) name.
	Name string

	// StagedTree is the staged install tree the external build engine
	// produces, relative to the project root.
	StagedTree string

	// Descriptor is the component's artifact.jsonc path, relative to
	// the project root.
	Descriptor string

	// Deps names the components whose outputs this component's build
	// consumed; their fingerprints feed this component's fingerprint.
	Deps []string

	// Artifacts lists the artifact components to slice. Empty means
	// every component the descriptor declares.
	Artifacts []string

	// Split configures architecture splitting, nil when the component
	// ships no fat binaries.
	Split *SplitConfig
}

// SplitConfig declares how one artifact component is split by
// architecture.
type SplitConfig struct {
	// Artifact is the artifact component whose bundle holds the fat
	// binaries.
	Artifact string

	// Database is the split database path, relative to the project
	// root.
	Database string
}

// Distribution is one install tree to assemble.
type Distribution struct {
	Name string

	// Bundles names the bundle directories to merge, e.g.
	// "runtime_lib_generic".
	Bundles []string
}

// ArchiveConfig configures archive output.
type ArchiveConfig struct {
	// Dir is the archive output directory, relative to the project
	// root.
	Dir string

	// Extension selects the compression format (".tar.xz" default).
	Extension string

	Level archive.Level
}

// Project is a parsed and validated project configuration.
type Project struct {
	Name string

	// Root is the directory relative paths resolve against: the
	// directory the project file was loaded from.
	Root string

	// OutputRoot is where bundle directories are produced, relative
	// to Root.
	OutputRoot string

	// DistRoot is where distribution trees are assembled, relative to
	// Root.
	DistRoot string

	Components    map[string]*Component
	Distributions []Distribution
	Archive       ArchiveConfig

	componentOrder []string
}

// ComponentNames returns the declared component names in file order.
func (p *Project) ComponentNames() []string {
	return append([]string(nil), p.componentOrder...)
}

type rawSplit struct {
	Artifact string `json:"artifact"`
	Database string `json:"database"`
}

type rawComponent struct {
	StagedTree string    `json:"staged_tree"`
	Descriptor string    `json:"descriptor"`
	Deps       []string  `json:"deps"`
	Artifacts  []string  `json:"artifacts"`
	Split      *rawSplit `json:"split"`
}

type rawDistribution struct {
	Name    string   `json:"name"`
	Bundles []string `json:"bundles"`
}

type rawArchive struct {
	Dir       string `json:"dir"`
	Extension string `json:"extension"`
	Level     string `json:"level"`
}

type rawProject struct {
	Name          string                  `json:"name"`
	OutputRoot    string                  `json:"output_root"`
	DistRoot      string                  `json:"dist_root"`
	Components    map[string]rawComponent `json:"components"`
	Distributions []rawDistribution       `json:"distributions"`
	Archive       *rawArchive             `json:"archive"`
}

// Parse parses and validates project configuration bytes. Root is
// recorded for later path resolution but not touched here: parsing
// never does filesystem work beyond the bytes it was handed.
func Parse(data []byte, root string) (*Project, error) {
	var raw rawProject
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, errdefs.Configuration("project", "parsing: %v", err)
	}

	if raw.Name == "" || !namePattern.MatchString(raw.Name) {
		return nil, errdefs.Configuration("project", "invalid project name %q", raw.Name)
	}
	if len(raw.Components) == 0 {
		return nil, errdefs.Configuration(raw.Name, "project declares no components")
	}

	project := &Project{
		Name:       raw.Name,
		Root:       root,
		OutputRoot: raw.OutputRoot,
		DistRoot:   raw.DistRoot,
		Components: make(map[string]*Component, len(raw.Components)),
	}
	if project.OutputRoot == "" {
		project.OutputRoot = "artifacts"
	}
	if project.DistRoot == "" {
		project.DistRoot = "dist"
	}

	for name := range raw.Components {
		project.componentOrder = append(project.componentOrder, name)
	}
	sort.Strings(project.componentOrder)

	for _, name := range project.componentOrder {
		rc := raw.Components[name]
		component, err := parseComponent(name, rc)
		if err != nil {
			return nil, err
		}
		project.Components[name] = component
	}
	for _, component := range project.Components {
		for _, dep := range component.Deps {
			if _, declared := project.Components[dep]; !declared {
				return nil, errdefs.Configuration(component.Name,
					"depends on undeclared component %q", dep)
			}
		}
	}

	distNames := make(map[string]bool, len(raw.Distributions))
	for _, rd := range raw.Distributions {
		if !namePattern.MatchString(rd.Name) {
			return nil, errdefs.Configuration(rd.Name, "invalid distribution name")
		}
		if distNames[rd.Name] {
			return nil, errdefs.Configuration(rd.Name, "distribution declared twice")
		}
		distNames[rd.Name] = true
		if len(rd.Bundles) == 0 {
			return nil, errdefs.Configuration(rd.Name, "distribution selects no bundles")
		}
		for _, bundleName := range rd.Bundles {
			if _, err := project.componentForBundle(bundleName); err != nil {
				return nil, err
			}
		}
		project.Distributions = append(project.Distributions, Distribution{
			Name:    rd.Name,
			Bundles: append([]string(nil), rd.Bundles...),
		})
	}

	project.Archive = ArchiveConfig{Dir: "archives", Extension: ".tar.xz"}
	if raw.Archive != nil {
		if raw.Archive.Dir != "" {
			project.Archive.Dir = raw.Archive.Dir
		}
		if raw.Archive.Extension != "" {
			project.Archive.Extension = raw.Archive.Extension
		}
		switch raw.Archive.Level {
		case "", "default":
			project.Archive.Level = archive.LevelDefault
		case "fast":
			project.Archive.Level = archive.LevelFast
		case "best":
			project.Archive.Level = archive.LevelBest
		default:
			return nil, errdefs.Configuration(raw.Name,
				"unknown archive level %q (want fast, default, or best)", raw.Archive.Level)
		}
	}
	switch project.Archive.Extension {
	case ".tar.xz", ".tar.gz", ".tar.zst", ".tar.lz4":
	default:
		return nil, errdefs.Configuration(raw.Name,
			"unsupported archive extension %q", project.Archive.Extension)
	}

	return project, nil
}

func parseComponent(name string, rc rawComponent) (*Component, error) {
	if !namePattern.MatchString(name) {
		return nil, errdefs.Configuration(name, "invalid component name")
	}
	if rc.StagedTree == "" {
		return nil, errdefs.Configuration(name, "component declares no staged_tree")
	}
	if rc.Descriptor == "" {
		return nil, errdefs.Configuration(name, "component declares no descriptor")
	}
	component := &Component{
		Name:       name,
		StagedTree: rc.StagedTree,
		Descriptor: rc.Descriptor,
		Deps:       append([]string(nil), rc.Deps...),
		Artifacts:  append([]string(nil), rc.Artifacts...),
	}
	if rc.Split != nil {
		if rc.Split.Artifact == "" || rc.Split.Database == "" {
			return nil, errdefs.Configuration(name,
				"split config needs both artifact and database")
		}
		component.Split = &SplitConfig{
			Artifact: rc.Split.Artifact,
			Database: rc.Split.Database,
		}
	}
	return component, nil
}

// Load reads and parses a project file. Relative paths in the project
// resolve against the file's directory.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Configuration(path, "project file missing")
		}
		return nil, errdefs.Environment(path, fmt.Errorf("reading project file: %w", err))
	}
	project, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return project, nil
}

// Resolve resolves a project-relative path against the project root.
func (p *Project) Resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.Root, rel)
}

// componentForBundle maps a bundle name back to the component whose
// slice produced it: the component name is the bundle name's first
// underscore-separated prefix that names a declared component.
func (p *Project) componentForBundle(bundleName string) (*Component, error) {
	for _, name := range p.componentOrder {
		if strings.HasPrefix(bundleName, name+"_") {
			return p.Components[name], nil
		}
	}
	return nil, errdefs.Configuration(bundleName,
		"bundle does not belong to any declared component")
}
