// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package descriptor parses and validates artifact descriptors: the
// declarative per-component files that name artifact components and
// the path-selection rules choosing which staged files belong to
// each. Descriptors are authored as JSONC (JSON extended with //
// comments, /* block comments */, and trailing commas).
//
// The typical flow:
//
//  1. Load or Parse: JSONC bytes → Descriptor
//  2. Descriptor.Component(name): look up a declared component
//  3. Component.Matches(rel): evaluate a staged file against the
//     component's include/exclude predicates
//
// A descriptor's identity is the BLAKE3 descriptor-domain hash of the
// raw file bytes; it feeds every dependent artifact fingerprint, so
// any edit to the descriptor invalidates exactly the artifacts it
// declares (and their transitive dependents).
package descriptor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/marbre/therock/lib/errdefs"
	"github.com/marbre/therock/lib/hashutil"
)

// DefaultFilename is the conventional descriptor filename in a
// component's source tree.
const DefaultFilename = "artifact.jsonc"

// namePattern constrains artifact component names. Names appear in
// bundle directory names and archive filenames, where "_" is the
// field separator, so underscores are excluded.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

// Component is one declared artifact component: an ordered include
// predicate list and an ordered exclude predicate list. A staged file
// belongs to the component when it matches at least one include
// predicate and no exclude predicate.
type Component struct {
	Include []Predicate
	Exclude []Predicate
}

// Matches evaluates the component's rules against a slash-separated
// relative path.
func (c *Component) Matches(rel string) bool {
	matched := false
	for _, p := range c.Include {
		if p.Matches(rel) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, p := range c.Exclude {
		if p.Matches(rel) {
			return false
		}
	}
	return true
}

// Descriptor is a parsed, validated artifact descriptor. Immutable
// once loaded for a given build.
type Descriptor struct {
	components map[string]*Component

	// hash is the descriptor-domain BLAKE3 hash of the raw file
	// bytes, the descriptor's identity for fingerprinting.
	hash hashutil.Hash
}

// Hash returns the descriptor's content identity.
func (d *Descriptor) Hash() hashutil.Hash { return d.hash }

// Component returns the named artifact component, or a
// ConfigurationError if the descriptor does not declare it.
func (d *Descriptor) Component(name string) (*Component, error) {
	component, ok := d.components[name]
	if !ok {
		return nil, errdefs.Configuration(name, "artifact component not declared in descriptor (declared: %v)", d.ComponentNames())
	}
	return component, nil
}

// ComponentNames returns the declared component names, sorted.
func (d *Descriptor) ComponentNames() []string {
	names := make([]string, 0, len(d.components))
	for name := range d.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rawComponent accepts both descriptor forms: the full object with
// "include"/"exclude" lists, and the shorthand bare array meaning
// "include these patterns".
type rawComponent struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

func (rc *rawComponent) UnmarshalJSON(data []byte) error {
	var shorthand []string
	if err := json.Unmarshal(data, &shorthand); err == nil {
		rc.Include = shorthand
		return nil
	}

	type full rawComponent
	var f full
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*rc = rawComponent(f)
	return nil
}

type rawDescriptor struct {
	Components map[string]rawComponent `json:"components"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the descriptor. The returned descriptor's
// hash covers the raw (unstripped) bytes.
func Parse(data []byte) (*Descriptor, error) {
	stripped := jsonc.ToJSON(data)

	var raw rawDescriptor
	if err := json.Unmarshal(stripped, &raw); err != nil {
		return nil, errdefs.Configuration("descriptor", "parsing: %v", err)
	}
	if len(raw.Components) == 0 {
		return nil, errdefs.Configuration("descriptor", "no artifact components declared")
	}

	components := make(map[string]*Component, len(raw.Components))
	for name, rc := range raw.Components {
		if !namePattern.MatchString(name) {
			return nil, errdefs.Configuration(name, "invalid artifact component name (must match %s)", namePattern.String())
		}
		if len(rc.Include) == 0 {
			return nil, errdefs.Configuration(name, "artifact component declares no include patterns")
		}

		component := &Component{}
		var err error
		if component.Include, err = parsePredicates(rc.Include); err != nil {
			return nil, errdefs.Configuration(name, "include: %v", err)
		}
		if component.Exclude, err = parsePredicates(rc.Exclude); err != nil {
			return nil, errdefs.Configuration(name, "exclude: %v", err)
		}
		components[name] = component
	}

	return &Descriptor{
		components: components,
		hash:       hashutil.HashDescriptor(data),
	}, nil
}

// Load reads and parses the descriptor file at path. A missing file
// is a ConfigurationError: descriptors are source-tree inputs, not
// build outputs, so absence is a declaration bug rather than an
// ordering problem.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Configuration(path, "descriptor file missing")
		}
		return nil, errdefs.Environment(path, fmt.Errorf("reading descriptor: %w", err))
	}

	desc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return desc, nil
}

func parsePredicates(patterns []string) ([]Predicate, error) {
	predicates := make([]Predicate, 0, len(patterns))
	for _, pattern := range patterns {
		p, err := ParsePredicate(pattern)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, p)
	}
	return predicates, nil
}
