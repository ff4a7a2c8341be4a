// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildgraph schedules the artifact pipeline as an explicit
// typed dependency graph. Nodes declare what they depend on by name;
// the registry rejects duplicate declarations, planning rejects
// unknown references and cycles, and execution runs ready nodes in
// parallel under a bounded worker pool.
//
// Nodes carry an optional up-to-date check so an unchanged node (same
// fingerprint, complete outputs) is skipped without running. A failed
// node withholds its dependents, but independent nodes that are
// already running or still runnable proceed, so one broken component
// does not hide errors in the rest of the build.
package buildgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/marbre/therock/lib/errdefs"
)

// Kind classifies a node by the pipeline stage it represents.
type Kind int

const (
	// KindStage is an externally-produced staged build tree. Stage
	// nodes have no action of their own; they exist so artifact nodes
	// can depend on them by name.
	KindStage Kind = iota

	// KindArtifact slices a staged tree into bundles.
	KindArtifact

	// KindSplit decomposes an unsplit bundle by architecture.
	KindSplit

	// KindArchive writes a bundle's compressed archive.
	KindArchive

	// KindDistribution assembles bundles into an install tree.
	KindDistribution
)

func (k Kind) String() string {
	switch k {
	case KindStage:
		return "stage"
	case KindArtifact:
		return "artifact"
	case KindSplit:
		return "split"
	case KindArchive:
		return "archive"
	case KindDistribution:
		return "distribution"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is one unit of pipeline work.
type Node struct {
	Name string
	Kind Kind

	// Deps names the nodes whose outputs this node consumes.
	Deps []string

	// UpToDate, when non-nil, reports whether the node's outputs are
	// already current so Action can be skipped. An error here fails
	// the node.
	UpToDate func(ctx context.Context) (bool, error)

	// Action performs the work. Nil for nodes with no action of their
	// own (stage-complete markers).
	Action func(ctx context.Context) error
}

// Registry holds the declared nodes of one build.
type Registry struct {
	nodes map[string]*Node
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Add registers a node. Registering two nodes with one name is a
// DuplicateDeclarationError.
func (r *Registry) Add(node *Node) error {
	if node.Name == "" {
		return errdefs.Configuration("node", "registered with an empty name")
	}
	if _, exists := r.nodes[node.Name]; exists {
		return &errdefs.DuplicateDeclarationError{Name: node.Name}
	}
	r.nodes[node.Name] = node
	r.order = append(r.order, node.Name)
	return nil
}

// Node returns the registered node with the given name.
func (r *Registry) Node(name string) (*Node, bool) {
	node, ok := r.nodes[name]
	return node, ok
}

// Names returns all registered node names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Plan returns the nodes in a valid execution order. A dependency on
// an undeclared node, or a dependency cycle, is a configuration
// error.
func (r *Registry) Plan() ([]*Node, error) {
	indegree := make(map[string]int, len(r.nodes))
	dependents := make(map[string][]string, len(r.nodes))
	for _, name := range r.order {
		node := r.nodes[name]
		indegree[name] = len(node.Deps)
		for _, dep := range node.Deps {
			if _, known := r.nodes[dep]; !known {
				return nil, errdefs.Configuration(name, "depends on undeclared node %q", dep)
			}
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Kahn's algorithm over a sorted frontier, so the plan is stable
	// across runs regardless of registration order.
	var frontier []string
	for _, name := range r.order {
		if indegree[name] == 0 {
			frontier = append(frontier, name)
		}
	}
	sort.Strings(frontier)

	plan := make([]*Node, 0, len(r.nodes))
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		plan = append(plan, r.nodes[name])

		var unblocked []string
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				unblocked = append(unblocked, dependent)
			}
		}
		sort.Strings(unblocked)
		frontier = mergeSorted(frontier, unblocked)
	}

	if len(plan) != len(r.nodes) {
		var cyclic []string
		for name, degree := range indegree {
			if degree > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, errdefs.Configuration("build graph", "dependency cycle among %v", cyclic)
	}
	return plan, nil
}

// mergeSorted merges two sorted string slices.
func mergeSorted(a, b []string) []string {
	merged := make([]string, 0, len(a)+len(b))
	for len(a) > 0 && len(b) > 0 {
		if a[0] <= b[0] {
			merged = append(merged, a[0])
			a = a[1:]
		} else {
			merged = append(merged, b[0])
			b = b[1:]
		}
	}
	merged = append(merged, a...)
	return append(merged, b...)
}

// Status is the outcome of one node in a run.
type Status int

const (
	// StatusRan means the node's action executed and succeeded.
	StatusRan Status = iota

	// StatusUpToDate means the node reported its outputs current and
	// was skipped.
	StatusUpToDate

	// StatusFailed means the node's action (or up-to-date check)
	// returned an error.
	StatusFailed

	// StatusBlocked means the node never ran because a dependency
	// failed or the run was cancelled first.
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusRan:
		return "ran"
	case StatusUpToDate:
		return "up-to-date"
	case StatusFailed:
		return "failed"
	case StatusBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RunReport maps node names to their outcome.
type RunReport map[string]Status

// Run executes the registry's nodes with at most parallelism actions
// in flight. Each node starts only after all of its dependencies
// succeeded (or were up to date). A failure blocks the failed node's
// transitive dependents; everything else still runs. Cancelling ctx
// stops new nodes from starting and waits for in-flight actions.
//
// The returned report covers every node. The error joins all node
// failures, plus ctx.Err when the run was cancelled.
func Run(ctx context.Context, registry *Registry, parallelism int, logger *slog.Logger) (RunReport, error) {
	plan, err := registry.Plan()
	if err != nil {
		return nil, err
	}
	if parallelism < 1 {
		parallelism = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	report := make(RunReport, len(plan))
	var failures []error

	type outcome struct {
		node *Node
		stat Status
		err  error
	}

	pending := make(map[string]int, len(plan))
	dependents := make(map[string][]*Node, len(plan))
	for _, node := range plan {
		pending[node.Name] = len(node.Deps)
		for _, dep := range node.Deps {
			dependents[dep] = append(dependents[dep], node)
		}
	}

	var (
		wg       sync.WaitGroup
		slots    = make(chan struct{}, parallelism)
		finished = make(chan outcome)
	)
	start := func(node *Node) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()

			stat, err := runNode(ctx, node, logger)
			finished <- outcome{node: node, stat: stat, err: err}
		}()
	}

	// block marks node and its transitive dependents as blocked.
	var block func(node *Node)
	block = func(node *Node) {
		if _, done := report[node.Name]; done {
			return
		}
		report[node.Name] = StatusBlocked
		for _, dependent := range dependents[node.Name] {
			block(dependent)
		}
	}

	cancelled := false
	outstanding := 0
	for _, node := range plan {
		if pending[node.Name] == 0 {
			start(node)
			outstanding++
		}
	}
	for outstanding > 0 {
		out := <-finished
		outstanding--
		report[out.node.Name] = out.stat

		if out.err != nil {
			failures = append(failures, fmt.Errorf("%s %s: %w", out.node.Kind, out.node.Name, out.err))
			for _, dependent := range dependents[out.node.Name] {
				block(dependent)
			}
			continue
		}
		if ctx.Err() != nil {
			// Let in-flight nodes finish, start nothing new.
			cancelled = true
			continue
		}
		for _, dependent := range dependents[out.node.Name] {
			if _, blocked := report[dependent.Name]; blocked {
				continue
			}
			pending[dependent.Name]--
			if pending[dependent.Name] == 0 {
				start(dependent)
				outstanding++
			}
		}
	}
	wg.Wait()

	// Nodes with no recorded outcome never became ready: their
	// dependencies failed, were blocked, or the run was cancelled.
	for _, node := range plan {
		if _, done := report[node.Name]; !done {
			report[node.Name] = StatusBlocked
		}
	}

	if cancelled {
		failures = append(failures, ctx.Err())
	}
	return report, errors.Join(failures...)
}

// runNode runs one node's up-to-date check and action.
func runNode(ctx context.Context, node *Node, logger *slog.Logger) (Status, error) {
	if ctx.Err() != nil {
		return StatusBlocked, nil
	}
	logger = logger.With("node", node.Name, "kind", node.Kind.String())
	if node.UpToDate != nil {
		current, err := node.UpToDate(ctx)
		if err != nil {
			return StatusFailed, err
		}
		if current {
			logger.Debug("outputs current, skipping")
			return StatusUpToDate, nil
		}
	}
	if node.Action == nil {
		return StatusRan, nil
	}
	logger.Info("running")
	if err := node.Action(ctx); err != nil {
		logger.Error("failed", "error", err)
		return StatusFailed, err
	}
	logger.Info("done")
	return StatusRan, nil
}
