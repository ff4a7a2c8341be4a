// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// therock-bundler drives the artifact pipeline of a staged ROCm-style
// build: slicing staged install trees into artifact bundles,
// splitting fat binaries by architecture, assembling distributions,
// and writing compressed archives. The build subcommand runs the
// whole dependency graph; the per-stage subcommands run one
// operation for scripting and debugging.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/marbre/therock/lib/buildgraph"
	"github.com/marbre/therock/lib/cli"
	"github.com/marbre/therock/lib/project"
	"github.com/marbre/therock/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := os.Args[1:]
	if len(args) == 1 && args[0] == "--version" {
		fmt.Printf("therock-bundler %s\n", version.Info())
		return nil
	}

	root := &cli.Command{
		Name:    "therock-bundler",
		Summary: "slice, split, assemble, and archive build artifacts",
		Description: `therock-bundler turns the staged install trees of an external
build into distributable artifacts, driven by a therock-project.jsonc
configuration.`,
		Examples: []cli.Example{
			{Description: "run the full pipeline", Command: "therock-bundler build"},
			{Description: "re-slice one component", Command: "therock-bundler slice runtime"},
		},
		Subcommands: []*cli.Command{
			sliceCommand(),
			splitCommand(),
			assembleCommand(),
			archiveCommand(),
			fingerprintCommand(),
			planCommand(),
			buildCommand(),
		},
	}
	return root.Execute(args)
}

// projectFlags is the flag block shared by every subcommand.
type projectFlags struct {
	path    string
	verbose bool
}

func (f *projectFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.path, "project", project.DefaultFilename, "project configuration file")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
}

// runner loads the project and builds its pipeline runner, installing
// the default logger on the way.
func (f *projectFlags) runner() (*project.Runner, error) {
	slog.SetDefault(cli.NewLogger(f.verbose))
	proj, err := project.Load(f.path)
	if err != nil {
		return nil, err
	}
	return project.NewRunner(proj, project.RunnerOptions{})
}

// componentArgs resolves positional component arguments: the named
// components, or every declared component when none are given.
func componentArgs(runner *project.Runner, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return runner.Project().ComponentNames()
}

func sliceCommand() *cli.Command {
	var flags projectFlags
	return &cli.Command{
		Name:    "slice",
		Summary: "slice staged trees into artifact bundles",
		Usage:   "therock-bundler slice [flags] [component...]",
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("slice", pflag.ContinueOnError)
			flags.register(set)
			return set
		},
		Run: func(args []string) error {
			runner, err := flags.runner()
			if err != nil {
				return err
			}
			for _, name := range componentArgs(runner, args) {
				if err := runner.SliceComponent(name); err != nil {
					return err
				}
			}
			return runner.SaveIndex()
		},
	}
}

func splitCommand() *cli.Command {
	var flags projectFlags
	return &cli.Command{
		Name:    "split",
		Summary: "split fat binaries into generic and per-architecture bundles",
		Usage:   "therock-bundler split [flags] <component>...",
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("split", pflag.ContinueOnError)
			flags.register(set)
			return set
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one component argument required")
			}
			runner, err := flags.runner()
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := runner.SplitComponent(name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func assembleCommand() *cli.Command {
	var flags projectFlags
	return &cli.Command{
		Name:    "assemble",
		Summary: "assemble distribution install trees from bundles",
		Usage:   "therock-bundler assemble [flags] [distribution...]",
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("assemble", pflag.ContinueOnError)
			flags.register(set)
			return set
		},
		Run: func(args []string) error {
			runner, err := flags.runner()
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				for _, dist := range runner.Project().Distributions {
					names = append(names, dist.Name)
				}
			}
			for _, name := range names {
				if err := runner.AssembleDistribution(name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func archiveCommand() *cli.Command {
	var flags projectFlags
	return &cli.Command{
		Name:    "archive",
		Summary: "write compressed archives of complete bundles",
		Usage:   "therock-bundler archive [flags] [component...]",
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("archive", pflag.ContinueOnError)
			flags.register(set)
			return set
		},
		Run: func(args []string) error {
			runner, err := flags.runner()
			if err != nil {
				return err
			}
			for _, name := range componentArgs(runner, args) {
				if err := runner.ArchiveComponent(name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func fingerprintCommand() *cli.Command {
	var flags projectFlags
	return &cli.Command{
		Name:    "fingerprint",
		Summary: "print component fingerprints and freshness",
		Usage:   "therock-bundler fingerprint [flags] [component...]",
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("fingerprint", pflag.ContinueOnError)
			flags.register(set)
			return set
		},
		Run: func(args []string) error {
			runner, err := flags.runner()
			if err != nil {
				return err
			}
			for _, name := range componentArgs(runner, args) {
				current, upToDate, err := runner.ComponentFingerprint(name)
				if err != nil {
					return err
				}
				state := "stale"
				if upToDate {
					state = "up-to-date"
				}
				fmt.Printf("%s\t%s\t%s\n", name, current, state)
			}
			return nil
		},
	}
}

func planCommand() *cli.Command {
	var flags projectFlags
	return &cli.Command{
		Name:    "plan",
		Summary: "print the build graph in execution order",
		Usage:   "therock-bundler plan [flags]",
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("plan", pflag.ContinueOnError)
			flags.register(set)
			return set
		},
		Run: func(args []string) error {
			runner, err := flags.runner()
			if err != nil {
				return err
			}
			registry, err := runner.Graph()
			if err != nil {
				return err
			}
			plan, err := registry.Plan()
			if err != nil {
				return err
			}
			for _, node := range plan {
				fmt.Printf("%-14s %s\n", node.Kind, node.Name)
			}
			return nil
		},
	}
}

func buildCommand() *cli.Command {
	var flags projectFlags
	var jobs int
	return &cli.Command{
		Name:    "build",
		Summary: "run the full pipeline",
		Usage:   "therock-bundler build [flags]",
		Flags: func() *pflag.FlagSet {
			set := pflag.NewFlagSet("build", pflag.ContinueOnError)
			flags.register(set)
			set.IntVarP(&jobs, "jobs", "j", 4, "maximum nodes running in parallel")
			return set
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("build takes no positional arguments")
			}
			runner, err := flags.runner()
			if err != nil {
				return err
			}
			registry, err := runner.Graph()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, runErr := buildgraph.Run(ctx, registry, jobs, slog.Default())
			if saveErr := runner.SaveIndex(); saveErr != nil && runErr == nil {
				runErr = saveErr
			}
			for _, name := range sortedNodeNames(report) {
				slog.Info("node finished", "node", name, "status", report[name].String())
			}
			return runErr
		},
	}
}

func sortedNodeNames(report buildgraph.RunReport) []string {
	names := make([]string, 0, len(report))
	for name := range report {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
