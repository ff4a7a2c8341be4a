// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// therock-fatbin inspects and rewrites offload bundle containers:
// listing embedded targets, extracting payloads, stripping device
// payloads into companion files, and recombining a stripped binary
// with the companions next to it. Its list/extract/strip surface is
// the command protocol fatbin.ExecDecomposer speaks, so the binary
// doubles as the external decomposition tool on hosts without the
// vendor toolchain.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/marbre/therock/lib/cli"
	"github.com/marbre/therock/lib/fatbin"
	"github.com/marbre/therock/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cli.Command{
		Name:    "therock-fatbin",
		Summary: "inspect and rewrite offload bundle containers",
		Description: `therock-fatbin works with fat binaries in the offload bundle
container layout: a host code object plus one code object per device
architecture behind a single file.`,
		Subcommands: []*cli.Command{
			listCommand(),
			extractCommand(),
			stripCommand(),
			recombineCommand(),
			createCommand(),
		},
	}
	args := os.Args[1:]
	if len(args) == 1 && args[0] == "--version" {
		fmt.Printf("therock-fatbin %s\n", version.Info())
		return nil
	}
	return root.Execute(args)
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "print the target IDs embedded in a fat binary",
		Usage:   "therock-fatbin list <file>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one file argument")
			}
			targets, err := fatbin.Native{}.List(args[0])
			if err != nil {
				return err
			}
			for _, targetID := range targets {
				fmt.Println(targetID)
			}
			return nil
		},
	}
}

func extractCommand() *cli.Command {
	var target, output string
	return &cli.Command{
		Name:    "extract",
		Summary: "write one target's payload to a file",
		Usage:   "therock-fatbin extract --target <id> --output <out> <file>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			flags.StringVar(&target, "target", "", "target ID to extract (required)")
			flags.StringVar(&output, "output", "", "output path (required)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 || target == "" || output == "" {
				return fmt.Errorf("expected --target, --output, and exactly one file argument")
			}
			return fatbin.Native{}.Extract(args[0], target, output)
		},
	}
}

func stripCommand() *cli.Command {
	var output string
	var external []string
	return &cli.Command{
		Name:    "strip",
		Summary: "replace device payloads with companion locators",
		Usage:   "therock-fatbin strip --output <out> [--external <id>=<companion>]... <file>",
		Examples: []cli.Example{
			{
				Description: "strip one device payload extracted to a companion file",
				Command:     "therock-fatbin strip --output out.so --external hipv4-amdgcn-amd-amdhsa--gfx90a=libx.so.gfx90a.co libx.so",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("strip", pflag.ContinueOnError)
			flags.StringVar(&output, "output", "", "output path (required)")
			flags.StringArrayVar(&external, "external", nil, "target ID and companion filename, as <id>=<companion>")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 || output == "" {
				return fmt.Errorf("expected --output and exactly one file argument")
			}
			externalMap := make(map[string]string, len(external))
			for _, pair := range external {
				targetID, companion, ok := strings.Cut(pair, "=")
				if !ok || targetID == "" || companion == "" {
					return fmt.Errorf("malformed --external %q (want <id>=<companion>)", pair)
				}
				externalMap[targetID] = companion
			}
			return fatbin.Native{}.Strip(args[0], output, externalMap)
		},
	}
}

func recombineCommand() *cli.Command {
	var companions, output string
	return &cli.Command{
		Name:    "recombine",
		Summary: "merge a stripped binary with its companion files",
		Usage:   "therock-fatbin recombine --companions <dir> --output <out> <file>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("recombine", pflag.ContinueOnError)
			flags.StringVar(&companions, "companions", "", "directory holding companion files (default: the binary's directory)")
			flags.StringVar(&output, "output", "", "output path (required)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 || output == "" {
				return fmt.Errorf("expected --output and exactly one file argument")
			}
			dir := companions
			if dir == "" {
				dir = "."
			}
			return fatbin.Recombine(args[0], dir, output)
		},
	}
}

func createCommand() *cli.Command {
	var output string
	return &cli.Command{
		Name:    "create",
		Summary: "build an offload bundle from payload files",
		Usage:   "therock-fatbin create --output <out> <id>=<payload-file>...",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
			flags.StringVar(&output, "output", "", "output path (required)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) == 0 || output == "" {
				return fmt.Errorf("expected --output and at least one <id>=<payload-file> argument")
			}
			container := &fatbin.Bundle{}
			for _, pair := range args {
				targetID, payloadPath, ok := strings.Cut(pair, "=")
				if !ok || targetID == "" || payloadPath == "" {
					return fmt.Errorf("malformed entry %q (want <id>=<payload-file>)", pair)
				}
				payload, err := os.ReadFile(payloadPath)
				if err != nil {
					return fmt.Errorf("reading payload %s: %w", payloadPath, err)
				}
				container.Entries = append(container.Entries, fatbin.Entry{
					TargetID: targetID,
					Payload:  payload,
				})
			}
			return os.WriteFile(output, container.Encode(), 0o755)
		},
	}
}
