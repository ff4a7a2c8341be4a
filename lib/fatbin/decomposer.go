// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package fatbin

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marbre/therock/lib/errdefs"
)

// Decomposer is the capability interface for taking fat binaries
// apart. The native implementation parses the container in-process;
// ExecDecomposer shells out to an external unbundling tool, matching
// production toolchains where the vendor tool is authoritative.
type Decomposer interface {
	// List returns the target IDs embedded in the fat binary at path.
	List(path string) ([]string, error)

	// Extract writes the payload for targetID to outPath.
	Extract(path, targetID, outPath string) error

	// Strip writes a copy of the fat binary to outPath in which every
	// target ID appearing in external has its payload replaced by a
	// locator naming the mapped companion filename. Entries not in
	// external (the host entries) are preserved verbatim, as is the
	// file mode.
	Strip(path, outPath string, external map[string]string) error
}

// Native is the in-process Decomposer.
type Native struct{}

// List implements Decomposer.
func (Native) List(path string) ([]string, error) {
	bundle, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bundle.TargetIDs(), nil
}

// Extract implements Decomposer.
func (Native) Extract(path, targetID, outPath string) error {
	bundle, err := ReadFile(path)
	if err != nil {
		return err
	}
	entry := bundle.Entry(targetID)
	if entry == nil {
		return fmt.Errorf("%s: no entry for target %s", path, targetID)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errdefs.Environment(outPath, fmt.Errorf("creating parent directory: %w", err))
	}
	if err := os.WriteFile(outPath, entry.Payload, 0o644); err != nil {
		return errdefs.Environment(outPath, fmt.Errorf("writing payload: %w", err))
	}
	return nil
}

// Strip implements Decomposer.
func (Native) Strip(path, outPath string, external map[string]string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errdefs.Environment(path, fmt.Errorf("stat: %w", err))
	}

	bundle, err := ReadFile(path)
	if err != nil {
		return err
	}

	stripped := &Bundle{Entries: make([]Entry, len(bundle.Entries))}
	for i, entry := range bundle.Entries {
		companion, ok := external[entry.TargetID]
		if !ok {
			stripped.Entries[i] = entry
			continue
		}
		stripped.Entries[i] = Entry{
			TargetID: entry.TargetID,
			Payload:  LocatorPayload(companion),
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errdefs.Environment(outPath, fmt.Errorf("creating parent directory: %w", err))
	}
	if err := os.WriteFile(outPath, stripped.Encode(), info.Mode().Perm()); err != nil {
		return errdefs.Environment(outPath, fmt.Errorf("writing stripped binary: %w", err))
	}
	return nil
}

// ExecDecomposer invokes an external unbundling tool. The tool's
// command surface matches cmd/therock-fatbin: "list <file>" printing
// target IDs one per line, "extract --target <id> --output <out>
// <file>", and "strip --output <out> [--external <id>=<companion>]...
// <file>".
type ExecDecomposer struct {
	tool string
}

// NewExecDecomposer resolves the named tool on PATH. A missing tool
// is an environment error, never a soft skip.
func NewExecDecomposer(tool string) (*ExecDecomposer, error) {
	resolved, err := exec.LookPath(tool)
	if err != nil {
		return nil, errdefs.Environment(tool, fmt.Errorf("decomposition tool not found: %w", err))
	}
	return &ExecDecomposer{tool: resolved}, nil
}

// List implements Decomposer.
func (d *ExecDecomposer) List(path string) ([]string, error) {
	output, err := d.run("list", path)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// Extract implements Decomposer.
func (d *ExecDecomposer) Extract(path, targetID, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errdefs.Environment(outPath, fmt.Errorf("creating parent directory: %w", err))
	}
	_, err := d.run("extract", "--target", targetID, "--output", outPath, path)
	return err
}

// Strip implements Decomposer.
func (d *ExecDecomposer) Strip(path, outPath string, external map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return errdefs.Environment(outPath, fmt.Errorf("creating parent directory: %w", err))
	}
	args := []string{"strip", "--output", outPath}
	for _, targetID := range sortedKeys(external) {
		args = append(args, "--external", targetID+"="+external[targetID])
	}
	args = append(args, path)
	_, err := d.run(args...)
	return err
}

func (d *ExecDecomposer) run(args ...string) (string, error) {
	cmd := exec.Command(d.tool, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errdefs.Environment(d.tool,
			fmt.Errorf("%s %s: %w (stderr: %s)", filepath.Base(d.tool), strings.Join(args, " "), err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

// sortedKeys returns the map keys sorted, so strip invocations are
// reproducible in logs and tests.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
