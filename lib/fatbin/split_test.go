// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package fatbin

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/marbre/therock/lib/bundle"
	"github.com/marbre/therock/lib/errdefs"
)

// writeUnsplitBundle lays out a complete unsplit bundle containing
// one fat binary and one plain file, returning its directory.
func writeUnsplitBundle(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, bundle.Name("runtime", "lib", ""))
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "share"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "tool"), testBundle().Encode(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "share", "data.txt"), []byte("not a binary\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := bundle.WriteManifest(dir, []string{"bin/tool", "share/data.txt"}); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testDatabase() *Database {
	return &Database{
		Convention:  "hipv4",
		FatBinaries: []FatBinary{{Path: "bin/tool"}},
	}
}

func TestSplit(t *testing.T) {
	root := t.TempDir()
	unsplitDir := writeUnsplitBundle(t, root)

	result, err := Split(Request{
		SliceName:  "runtime",
		Component:  "lib",
		UnsplitDir: unsplitDir,
		Database:   testDatabase(),
		Decomposer: Native{},
		OutputRoot: root,
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if got, want := filepath.Base(result.GenericDir), "runtime_lib_generic"; got != want {
		t.Errorf("generic bundle name = %q, want %q", got, want)
	}
	if len(result.ArchDirs) != 2 {
		t.Fatalf("got %d architecture bundles, want 2: %v", len(result.ArchDirs), result.ArchDirs)
	}
	for _, arch := range []string{archA, archB} {
		if got, want := filepath.Base(result.ArchDirs[arch]), "runtime_lib_"+arch; got != want {
			t.Errorf("%s bundle name = %q, want %q", arch, got, want)
		}
	}

	// All three output bundles must be complete; the plain file must
	// arrive in the generic bundle untouched.
	for _, dir := range []string{result.GenericDir, result.ArchDirs[archA], result.ArchDirs[archB]} {
		if !bundle.IsComplete(dir) {
			t.Errorf("bundle %s has no manifest", dir)
		}
	}
	data, err := os.ReadFile(filepath.Join(result.GenericDir, "share", "data.txt"))
	if err != nil || string(data) != "not a binary\n" {
		t.Errorf("plain file not carried into generic bundle: %q, %v", data, err)
	}

	// The generic copy of the fat binary keeps its host payload and
	// replaces each device payload with a locator.
	generic, err := ReadFile(filepath.Join(result.GenericDir, "bin", "tool"))
	if err != nil {
		t.Fatalf("parsing stripped binary: %v", err)
	}
	if got := string(generic.Entry(hostTarget).Payload); got != "host machine code" {
		t.Errorf("host payload = %q", got)
	}
	for _, targetID := range []string{deviceA, deviceB} {
		name, ok := ParseLocator(generic.Entry(targetID).Payload)
		if !ok {
			t.Fatalf("%s payload is not a locator", targetID)
		}
		want := "tool." + ArchOf(targetID) + CompanionSuffix
		if name != want {
			t.Errorf("locator for %s names %q, want %q", targetID, name, want)
		}
	}

	// Companion files hold the original device payloads.
	companion, err := os.ReadFile(filepath.Join(result.ArchDirs[archA], "bin", "tool."+archA+CompanionSuffix))
	if err != nil {
		t.Fatalf("reading companion: %v", err)
	}
	if string(companion) != "code object for "+archA {
		t.Errorf("companion payload = %q", companion)
	}

	// The unsplit intermediate is now marked stale.
	if !bundle.IsSplitStale(unsplitDir) {
		t.Error("unsplit bundle carries no split marker")
	}

	// The stripped binary keeps the original's executable mode.
	info, err := os.Stat(filepath.Join(result.GenericDir, "bin", "tool"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("stripped binary mode = %v, want 0755", info.Mode().Perm())
	}
}

func TestSplitThenRecombine(t *testing.T) {
	root := t.TempDir()
	unsplitDir := writeUnsplitBundle(t, root)

	result, err := Split(Request{
		SliceName:  "runtime",
		Component:  "lib",
		UnsplitDir: unsplitDir,
		Database:   testDatabase(),
		Decomposer: Native{},
		OutputRoot: root,
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	genericTool := filepath.Join(result.GenericDir, "bin", "tool")

	// Recombining with one architecture's companions reproduces that
	// architecture's payload and drops the other's entry entirely.
	merged := filepath.Join(root, "merged-tool")
	if err := Recombine(genericTool, filepath.Join(result.ArchDirs[archA], "bin"), merged); err != nil {
		t.Fatalf("Recombine: %v", err)
	}
	parsed, err := ReadFile(merged)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(parsed.Entry(hostTarget).Payload); got != "host machine code" {
		t.Errorf("host payload = %q", got)
	}
	if got := string(parsed.Entry(deviceA).Payload); got != "code object for "+archA {
		t.Errorf("%s payload = %q", archA, got)
	}
	if parsed.Entry(deviceB) != nil {
		t.Errorf("entry for absent architecture survived recombination")
	}

	// Recombining with no companions yields a host-only binary.
	hostOnly := filepath.Join(root, "host-only-tool")
	if err := Recombine(genericTool, filepath.Join(root, "empty"), hostOnly); err != nil {
		t.Fatalf("Recombine with no companions: %v", err)
	}
	parsed, err = ReadFile(hostOnly)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.Entries) != 1 || parsed.Entries[0].TargetID != hostTarget {
		t.Errorf("host-only recombination kept targets %v", parsed.TargetIDs())
	}
	if !bytes.Equal(parsed.Entries[0].Payload, []byte("host machine code")) {
		t.Errorf("host payload corrupted: %q", parsed.Entries[0].Payload)
	}
}

func TestSplitDatabaseEntryNotInBundle(t *testing.T) {
	root := t.TempDir()
	unsplitDir := writeUnsplitBundle(t, root)

	_, err := Split(Request{
		SliceName:  "runtime",
		Component:  "lib",
		UnsplitDir: unsplitDir,
		Database: &Database{FatBinaries: []FatBinary{
			{Path: "bin/tool"},
			{Path: "lib/no-such-file.so"},
		}},
		Decomposer: Native{},
		OutputRoot: root,
	})
	if !errdefs.IsConfiguration(err) {
		t.Errorf("got %v, want ConfigurationError", err)
	}
}

func TestSplitDeclaredFileIsNotFat(t *testing.T) {
	root := t.TempDir()
	unsplitDir := writeUnsplitBundle(t, root)

	_, err := Split(Request{
		SliceName:  "runtime",
		Component:  "lib",
		UnsplitDir: unsplitDir,
		Database:   &Database{FatBinaries: []FatBinary{{Path: "share/data.txt"}}},
		Decomposer: Native{},
		OutputRoot: root,
	})
	if !errdefs.IsConfiguration(err) {
		t.Errorf("got %v, want ConfigurationError", err)
	}
}

func TestSplitHostOnlyBinaryIsConfigurationError(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, bundle.Name("runtime", "lib", ""))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	hostOnly := &Bundle{Entries: []Entry{
		{TargetID: hostTarget, Payload: []byte("host machine code")},
	}}
	if err := os.WriteFile(filepath.Join(dir, "tool"), hostOnly.Encode(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := bundle.WriteManifest(dir, []string{"tool"}); err != nil {
		t.Fatal(err)
	}

	_, err := Split(Request{
		SliceName:  "runtime",
		Component:  "lib",
		UnsplitDir: dir,
		Database:   &Database{FatBinaries: []FatBinary{{Path: "tool"}}},
		Decomposer: Native{},
		OutputRoot: root,
	})
	if !errdefs.IsConfiguration(err) {
		t.Errorf("got %v, want ConfigurationError", err)
	}
	if bundle.IsSplitStale(dir) {
		t.Error("failed split left a split marker")
	}
}

func TestSplitIncompleteBundle(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "runtime_lib")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := Split(Request{
		SliceName:  "runtime",
		Component:  "lib",
		UnsplitDir: dir,
		Database:   testDatabase(),
		Decomposer: Native{},
		OutputRoot: root,
	})
	if !errdefs.IsInputNotReady(err) {
		t.Errorf("got %v, want InputNotReadyError", err)
	}
}

func TestLoadDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "split.yaml")
	content := `convention: hipv4
fat_binaries:
  - path: lib/librocblas.so
  - path: bin/rocminfo
`
	if err := os.WriteFile(dbPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := LoadDatabase(dbPath)
	if err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}
	if db.Convention != "hipv4" {
		t.Errorf("convention = %q", db.Convention)
	}
	if !db.IsFat("lib/librocblas.so") || !db.IsFat("bin/rocminfo") {
		t.Error("declared paths not recognized")
	}
	if db.IsFat("lib/other.so") {
		t.Error("undeclared path recognized as fat")
	}
}

func TestLoadDatabaseRejectsBadDeclarations(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "convention: hipv4\nfat_binaries: []\n"},
		{"duplicate", "fat_binaries:\n  - path: lib/a.so\n  - path: lib/a.so\n"},
		{"absolute", "fat_binaries:\n  - path: /usr/lib/a.so\n"},
		{"dotdot", "fat_binaries:\n  - path: ../a.so\n"},
		{"unparseable", "fat_binaries: {{{\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(dbPath, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadDatabase(dbPath); !errdefs.IsConfiguration(err) {
				t.Errorf("got %v, want ConfigurationError", err)
			}
		})
	}

	if _, err := LoadDatabase(filepath.Join(dir, "missing.yaml")); !errdefs.IsConfiguration(err) {
		t.Errorf("missing database: got %v, want ConfigurationError", err)
	}
}
