// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marbre/therock/lib/errdefs"
)

const sampleDescriptor = `{
	// runtime pieces shipped to end users
	"components": {
		"runtime": {
			"include": ["bin/*", "lib/*.so"],
		},
		"headers": ["include/**"],
		"docs": {
			"include": ["prefix:share/doc"],
			"exclude": ["share/doc/**/internal-*"],
		},
	},
}`

func TestParseSample(t *testing.T) {
	desc, err := Parse([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	names := desc.ComponentNames()
	want := []string{"docs", "headers", "runtime"}
	if len(names) != len(want) {
		t.Fatalf("ComponentNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ComponentNames = %v, want %v", names, want)
		}
	}
}

func TestComponentMatching(t *testing.T) {
	desc, err := Parse([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		component string
		path      string
		want      bool
	}{
		{"runtime", "bin/app", true},
		{"runtime", "bin/sub/app", false}, // single-segment glob
		{"runtime", "lib/libfoo.so", true},
		{"runtime", "lib/libfoo.a", false},
		{"runtime", "include/foo.h", false},
		{"headers", "include/foo.h", true},
		{"headers", "include/hip/hip_runtime.h", true}, // ** spans segments
		{"headers", "bin/app", false},
		{"docs", "share/doc/README", true},
		{"docs", "share/doc/hip/internal-notes.txt", false}, // excluded
		{"docs", "share/man/man1/app.1", false},
	}

	for _, tt := range tests {
		component, err := desc.Component(tt.component)
		if err != nil {
			t.Fatalf("Component(%q): %v", tt.component, err)
		}
		if got := component.Matches(tt.path); got != tt.want {
			t.Errorf("%s.Matches(%q) = %v, want %v", tt.component, tt.path, got, tt.want)
		}
	}
}

func TestUndeclaredComponentIsConfigurationError(t *testing.T) {
	desc, err := Parse([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = desc.Component("nonexistent")
	if !errdefs.IsConfiguration(err) {
		t.Errorf("undeclared component lookup should be ConfigurationError, got %v", err)
	}
}

func TestInvalidComponentNames(t *testing.T) {
	for _, name := range []string{"1runtime", "run_time", "run time", "-run", ""} {
		input := `{"components": {"` + name + `": ["bin/*"]}}`
		if _, err := Parse([]byte(input)); !errdefs.IsConfiguration(err) {
			t.Errorf("name %q should be rejected as ConfigurationError, got %v", name, err)
		}
	}
}

func TestValidComponentNames(t *testing.T) {
	for _, name := range []string{"runtime", "dbg", "lib-static", "Dev2"} {
		input := `{"components": {"` + name + `": ["bin/*"]}}`
		if _, err := Parse([]byte(input)); err != nil {
			t.Errorf("name %q should be accepted, got %v", name, err)
		}
	}
}

func TestEmptyDescriptorRejected(t *testing.T) {
	if _, err := Parse([]byte(`{"components": {}}`)); !errdefs.IsConfiguration(err) {
		t.Error("descriptor without components should be a ConfigurationError")
	}
	if _, err := Parse([]byte(`{"components": {"runtime": {"exclude": ["a"]}}}`)); !errdefs.IsConfiguration(err) {
		t.Error("component without includes should be a ConfigurationError")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	first, err := Parse([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := Parse([]byte(sampleDescriptor + "\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if first.Hash() == second.Hash() {
		t.Error("descriptor hash should cover raw bytes, including whitespace")
	}
	third, err := Parse([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if first.Hash() != third.Hash() {
		t.Error("descriptor hash should be deterministic")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	if err := os.WriteFile(path, []byte(sampleDescriptor), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	desc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := desc.Component("runtime"); err != nil {
		t.Errorf("Component(runtime): %v", err)
	}
}

func TestLoadMissingIsConfigurationError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.jsonc"))
	if !errdefs.IsConfiguration(err) {
		t.Errorf("missing descriptor should be ConfigurationError, got %v", err)
	}
}
