// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package descriptor

import "testing"

func TestParsePredicateKinds(t *testing.T) {
	tests := []struct {
		input string
		kind  PredicateKind
		pat   string
	}{
		{"bin/*", KindGlob, "bin/*"},
		{"glob:lib/**/*.so", KindGlob, "lib/**/*.so"},
		{"prefix:share/doc", KindPrefix, "share/doc"},
		{"exact:bin/hipcc", KindExact, "bin/hipcc"},
		{"./bin/app", KindGlob, "bin/app"}, // cleaned
	}
	for _, tt := range tests {
		p, err := ParsePredicate(tt.input)
		if err != nil {
			t.Errorf("ParsePredicate(%q): %v", tt.input, err)
			continue
		}
		if p.Kind != tt.kind || p.Pattern != tt.pat {
			t.Errorf("ParsePredicate(%q) = %v, want %s:%s", tt.input, p, tt.kind, tt.pat)
		}
	}
}

func TestParsePredicateRejectsEmpty(t *testing.T) {
	for _, input := range []string{"", "prefix:", "exact:", "glob:", "/", "."} {
		if _, err := ParsePredicate(input); err == nil {
			t.Errorf("ParsePredicate(%q) should fail", input)
		}
	}
}

func TestParsePredicateRejectsBadGlob(t *testing.T) {
	if _, err := ParsePredicate("bin/[unterminated"); err == nil {
		t.Error("malformed glob should fail at parse time")
	}
}

func TestGlobMatching(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"bin/*", "bin/app", true},
		{"bin/*", "bin/sub/app", false},
		{"bin/*", "sbin/app", false},
		{"lib/*.so", "lib/libamdhip64.so", true},
		{"lib/*.so", "lib/libamdhip64.so.6", false},
		{"include/**", "include/foo.h", true},
		{"include/**", "include/hip/detail/helpers.h", true},
		{"include/**", "include", true}, // ** matches zero segments
		{"**/*.cmake", "lib/cmake/hip/hip-config.cmake", true},
		{"**/*.cmake", "toolchain.cmake", true},
		{"lib/**/cmake/*", "lib/cmake/x", true},
		{"lib/**/cmake/*", "lib64/cmake/x", false},
		{"lib/**/*.bc", "lib/llvm/amdgcn/bitcode/ocml.bc", true},
		{"share/**/doc/*", "share/doc/README", true},
		{"share/**/doc/*", "share/hip/doc/README", true},
		{"share/**/doc/*", "share/hip/man/README", false},
	}
	for _, tt := range tests {
		p, err := ParsePredicate(tt.pattern)
		if err != nil {
			t.Fatalf("ParsePredicate(%q): %v", tt.pattern, err)
		}
		if got := p.Matches(tt.path); got != tt.want {
			t.Errorf("glob %q on %q = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestPrefixMatching(t *testing.T) {
	p, err := ParsePredicate("prefix:share/doc")
	if err != nil {
		t.Fatalf("ParsePredicate: %v", err)
	}
	tests := []struct {
		path string
		want bool
	}{
		{"share/doc/README", true},
		{"share/doc/hip/notes.txt", true},
		{"share/doc", true},
		{"share/docs/README", false}, // no partial segment match
		{"share/man/man1/x.1", false},
	}
	for _, tt := range tests {
		if got := p.Matches(tt.path); got != tt.want {
			t.Errorf("prefix on %q = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExactMatching(t *testing.T) {
	p, err := ParsePredicate("exact:bin/hipcc")
	if err != nil {
		t.Fatalf("ParsePredicate: %v", err)
	}
	if !p.Matches("bin/hipcc") {
		t.Error("exact predicate should match its own path")
	}
	if p.Matches("bin/hipcc.bat") || p.Matches("bin/hipcc/x") {
		t.Error("exact predicate matched a different path")
	}
}
