// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marbre/therock/lib/hashutil"
)

func descriptorHash(content string) hashutil.Hash {
	return hashutil.HashDescriptor([]byte(content))
}

func TestComputeDeterministic(t *testing.T) {
	deps := []Dep{
		{Name: "base", Fingerprint: FromHash(descriptorHash("base"))},
		{Name: "amd-llvm", Fingerprint: FromHash(descriptorHash("llvm"))},
	}
	first := Compute("core-runtime", descriptorHash("desc"), deps)
	second := Compute("core-runtime", descriptorHash("desc"), deps)
	if !first.Valid() || first != second {
		t.Errorf("Compute is not deterministic: %v vs %v", first, second)
	}
}

func TestComputeOrderIndependent(t *testing.T) {
	a := Dep{Name: "base", Fingerprint: FromHash(descriptorHash("base"))}
	b := Dep{Name: "amd-llvm", Fingerprint: FromHash(descriptorHash("llvm"))}

	forward := Compute("core-runtime", descriptorHash("desc"), []Dep{a, b})
	reverse := Compute("core-runtime", descriptorHash("desc"), []Dep{b, a})
	if forward != reverse {
		t.Error("dependency declaration order changed the fingerprint")
	}
}

func TestComputeSensitivity(t *testing.T) {
	deps := []Dep{{Name: "base", Fingerprint: FromHash(descriptorHash("base-v1"))}}
	base := Compute("core-runtime", descriptorHash("desc-v1"), deps)

	// Changing the descriptor hash changes the result.
	changedDescriptor := Compute("core-runtime", descriptorHash("desc-v2"), deps)
	if changedDescriptor == base {
		t.Error("descriptor change did not change fingerprint")
	}

	// Changing a dependency fingerprint changes the result.
	changedDep := Compute("core-runtime", descriptorHash("desc-v1"),
		[]Dep{{Name: "base", Fingerprint: FromHash(descriptorHash("base-v2"))}})
	if changedDep == base {
		t.Error("dependency change did not change fingerprint")
	}

	// Changing the artifact name changes the result.
	changedName := Compute("core-hip", descriptorHash("desc-v1"), deps)
	if changedName == base {
		t.Error("artifact name change did not change fingerprint")
	}
}

func TestInvalidDependencyPropagates(t *testing.T) {
	deps := []Dep{
		{Name: "base", Fingerprint: FromHash(descriptorHash("base"))},
		{Name: "broken", Fingerprint: Invalid},
	}
	if result := Compute("core-runtime", descriptorHash("desc"), deps); result.Valid() {
		t.Error("invalid dependency fingerprint must make the result invalid")
	}
}

func TestThirdArtifactScenario(t *testing.T) {
	// Two components feed a third artifact. Changing only F1 changes
	// the third's fingerprint; changing an undeclared component does
	// not.
	f1 := FromHash(descriptorHash("component-1 state A"))
	f2 := FromHash(descriptorHash("component-2 state A"))
	desc := descriptorHash("third descriptor")

	before := Compute("third", desc, []Dep{{Name: "one", Fingerprint: f1}, {Name: "two", Fingerprint: f2}})

	f1Changed := FromHash(descriptorHash("component-1 state B"))
	after := Compute("third", desc, []Dep{{Name: "one", Fingerprint: f1Changed}, {Name: "two", Fingerprint: f2}})
	if before == after {
		t.Error("changing F1 must change the dependent fingerprint")
	}

	// An unrelated, undeclared component changing has no effect: the
	// inputs to Compute are identical.
	unchanged := Compute("third", desc, []Dep{{Name: "one", Fingerprint: f1}, {Name: "two", Fingerprint: f2}})
	if before != unchanged {
		t.Error("fingerprint changed without any declared input changing")
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := Compute("core-runtime", descriptorHash("desc"), nil)
	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != original {
		t.Error("fingerprint hex round trip mismatch")
	}
}

func TestWriteReadFile(t *testing.T) {
	bundleDir := filepath.Join(t.TempDir(), "core-runtime_lib_generic")
	f := Compute("core-runtime", descriptorHash("desc"), nil)

	if err := WriteFile(bundleDir, f); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, present, err := ReadFile(bundleDir)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !present {
		t.Fatal("fingerprint file should be present after write")
	}
	if got != f {
		t.Errorf("ReadFile = %v, want %v", got, f)
	}
}

func TestInvalidWriteRemovesFile(t *testing.T) {
	bundleDir := filepath.Join(t.TempDir(), "core-runtime_lib_generic")
	valid := Compute("core-runtime", descriptorHash("desc"), nil)

	if err := WriteFile(bundleDir, valid); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := WriteFile(bundleDir, Invalid); err != nil {
		t.Fatalf("WriteFile(Invalid): %v", err)
	}

	if _, err := os.Stat(FilePath(bundleDir)); !os.IsNotExist(err) {
		t.Error("invalid fingerprint must remove the fingerprint file")
	}

	_, present, err := ReadFile(bundleDir)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if present {
		t.Error("fingerprint reported present after invalidation")
	}
}

func TestInvalidWriteOnMissingFileSucceeds(t *testing.T) {
	bundleDir := filepath.Join(t.TempDir(), "never-written")
	if err := WriteFile(bundleDir, Invalid); err != nil {
		t.Errorf("WriteFile(Invalid) on missing file: %v", err)
	}
}

func TestMalformedFileTreatedAsAbsent(t *testing.T) {
	bundleDir := filepath.Join(t.TempDir(), "core-runtime_lib_generic")
	if err := os.WriteFile(FilePath(bundleDir), []byte("not-a-hash\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, present, err := ReadFile(bundleDir)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if present {
		t.Error("malformed fingerprint should read as absent")
	}
	if _, err := os.Stat(FilePath(bundleDir)); !os.IsNotExist(err) {
		t.Error("malformed fingerprint file should be removed")
	}
}
