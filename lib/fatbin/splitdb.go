// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package fatbin

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marbre/therock/lib/errdefs"
)

// Database is a split database: the per-component declaration of
// which staged files are fat binaries. The database is authoritative:
// a declared file that turns out not to be fat is a configuration
// error, not a skip.
//
// Databases are authored as YAML:
//
//	convention: hipv4
//	fat_binaries:
//	  - path: lib/libamdhip64.so
//	  - path: lib/librocblas.so
type Database struct {
	// Convention records the offload-kind convention the declared
	// binaries were bundled with. Informational: target IDs embed
	// their own kind prefix.
	Convention string `yaml:"convention"`

	FatBinaries []FatBinary `yaml:"fat_binaries"`
}

// FatBinary declares one fat binary by its bundle-relative path.
type FatBinary struct {
	Path string `yaml:"path"`
}

// LoadDatabase reads and validates a split database file.
func LoadDatabase(dbPath string) (*Database, error) {
	data, err := os.ReadFile(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Configuration(dbPath, "split database missing")
		}
		return nil, errdefs.Environment(dbPath, fmt.Errorf("reading split database: %w", err))
	}

	var db Database
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, errdefs.Configuration(dbPath, "parsing split database: %v", err)
	}

	if len(db.FatBinaries) == 0 {
		return nil, errdefs.Configuration(dbPath, "split database declares no fat binaries")
	}
	seen := make(map[string]bool, len(db.FatBinaries))
	for i, fb := range db.FatBinaries {
		cleaned := path.Clean(fb.Path)
		if fb.Path == "" || cleaned != fb.Path || cleaned == "." || path.IsAbs(fb.Path) ||
			cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return nil, errdefs.Configuration(dbPath, "invalid fat binary path %q", fb.Path)
		}
		if seen[fb.Path] {
			return nil, errdefs.Configuration(dbPath, "fat binary path %q declared twice", fb.Path)
		}
		seen[fb.Path] = true
		db.FatBinaries[i].Path = cleaned
	}
	return &db, nil
}

// IsFat reports whether the database declares the bundle-relative
// path as a fat binary.
func (db *Database) IsFat(rel string) bool {
	for _, fb := range db.FatBinaries {
		if fb.Path == rel {
			return true
		}
	}
	return false
}
