// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries build version information for the therock
// binaries, injected at build time via -ldflags:
//
//	go build -ldflags "-X github.com/marbre/therock/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns the one-line string printed by --version.
func Info() string {
	return fmt.Sprintf("%s (%s, %s, %s/%s)", Version, GitCommit, BuildTime, runtime.GOOS, runtime.GOARCH)
}
