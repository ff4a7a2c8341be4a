// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package errdefs defines the error taxonomy shared by the artifact
// pipeline. Every error category is fatal for the invocation that
// raised it; none is retried internally or downgraded to a warning.
// What distinguishes the categories is who is expected to fix the
// condition: the build configuration (ConfigurationError,
// DuplicateDeclarationError, OverlapError), the external build-stage
// engine (InputNotReadyError), or the host environment
// (EnvironmentError).
//
// Callers classify errors with the Is* helpers, which use errors.As
// so wrapped errors are recognized.
package errdefs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a bad or missing declaration: an unknown
// artifact component, an invalid name, a descriptor that cannot be
// parsed, or a split database entry pointing at a file with no
// recognized target entries.
type ConfigurationError struct {
	// Subject is the declaration the error is about (a component
	// name, a file path, a slice name).
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}

// Configuration constructs a ConfigurationError with a formatted reason.
func Configuration(subject, format string, args ...any) error {
	return &ConfigurationError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// InputNotReadyError reports that an upstream output this invocation
// depends on (a staged tree, an unsplit bundle, a bundle manifest) is
// missing. The external executor resolves it by re-running the
// upstream stage; this core never retries.
type InputNotReadyError struct {
	// Path is the missing or incomplete input.
	Path   string
	Reason string
}

func (e *InputNotReadyError) Error() string {
	return fmt.Sprintf("input not ready: %s: %s", e.Path, e.Reason)
}

// InputNotReady constructs an InputNotReadyError with a formatted reason.
func InputNotReady(path, format string, args ...any) error {
	return &InputNotReadyError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// IsInputNotReady reports whether err is (or wraps) an InputNotReadyError.
func IsInputNotReady(err error) bool {
	var target *InputNotReadyError
	return errors.As(err, &target)
}

// OverlapError reports that two artifact components (during slicing)
// or two bundles (during distribution assembly) both claim the same
// relative output path. Overlap is a configuration bug, never a
// runtime tie-break: the operation halts before any manifest is
// written so the partial output is treated as incomplete.
type OverlapError struct {
	// Path is the colliding relative path.
	Path string

	// First and Second name the two claimants (artifact component
	// names within a slice, or bundle names within a distribution).
	First  string
	Second string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping path %q claimed by both %s and %s", e.Path, e.First, e.Second)
}

// IsOverlap reports whether err is (or wraps) an OverlapError.
func IsOverlap(err error) bool {
	var target *OverlapError
	return errors.As(err, &target)
}

// DuplicateDeclarationError reports that the same slice name was
// registered twice in one build.
type DuplicateDeclarationError struct {
	Name string
}

func (e *DuplicateDeclarationError) Error() string {
	return fmt.Sprintf("slice %q registered twice in one build", e.Name)
}

// IsDuplicateDeclaration reports whether err is (or wraps) a
// DuplicateDeclarationError.
func IsDuplicateDeclaration(err error) bool {
	var target *DuplicateDeclarationError
	return errors.As(err, &target)
}

// EnvironmentError reports a defect in the host environment: a
// missing decomposition tool or a filesystem I/O failure. The
// offending path or tool name is always recorded.
type EnvironmentError struct {
	// Subject is the tool or path the environment failed to provide.
	Subject string
	Err     error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment error: %s: %v", e.Subject, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// Environment wraps err as an EnvironmentError for the given subject.
func Environment(subject string, err error) error {
	return &EnvironmentError{Subject: subject, Err: err}
}

// IsEnvironment reports whether err is (or wraps) an EnvironmentError.
func IsEnvironment(err error) bool {
	var target *EnvironmentError
	return errors.As(err, &target)
}
