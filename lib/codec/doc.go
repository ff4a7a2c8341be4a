// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the pipeline's standard CBOR encoding
// configuration.
//
// The artifact pipeline uses three serialization formats with a clear
// boundary:
//
//   - JSONC for human-authored inputs: artifact descriptors and the
//     project configuration.
//   - Plain text for completion contracts consumed by external
//     tooling: bundle manifests, fingerprint files, checksum sidecars.
//   - CBOR for machine-only caches: the fingerprint index that lets
//     the scheduler diff the previous run against the current one.
//
// This package provides the shared CBOR modes so every cache encodes
// identically. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, so rewriting an unchanged cache never dirties the file.
package codec
