// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive writes compressed tar archives of complete artifact
// bundles.
//
// Archives are deterministic: entries appear in manifest order with
// ownership cleared, timestamps zeroed, and modes normalized, so the
// same bundle contents always produce byte-identical archive bytes
// for a given format and level. A detached SHA-256 checksum sidecar
// is written next to each archive in sha256sum-compatible format; the
// digest is computed while streaming, not by re-reading the output.
package archive

import (
	"archive/tar"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/marbre/therock/lib/bundle"
	"github.com/marbre/therock/lib/errdefs"
	"github.com/marbre/therock/lib/hashutil"
)

// ChecksumSuffix is appended to the archive path to name the detached
// checksum sidecar.
const ChecksumSuffix = ".sha256sum"

// Level selects how hard the compressor works. The zero value asks
// each codec for its default.
type Level int

const (
	LevelDefault Level = iota
	LevelFast
	LevelBest
)

// Options configures one archive write.
type Options struct {
	Level Level
}

// Write archives the complete bundle at bundleDir to outputPath,
// returning the archive path and its checksum sidecar path. The
// compression format follows the output extension: .tar.xz, .tar.gz,
// .tar.zst, or .tar.lz4.
//
// Exactly the manifest's files are archived. A listed file missing
// from the bundle directory fails the write, and unlisted files are
// ignored. An incomplete bundle, or an unsplit intermediate that has
// already been split, is refused. The archive and its sidecar appear
// atomically, archive first.
func Write(bundleDir, outputPath string, opts Options) (string, string, error) {
	if bundle.IsSplitStale(bundleDir) {
		return "", "", errdefs.InputNotReady(bundleDir,
			"bundle was split; archive its generic and architecture successors instead")
	}
	paths, err := bundle.ReadManifest(bundleDir)
	if err != nil {
		return "", "", err
	}

	compress, err := compressorFor(outputPath, opts.Level)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", "", errdefs.Environment(outputPath, fmt.Errorf("creating output directory: %w", err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+"-*")
	if err != nil {
		return "", "", errdefs.Environment(outputPath, fmt.Errorf("creating temp archive: %w", err))
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	digest := sha256.New()
	compressed, err := compress(io.MultiWriter(tmp, digest))
	if err != nil {
		return "", "", errdefs.Environment(outputPath, fmt.Errorf("initializing compressor: %w", err))
	}
	if err := writeTar(compressed, bundleDir, paths); err != nil {
		compressed.Close()
		return "", "", err
	}
	if err := compressed.Close(); err != nil {
		return "", "", errdefs.Environment(outputPath, fmt.Errorf("finalizing compressed stream: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return "", "", errdefs.Environment(outputPath, fmt.Errorf("closing archive: %w", err))
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return "", "", errdefs.Environment(outputPath, fmt.Errorf("renaming archive: %w", err))
	}
	success = true

	var sum [32]byte
	digest.Sum(sum[:0])
	checksumPath := outputPath + ChecksumSuffix
	line := hashutil.FormatDigest(sum) + "  " + filepath.Base(outputPath) + "\n"
	if err := writeFileAtomic(checksumPath, []byte(line)); err != nil {
		return "", "", err
	}
	return outputPath, checksumPath, nil
}

// writeTar streams the bundle's files as a deterministic tar stream
// in manifest order.
func writeTar(w io.Writer, bundleDir string, paths []string) error {
	tw := tar.NewWriter(w)
	for _, rel := range paths {
		full := filepath.Join(bundleDir, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				return errdefs.InputNotReady(full, "manifested file missing from bundle")
			}
			return errdefs.Environment(full, fmt.Errorf("stat: %w", err))
		}

		mode := int64(0o644)
		if info.Mode().Perm()&0o100 != 0 {
			mode = 0o755
		}
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     rel,
			Size:     info.Size(),
			Mode:     mode,
			ModTime:  time.Unix(0, 0),
			Format:   tar.FormatUSTAR,
		}

		if err := tw.WriteHeader(header); err != nil {
			return errdefs.Environment(full, fmt.Errorf("writing tar header: %w", err))
		}
		file, err := os.Open(full)
		if err != nil {
			return errdefs.Environment(full, fmt.Errorf("opening: %w", err))
		}
		if _, err := io.Copy(tw, file); err != nil {
			file.Close()
			return errdefs.Environment(full, fmt.Errorf("streaming into archive: %w", err))
		}
		file.Close()
	}
	if err := tw.Close(); err != nil {
		return errdefs.Environment(bundleDir, fmt.Errorf("finalizing tar stream: %w", err))
	}
	return nil
}

// compressorFor selects the compression codec from the output path's
// extension. An unrecognized extension is a configuration error so a
// typo never silently produces a raw tar.
func compressorFor(outputPath string, level Level) (func(io.Writer) (io.WriteCloser, error), error) {
	switch {
	case strings.HasSuffix(outputPath, ".tar.xz"):
		// xz exposes no simple level knob; the default preset is
		// used regardless of level.
		return func(w io.Writer) (io.WriteCloser, error) {
			return xz.NewWriter(w)
		}, nil
	case strings.HasSuffix(outputPath, ".tar.gz"):
		return func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, gzipLevel(level))
		}, nil
	case strings.HasSuffix(outputPath, ".tar.zst"):
		return func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)))
		}, nil
	case strings.HasSuffix(outputPath, ".tar.lz4"):
		return func(w io.Writer) (io.WriteCloser, error) {
			lw := lz4.NewWriter(w)
			if err := lw.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
				return nil, err
			}
			return lw, nil
		}, nil
	default:
		return nil, errdefs.Configuration(outputPath,
			"unsupported archive extension (want .tar.xz, .tar.gz, .tar.zst, or .tar.lz4)")
	}
}

func gzipLevel(level Level) int {
	switch level {
	case LevelFast:
		return gzip.BestSpeed
	case LevelBest:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func zstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case LevelFast:
		return zstd.SpeedFastest
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func lz4Level(level Level) lz4.CompressionLevel {
	switch level {
	case LevelFast:
		return lz4.Fast
	case LevelBest:
		return lz4.Level9
	default:
		return lz4.Fast
	}
}

// writeFileAtomic writes data via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return errdefs.Environment(path, fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errdefs.Environment(path, fmt.Errorf("writing: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errdefs.Environment(path, fmt.Errorf("closing: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errdefs.Environment(path, fmt.Errorf("renaming: %w", err))
	}
	return nil
}
