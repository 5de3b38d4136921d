// Package chunk compresses a byte stream, hashes it, and splits it into
// fixed-size committed chunk files plus a manifest. It replaces
// original_source/docrip/chunker.py's `compress | tee >(sha256sum) | split`
// shell pipeline with in-process pure-Go composition: klauspost/compress's
// zstd encoder or klauspost/pgzip for the compressor, and io.MultiWriter taps
// for the whole-stream and per-chunk SHA-256 digests. Each chunk is
// committed with the same temp-file-then-rename pattern
// vault.FileSystemVault.writeFile uses, so a crash mid-chunk never leaves a
// partially written file at its final name.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"docrip/internal/docrip"
)

// Stage identifies which phase of chunking failed, for ArchiveError.
type Stage string

const (
	StageCompressorInit Stage = "compressor_init"
	StageCompress       Stage = "compress"
	StageSplit          Stage = "split"
	StageCommit         Stage = "commit"
	StageManifest       Stage = "manifest"
)

// ArchiveError wraps a failure with the stage it occurred in.
type ArchiveError struct {
	Stage Stage
	Cause error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("chunk: %s: %v", e.Stage, e.Cause)
}

func (e *ArchiveError) Unwrap() error { return e.Cause }

// extensionFor returns the manifest's file extension for a compressor name.
func extensionFor(compressor string) (string, error) {
	switch compressor {
	case "zstd":
		return "zst", nil
	case "pigz":
		return "gz", nil
	default:
		return "", fmt.Errorf("unsupported compressor: %s", compressor)
	}
}

// newCompressor wraps w with the requested compressor at the given level,
// using threads internal compression goroutines where the library supports it.
func newCompressor(compressor string, level, threads int, w io.Writer) (io.WriteCloser, error) {
	switch compressor {
	case "zstd":
		zlevel := zstd.EncoderLevelFromZstd(level)
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zlevel),
			zstd.WithEncoderConcurrency(threads),
		)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case "pigz":
		gz, err := pgzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, err
		}
		if err := gz.SetConcurrency(1<<20, threads); err != nil {
			return nil, err
		}
		return gz, nil
	default:
		return nil, fmt.Errorf("unsupported compressor: %s", compressor)
	}
}

// Run compresses tarStream per job's settings, splits the compressed output
// into job.ChunkSizeMB-sized chunk files under job.SpoolDir/job.Volume.ArchiveBase,
// commits each chunk atomically, and returns the manifest describing them. A
// ChunkSizeMB of 0 produces a single, unsplit archive file, matching
// chunker.py's `chunk_size_mb == 0` branch.
func Run(job docrip.ArchiveJob, tarStream io.Reader) (docrip.Manifest, error) {
	ext, err := extensionFor(job.Compressor)
	if err != nil {
		return docrip.Manifest{}, &ArchiveError{Stage: StageCompressorInit, Cause: err}
	}

	outDir := filepath.Join(job.SpoolDir, job.Volume.ArchiveBase)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return docrip.Manifest{}, &ArchiveError{Stage: StageSplit, Cause: err}
	}

	whole := sha256.New()
	splitter := newSplitter(outDir, job.Volume.ArchiveBase, ext, int64(job.ChunkSizeMB)<<20)

	tee := io.MultiWriter(whole, splitter)
	comp, err := newCompressor(job.Compressor, job.Level, job.Threads, tee)
	if err != nil {
		return docrip.Manifest{}, &ArchiveError{Stage: StageCompressorInit, Cause: err}
	}

	if _, err := io.Copy(comp, tarStream); err != nil {
		return docrip.Manifest{}, &ArchiveError{Stage: StageCompress, Cause: err}
	}
	if err := comp.Close(); err != nil {
		return docrip.Manifest{}, &ArchiveError{Stage: StageCompress, Cause: err}
	}
	if err := splitter.finish(); err != nil {
		return docrip.Manifest{}, &ArchiveError{Stage: StageCommit, Cause: err}
	}

	wholeDigest := hex.EncodeToString(whole.Sum(nil))
	if err := atomicWrite(outDir, ".whole.sha256", []byte(wholeDigest+"\n")); err != nil {
		return docrip.Manifest{}, &ArchiveError{Stage: StageCommit, Cause: err}
	}

	manifest := docrip.Manifest{
		ArchiveBase:       job.Volume.ArchiveBase,
		SourceDevice:      job.Volume.DevicePath,
		FSType:            job.Volume.FSType,
		VolumeSizeBytes:   job.Volume.SizeBytes,
		Compressor:        job.Compressor,
		CompressionLevel:  job.Level,
		ChunkSizeMB:       job.ChunkSizeMB,
		HashAlgorithm:     job.HashAlgorithm,
		Chunks:            splitter.chunks,
		WholeStreamDigest: wholeDigest,
		CreatedAt:         time.Now().UTC(),
	}
	return manifest, nil
}
