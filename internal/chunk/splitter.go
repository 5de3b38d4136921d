package chunk

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"docrip/internal/docrip"
)

// splitter is an io.Writer that fans compressed bytes out into fixed-size
// chunk files, committing each one atomically as it fills. A chunkSize of 0
// means "never split": everything goes into a single chunk, matching
// chunker.py's chunk_size_mb == 0 branch.
type splitter struct {
	dir       string
	base      string
	ext       string
	chunkSize int64

	ordinal    int
	cur        *os.File
	curTmpPath string
	curDigest  hash.Hash
	curWritten int64

	chunks []docrip.ManifestChunk
}

func newSplitter(dir, base, ext string, chunkSize int64) *splitter {
	return &splitter{dir: dir, base: base, ext: ext, chunkSize: chunkSize}
}

func (s *splitter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if s.cur == nil {
			if err := s.openNext(); err != nil {
				return total, err
			}
		}

		room := int64(len(p))
		if s.chunkSize > 0 {
			if remaining := s.chunkSize - s.curWritten; remaining < room {
				room = remaining
			}
		}

		n, err := s.cur.Write(p[:room])
		s.curDigest.Write(p[:room])
		s.curWritten += int64(n)
		total += n
		p = p[room:]
		if err != nil {
			return total, err
		}

		if s.chunkSize > 0 && s.curWritten >= s.chunkSize {
			if err := s.commitCurrent(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (s *splitter) openNext() error {
	s.ordinal++
	tmp, err := os.CreateTemp(s.dir, ".tmp-chunk-*")
	if err != nil {
		return fmt.Errorf("create temp chunk: %w", err)
	}
	s.cur = tmp
	s.curTmpPath = tmp.Name()
	s.curDigest = sha256.New()
	s.curWritten = 0
	return nil
}

// filename returns the final, ordinal-numbered name for a chunk, matching
// chunker.py's `{base}.tar.{ext}.part{NNNN}` split naming (4-digit, base-10).
func (s *splitter) filename() string {
	if s.chunkSize <= 0 {
		return fmt.Sprintf("%s.tar.%s", s.base, s.ext)
	}
	return fmt.Sprintf("%s.tar.%s.part%04d", s.base, s.ext, s.ordinal)
}

// commitCurrent closes, fsyncs, and atomically renames the in-progress
// chunk file to its final name, mirroring vault.FileSystemVault.writeFile's
// temp-then-rename pattern, plus an explicit Sync so the chunk survives a
// crash immediately after rename. The sidecar digest file is written before
// the ordinal is considered committed, matching chunker.py's per-chunk
// `sha256sum "$p" > "$p.sha256"` pass.
func (s *splitter) commitCurrent() error {
	if s.cur == nil {
		return nil
	}
	if err := s.cur.Sync(); err != nil {
		s.cur.Close()
		os.Remove(s.curTmpPath)
		return fmt.Errorf("fsync chunk: %w", err)
	}
	if err := s.cur.Close(); err != nil {
		os.Remove(s.curTmpPath)
		return fmt.Errorf("close chunk: %w", err)
	}

	name := s.filename()
	finalPath := filepath.Join(s.dir, name)
	if err := os.Rename(s.curTmpPath, finalPath); err != nil {
		os.Remove(s.curTmpPath)
		return fmt.Errorf("commit chunk %s: %w", name, err)
	}

	digest := hex.EncodeToString(s.curDigest.Sum(nil))
	sidecar := fmt.Sprintf("%s  %s\n", digest, name)
	if err := atomicWrite(s.dir, name+".sha256", []byte(sidecar)); err != nil {
		return fmt.Errorf("write sidecar digest for %s: %w", name, err)
	}

	s.chunks = append(s.chunks, docrip.ManifestChunk{
		Filename: name,
		Length:   s.curWritten,
		Digest:   digest,
	})

	s.cur = nil
	s.curTmpPath = ""
	s.curDigest = nil
	s.curWritten = 0
	return nil
}

// finish commits whatever chunk is still open, so a stream shorter than one
// chunk size still produces a committed file, then writes the ordered
// `.parts` filename list chunker.py produces via `ls | sort`.
func (s *splitter) finish() error {
	if s.cur != nil {
		if err := s.commitCurrent(); err != nil {
			return err
		}
	}
	return s.writePartsFile()
}

func (s *splitter) writePartsFile() error {
	var buf bytes.Buffer
	for _, c := range s.chunks {
		buf.WriteString(c.Filename)
		buf.WriteByte('\n')
	}
	return atomicWrite(s.dir, ".parts", buf.Bytes())
}
