// Package streamer builds a tar-format byte stream of a mounted volume.
// It replaces original_source/docrip/archiver.py's `find | tar` shell
// pipeline with archive/tar plus filepath.WalkDir, so no shell string is
// constructed anywhere in the capture path (see chunker.py's `tee >(...)`
// process substitution, which required bash -lc and which this design
// avoids entirely).
package streamer

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// Options controls what the streamer includes.
type Options struct {
	// MaxFileSizeMB excludes regular files strictly larger than this size.
	// A value of 0 excludes every non-empty regular file, archiving only
	// directory structure. Directories and symlinks are always included,
	// matching build_find_cmd's `-type d -print0 -o -type l -print0 -o
	// (-type f ...)`.
	MaxFileSizeMB int
	// PreserveXattrs copies extended attributes into PAXRecords under the
	// SCHILY.xattr namespace, tar's conventional xattr encoding.
	PreserveXattrs bool
}

// Stats reports what a Stream call captured, for the run summary.
type Stats struct {
	Files        int
	Dirs         int
	Symlinks     int
	BytesWritten int64
	Excluded     int // files skipped for exceeding MaxFileSizeMB
}

// Stream walks root and writes a tar archive of its contents to w, using
// paths relative to root the way `cd mp && find .` does. Mount points for
// other filesystems nested under root (bind mounts, pseudo-fs artifacts of
// prior mount attempts) are pruned, since -xdev in the original tool stays
// within one filesystem.
func Stream(ctx context.Context, root string, w io.Writer, opts Options) (Stats, error) {
	var stats Stats

	rootDev, err := deviceOf(root)
	if err != nil {
		return stats, fmt.Errorf("stat mount root: %w", err)
	}

	prune, err := pseudoMountsUnder(root)
	if err != nil {
		return stats, fmt.Errorf("enumerate mounts under root: %w", err)
	}

	tw := tar.NewWriter(w)
	defer tw.Close()

	maxBytes := int64(opts.MaxFileSizeMB) << 20

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == root {
			return nil
		}
		if prune[path] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if d.IsDir() {
			if dev, derr := deviceOf(path); derr == nil && dev != rootDev {
				return filepath.SkipDir
			}
			return writeEntry(tw, root, path, info, "", opts, &stats)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, lerr := os.Readlink(path)
			if lerr != nil {
				return fmt.Errorf("readlink %s: %w", path, lerr)
			}
			return writeEntry(tw, root, path, info, target, opts, &stats)
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		if info.Size() > maxBytes {
			stats.Excluded++
			return nil
		}
		return writeEntry(tw, root, path, info, "", opts, &stats)
	})
	if walkErr != nil {
		return stats, walkErr
	}
	if err := tw.Close(); err != nil {
		return stats, fmt.Errorf("close tar writer: %w", err)
	}
	return stats, nil
}

func writeEntry(tw *tar.Writer, root, path string, info fs.FileInfo, linkTarget string, opts Options, stats *Stats) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("relativize %s: %w", path, err)
	}

	hdr, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		return fmt.Errorf("build tar header for %s: %w", path, err)
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Uname, hdr.Gname = "", "" // --numeric-owner: keep UID/GID, drop names

	if opts.PreserveXattrs && info.Mode().IsRegular() {
		if xattrs, err := readXattrs(path); err == nil && len(xattrs) > 0 {
			if hdr.PAXRecords == nil {
				hdr.PAXRecords = map[string]string{}
			}
			for k, v := range xattrs {
				hdr.PAXRecords["SCHILY.xattr."+k] = v
			}
		}
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %s: %w", path, err)
	}

	switch {
	case info.IsDir():
		stats.Dirs++
		return nil
	case linkTarget != "":
		stats.Symlinks++
		return nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		n, err := io.Copy(tw, f)
		if err != nil {
			return fmt.Errorf("copy %s into archive: %w", path, err)
		}
		stats.Files++
		stats.BytesWritten += n
		return nil
	}
}

func readXattrs(path string) (map[string]string, error) {
	sz, err := unix.Listxattr(path, nil)
	if err != nil || sz == 0 {
		return nil, err
	}
	buf := make([]byte, sz)
	n, err := unix.Listxattr(path, buf)
	if err != nil {
		return nil, err
	}
	names := splitNulTerminated(buf[:n])

	out := make(map[string]string, len(names))
	for _, name := range names {
		vsz, err := unix.Getxattr(path, name, nil)
		if err != nil || vsz == 0 {
			continue
		}
		vbuf := make([]byte, vsz)
		vn, err := unix.Getxattr(path, name, vbuf)
		if err != nil {
			continue
		}
		out[name] = string(vbuf[:vn])
	}
	return out, nil
}

func splitNulTerminated(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			if i > start {
				out = append(out, string(b[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func deviceOf(path string) (uint64, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("stat_t unavailable for %s", path)
	}
	return uint64(st.Dev), nil
}

// pseudoMountsUnder returns the set of mountpoints nested under root,
// excluding root itself, so Stream can prune them the way -xdev does.
func pseudoMountsUnder(root string) (map[string]bool, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(root))
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return len(infos[i].Mountpoint) < len(infos[j].Mountpoint) })

	out := map[string]bool{}
	for _, info := range infos {
		if info.Mountpoint != root {
			out[info.Mountpoint] = true
		}
	}
	return out, nil
}
