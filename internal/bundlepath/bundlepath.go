// Package bundlepath locates the directory the docrip binary was launched
// from and makes any helper tools shipped alongside it (mdadm, zpool, etc.)
// preferred over whatever the system PATH would otherwise resolve.
package bundlepath

import (
	"os"
	"path/filepath"
)

// Root returns the directory containing the running binary, resolving
// symlinks so a PATH-found or symlinked invocation still finds bundled
// helpers next to the real executable. Falls back to the working directory
// if the executable path can't be resolved.
func Root() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		resolved = exe
	}
	return filepath.Dir(resolved)
}

// BinDir returns the bundle-adjacent bin/ directory, whether or not it
// exists.
func BinDir(bundleDir string) string {
	return filepath.Join(bundleDir, "bin")
}

// PrependBinToPath prepends bundleDir/bin to PATH so bundled helper tools
// are preferred over system copies, matching prepend_bin_to_path. A no-op
// if the directory doesn't exist.
func PrependBinToPath(bundleDir string) error {
	bin := BinDir(bundleDir)
	info, err := os.Stat(bin)
	if err != nil || !info.IsDir() {
		return nil
	}
	return os.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}
