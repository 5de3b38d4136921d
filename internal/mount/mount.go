// Package mount holds the read-only mount recipe table and scoped mount
// acquisition/release. Grounded on original_source/docrip/mounter.py.
// Mounts deliberately avoid fsck/journal replay and add nodev/nosuid/noexec
// wherever the filesystem driver tolerates them.
package mount

import (
	"context"
	"fmt"
	"os"

	"docrip/internal/dexec"
	"docrip/internal/docrip"
)

// ErrUnsupportedFSType is returned when no recipe exists for a volume's
// filesystem type.
type ErrUnsupportedFSType struct {
	FSType string
}

func (e *ErrUnsupportedFSType) Error() string {
	return fmt.Sprintf("unsupported fstype: %s", e.FSType)
}

// ErrToolMissing is returned when a required external mount helper (e.g.
// apfs-fuse) is not present on PATH.
type ErrToolMissing struct {
	Tool string
}

func (e *ErrToolMissing) Error() string {
	return fmt.Sprintf("required tool missing: %s", e.Tool)
}

// recipe describes how to mount one filesystem type: the program to invoke
// and a function that builds its argv from the device and mountpoint.
type recipe struct {
	program string
	args    func(dev, mp string) []string
	// requireTool, when set, must be present on PATH or the recipe is refused.
	requireTool string
}

var recipes = map[string]recipe{
	"ext2": ext4Recipe, "ext3": ext4Recipe, "ext4": ext4Recipe,
	"xfs": {
		program: "mount",
		args: func(dev, mp string) []string {
			return []string{"-t", "xfs", "-o", "ro,norecovery,nodev,nosuid,noexec", dev, mp}
		},
	},
	"btrfs": {
		program: "mount",
		args: func(dev, mp string) []string {
			return []string{"-t", "btrfs", "-o", "ro,nodev,nosuid,noexec", dev, mp}
		},
	},
	"ntfs": {
		program: "ntfs-3g",
		args: func(dev, mp string) []string {
			return []string{"-o", "ro,nodev,nosuid,noexec", dev, mp}
		},
		requireTool: "ntfs-3g",
	},
	"vfat": {
		program: "mount",
		args: func(dev, mp string) []string {
			return []string{"-t", "vfat", "-o", "ro,uid=0,gid=0,umask=022,nodev,nosuid,noexec", dev, mp}
		},
	},
	"exfat": {
		program: "mount",
		args: func(dev, mp string) []string {
			return []string{"-t", "exfat", "-o", "ro,nodev,nosuid,noexec", dev, mp}
		},
	},
	"hfs": {
		program: "mount",
		args: func(dev, mp string) []string {
			return []string{"-t", "hfs", "-o", "ro,nodev,nosuid,noexec", dev, mp}
		},
	},
	"hfsplus": {
		program: "mount",
		args: func(dev, mp string) []string {
			return []string{"-t", "hfsplus", "-o", "ro,force,nodev,nosuid,noexec", dev, mp}
		},
	},
	"apfs": {
		program: "apfs-fuse",
		args: func(dev, mp string) []string {
			return []string{"--readonly", dev, mp}
		},
		requireTool: "apfs-fuse",
	},
}

var ext4Recipe = recipe{
	program: "mount",
	args: func(dev, mp string) []string {
		return []string{"-t", "ext4", "-o", "ro,noload,nodev,nosuid,noexec", dev, mp}
	},
}

// Manager acquires and releases read-only mounts.
type Manager struct {
	Runner *dexec.Runner
}

// NewManager returns a Manager using r to invoke mount/ntfs-3g/apfs-fuse/umount.
func NewManager(r *dexec.Runner) *Manager {
	return &Manager{Runner: r}
}

// Mount mounts v read-only at mountpoint, creating the mountpoint directory
// first. ZFS is not handled here; it is mounted by activating the pool via
// internal/layer and is refused by this recipe table.
func (m *Manager) Mount(ctx context.Context, v docrip.Volume, mountpoint string) (docrip.Mount, error) {
	if v.FSType == "zfs" {
		return docrip.Mount{}, fmt.Errorf("zfs volumes are mounted via zpool/zfs activation, not mount_ro: %s", v.DevicePath)
	}

	rec, ok := recipes[v.FSType]
	if !ok {
		return docrip.Mount{}, &ErrUnsupportedFSType{FSType: v.FSType}
	}
	if rec.requireTool != "" && !dexec.Which(rec.requireTool) {
		return docrip.Mount{}, &ErrToolMissing{Tool: rec.requireTool}
	}

	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return docrip.Mount{}, fmt.Errorf("create mountpoint %s: %w", mountpoint, err)
	}

	args := rec.args(v.DevicePath, mountpoint)
	if _, err := m.Runner.Run(ctx, rec.program, args...); err != nil {
		return docrip.Mount{}, fmt.Errorf("mount %s at %s: %w", v.DevicePath, mountpoint, err)
	}

	mnt := docrip.Mount{
		Mountpoint: mountpoint,
		Source:     v.DevicePath,
		FSType:     v.FSType,
	}
	mnt.Release = func() error {
		return m.Unmount(context.Background(), mountpoint)
	}
	return mnt, nil
}

// Unmount lazily force-unmounts mountpoint and removes the directory,
// mirroring mounter.py's umount: failures to remove the (possibly
// still-busy) directory are tolerated.
func (m *Manager) Unmount(ctx context.Context, mountpoint string) error {
	if _, err := os.Stat(mountpoint); err != nil {
		return nil
	}
	if _, err := m.Runner.Run(ctx, "umount", "-f", "--lazy", mountpoint); err != nil {
		return fmt.Errorf("umount %s: %w", mountpoint, err)
	}
	_ = os.Remove(mountpoint)
	return nil
}

// SupportedFSTypes returns the filesystem types with a mount recipe,
// primarily for --list output and tests.
func SupportedFSTypes() []string {
	out := make([]string, 0, len(recipes)+1)
	for k := range recipes {
		out = append(out, k)
	}
	return append(out, "zfs")
}
