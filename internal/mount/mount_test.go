package mount

import (
	"context"
	"path/filepath"
	"testing"

	"docrip/internal/dexec"
	"docrip/internal/docrip"
)

func TestManager_Mount_UnsupportedFSType(t *testing.T) {
	m := NewManager(dexec.NewRunner(true))
	_, err := m.Mount(context.Background(), docrip.Volume{DevicePath: "/dev/sdx1", FSType: "reiserfs"}, "/tmp/x")
	if err == nil {
		t.Fatal("expected error for unsupported fstype")
	}
	if _, ok := err.(*ErrUnsupportedFSType); !ok {
		t.Errorf("error type = %T, want *ErrUnsupportedFSType", err)
	}
}

func TestManager_Mount_ZFSRefused(t *testing.T) {
	m := NewManager(dexec.NewRunner(true))
	_, err := m.Mount(context.Background(), docrip.Volume{DevicePath: "/dev/zd0", FSType: "zfs"}, "/tmp/x")
	if err == nil {
		t.Fatal("expected error for zfs")
	}
}

func TestManager_Mount_MissingTool(t *testing.T) {
	m := NewManager(dexec.NewRunner(true))
	dir := t.TempDir()
	_, err := m.Mount(context.Background(), docrip.Volume{DevicePath: "/dev/sdx1", FSType: "apfs"}, filepath.Join(dir, "mnt"))
	if err == nil {
		t.Fatal("expected error when apfs-fuse is missing")
	}
	if _, ok := err.(*ErrToolMissing); !ok {
		t.Errorf("error type = %T, want *ErrToolMissing", err)
	}
}

func TestManager_Mount_DryRunSucceedsAndCreatesMountpoint(t *testing.T) {
	m := NewManager(dexec.NewRunner(true))
	dir := t.TempDir()
	mp := filepath.Join(dir, "mnt")
	mnt, err := m.Mount(context.Background(), docrip.Volume{DevicePath: "/dev/sdx1", FSType: "ext4"}, mp)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if mnt.Mountpoint != mp {
		t.Errorf("Mountpoint = %q, want %q", mnt.Mountpoint, mp)
	}
	if mnt.Release == nil {
		t.Fatal("Release func should be set")
	}
}

func TestSupportedFSTypes_IncludesZFS(t *testing.T) {
	found := false
	for _, fs := range SupportedFSTypes() {
		if fs == "zfs" {
			found = true
		}
	}
	if !found {
		t.Error("SupportedFSTypes() should list zfs even though it has no direct recipe")
	}
}
