package volume

import (
	"testing"

	"docrip/internal/config"
	"docrip/internal/docrip"
)

func TestEnumerator_Select_FilterChainOrder(t *testing.T) {
	e := NewEnumerator(config.DiscoveryConfig{
		SkipFSTypes:        []string{"swap"},
		SkipIfEncrypted:    true,
		MinPartitionSizeGB: 1,
		AvoidDevices:       []string{"sda1"},
	})

	devices := []docrip.Device{
		{Path: "/dev/sda1", KName: "sda1", FSType: "ext4", SizeBytes: 10 << 30, Parent: "/dev/sda"},
		{Path: "/dev/sdb1", KName: "sdb1", FSType: "swap", SizeBytes: 10 << 30, Parent: "/dev/sdb"},
		{Path: "/dev/sdc1", KName: "sdc1", FSType: "ext4", SizeBytes: 10 << 30, Parent: "/dev/sdc", Encrypted: true},
		{Path: "/dev/sdd1", KName: "sdd1", FSType: "ext4", SizeBytes: 100 << 20, Parent: "/dev/sdd"}, // too small
		{Path: "/dev/sde1", KName: "sde1", FSType: "ext4", SizeBytes: 10 << 30, Parent: "/dev/sde"},
	}

	vols := e.Select(devices, map[string]int{}, nil)

	want := map[string]docrip.SkipReason{
		"/dev/sda1": docrip.SkipBoot,
		"/dev/sdb1": docrip.SkipFSTypeBlocked,
		"/dev/sdc1": docrip.SkipEncrypted,
		"/dev/sdd1": docrip.SkipTooSmall,
		"/dev/sde1": docrip.SkipNone,
	}
	for _, v := range vols {
		if v.SkipReason != want[v.DevicePath] {
			t.Errorf("%s: SkipReason = %q, want %q", v.DevicePath, v.SkipReason, want[v.DevicePath])
		}
	}
}

func TestEnumerator_Select_LayerDisallowed(t *testing.T) {
	e := NewEnumerator(config.DiscoveryConfig{MinPartitionSizeGB: 1})
	devices := []docrip.Device{
		{Path: "/dev/vg0-lv0", KName: "vg0-lv0", FSType: "ext4", SizeBytes: 10 << 30, Kind: docrip.KindLVMLV},
		{Path: "/dev/md0", KName: "md0", FSType: "ext4", SizeBytes: 10 << 30, Kind: docrip.KindMD},
		{Path: "/dev/sda1", KName: "sda1", FSType: "ext4", SizeBytes: 10 << 30, Kind: docrip.KindPartition},
	}
	vols := e.Select(devices, nil, nil)

	want := map[string]docrip.SkipReason{
		"/dev/vg0-lv0": docrip.SkipLayerDisallowed,
		"/dev/md0":     docrip.SkipLayerDisallowed,
		"/dev/sda1":    docrip.SkipNone,
	}
	for _, v := range vols {
		if v.SkipReason != want[v.DevicePath] {
			t.Errorf("%s: SkipReason = %q, want %q", v.DevicePath, v.SkipReason, want[v.DevicePath])
		}
	}
}

func TestEnumerator_Select_LayerAllowed(t *testing.T) {
	e := NewEnumerator(config.DiscoveryConfig{MinPartitionSizeGB: 1, AllowLVM: true, AllowRAID: true})
	devices := []docrip.Device{
		{Path: "/dev/vg0-lv0", KName: "vg0-lv0", FSType: "ext4", SizeBytes: 10 << 30, Kind: docrip.KindLVMLV},
		{Path: "/dev/md0", KName: "md0", FSType: "ext4", SizeBytes: 10 << 30, Kind: docrip.KindMD},
	}
	vols := e.Select(devices, nil, nil)
	for _, v := range vols {
		if v.SkipReason != docrip.SkipNone {
			t.Errorf("%s: SkipReason = %q, want none when layer is allowed", v.DevicePath, v.SkipReason)
		}
	}
}

func TestEnumerator_Select_IncludeFSTypesAllowlist(t *testing.T) {
	e := NewEnumerator(config.DiscoveryConfig{IncludeFSTypes: []string{"ext4"}})
	devices := []docrip.Device{
		{Path: "/dev/sda1", KName: "sda1", FSType: "ntfs", SizeBytes: 10 << 30},
	}
	vols := e.Select(devices, nil, nil)
	if vols[0].SkipReason != docrip.SkipFSTypeUnsupported {
		t.Errorf("SkipReason = %q, want %q", vols[0].SkipReason, docrip.SkipFSTypeUnsupported)
	}
}

func TestEnumerator_Select_OnlyFilter(t *testing.T) {
	e := NewEnumerator(config.DiscoveryConfig{})
	devices := []docrip.Device{
		{Path: "/dev/sda1", FSType: "ext4", SizeBytes: 10 << 30},
		{Path: "/dev/sdb1", FSType: "ext4", SizeBytes: 10 << 30},
	}
	vols := e.Select(devices, nil, map[string]bool{"/dev/sda1": true})
	for _, v := range vols {
		if v.DevicePath == "/dev/sda1" && v.SkipReason != docrip.SkipNone {
			t.Errorf("sda1 should be selected, got skip=%q", v.SkipReason)
		}
		if v.DevicePath == "/dev/sdb1" && v.SkipReason != docrip.SkipNotInOnly {
			t.Errorf("sdb1 should be skipped as not_in_only, got %q", v.SkipReason)
		}
	}
}

func TestSelected_SortsLargestFirstStable(t *testing.T) {
	vols := []docrip.Volume{
		{DevicePath: "/dev/a", SizeBytes: 100, Selected: true},
		{DevicePath: "/dev/b", SizeBytes: 300, Selected: true},
		{DevicePath: "/dev/c", SizeBytes: 200, Selected: false},
		{DevicePath: "/dev/d", SizeBytes: 300, Selected: true},
	}
	got := Selected(vols)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].DevicePath != "/dev/b" || got[1].DevicePath != "/dev/d" || got[2].DevicePath != "/dev/a" {
		t.Errorf("order = %v", got)
	}
}

func TestRenderName(t *testing.T) {
	got := RenderName("{date}_{token}_d{disk}_p{part}", NameParams{Date: "20260806", Token: "abcde", Disk: 1, Part: 2})
	want := "20260806_abcde_d1_p2"
	if got != want {
		t.Errorf("RenderName() = %q, want %q", got, want)
	}
}

func TestAssignArchiveBases_CollisionSuffix(t *testing.T) {
	vols := []docrip.Volume{
		{DiskNo: 0, PartNo: 1},
		{DiskNo: 0, PartNo: 1},
	}
	AssignArchiveBases(vols, "{date}_{token}_d{disk}_p{part}", "20260806", "tok")
	if vols[0].ArchiveBase != "20260806_tok_d0_p1" {
		t.Errorf("first ArchiveBase = %q", vols[0].ArchiveBase)
	}
	if vols[1].ArchiveBase != "20260806_tok_d0_p1-2" {
		t.Errorf("second ArchiveBase = %q, want collision suffix", vols[1].ArchiveBase)
	}
}
