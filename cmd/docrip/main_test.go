package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"docrip/internal/docrip"
)

func TestParseOnly_ValidatesDevPrefix(t *testing.T) {
	set, err := parseOnly("/dev/sda1, /dev/sdb1")
	if err != nil {
		t.Fatalf("parseOnly() error = %v", err)
	}
	if len(set) != 2 || !set["/dev/sda1"] || !set["/dev/sdb1"] {
		t.Errorf("parseOnly() = %v, want both devices set", set)
	}
}

func TestParseOnly_RejectsMissingPrefix(t *testing.T) {
	if _, err := parseOnly("sda1"); err == nil {
		t.Fatal("expected error for device without /dev/ prefix")
	}
}

func TestParseOnly_EmptyReturnsNil(t *testing.T) {
	set, err := parseOnly("")
	if err != nil {
		t.Fatalf("parseOnly() error = %v", err)
	}
	if set != nil {
		t.Errorf("parseOnly(\"\") = %v, want nil", set)
	}
}

func TestParseExcludeDev_RejectsSlash(t *testing.T) {
	if _, err := parseExcludeDev("/dev/sda"); err == nil {
		t.Fatal("expected error for exclude-dev containing a slash")
	}
}

func TestParseExcludeDev_SplitsAndTrims(t *testing.T) {
	got, err := parseExcludeDev("sda, nvme0n1")
	if err != nil {
		t.Fatalf("parseExcludeDev() error = %v", err)
	}
	want := []string{"sda", "nvme0n1"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("parseExcludeDev() = %v, want %v", got, want)
	}
}

func TestWriteJSONAtomic_LeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	if err := writeJSONAtomic(dir, "out.json", map[string]int{"a": 1}); err != nil {
		t.Fatalf("writeJSONAtomic() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.json" {
		t.Fatalf("dir entries = %v, want exactly out.json", entries)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got["a"] != 1 {
		t.Errorf("got = %v, want a=1", got)
	}
}

func TestWriteRunSummary_WritesRunAndPerVolumeFiles(t *testing.T) {
	dir := t.TempDir()
	record := docrip.RunRecord{
		Host: "test-host",
		Volumes: []docrip.VolumeRecord{
			{Volume: "/dev/sda1", ArchiveBase: "vol1", Status: docrip.StatusOK},
			{Volume: "/dev/sdb1", SkipReason: docrip.SkipTooSmall, Status: docrip.StatusSkipped},
		},
	}

	if err := writeRunSummary(dir, record, true); err != nil {
		t.Fatalf("writeRunSummary() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	if !names["vol1.json"] {
		t.Errorf("expected vol1.json among %v", names)
	}
	foundRunFile := false
	for name := range names {
		if len(name) > 4 && name[:4] == "run-" {
			foundRunFile = true
		}
	}
	if !foundRunFile {
		t.Errorf("expected a run-*.json file among %v", names)
	}
}

func TestWriteRunSummary_SkipsPerVolumeWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	record := docrip.RunRecord{
		Volumes: []docrip.VolumeRecord{{Volume: "/dev/sda1", ArchiveBase: "vol1", Status: docrip.StatusOK}},
	}
	if err := writeRunSummary(dir, record, false); err != nil {
		t.Fatalf("writeRunSummary() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "vol1.json")); !os.IsNotExist(err) {
		t.Errorf("vol1.json should not exist when per-volume output is disabled")
	}
}
