package ledger

import (
	"context"
	"testing"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordShipped_ThenIsShipped(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	ok, _, err := l.IsShipped(ctx, "vol1", "vol1.tar.zst.part0001")
	if err != nil {
		t.Fatalf("IsShipped() error = %v", err)
	}
	if ok {
		t.Fatal("IsShipped() = true before recording, want false")
	}

	if err := l.RecordShipped(ctx, "vol1", "vol1.tar.zst.part0001", 1, "abc123", 4096); err != nil {
		t.Fatalf("RecordShipped() error = %v", err)
	}

	ok, digest, err := l.IsShipped(ctx, "vol1", "vol1.tar.zst.part0001")
	if err != nil {
		t.Fatalf("IsShipped() error = %v", err)
	}
	if !ok {
		t.Fatal("IsShipped() = false after recording, want true")
	}
	if digest != "abc123" {
		t.Errorf("digest = %q, want abc123", digest)
	}
}

func TestRecordShipped_UpsertOverwritesDigest(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	if err := l.RecordShipped(ctx, "vol1", "chunk", 0, "first", 10); err != nil {
		t.Fatalf("RecordShipped() error = %v", err)
	}
	if err := l.RecordShipped(ctx, "vol1", "chunk", 0, "second", 20); err != nil {
		t.Fatalf("RecordShipped() error = %v", err)
	}

	_, digest, err := l.IsShipped(ctx, "vol1", "chunk")
	if err != nil {
		t.Fatalf("IsShipped() error = %v", err)
	}
	if digest != "second" {
		t.Errorf("digest = %q, want second", digest)
	}
}

func TestShippedChunks_OrderedByOrdinal(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	if err := l.RecordShipped(ctx, "vol1", "c2", 2, "d2", 10); err != nil {
		t.Fatalf("RecordShipped() error = %v", err)
	}
	if err := l.RecordShipped(ctx, "vol1", "c0", 0, "d0", 10); err != nil {
		t.Fatalf("RecordShipped() error = %v", err)
	}
	if err := l.RecordShipped(ctx, "vol1", "c1", 1, "d1", 10); err != nil {
		t.Fatalf("RecordShipped() error = %v", err)
	}
	if err := l.RecordShipped(ctx, "vol2", "other", 0, "dx", 10); err != nil {
		t.Fatalf("RecordShipped() error = %v", err)
	}

	chunks, err := l.ShippedChunks(ctx, "vol1")
	if err != nil {
		t.Fatalf("ShippedChunks() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Ordinal != i {
			t.Errorf("chunks[%d].Ordinal = %d, want %d", i, c.Ordinal, i)
		}
	}
}

func TestVolumeRun_StartFinishStatus(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	status, err := l.VolumeRunStatus(ctx, "vol1")
	if err != nil {
		t.Fatalf("VolumeRunStatus() error = %v", err)
	}
	if status != "" {
		t.Errorf("status = %q before start, want empty", status)
	}

	if err := l.StartVolumeRun(ctx, "vol1", "/dev/sda1"); err != nil {
		t.Fatalf("StartVolumeRun() error = %v", err)
	}
	status, err = l.VolumeRunStatus(ctx, "vol1")
	if err != nil {
		t.Fatalf("VolumeRunStatus() error = %v", err)
	}
	if status != "running" {
		t.Errorf("status = %q, want running", status)
	}

	if err := l.FinishVolumeRun(ctx, "vol1", "ok"); err != nil {
		t.Fatalf("FinishVolumeRun() error = %v", err)
	}
	status, err = l.VolumeRunStatus(ctx, "vol1")
	if err != nil {
		t.Fatalf("VolumeRunStatus() error = %v", err)
	}
	if status != "ok" {
		t.Errorf("status = %q, want ok", status)
	}
}
