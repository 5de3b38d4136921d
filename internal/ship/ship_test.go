package ship

import (
	"context"
	"testing"
)

func TestNew_DirScheme(t *testing.T) {
	tgt, err := ParseTarget("dir:" + t.TempDir())
	if err != nil {
		t.Fatalf("ParseTarget() error = %v", err)
	}
	s, err := New(context.Background(), tgt, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*DirShipper); !ok {
		t.Errorf("New() = %T, want *DirShipper", s)
	}
}

func TestNew_UnsupportedScheme(t *testing.T) {
	tgt := Target{Scheme: "ftp", Raw: "ftp:foo"}
	if _, err := New(context.Background(), tgt, Options{}); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestIntegrityMismatchError_Message(t *testing.T) {
	err := &IntegrityMismatchError{ArchiveBase: "vol1", Name: "chunk.part0001", Local: "aaa", Remote: "bbb"}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
}
