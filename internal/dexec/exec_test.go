package dexec

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunner_Run_Success(t *testing.T) {
	r := NewRunner(false)
	res, err := r.Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello")
	}
}

func TestRunner_Run_NotFound(t *testing.T) {
	r := NewRunner(false)
	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-xyz")
	if err == nil {
		t.Fatal("expected error")
	}
	var derr *Error
	if !asError(err, &derr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if derr.Kind != KindNotFound {
		t.Errorf("Kind = %q, want %q", derr.Kind, KindNotFound)
	}
}

func TestRunner_Run_NonZeroExit(t *testing.T) {
	r := NewRunner(false)
	_, err := r.Run(context.Background(), "false")
	if err == nil {
		t.Fatal("expected error")
	}
	var derr *Error
	if !asError(err, &derr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if derr.Kind != KindNonZeroExit {
		t.Errorf("Kind = %q, want %q", derr.Kind, KindNonZeroExit)
	}
}

func TestRunner_Run_DryRunSkipsExecution(t *testing.T) {
	r := NewRunner(true)
	res, err := r.Run(context.Background(), "definitely-not-a-real-binary-xyz", "--flag")
	if err != nil {
		t.Fatalf("dry run should never error, got %v", err)
	}
	if res.Stdout != "" {
		t.Errorf("dry run should not produce output, got %q", res.Stdout)
	}
}

func TestRunner_RunTimeout(t *testing.T) {
	r := NewRunner(false)
	_, err := r.RunTimeout(context.Background(), 50*time.Millisecond, "sleep", "5")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var derr *Error
	if !asError(err, &derr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if derr.Kind != KindTimeout {
		t.Errorf("Kind = %q, want %q", derr.Kind, KindTimeout)
	}
}

func TestRunner_Stream(t *testing.T) {
	r := NewRunner(false)
	var out bytes.Buffer
	input := strings.NewReader("stream me through cat\n")
	if err := r.Stream(context.Background(), input, &out, "cat"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if out.String() != "stream me through cat\n" {
		t.Errorf("out = %q", out.String())
	}
}

func TestWhich(t *testing.T) {
	if !Which("echo") {
		t.Error("Which(echo) = false, want true")
	}
	if Which("definitely-not-a-real-binary-xyz") {
		t.Error("Which(nonexistent) = true, want false")
	}
}

func asError(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}
