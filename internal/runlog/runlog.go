// Package runlog provides docrip's structured logging: a slog.Handler that
// writes one JSON object per record to a run-scoped log file and to
// stderr, tagged with the run's operation ID.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// jsonHandler is a custom slog.Handler that formats records as one JSON
// object per line:
//
//	{"time":"...","level":"...","op_id":"...","msg":"...","key":"value",...}
type jsonHandler struct {
	w     io.Writer
	opID  string
	attrs []slog.Attr
}

func (h *jsonHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	rec := make(map[string]any, len(h.attrs)+r.NumAttrs()+4)
	rec["time"] = r.Time.UTC().Format(time.RFC3339)
	rec["level"] = r.Level.String()
	if h.opID != "" {
		rec["op_id"] = h.opID
	}
	rec["msg"] = r.Message

	for _, a := range h.attrs {
		rec[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec[a.Key] = a.Value.Any()
		return true
	})

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(h.w, string(line))
	return err
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jsonHandler{
		w:     h.w,
		opID:  h.opID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *jsonHandler) WithGroup(string) slog.Handler { return h }

// New creates a structured logger that writes newline-delimited JSON to
// both logDir/docrip.log and stderr, tagging every record with opID. It
// returns the logger and the open log file, which the caller must close
// when the run finishes.
func New(logDir, opID string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "docrip.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	return slog.New(&jsonHandler{w: w, opID: opID}), f, nil
}
