// Package layer activates composite storage layers (md-RAID, LVM, ZFS) so
// their member volumes become visible to discovery. md-RAID arrays and ZFS
// pools are activated read-only; LVM volume groups are activated with a plain
// `vgchange -ay`, which does not make the logical volumes read-only.
// Grounded on original_source/docrip/layers.py. Every activation is
// best-effort: a missing or failing tool is logged and skipped rather than
// aborting the run, since a machine legitimately may have none of these
// layers present.
package layer

import (
	"context"
	"fmt"
	"log/slog"

	"docrip/internal/dexec"
)

// Assembler activates composite storage layers.
type Assembler struct {
	Runner *dexec.Runner
	Logger *slog.Logger
}

// NewAssembler returns an Assembler using r to invoke mdadm/vgchange/zpool.
func NewAssembler(r *dexec.Runner, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{Runner: r, Logger: logger}
}

// Warning records a non-fatal problem encountered while assembling a layer.
type Warning struct {
	Layer string
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %v", w.Layer, w.Err)
}

// Assemble activates md-RAID arrays (if allowRAID), LVM volume groups (if
// allowLVM), and any ZFS pools, in that order. md-RAID and ZFS are activated
// read-only; LVM activation does not set the logical volumes read-only.
// Absence of a tool on PATH is not a warning; a tool present but failing is.
func (a *Assembler) Assemble(ctx context.Context, allowRAID, allowLVM bool) []Warning {
	var warnings []Warning

	if allowRAID && dexec.Which("mdadm") {
		if _, err := a.Runner.Run(ctx, "mdadm", "--assemble", "--scan", "--readonly"); err != nil {
			a.Logger.Warn("mdadm assemble failed", "error", err)
			warnings = append(warnings, Warning{Layer: "mdadm", Err: err})
		}
	}
	if allowLVM && dexec.Which("vgchange") {
		if _, err := a.Runner.Run(ctx, "vgchange", "-ay"); err != nil {
			a.Logger.Warn("vgchange activation failed", "error", err)
			warnings = append(warnings, Warning{Layer: "vgchange", Err: err})
		}
	}
	if dexec.Which("zpool") {
		if _, err := a.Runner.Run(ctx, "zpool", "import", "-a", "-o", "readonly=on", "-N", "-f"); err != nil {
			a.Logger.Warn("zpool import failed", "error", err)
			warnings = append(warnings, Warning{Layer: "zpool", Err: err})
		}
	}
	return warnings
}
