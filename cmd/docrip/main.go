// Command docrip discovers block devices on the local machine, mounts
// eligible volumes read-only, streams them through compression and
// chunking, and ships the resulting chunks to a configured remote target.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docrip/internal/bundlepath"
	"docrip/internal/config"
	"docrip/internal/dexec"
	"docrip/internal/docrip"
	"docrip/internal/ledger"
	"docrip/internal/orchestrator"
	"docrip/internal/runlog"
	"docrip/internal/ship"
)

// Exit codes, extending the original tool's 0/1 with a distinct code for
// usage/permission failures that never reach orchestration.
const (
	exitOK         = 0
	exitSomeFailed = 1
	exitFatal      = 2
	exitUsage      = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		dryRun     bool
		listOnly   bool
		workers    int
		only       string
		excludeDev string
	)

	cmd := &cobra.Command{
		Use:   "docrip",
		Short: "discover, mount read-only, archive->chunk->ship block devices",
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to docrip.toml (default: bundle-adjacent, then /etc/docrip.toml)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would run without mounting, archiving or shipping")
	cmd.Flags().BoolVar(&listOnly, "list", false, "show the discovery plan and skip reasons, then exit")
	cmd.Flags().IntVar(&workers, "workers", 0, "override concurrency (must be positive if set)")
	cmd.Flags().StringVar(&only, "only", "", "comma-separated /dev paths to include (e.g. /dev/sdb1,/dev/nvme0n1p2)")
	cmd.Flags().StringVar(&excludeDev, "exclude-dev", "", "comma-separated device names to skip (e.g. sda,nvme0n1)")

	exitCode := exitOK
	cmd.RunE = func(*cobra.Command, []string) error {
		exitCode = doRun(configPath, dryRun, listOnly, workers, only, excludeDev)
		return nil
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsage
	}
	return exitCode
}

func doRun(configPath string, dryRun, listOnly bool, workers int, only, excludeDev string) int {
	if workers < 0 {
		fmt.Fprintf(os.Stderr, "error: --workers must be a positive integer, got %d\n", workers)
		return exitUsage
	}

	onlySet, err := parseOnly(only)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsage
	}
	excludeDevices, err := parseExcludeDev(excludeDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsage
	}

	if !listOnly && os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "docrip needs root privileges to mount filesystems and access block devices directly.")
		fmt.Fprintf(os.Stderr, "try: sudo %s\n", strings.Join(os.Args, " "))
		return exitUsage
	}

	bundleDir := bundlepath.Root()
	if err := bundlepath.PrependBinToPath(bundleDir); err != nil {
		fmt.Fprintln(os.Stderr, "warning: prepend bundled bin to PATH:", err)
	}

	cfgPath, err := config.FindConfigPath(configPath, bundleDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitFatal
	}
	cfgFile, err := os.Open(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error reading config:", err)
		return exitFatal
	}
	cfg, err := (&config.Manager{}).Read(cfgFile)
	cfgFile.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error reading config:", err)
		return exitFatal
	}
	cfg.Discovery.AvoidDevices = append(cfg.Discovery.AvoidDevices, excludeDevices...)

	// server.remote_uri is only required once a run intends to actually ship
	// something; --list and --dry-run must work against a template config
	// that hasn't been pointed at a real target yet.
	if !listOnly && !dryRun {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "error: invalid configuration:", err)
			return exitFatal
		}
	}

	opID := time.Now().UTC().Format("20060102-150405")
	logger, logFile, err := runlog.New(cfg.Output.RunSummaryDir, opID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error setting up logging:", err)
		return exitFatal
	}
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := dexec.NewRunner(dryRun)

	var shipper ship.Shipper
	if !dryRun && !listOnly {
		target, err := ship.ParseTarget(cfg.Server.RemoteURI)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return exitFatal
		}
		shipper, err = ship.New(ctx, target, ship.Options{
			CredentialPath:   cfg.Server.CredentialPath,
			S3AccessKeyID:    os.Getenv("DOCRIP_S3_ACCESS_KEY_ID"),
			S3SecretKey:      os.Getenv("DOCRIP_S3_SECRET_ACCESS_KEY"),
			BandwidthCapKbps: cfg.Runtime.BandwidthCapKbps,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error constructing shipper:", err)
			return exitFatal
		}
		defer shipper.Close()
	}

	ledgerPath := ":memory:"
	if !dryRun && !listOnly {
		if err := os.MkdirAll(cfg.Archive.SpoolDir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "error creating spool directory:", err)
			return exitFatal
		}
		ledgerPath = filepath.Join(cfg.Archive.SpoolDir, "ledger.db")
	}
	led, err := ledger.Open(ledgerPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error opening ledger:", err)
		return exitFatal
	}
	defer led.Close()

	orch := orchestrator.New(*cfg, runner, shipper, led, logger)

	record, code, err := orch.Run(ctx, orchestrator.RunOptions{
		Only:            onlySet,
		ListOnly:        listOnly,
		WorkersOverride: workers,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitFatal
	}

	if listOnly {
		printPlan(record)
		return exitOK
	}

	if err := writeRunSummary(cfg.Output.RunSummaryDir, record, cfg.Output.PerVolumeJSON); err != nil {
		logger.Warn("failed to write run summary", "error", err)
	}

	ok, skipped, failed := record.Counts()
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d volume(s) failed; %d ok, %d skipped. See JSON logs in %s.\n", failed, ok, skipped, cfg.Output.RunSummaryDir)
	} else {
		fmt.Printf("all processed volumes succeeded (%d ok, %d skipped)\n", ok, skipped)
	}
	return code
}

func parseOnly(raw string) (map[string]bool, error) {
	if raw == "" {
		return nil, nil
	}
	set := make(map[string]bool)
	for _, d := range strings.Split(raw, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if !strings.HasPrefix(d, "/dev/") {
			return nil, fmt.Errorf("--only devices must start with /dev/, invalid: %s", d)
		}
		set[d] = true
	}
	return set, nil
}

func parseExcludeDev(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	for _, d := range strings.Split(raw, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if strings.Contains(d, "/") {
			return nil, fmt.Errorf("--exclude-dev must be device names only (no /dev/ prefix), invalid: %s", d)
		}
		out = append(out, d)
	}
	return out, nil
}

// printPlan renders a --list run's discovery plan, matching print_plan's
// fixed-width column layout.
func printPlan(record docrip.RunRecord) {
	fmt.Printf("%-20s %-8s %9s %4s %4s %-20s\n", "DEVICE", "FS", "SIZE(GB)", "DISK", "PART", "STATUS")
	for _, v := range record.Volumes {
		fs := v.FSType
		if fs == "" {
			fs = "-"
		}
		status := string(v.SkipReason)
		if status == "" {
			status = "process"
		}
		gb := float64(v.SizeBytes) / (1 << 30)
		fmt.Printf("%-20s %-8s %9.1f %4s %4s %-20s\n", v.Volume, fs, gb, "-", "-", status)
	}
}

// writeRunSummary commits the run record as JSON under dir, following
// write_json's atomic temp-file-then-rename commit, the same pattern
// chunk.WriteManifest uses for its own JSON artifact. When perVolume is
// set, every volume's record is also written to its own {archive_base}.json
// file, matching run_plan's optional per-volume dump.
func writeRunSummary(dir string, record docrip.RunRecord, perVolume bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run summary directory: %w", err)
	}
	ts := time.Now().UTC().Format("20060102T150405Z")
	if err := writeJSONAtomic(dir, fmt.Sprintf("run-%s.json", ts), record); err != nil {
		return err
	}
	if !perVolume {
		return nil
	}
	for _, v := range record.Volumes {
		if v.ArchiveBase == "" {
			continue
		}
		if err := writeJSONAtomic(dir, v.ArchiveBase+".json", v); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONAtomic(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", name, err)
	}
	finalPath := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}
