// Package orchestrator coordinates the end-to-end capture flow: activate
// composite layers, discover volumes, and for each selected volume (largest
// first, bounded concurrency) mount it read-only, stream+compress+chunk it,
// and ship the chunks to the configured remote target. Grounded on
// original_source/docrip/orchestrator.py's run_plan/process_one, reimplemented
// with golang.org/x/sync/errgroup.Group.SetLimit in place of a
// ThreadPoolExecutor.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docrip/internal/chunk"
	"docrip/internal/config"
	"docrip/internal/device"
	"docrip/internal/dexec"
	"docrip/internal/docrip"
	"docrip/internal/hostid"
	"docrip/internal/layer"
	"docrip/internal/ledger"
	"docrip/internal/mount"
	"docrip/internal/ship"
	"docrip/internal/streamer"
	"docrip/internal/volume"
)

// ToolVersion is stamped into every manifest this build produces.
const ToolVersion = "docrip/0.1"

// defaultMountRoot is where volumes are mounted for the duration of
// processing, matching the original tool's fixed Path("/mnt")/"docrip"
// location.
const defaultMountRoot = "/mnt/docrip"

// Orchestrator holds the wired components needed to run a capture pass.
type Orchestrator struct {
	Config     config.Config
	Runner     *dexec.Runner
	Inspector  *device.Inspector
	Assembler  *layer.Assembler
	Enumerator *volume.Enumerator
	Mounter    *mount.Manager
	Shipper    ship.Shipper
	Ledger     *ledger.Ledger
	Logger     *slog.Logger
	DryRun     bool
	// MountRoot overrides where volumes are mounted; defaults to
	// defaultMountRoot when left empty. Exposed for tests.
	MountRoot string
	// Clock supplies the current time for run/volume timing; defaults to
	// docrip.RealClock{} when nil. Exposed for tests.
	Clock docrip.Clock
}

func (o *Orchestrator) clock() docrip.Clock {
	if o.Clock == nil {
		return docrip.RealClock{}
	}
	return o.Clock
}

// New wires an Orchestrator from its component parts. runner governs the
// mutating stages (layer activation, mount, umount) and may be a dry-run
// Runner; discovery always runs for real regardless of runner.DryRun, the
// same split original_source/docrip/discover.py's undecorated run() calls
// draw against layers.py/mounter.py's dry-gated ones — a --dry-run plan
// still needs to see the machine's real topology.
func New(cfg config.Config, runner *dexec.Runner, shipper ship.Shipper, led *ledger.Ledger, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Config:     cfg,
		Runner:     runner,
		Inspector:  device.NewInspector(dexec.NewRunner(false)),
		Assembler:  layer.NewAssembler(runner, logger),
		Enumerator: volume.NewEnumerator(cfg.Discovery),
		Mounter:    mount.NewManager(runner),
		Shipper:    shipper,
		Ledger:     led,
		Logger:     logger,
		DryRun:     runner.DryRun,
		MountRoot:  defaultMountRoot,
		Clock:      docrip.RealClock{},
	}
}

// RunOptions parameterizes one invocation of Run.
type RunOptions struct {
	Only            map[string]bool // device paths from --only, nil means no restriction
	ListOnly        bool
	WorkersOverride int // <=0 means use Config.Runtime.Workers / auto
}

// AutoWorkers picks a worker count when explicit is unset, matching
// auto_workers: half the CPUs, clamped to [1,8].
func AutoWorkers(explicit int) int {
	if explicit > 0 {
		return explicit
	}
	cpu := runtime.NumCPU()
	w := cpu / 2
	if w < 1 {
		w = 1
	}
	if w > 8 {
		w = 8
	}
	return w
}

// CompThreadsFor picks the per-job compressor thread count so that
// workers*threads doesn't oversubscribe the machine, matching
// comp_threads_for.
func CompThreadsFor(workers int) int {
	if workers < 1 {
		workers = 1
	}
	cpu := runtime.NumCPU()
	t := cpu/workers - 1
	if t < 1 {
		t = 1
	}
	return t
}

// Run discovers volumes, assigns archive names, and (unless opts.ListOnly)
// processes every selected volume, returning the run record and the process
// exit code the caller should use (0 all succeeded, 1 one or more failed).
// A non-nil error indicates a fatal, pre-processing failure (layer
// activation warnings are logged, and mount/archive/ship failures are
// recorded per volume, instead of aborting the whole run).
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (docrip.RunRecord, int, error) {
	started := o.clock().Now().UTC()

	for _, w := range o.Assembler.Assemble(ctx, o.Config.Discovery.AllowRAID, o.Config.Discovery.AllowLVM) {
		o.Logger.Warn("layer activation warning", "layer", w.Layer, "error", w.Err)
	}

	devices, err := o.Inspector.Discover(ctx, o.Config.Discovery.SkipIfEncrypted)
	if err != nil {
		return docrip.RunRecord{}, 2, fmt.Errorf("discover devices: %w", err)
	}
	diskIndex, err := o.Inspector.DiskIndexOf(ctx)
	if err != nil {
		return docrip.RunRecord{}, 2, fmt.Errorf("index disks: %w", err)
	}

	vols := o.Enumerator.Select(devices, diskIndex, opts.Only)

	dateStr := o.clock().Now().UTC().Format(o.Config.Naming.DateFmt)
	hostID, err := hostid.Resolve(o.Config.Naming.TokenSource, o.Config.Archive.SpoolDir)
	if err != nil {
		return docrip.RunRecord{}, 2, fmt.Errorf("resolve host id: %w", err)
	}
	token := hostid.DeriveToken(dateStr, hostID)
	volume.AssignArchiveBases(vols, o.Config.Naming.Pattern, dateStr, token)

	if opts.ListOnly {
		return o.planRecord(vols, started, dateStr, token), 0, nil
	}

	toProcess := volume.Selected(vols)
	workers := AutoWorkers(pickWorkers(opts.WorkersOverride, o.Config.Runtime.Workers))
	compThreads := CompThreadsFor(workers)
	o.Logger.Info("run plan", "workers", workers, "comp_threads_per_job", compThreads, "date", dateStr, "token", token, "volumes_selected", len(toProcess))

	records := make([]docrip.VolumeRecord, len(toProcess))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, v := range toProcess {
		i, v := i, v
		g.Go(func() error {
			rec := o.processOne(gctx, v, compThreads)
			mu.Lock()
			records[i] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // processOne never returns an error; failures are recorded per volume

	record := docrip.RunRecord{
		Host:             hostSelfName(),
		RunStartedAt:     started,
		DurationNS:       o.clock().Now().UTC().Sub(started),
		DateToken:        dateStr,
		HostToken:        token,
		Workers:          workers,
		VolumesTotal:     len(vols),
		VolumesProcessed: len(toProcess),
		Volumes:          append(skippedRecords(vols), records...),
	}

	_, _, failed := record.Counts()
	if failed > 0 {
		return record, 1, nil
	}
	return record, 0, nil
}

func pickWorkers(override, configured int) int {
	if override > 0 {
		return override
	}
	return configured
}

func hostSelfName() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return name
}

// planRecord builds a RunRecord describing what a real run would do,
// without mounting or shipping anything, for --list.
func (o *Orchestrator) planRecord(vols []docrip.Volume, started time.Time, dateStr, token string) docrip.RunRecord {
	recs := make([]docrip.VolumeRecord, 0, len(vols))
	for _, v := range vols {
		status := docrip.VolumeStatus("")
		if v.SkipReason != docrip.SkipNone {
			status = docrip.StatusSkipped
		}
		recs = append(recs, docrip.VolumeRecord{
			Volume:      v.DevicePath,
			ArchiveBase: v.ArchiveBase,
			FSType:      v.FSType,
			SizeBytes:   v.SizeBytes,
			Status:      status,
			SkipReason:  v.SkipReason,
		})
	}
	return docrip.RunRecord{
		Host:             hostSelfName(),
		RunStartedAt:     started,
		DurationNS:       0,
		DateToken:        dateStr,
		HostToken:        token,
		VolumesTotal:     len(vols),
		VolumesProcessed: 0,
		Volumes:          recs,
	}
}

func skippedRecords(vols []docrip.Volume) []docrip.VolumeRecord {
	var out []docrip.VolumeRecord
	for _, v := range vols {
		if v.SkipReason == docrip.SkipNone {
			continue
		}
		out = append(out, docrip.VolumeRecord{
			Volume:      v.DevicePath,
			ArchiveBase: v.ArchiveBase,
			FSType:      v.FSType,
			SizeBytes:   v.SizeBytes,
			Status:      docrip.StatusSkipped,
			SkipReason:  v.SkipReason,
		})
	}
	return out
}

// processOne mounts, archives and ships a single volume, always releasing
// the mount on the way out. It never returns an error; every failure mode
// is captured in the returned VolumeRecord's FailKind/Detail so one
// volume's failure never aborts the run.
func (o *Orchestrator) processOne(ctx context.Context, v docrip.Volume, compThreads int) docrip.VolumeRecord {
	started := o.clock().Now()
	rec := docrip.VolumeRecord{
		Volume:      v.DevicePath,
		ArchiveBase: v.ArchiveBase,
		FSType:      v.FSType,
		SizeBytes:   v.SizeBytes,
	}
	finish := func(status docrip.VolumeStatus, kind docrip.FailKind, detail string) docrip.VolumeRecord {
		rec.Status = status
		rec.FailKind = kind
		rec.Detail = detail
		rec.Elapsed = o.clock().Now().Sub(started)
		return rec
	}

	root := o.MountRoot
	if root == "" {
		root = defaultMountRoot
	}
	mp := filepath.Join(root, v.ArchiveBase)
	mnt, err := o.Mounter.Mount(ctx, v, mp)
	if err != nil {
		return finish(docrip.StatusFailed, docrip.FailMount, err.Error())
	}
	defer mnt.Release()

	if o.DryRun {
		return finish(docrip.StatusOK, docrip.FailNone, "dry-run")
	}

	if err := o.Ledger.StartVolumeRun(ctx, v.ArchiveBase, v.DevicePath); err != nil {
		o.Logger.Warn("ledger start volume run failed", "archive_base", v.ArchiveBase, "error", err)
	}

	manifest, stats, err := o.archive(ctx, v, mnt.Mountpoint, compThreads)
	if err != nil {
		o.finishLedger(ctx, v.ArchiveBase, "archive_failed")
		return finish(docrip.StatusFailed, docrip.FailArchive, err.Error())
	}

	outDir := filepath.Join(o.Config.Archive.SpoolDir, v.ArchiveBase)
	if err := chunk.WriteManifest(outDir, manifest); err != nil {
		o.finishLedger(ctx, v.ArchiveBase, "manifest_failed")
		return finish(docrip.StatusFailed, docrip.FailArchive, err.Error())
	}

	if err := o.shipAll(ctx, v.ArchiveBase, outDir, manifest); err != nil {
		if _, ok := err.(*ship.IntegrityMismatchError); ok {
			o.finishLedger(ctx, v.ArchiveBase, "integrity_mismatch")
			return finish(docrip.StatusFailed, docrip.FailIntegrity, err.Error())
		}
		o.finishLedger(ctx, v.ArchiveBase, "transport_failed")
		return finish(docrip.StatusFailed, docrip.FailTransport, err.Error())
	}

	o.finishLedger(ctx, v.ArchiveBase, "ok")

	rec.BytesIn = stats.BytesWritten
	rec.Chunks = len(manifest.Chunks)
	for _, c := range manifest.Chunks {
		rec.BytesOut += c.Length
	}
	rec.Extra = map[string]any{
		"files":    stats.Files,
		"dirs":     stats.Dirs,
		"symlinks": stats.Symlinks,
		"excluded": stats.Excluded,
	}
	return finish(docrip.StatusOK, docrip.FailNone, "")
}

func (o *Orchestrator) finishLedger(ctx context.Context, archiveBase, status string) {
	if err := o.Ledger.FinishVolumeRun(ctx, archiveBase, status); err != nil {
		o.Logger.Warn("ledger finish volume run failed", "archive_base", archiveBase, "error", err)
	}
}

// archive streams the mounted volume through the compressor/chunker
// pipeline, connecting the two with an in-process pipe rather than a shell
// tee, since the safety contract forbids shelling out for this step.
func (o *Orchestrator) archive(ctx context.Context, v docrip.Volume, mountpoint string, compThreads int) (docrip.Manifest, streamer.Stats, error) {
	pr, pw := io.Pipe()

	var stats streamer.Stats
	var streamErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		stats, streamErr = streamer.Stream(ctx, mountpoint, pw, streamer.Options{
			MaxFileSizeMB:  o.Config.Filters.MaxFileSizeMB,
			PreserveXattrs: o.Config.Archive.PreserveXattrs,
		})
		if streamErr != nil {
			pw.CloseWithError(streamErr)
		} else {
			pw.Close()
		}
	}()

	job := docrip.ArchiveJob{
		SpoolDir:       o.Config.Archive.SpoolDir,
		Volume:         v,
		ChunkSizeMB:    o.Config.Archive.ChunkSizeMB,
		HashAlgorithm:  o.Config.Integrity.Algorithm,
		Compressor:     o.Config.Archive.Compressor,
		Level:          o.Config.Archive.Level,
		Threads:        compThreads,
		MaxFileSizeMB:  o.Config.Filters.MaxFileSizeMB,
		PreserveXattrs: o.Config.Archive.PreserveXattrs,
	}
	manifest, err := chunk.Run(job, pr)
	if err != nil {
		// Unblock the streamer, which may still be writing into the pipe.
		pr.CloseWithError(err)
	}
	<-done
	if err != nil {
		return docrip.Manifest{}, stats, err
	}
	if streamErr != nil {
		return docrip.Manifest{}, stats, streamErr
	}
	manifest.ToolVersion = ToolVersion
	return manifest, stats, nil
}

// shipAll ships every chunk plus its sidecar digest file, the whole-stream
// digest, the ordered parts list, and the manifest itself, skipping any file
// the ledger or the remote target already has committed with a matching
// digest.
func (o *Orchestrator) shipAll(ctx context.Context, archiveBase, outDir string, manifest docrip.Manifest) error {
	for i, c := range manifest.Chunks {
		path := filepath.Join(outDir, c.Filename)
		if err := o.shipOne(ctx, archiveBase, path, c.Filename, c.Digest, c.Length, i+1); err != nil {
			return err
		}
		if err := o.shipMetadataFile(ctx, archiveBase, outDir, c.Filename+".sha256"); err != nil {
			return err
		}
	}
	for _, name := range []string{".whole.sha256", ".parts", ".manifest.json"} {
		if err := o.shipMetadataFile(ctx, archiveBase, outDir, name); err != nil {
			return err
		}
	}
	return nil
}

// shipMetadataFile ships a small non-chunk artifact (per-chunk sidecar
// digest, .whole.sha256, .parts, .manifest.json), digesting it fresh since
// these aren't covered by manifest.Chunks.
func (o *Orchestrator) shipMetadataFile(ctx context.Context, archiveBase, outDir, name string) error {
	path := filepath.Join(outDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s for shipment: %w", name, err)
	}
	sum := sha256.Sum256(data)
	return o.shipOne(ctx, archiveBase, path, name, hex.EncodeToString(sum[:]), int64(len(data)), 0)
}

// shipOne ships a single named file under archiveBase, consulting the
// ledger first (cheapest check), then the remote target directly (in case
// the ledger is stale relative to the target, e.g. after a fresh spool
// directory), before uploading. A digest mismatch against an existing
// remote object gets one automatic re-upload attempt before it is surfaced
// as a permanent IntegrityMismatchError.
func (o *Orchestrator) shipOne(ctx context.Context, archiveBase, path, name, digest string, length int64, ordinal int) error {
	if shipped, ledgerDigest, err := o.Ledger.IsShipped(ctx, archiveBase, name); err == nil && shipped && ledgerDigest == digest {
		return nil
	}

	exists, remoteDigest, err := o.Shipper.Exists(ctx, archiveBase, name)
	if err != nil {
		return fmt.Errorf("check remote existence of %s: %w", name, err)
	}
	if exists && !remoteMatches(remoteDigest, digest) {
		if err := o.putFile(ctx, archiveBase, path, name, length); err != nil {
			return fmt.Errorf("re-upload %s after digest mismatch: %w", name, err)
		}
		exists, remoteDigest, err = o.Shipper.Exists(ctx, archiveBase, name)
		if err != nil {
			return fmt.Errorf("check remote existence of %s after re-upload: %w", name, err)
		}
		if !exists || !remoteMatches(remoteDigest, digest) {
			return &ship.IntegrityMismatchError{ArchiveBase: archiveBase, Name: name, Local: digest, Remote: remoteDigest}
		}
		return o.Ledger.RecordShipped(ctx, archiveBase, name, ordinal, digest, length)
	}
	if exists {
		return o.Ledger.RecordShipped(ctx, archiveBase, name, ordinal, digest, length)
	}

	if err := o.putFile(ctx, archiveBase, path, name, length); err != nil {
		return fmt.Errorf("ship %s: %w", name, err)
	}
	return o.Ledger.RecordShipped(ctx, archiveBase, name, ordinal, digest, length)
}

// remoteMatches compares a remote-reported digest against the local one.
// Only sha256-length digests are directly comparable; the S3 backend
// returns an ETag, which for multipart uploads is not a plain MD5 and
// cannot be compared to a SHA-256 digest at all, so anything else is
// treated as a match.
func remoteMatches(remoteDigest, localDigest string) bool {
	if len(remoteDigest) != sha256.Size*2 {
		return true
	}
	return remoteDigest == localDigest
}

// putFile opens path fresh and uploads it, retrying transport failures with
// bounded exponential backoff.
func (o *Orchestrator) putFile(ctx context.Context, archiveBase, path, name string, length int64) error {
	return ship.WithRetry(ctx, func() error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s for shipment: %w", name, err)
		}
		defer f.Close()

		var r io.Reader = f
		if o.Config.Runtime.BandwidthCapKbps > 0 {
			r = ship.NewThrottledReader(ctx, f, o.Config.Runtime.BandwidthCapKbps)
		}
		return o.Shipper.Put(ctx, archiveBase, name, r, length)
	})
}
