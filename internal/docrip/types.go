// Package docrip holds the plain data types shared across the capture
// pipeline: device topology, discovered volumes, mounts, archive jobs,
// chunks, manifests and run records. Interfaces that operate on these types
// live in their own component packages (internal/device, internal/mount,
// internal/chunk, internal/ship, internal/orchestrator) so each package can
// be tested against a narrow contract, the same split the teacher repository
// draws between internal/model (plain structs) and internal/bt (interfaces).
package docrip

import "time"

// DeviceKind enumerates the block device kinds the inspector recognizes.
type DeviceKind string

const (
	KindDisk      DeviceKind = "disk"
	KindPartition DeviceKind = "partition"
	KindLVMLV     DeviceKind = "lvm-lv"
	KindMD        DeviceKind = "md"
	KindZvol      DeviceKind = "zvol"
	KindLoop      DeviceKind = "loop"
	KindCrypt     DeviceKind = "crypt"
	KindRom       DeviceKind = "rom"
	KindOther     DeviceKind = "other"
)

// Device is one node in the block device topology, as reported by lsblk.
type Device struct {
	Path        string     // stable path, e.g. "/dev/sdb1"
	KName       string     // kernel name, e.g. "sdb1"
	Kind        DeviceKind
	FSType      string // declared filesystem type, may be empty
	SizeBytes   int64
	Parent      string // whole-disk ancestor path; a disk's own path for whole disks
	Mountpoints []string
	UUID        string
	Model       string
	Encrypted   bool
	IsBoot      bool // member of the boot-exclusion set
	Children    []*Device
}

// SkipReason enumerates why a candidate volume was excluded from processing.
// Kept as a closed enum rather than a free string, per the teacher's
// preference for tagged unions over stringly-typed state (see
// config.VaultConfig's "tagged union pattern" comment).
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipBoot             SkipReason = "boot"
	SkipAvoided          SkipReason = "avoided"
	SkipFSTypeBlocked    SkipReason = "fstype_blocked"
	SkipFSTypeUnsupported SkipReason = "fstype_unsupported"
	SkipEncrypted        SkipReason = "encrypted"
	SkipTooSmall         SkipReason = "too_small"
	SkipLayerDisallowed  SkipReason = "layer_disallowed"
	SkipNotInOnly        SkipReason = "not_in_only"
	SkipInspectionFailed SkipReason = "inspection_failed"
)

// Volume is one candidate mountable volume produced by discovery.
type Volume struct {
	DevicePath  string
	KName       string
	FSType      string
	SizeBytes   int64
	Kind        DeviceKind
	UUID        string
	Model       string
	Encrypted   bool
	DiskNo      int
	PartNo      int
	ArchiveBase string // rendered from naming.pattern, empty until assigned

	Selected   bool
	SkipReason SkipReason
}

// Mount describes an acquired, scoped read-only mount.
type Mount struct {
	Mountpoint string
	Source     string
	FSType     string
	Flags      string
	Release    func() error
}

// ArchiveJob is the per-volume unit of work for the chunked compressor.
type ArchiveJob struct {
	SpoolDir       string
	Volume         Volume
	ChunkSizeMB    int
	HashAlgorithm  string
	Compressor     string // resolved compressor, "zstd" or "pigz"
	Level          int
	Threads        int // t_worker: internal compression threads
	MaxFileSizeMB  int
	PreserveXattrs bool
}

// Chunk is one committed, ordered byte range of the compressed stream.
type Chunk struct {
	Ordinal  int // 1-based
	Filename string
	Length   int64
	Digest   string
}

// ManifestChunk is the on-disk representation of a chunk entry inside a
// manifest (kept distinct from Chunk so JSON field names are stable API,
// independent of the in-memory Chunk shape).
type ManifestChunk struct {
	Filename string `json:"filename"`
	Length   int64  `json:"length"`
	Digest   string `json:"digest"`
}

// Manifest is the authoritative per-volume metadata record.
type Manifest struct {
	ArchiveBase       string          `json:"archive_base"`
	SourceDevice      string          `json:"source_device"`
	FSType            string          `json:"fstype"`
	VolumeSizeBytes   int64           `json:"volume_size_bytes"`
	Compressor        string          `json:"compressor"`
	CompressionLevel  int             `json:"compression_level"`
	ChunkSizeMB       int             `json:"chunk_size_mb"`
	HashAlgorithm     string          `json:"hash_algorithm"`
	Chunks            []ManifestChunk `json:"chunks"`
	WholeStreamDigest string          `json:"whole_stream_digest"`
	CreatedAt         time.Time       `json:"created_at"`
	ToolVersion       string          `json:"tool_version"`
}

// VolumeStatus enumerates the terminal state of a processed volume.
type VolumeStatus string

const (
	StatusOK      VolumeStatus = "ok"
	StatusSkipped VolumeStatus = "skipped"
	StatusFailed  VolumeStatus = "failed"
)

// FailKind enumerates the typed failure categories of spec section 7.
type FailKind string

const (
	FailNone       FailKind = ""
	FailMount      FailKind = "mount"
	FailArchive    FailKind = "archive"
	FailTransport  FailKind = "transport"
	FailIntegrity  FailKind = "integrity"
	FailInspection FailKind = "inspection"
)

// VolumeRecord is one entry of the run summary.
type VolumeRecord struct {
	Volume    string       `json:"volume"`
	ArchiveBase string     `json:"archive_base,omitempty"`
	FSType    string       `json:"fstype"`
	SizeBytes int64        `json:"size_bytes"`
	Status    VolumeStatus `json:"status"`
	SkipReason SkipReason  `json:"skip_reason,omitempty"`
	FailKind  FailKind     `json:"fail_kind,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	BytesIn   int64        `json:"bytes_in"`
	BytesOut  int64        `json:"bytes_out"`
	Chunks    int          `json:"chunks"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// RunRecord is the top-level run summary written to output.run_summary_dir.
type RunRecord struct {
	Host             string         `json:"host"`
	RunStartedAt     time.Time      `json:"run_started_at"`
	DurationNS       time.Duration  `json:"duration_ns"`
	DateToken        string         `json:"date_token"`
	HostToken        string         `json:"host_token"`
	Workers          int            `json:"workers"`
	VolumesTotal     int            `json:"volumes_total"`
	VolumesProcessed int            `json:"volumes_processed"`
	Volumes          []VolumeRecord `json:"volumes"`
}

// Counts returns (ok, skipped, failed) counts across the run's volumes.
func (r RunRecord) Counts() (ok, skipped, failed int) {
	for _, v := range r.Volumes {
		switch v.Status {
		case StatusOK:
			ok++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return
}

// Clock abstracts time retrieval so run timing is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
