// Package config loads and validates docrip's TOML configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration, one struct per group in the
// documented schema (server, archive, discovery, filters, runtime, naming,
// integrity, output).
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Archive   ArchiveConfig   `toml:"archive"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Filters   FiltersConfig   `toml:"filters"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Naming    NamingConfig    `toml:"naming"`
	Integrity IntegrityConfig `toml:"integrity"`
	Output    OutputConfig    `toml:"output"`
}

// ServerConfig describes the remote archival target.
type ServerConfig struct {
	RemoteURI      string `toml:"remote_uri"`      // "dir:/mnt/archive" or "s3://bucket/prefix"
	CredentialPath string `toml:"credential_path"` // ssh key path or AWS credentials file
	Port           int    `toml:"port"`
}

// ArchiveConfig describes compression and spooling behavior.
type ArchiveConfig struct {
	Compressor     string `toml:"compressor"` // "zstd" or "pigz"
	Level          int    `toml:"level"`
	ChunkSizeMB    int    `toml:"chunk_size_mb"`
	SpoolDir       string `toml:"spool_dir"`
	PreserveXattrs bool   `toml:"preserve_xattrs"`
}

// DiscoveryConfig controls which devices are eligible for capture.
type DiscoveryConfig struct {
	IncludeFSTypes            []string `toml:"include_fstypes"`
	SkipFSTypes               []string `toml:"skip_fstypes"`
	SkipIfEncrypted           bool     `toml:"skip_if_encrypted"`
	AllowLVM                  bool     `toml:"allow_lvm"`
	AllowRAID                 bool     `toml:"allow_raid"`
	MinPartitionSizeGB        int      `toml:"min_partition_size_gb"`
	AvoidDevices              []string `toml:"avoid_devices"`
	AllowBootAdjacentZFSPools []string `toml:"allow_boot_adjacent_zfs_pools"`
}

// FiltersConfig controls file-level exclusions inside the archive stream.
type FiltersConfig struct {
	MaxFileSizeMB int `toml:"max_file_size_mb"`
}

// RuntimeConfig controls concurrency.
type RuntimeConfig struct {
	Workers          int `toml:"workers"` // 0 = auto
	BandwidthCapKbps int `toml:"bandwidth_cap_kbps"`
}

// NamingConfig controls archive base name derivation.
type NamingConfig struct {
	DateFmt     string `toml:"date_fmt"`
	TokenSource string `toml:"token_source"` // "machine-id" | "hostname-mac" | "random"
	Pattern     string `toml:"pattern"`
}

// IntegrityConfig selects the hash algorithm used for chunk and whole-stream digests.
type IntegrityConfig struct {
	Algorithm string `toml:"algorithm"`
}

// OutputConfig controls where run summaries land.
type OutputConfig struct {
	RunSummaryDir string `toml:"run_summary_dir"`
	PerVolumeJSON bool   `toml:"per_volume_json"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 22},
		Archive: ArchiveConfig{
			Compressor:     "zstd",
			Level:          3,
			ChunkSizeMB:    4096,
			SpoolDir:       "/var/tmp/docrip",
			PreserveXattrs: true,
		},
		Discovery: DiscoveryConfig{
			SkipIfEncrypted:    true,
			AllowLVM:           true,
			AllowRAID:          true,
			MinPartitionSizeGB: 256,
		},
		Filters: FiltersConfig{MaxFileSizeMB: 0},
		Runtime: RuntimeConfig{},
		Naming: NamingConfig{
			DateFmt:     "20060102",
			TokenSource: "machine-id",
			Pattern:     "{date}_{token}_d{disk}_p{part}",
		},
		Integrity: IntegrityConfig{Algorithm: "sha256"},
		Output: OutputConfig{
			RunSummaryDir: "/var/log/docrip",
			PerVolumeJSON: true,
		},
	}
}

// Manager reads and writes configuration documents.
type Manager struct{}

// Read decodes a Config from r, starting from the documented defaults so
// that any key the document omits keeps its default value.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes cfg to w.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the given path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path, refusing to
// overwrite an existing one. A nil cfg writes the documented defaults.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if cfg == nil {
		cfg = Default()
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Archive.Compressor != "zstd" && c.Archive.Compressor != "pigz" {
		return fmt.Errorf("archive.compressor must be zstd or pigz, got %q", c.Archive.Compressor)
	}
	if c.Archive.Level < 1 || c.Archive.Level > 9 {
		return fmt.Errorf("archive.level must be in [1,9], got %d", c.Archive.Level)
	}
	if c.Archive.ChunkSizeMB < 0 {
		return fmt.Errorf("archive.chunk_size_mb must be >= 0, got %d", c.Archive.ChunkSizeMB)
	}
	if c.Archive.SpoolDir == "" {
		return fmt.Errorf("archive.spool_dir must be set")
	}
	if c.Integrity.Algorithm != "sha256" {
		return fmt.Errorf("integrity.algorithm must be sha256, got %q", c.Integrity.Algorithm)
	}
	if c.Discovery.MinPartitionSizeGB < 0 {
		return fmt.Errorf("discovery.min_partition_size_gb must be >= 0")
	}
	if c.Runtime.Workers < 0 {
		return fmt.Errorf("runtime.workers must be >= 0")
	}
	switch c.Naming.TokenSource {
	case "machine-id", "hostname-mac", "random":
	default:
		return fmt.Errorf("naming.token_source must be machine-id, hostname-mac or random, got %q", c.Naming.TokenSource)
	}
	if c.Server.RemoteURI == "" {
		return fmt.Errorf("server.remote_uri must be set")
	}
	return nil
}

// FindConfigPath picks the config file to load, mirroring
// original_source/docrip/config.py's find_config: an explicit path must
// exist; otherwise prefer a file next to the running binary, then fall back
// to a well-known system path.
func FindConfigPath(explicit string, bundleDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("specified config file does not exist: %s", explicit)
		}
		return explicit, nil
	}

	if bundleDir != "" {
		adjacent := filepath.Join(bundleDir, "docrip.toml")
		if _, err := os.Stat(adjacent); err == nil {
			return adjacent, nil
		}
	}

	return "/etc/docrip.toml", nil
}
