package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := Default()
	original.Server.RemoteURI = "dir:/mnt/archive"
	original.Server.Port = 22
	original.Archive.Compressor = "pigz"
	original.Archive.ChunkSizeMB = 2048
	original.Discovery.SkipFSTypes = []string{"swap", "iso9660"}
	original.Discovery.AvoidDevices = []string{"/dev/sda"}
	original.Naming.TokenSource = "hostname-mac"

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Server.RemoteURI != original.Server.RemoteURI {
		t.Errorf("Server.RemoteURI = %q, want %q", got.Server.RemoteURI, original.Server.RemoteURI)
	}
	if got.Archive.Compressor != "pigz" {
		t.Errorf("Archive.Compressor = %q, want %q", got.Archive.Compressor, "pigz")
	}
	if got.Archive.ChunkSizeMB != 2048 {
		t.Errorf("Archive.ChunkSizeMB = %d, want %d", got.Archive.ChunkSizeMB, 2048)
	}
	if len(got.Discovery.SkipFSTypes) != 2 {
		t.Fatalf("len(Discovery.SkipFSTypes) = %d, want 2", len(got.Discovery.SkipFSTypes))
	}
	if got.Naming.TokenSource != "hostname-mac" {
		t.Errorf("Naming.TokenSource = %q, want %q", got.Naming.TokenSource, "hostname-mac")
	}
}

func TestManager_Read_AppliesDefaultsForOmittedFields(t *testing.T) {
	doc := `
[server]
remote_uri = "dir:/mnt/archive"
`
	m := &Manager{}
	got, err := m.Read(bytes.NewBufferString(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Archive.Compressor != "zstd" {
		t.Errorf("Archive.Compressor default = %q, want zstd", got.Archive.Compressor)
	}
	if got.Archive.ChunkSizeMB != 4096 {
		t.Errorf("Archive.ChunkSizeMB default = %d, want 4096", got.Archive.ChunkSizeMB)
	}
	if got.Integrity.Algorithm != "sha256" {
		t.Errorf("Integrity.Algorithm default = %q, want sha256", got.Integrity.Algorithm)
	}
	if got.Naming.Pattern != "{date}_{token}_d{disk}_p{part}" {
		t.Errorf("Naming.Pattern default = %q", got.Naming.Pattern)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default plus remote", func(c *Config) { c.Server.RemoteURI = "dir:/x" }, false},
		{"missing remote_uri", func(c *Config) {}, true},
		{"bad compressor", func(c *Config) { c.Server.RemoteURI = "dir:/x"; c.Archive.Compressor = "lz4" }, true},
		{"bad level", func(c *Config) { c.Server.RemoteURI = "dir:/x"; c.Archive.Level = 0 }, true},
		{"negative chunk size", func(c *Config) { c.Server.RemoteURI = "dir:/x"; c.Archive.ChunkSizeMB = -1 }, true},
		{"bad token source", func(c *Config) { c.Server.RemoteURI = "dir:/x"; c.Naming.TokenSource = "guess" }, true},
		{"negative workers", func(c *Config) { c.Server.RemoteURI = "dir:/x"; c.Runtime.Workers = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file with defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "docrip.toml")

		if err := Init(path, nil); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "docrip.toml")

		if err := Init(path, nil); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, nil); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "docrip.toml")
		cfg := Default()
		cfg.Server.RemoteURI = "dir:/mnt/archive"

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Server.RemoteURI != "dir:/mnt/archive" {
			t.Errorf("Server.RemoteURI = %q, want %q", got.Server.RemoteURI, "dir:/mnt/archive")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/docrip.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})

	t.Run("returns error for invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "docrip.toml")
		cfg := Default() // missing remote_uri

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected validation error")
		}
	})
}

func TestFindConfigPath(t *testing.T) {
	t.Run("explicit path must exist", func(t *testing.T) {
		if _, err := FindConfigPath("/nonexistent/docrip.toml", ""); err == nil {
			t.Fatal("expected error for missing explicit path")
		}
	})

	t.Run("explicit path found", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "docrip.toml")
		if err := os.WriteFile(path, []byte(""), 0644); err != nil {
			t.Fatal(err)
		}
		got, err := FindConfigPath(path, "")
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if got != path {
			t.Errorf("FindConfigPath() = %q, want %q", got, path)
		}
	})

	t.Run("falls back to bundle-adjacent then system path", func(t *testing.T) {
		dir := t.TempDir()
		got, err := FindConfigPath("", dir)
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if got != "/etc/docrip.toml" {
			t.Errorf("FindConfigPath() = %q, want /etc/docrip.toml", got)
		}

		adjacent := filepath.Join(dir, "docrip.toml")
		if err := os.WriteFile(adjacent, []byte(""), 0644); err != nil {
			t.Fatal(err)
		}
		got, err = FindConfigPath("", dir)
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if got != adjacent {
			t.Errorf("FindConfigPath() = %q, want %q", got, adjacent)
		}
	})
}
