// Package hostid derives a stable per-machine token used to name archives
// consistently across repeated runs against the same host.
package hostid

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	SourceMachineID = "machine-id"
	SourceHostMAC   = "hostname-mac"
	SourceRandom    = "random"

	machineIDPath  = "/etc/machine-id"
	dmiProductUUID = "/sys/class/dmi/id/product_uuid"
	randomIDFile   = "hostid.random"
)

// Resolve returns a stable identifier for the current machine according to
// source, one of SourceMachineID, SourceHostMAC or SourceRandom.
//
// SourceMachineID reads /etc/machine-id, falling back to the DMI product
// UUID and then the kernel hostname, mirroring host_identifier's fallback
// chain. SourceHostMAC combines the hostname with the first non-loopback
// interface's MAC address, for machines that don't expose a machine-id
// (e.g. some live/forensic boot environments). SourceRandom generates a
// UUID on first use and persists it under spoolDir so it survives restarts
// of the same run but not a fresh spool directory.
func Resolve(source, spoolDir string) (string, error) {
	switch source {
	case SourceMachineID, "":
		return resolveMachineID(), nil
	case SourceHostMAC:
		return resolveHostMAC(), nil
	case SourceRandom:
		return resolveRandom(spoolDir)
	default:
		return "", fmt.Errorf("unknown host id source %q", source)
	}
}

func resolveMachineID() string {
	for _, p := range []string{machineIDPath, dmiProductUUID} {
		if b, err := os.ReadFile(p); err == nil {
			if s := strings.TrimSpace(string(b)); s != "" {
				return s
			}
		}
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "unknown-host"
}

func resolveHostMAC() string {
	name, _ := os.Hostname()
	mac := firstHardwareAddr()
	if mac == "" {
		return name
	}
	if name == "" {
		return mac
	}
	return name + ":" + mac
}

func firstHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

func resolveRandom(spoolDir string) (string, error) {
	if spoolDir == "" {
		return "", errors.New("random host id source requires a spool directory")
	}
	path := filepath.Join(spoolDir, randomIDFile)
	if b, err := os.ReadFile(path); err == nil {
		if s := strings.TrimSpace(string(b)); s != "" {
			return s, nil
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir for random host id: %w", err)
	}
	tmp, err := os.CreateTemp(spoolDir, ".tmp-hostid-*")
	if err != nil {
		return "", fmt.Errorf("persist random host id: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(id); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("persist random host id: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("persist random host id: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("persist random host id: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("commit random host id: %w", err)
	}
	return id, nil
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// DeriveToken produces a deterministic 5-character base36 token from
// dateStr and hostID, used as the naming pattern's {token} substitution so
// archives from the same host on the same day share a token without
// leaking the raw host identifier into filenames.
func DeriveToken(dateStr, hostID string) string {
	sum := sha256.Sum256([]byte(dateStr + ":" + hostID))
	n := binary.BigEndian.Uint64(sum[:8])
	out := make([]byte, 6)
	for i := range out {
		out[i] = base36Alphabet[n%36]
		n /= 36
	}
	return string(out[:5])
}
