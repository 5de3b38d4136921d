package testutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"docrip/internal/ship"
)

// MemoryShipper is an in-memory implementation of ship.Shipper, storing
// uploaded content keyed by archiveBase/name. It is safe for concurrent
// use, mirroring the teacher's MemoryVault.
type MemoryShipper struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailExists/FailPut, when set, are returned verbatim from the
	// corresponding method instead of running normally.
	FailExists error
	FailPut    error
}

// NewMemoryShipper creates an empty MemoryShipper.
func NewMemoryShipper() *MemoryShipper {
	return &MemoryShipper{objects: make(map[string][]byte)}
}

func objectKey(archiveBase, name string) string {
	return archiveBase + "/" + name
}

func (m *MemoryShipper) Exists(_ context.Context, archiveBase, name string) (bool, string, error) {
	if m.FailExists != nil {
		return false, "", m.FailExists
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[objectKey(archiveBase, name)]
	if !ok {
		return false, "", nil
	}
	sum := sha256.Sum256(data)
	return true, hex.EncodeToString(sum[:]), nil
}

func (m *MemoryShipper) Put(_ context.Context, archiveBase, name string, r io.Reader, size int64) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read shipment body: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(archiveBase, name)] = data
	return nil
}

func (m *MemoryShipper) Close() error { return nil }

// Get returns the stored bytes for archiveBase/name, for test assertions.
func (m *MemoryShipper) Get(archiveBase, name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectKey(archiveBase, name)]
	if !ok {
		return nil, false
	}
	return bytes.Clone(data), true
}

var _ ship.Shipper = (*MemoryShipper)(nil)
