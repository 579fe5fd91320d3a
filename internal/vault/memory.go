package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"wsundo/internal/history"
)

// MemoryVault keeps content and metadata in memory. Useful for tests and
// the "memory" vault type. Safe for concurrent use.
type MemoryVault struct {
	name            string
	content         map[string][]byte // checksum -> content
	metadata        map[string][]byte // "hostID/name" -> metadata
	metadataVersion map[string]int64  // "hostID/name" -> version
	mu              sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:            name,
		content:         make(map[string][]byte),
		metadata:        make(map[string][]byte),
		metadataVersion: make(map[string]int64),
	}
}

func metadataKey(hostID, name string) string {
	return hostID + "/" + name
}

func (m *MemoryVault) PutContent(checksum string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.content[checksum] = data
	return nil
}

func (m *MemoryVault) GetContent(checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("content %s: %w", checksum, history.ErrContentNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryVault) HasContent(checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok, nil
}

func (m *MemoryVault) DeleteContent(checksum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, checksum)
	return nil
}

// ContentCount returns the number of stored blobs.
func (m *MemoryVault) ContentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

func (m *MemoryVault) PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := metadataKey(hostID, name)
	m.metadata[key] = data
	m.metadataVersion[key] = version
	return nil
}

func (m *MemoryVault) GetMetadataVersion(hostID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.metadataVersion[metadataKey(hostID, name)], nil
}

func (m *MemoryVault) GetMetadata(hostID string, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.metadata[metadataKey(hostID, name)]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("metadata %q for host %s: %w", name, hostID, history.ErrContentNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ history.Vault = (*MemoryVault)(nil)
