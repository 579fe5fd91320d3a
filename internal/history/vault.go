package history

import (
	"errors"
	"io"
)

// ErrContentNotFound is returned by vaults for unknown checksums.
var ErrContentNotFound = errors.New("content not found")

// Vault stores history content and database snapshots.
// All operations stream so large files are never held in memory by the vault.
type Vault interface {
	// PutContent stores content identified by its checksum.
	// Storing the same checksum twice is safe.
	// size is the number of bytes that will be read from r.
	PutContent(checksum string, r io.Reader, size int64) error

	// GetContent writes the content with the given checksum to w.
	// Returns an error matching ErrContentNotFound if it is absent.
	GetContent(checksum string, w io.Writer) error

	HasContent(checksum string) (bool, error)

	// DeleteContent removes content. Deleting absent content is not an error.
	DeleteContent(checksum string) error

	// PutMetadata stores a named metadata item for a host, e.g. "db" for
	// the SQLite snapshot, with a version used for consistency checks.
	PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error

	GetMetadata(hostID string, name string, w io.Writer) error

	// GetMetadataVersion returns 0 if nothing was stored for host/name.
	GetMetadataVersion(hostID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
