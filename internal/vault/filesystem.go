package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"wsundo/internal/history"
)

// FileSystemVault stores history content and metadata in a directory:
//
//	<root>/
//	  content/
//	    <checksum>            (content blobs, named by SHA-256)
//	  metadata/
//	    <hostID>/<name>       (database snapshots and key copies)
//	    <hostID>/<name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	metadataDir := filepath.Join(root, "metadata")

	// Create directory structure
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	return &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  contentDir,
		metadataDir: metadataDir,
	}, nil
}

func (v *FileSystemVault) contentPath(checksum string) (string, error) {
	if checksum == "" || strings.ContainsAny(checksum, `/\`) || checksum == "." || checksum == ".." {
		return "", fmt.Errorf("invalid checksum %q", checksum)
	}
	return filepath.Join(v.contentDir, checksum), nil
}

func (v *FileSystemVault) metadataPath(hostID, name string) (string, error) {
	for _, part := range []string{hostID, name} {
		if part == "" || strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", fmt.Errorf("invalid metadata key %q", part)
		}
	}
	return filepath.Join(v.metadataDir, hostID, name), nil
}

// PutContent stores content identified by its checksum.
// Storing the same checksum twice only drains r.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	destPath, err := v.contentPath(checksum)
	if err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err == nil {
		// Consume the reader to maintain expected behavior
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return v.writeFile(destPath, r, size)
}

// GetContent retrieves content by checksum and writes it to w.
func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	srcPath, err := v.contentPath(checksum)
	if err != nil {
		return err
	}
	if err := v.readFile(srcPath, w); err != nil {
		return fmt.Errorf("content %s: %w", checksum, err)
	}
	return nil
}

func (v *FileSystemVault) HasContent(checksum string) (bool, error) {
	p, err := v.contentPath(checksum)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking content: %w", err)
	}
	return true, nil
}

func (v *FileSystemVault) DeleteContent(checksum string) error {
	p, err := v.contentPath(checksum)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting content: %w", err)
	}
	return nil
}

// PutMetadata stores a named metadata item for a host along with its version.
func (v *FileSystemVault) PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error {
	destPath, err := v.metadataPath(hostID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}
	if err := v.writeFile(destPath, r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	return os.WriteFile(destPath+".version", []byte(versionData), 0644)
}

// GetMetadataVersion returns the version of a named item on a host.
// Returns 0 if no version file exists.
func (v *FileSystemVault) GetMetadataVersion(hostID string, name string) (int64, error) {
	p, err := v.metadataPath(hostID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(p + ".version")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata retrieves a named metadata item for a host and writes it to w.
func (v *FileSystemVault) GetMetadata(hostID string, name string, w io.Writer) error {
	srcPath, err := v.metadataPath(hostID, name)
	if err != nil {
		return err
	}
	if err := v.readFile(srcPath, w); err != nil {
		return fmt.Errorf("metadata %q for host %s: %w", name, hostID, err)
	}
	return nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	for _, dir := range []string{v.contentDir, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}

	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// readFile copies the file at srcPath to w. A missing file yields
// history.ErrContentNotFound.
func (v *FileSystemVault) readFile(srcPath string, w io.Writer) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return history.ErrContentNotFound
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	return nil
}

var _ history.Vault = (*FileSystemVault)(nil)
