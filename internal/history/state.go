package history

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"wsundo/internal/model"
)

// State is one recorded state of a file.
type State struct {
	store *Store
	row   *model.HistoryState
}

func (st *State) ID() string { return st.row.ID }

func (st *State) Path() string { return st.row.Path }

func (st *State) ModificationTime() time.Time { return st.row.ModifiedAt }

func (st *State) RecordedAt() time.Time { return st.row.RecordedAt }

func (st *State) Charset() string { return st.row.Charset }

// Checksum is the SHA-256 of the plaintext content.
func (st *State) Checksum() string { return st.row.ContentID }

// Exists reports whether the content can be read now: it is in the vault
// and, if encrypted, the store has been unlocked.
func (st *State) Exists() bool {
	content, err := st.store.index.FindContentByChecksum(st.row.ContentID)
	if err != nil || content == nil {
		return false
	}
	if content.Encrypted && st.store.decrypt == nil {
		return false
	}
	ok, err := st.store.vault.HasContent(st.row.ContentID)
	if err != nil {
		st.store.logger.Warn("checking vault content failed", "checksum", st.row.ContentID, "error", err)
		return false
	}
	return ok
}

// Content returns the plaintext of the state.
func (st *State) Content() (io.ReadCloser, error) {
	s := st.store
	content, err := s.index.FindContentByChecksum(st.row.ContentID)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("state %s: %w", st.row.ID, ErrContentNotFound)
	}

	var buf bytes.Buffer
	if !content.Encrypted {
		if err := s.vault.GetContent(content.ID, &buf); err != nil {
			return nil, fmt.Errorf("retrieving content from vault: %w", err)
		}
		return io.NopCloser(&buf), nil
	}

	if s.decrypt == nil {
		return nil, fmt.Errorf("content is encrypted but no passphrase was provided")
	}
	// Pipe vault output straight into the decryptor.
	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := s.vault.GetContent(content.ID, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	decryptErr := s.decrypt.Decrypt(pr, &buf)
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	switch {
	case errors.Is(vaultErr, ErrContentNotFound):
		return nil, fmt.Errorf("retrieving content from vault: %w", vaultErr)
	case decryptErr != nil:
		return nil, fmt.Errorf("decrypting content: %w", decryptErr)
	case vaultErr != nil:
		return nil, fmt.Errorf("retrieving content from vault: %w", vaultErr)
	}
	return io.NopCloser(&buf), nil
}
