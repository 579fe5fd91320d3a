package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"wsundo/internal/history"
)

// ErrWrongPassphrase is returned by TestEncryptor.Unlock on a mismatch.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// testHeader marks TestEncryptor output so sealed blobs differ from plaintext.
var testHeader = []byte("WSUNDO\x00\x01")

// TestEncryptor is a deterministic stand-in for AgeEncryptor. It prepends a
// fixed header instead of encrypting. When a passphrase was given to Setup,
// Unlock insists on the same one.
type TestEncryptor struct {
	passphrase string
	configured bool
	encrypted  int
}

var _ history.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor returns a configured TestEncryptor accepting any passphrase.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{configured: true}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	e.encrypted++
	return nil
}

// Encrypted returns how many blobs have been sealed.
func (e *TestEncryptor) Encrypted() int { return e.encrypted }

func (e *TestEncryptor) Unlock(passphrase string) (history.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return e.configured
}

// TestDecryptionContext strips the header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ history.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
