// Package encryption provides the encryptors protecting history content.
package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"filippo.io/age"
	"github.com/spf13/afero"

	"wsundo/internal/config"
	"wsundo/internal/history"
)

// ErrAlreadyConfigured is returned by Setup when key files already exist.
var ErrAlreadyConfigured = errors.New("encryption keys already exist")

// Vault metadata names for key backups.
const (
	PublicKeyName  = "public_key"
	PrivateKeyName = "private_key"
)

// AgeEncryptor implements history.Encryptor using filippo.io/age with an
// X25519 key pair. The public key is stored in plaintext; the private key
// is sealed with the user's passphrase using age's scrypt recipient.
type AgeEncryptor struct {
	fs             afero.Fs
	publicKeyPath  string
	privateKeyPath string
	recipient      age.Recipient
}

var _ history.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor reading its key files from fs.
func NewAgeEncryptor(fs afero.Fs, cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		fs:             fs,
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a key pair and writes both key files. Existing keys are
// never overwritten, since history sealed with them would become unreadable.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if e.IsConfigured() {
		return ErrAlreadyConfigured
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if err := e.fs.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	if err := afero.WriteFile(e.fs, e.privateKeyPath, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := afero.WriteFile(e.fs, e.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	e.recipient = identity.Recipient()
	return nil
}

// Encrypt reads plaintext from r and writes age ciphertext to w.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return fmt.Errorf("loading public key: %w", err)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Unlock opens the private key with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (history.DecryptionContext, error) {
	privData, err := afero.ReadFile(e.fs, e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	decReader, err := age.Decrypt(bytes.NewReader(privData), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(decReader)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}
	return &AgeDecryptionContext{identity: identities[0]}, nil
}

// IsConfigured returns true if both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if ok, err := afero.Exists(e.fs, p); err != nil || !ok {
			return false
		}
	}
	return true
}

// BackupKeys copies both key files into the vault as metadata of hostID.
// The private key stays sealed by the passphrase.
func (e *AgeEncryptor) BackupKeys(v history.Vault, hostID string) error {
	for name, p := range map[string]string{PublicKeyName: e.publicKeyPath, PrivateKeyName: e.privateKeyPath} {
		data, err := afero.ReadFile(e.fs, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if err := v.PutMetadata(hostID, name, bytes.NewReader(data), int64(len(data)), 1); err != nil {
			return fmt.Errorf("backing up %s: %w", name, err)
		}
	}
	return nil
}

// loadRecipient parses the public key once per encryptor.
func (e *AgeEncryptor) loadRecipient() (age.Recipient, error) {
	if e.recipient != nil {
		return e.recipient, nil
	}
	pubData, err := afero.ReadFile(e.fs, e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	e.recipient = recipients[0]
	return e.recipient, nil
}

// AgeDecryptionContext holds an unlocked age identity.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ history.DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
