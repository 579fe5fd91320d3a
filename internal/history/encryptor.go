package history

import "io"

// Encryptor encrypts history content with a public key and unlocks the
// private key for reading it back.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	// Called by `wsundo config init`.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	// No passphrase is needed.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key. Returns an error if the passphrase is wrong.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key for one session.
// The key is never written to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
