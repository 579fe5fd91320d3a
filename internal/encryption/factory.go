package encryption

import (
	"fmt"

	"github.com/spf13/afero"

	"wsundo/internal/config"
	"wsundo/internal/history"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Type "none" returns a nil Encryptor: history content is stored
// in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (history.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(afero.NewOsFs(), cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
