package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultMaxStates is the number of history states kept per file when the
// config does not say otherwise.
const DefaultMaxStates = 50

// Config represents the main configuration for wsundo.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Workspace  WorkspaceConfig  `toml:"workspace"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	History    HistoryConfig    `toml:"history"`
}

// WorkspaceConfig says where resource bytes live.
type WorkspaceConfig struct {
	Type string `toml:"type"`           // "os" or "memory"
	Root string `toml:"root,omitempty"` // only used for type=os
}

// EncryptionConfig holds paths to the age key pair used for history content.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for the vault holding history content.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// HistoryConfig controls local history retention.
type HistoryConfig struct {
	MaxStates int  `toml:"max_states"` // per file; 0 means DefaultMaxStates
	Encrypt   bool `toml:"encrypt"`
}

// NewConfig creates a new Config with the provided values and default paths.
// The workspace root defaults to <baseDir>/workspace.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Workspace: WorkspaceConfig{
			Type: "os",
			Root: filepath.Join(baseDir, "workspace"),
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "wsundo.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "wsundo.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		History:  HistoryConfig{MaxStates: DefaultMaxStates},
	}
}

// EffectiveMaxStates returns the configured retention, falling back to DefaultMaxStates.
func (c HistoryConfig) EffectiveMaxStates() int {
	if c.MaxStates <= 0 {
		return DefaultMaxStates
	}
	return c.MaxStates
}

// Validate reports the first inconsistency in cfg.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return errors.New("host_id is required")
	}
	switch c.Workspace.Type {
	case "os":
		if c.Workspace.Root == "" {
			return errors.New("workspace root is required for type os")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown workspace type: %q", c.Workspace.Type)
	}
	if len(c.Vaults) == 0 {
		return errors.New("no vaults configured")
	}
	if c.History.Encrypt && c.Encryption.Type == "none" {
		return errors.New("history encryption requires an encryption type other than none")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
