package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - WSUNDO_CONFIG_PATH: config file location (default: ~/.config/wsundo.toml)
//   - WSUNDO_HOME: base directory for wsundo data (default: ~/.local/share/wsundo)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("WSUNDO_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "wsundo.toml"), nil
}

// getBaseDir returns the base directory for wsundo data, checking WSUNDO_HOME
// first, then falling back to the XDG default ~/.local/share/wsundo.
func getBaseDir() (string, error) {
	if path := os.Getenv("WSUNDO_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "wsundo"), nil
}

// logLevel is Debug when WSUNDO_DEBUG is set, Info otherwise.
func logLevel() slog.Level {
	if os.Getenv("WSUNDO_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
