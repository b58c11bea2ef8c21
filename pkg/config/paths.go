package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDBPath returns the platform-appropriate store file location.
func DefaultDBPath() string {
	return filepath.Join(dataDir(), "forest.db")
}

// configFilePath returns the user config file location. FOREST_CONFIG
// overrides it; empty disables file loading entirely.
func configFilePath() string {
	if v := os.Getenv("FOREST_CONFIG"); v != "" {
		return v
	}
	dir := configDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "forest", "config.yaml")
}

// CacheDir returns where downloaded local model weights live.
func CacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "forest")
	}
	return filepath.Join(os.TempDir(), "forest-cache")
}

func dataDir() string {
	switch runtime.GOOS {
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "forest")
		}
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "forest")
		}
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "forest")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share", "forest")
		}
	}
	return filepath.Join(os.TempDir(), "forest")
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return ""
}
