package xdg

import (
	"os"
	"path/filepath"
)

// XDGDirs resolves XDG Base Directory locations for the host's files
type XDGDirs struct {
	stateHome  string
	cacheHome  string
	runtimeDir string
}

// NewXDGDirs reads XDG_* variables and falls back to the XDG base directory defaults
func NewXDGDirs() *XDGDirs {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = os.TempDir()
		}
	}

	x := &XDGDirs{}

	// event logs and stdout logs live in state
	x.stateHome = os.Getenv("XDG_STATE_HOME")
	if x.stateHome == "" {
		x.stateHome = filepath.Join(homeDir, ".local", "state")
	}

	x.cacheHome = os.Getenv("XDG_CACHE_HOME")
	if x.cacheHome == "" {
		x.cacheHome = filepath.Join(homeDir, ".cache")
	}

	x.runtimeDir = os.Getenv("XDG_RUNTIME_DIR")
	if x.runtimeDir == "" {
		x.runtimeDir = filepath.Join(os.TempDir(), "ancm-runtime-"+os.Getenv("USER"))
	}

	return x
}

func (x *XDGDirs) StateHome() string { return x.stateHome }

func (x *XDGDirs) CacheHome() string { return x.cacheHome }

func (x *XDGDirs) RuntimeDir() string { return x.runtimeDir }

// AppStateDir returns the application-specific state directory
func (x *XDGDirs) AppStateDir(appName string) string {
	return filepath.Join(x.stateHome, appName)
}

// AppCacheDir returns the application-specific cache directory
func (x *XDGDirs) AppCacheDir(appName string) string {
	return filepath.Join(x.cacheHome, appName)
}

// AppRuntimeDir returns the application-specific runtime directory
func (x *XDGDirs) AppRuntimeDir(appName string) string {
	return filepath.Join(x.runtimeDir, appName)
}

// EnsureDir creates the directory if it doesn't exist
func (x *XDGDirs) EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
