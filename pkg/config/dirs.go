package config

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName names the per-application subdirectory under each XDG base.
const AppName = "wayplan"

// Dirs are the resolved writable directories.
type Dirs struct {
	Config string
	Data   string
	Cache  string
}

// ResolveDirs fills empty overrides with XDG based defaults and creates every
// directory.
func ResolveDirs(configDir, dataDir, cacheDir string) (Dirs, error) {
	d := Dirs{Config: configDir, Data: dataDir, Cache: cacheDir}
	if d.Config == "" {
		d.Config = filepath.Join(xdgConfigDir(), AppName)
	}
	if d.Data == "" {
		d.Data = filepath.Join(xdgDataDir(), AppName)
	}
	if d.Cache == "" {
		d.Cache = filepath.Join(xdgCacheDir(), AppName)
	}
	for _, dir := range []string{d.Config, d.Data, d.Cache} {
		if err := ensureDir(dir); err != nil {
			return Dirs{}, err
		}
	}
	return d, nil
}

// ConfigFile is the YAML settings file inside the config dir.
func (d Dirs) ConfigFile() string { return filepath.Join(d.Config, "config.yaml") }

// Database returns the path of a sqlite file in the data dir.
func (d Dirs) Database(name string) string { return filepath.Join(d.Data, name) }

// fileExists reports whether the given path exists and is a file (not a directory).
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// xdgConfigDir returns $XDG_CONFIG_HOME or falls back to $HOME/.config.
func xdgConfigDir() string {
	return xdgBase("XDG_CONFIG_HOME", ".config")
}

// xdgCacheDir returns $XDG_CACHE_HOME or falls back to $HOME/.cache.
func xdgCacheDir() string {
	return xdgBase("XDG_CACHE_HOME", ".cache")
}

// xdgDataDir returns $XDG_DATA_HOME or falls back to $HOME/.local/share.
func xdgDataDir() string {
	return xdgBase("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgBase(env, homeRel string) string {
	if d := strings.TrimSpace(os.Getenv(env)); d != "" {
		return d
	}
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		// Last resort: current working directory (containers without HOME)
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, homeRel)
	}
	return filepath.Join(home, homeRel)
}

// ensureDir creates the directory and any necessary parents if it doesn't exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ApplicationsDir is where desktop entries are looked up by D-Bus services
// such as GeoClue.
func ApplicationsDir() string {
	return filepath.Join(xdgDataDir(), "applications")
}
