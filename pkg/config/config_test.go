package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.POI.Debounce != 500*time.Millisecond {
		t.Errorf("POI.Debounce = %v, want 500ms", cfg.POI.Debounce)
	}
	if cfg.Layers.Exaggeration != 1.5 || cfg.Geocode.Throttle != 400*time.Millisecond {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !cfg.Location.Enabled {
		t.Error("location disabled by default")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, `
listen: 0.0.0.0:9000
mapbox:
  access_token: pk.test
  timeout: 3s
route:
  default_profile: cycling
poi:
  debounce: 250ms
location:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" || cfg.Mapbox.AccessToken != "pk.test" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Mapbox.Timeout != 3*time.Second || cfg.POI.Debounce != 250*time.Millisecond {
		t.Errorf("durations not parsed: %v %v", cfg.Mapbox.Timeout, cfg.POI.Debounce)
	}
	if cfg.Route.DefaultProfile != "cycling" || cfg.Location.Enabled {
		t.Errorf("route/location = %+v %+v", cfg.Route, cfg.Location)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WAYPLAN_MAPBOX_TOKEN", "pk.env")
	t.Setenv("WAYPLAN_NOMINATIM_RETRIES", "3")
	t.Setenv("WAYPLAN_POI_DEBOUNCE", "1s")

	cfg, err := Load(writeTemp(t, "mapbox:\n  access_token: pk.file\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mapbox.AccessToken != "pk.env" || cfg.Geocode.Retries != 3 || cfg.POI.Debounce != time.Second {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	t.Setenv("WAYPLAN_NOMINATIM_RETRIES", "many")
	if _, err := Load(""); err == nil {
		t.Error("Load accepted a non-numeric retry count")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Route.DefaultProfile = "flying"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted unknown profile")
	}
	if _, err := Load(writeTemp(t, "route:\n  default_profile: [oops\n")); err == nil {
		t.Error("Load accepted malformed yaml")
	}
}

func TestResolveDirs(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "cfg"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(base, "cache"))

	explicit := filepath.Join(base, "mydata")
	d, err := ResolveDirs("", explicit, "")
	if err != nil {
		t.Fatalf("ResolveDirs: %v", err)
	}
	if d.Config != filepath.Join(base, "cfg", AppName) || d.Data != explicit {
		t.Errorf("dirs = %+v", d)
	}
	for _, dir := range []string{d.Config, d.Data, d.Cache} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
	if d.ConfigFile() != filepath.Join(d.Config, "config.yaml") {
		t.Errorf("ConfigFile = %s", d.ConfigFile())
	}
}
