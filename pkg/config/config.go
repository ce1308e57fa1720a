// Package config loads wayplan settings from config.yaml in the config dir,
// then applies WAYPLAN_* environment overrides and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rubiojr/wayplan/pkg/tracing"
)

// Config is the full settings tree.
type Config struct {
	Listen   string         `yaml:"listen"`
	Mapbox   MapboxConfig   `yaml:"mapbox"`
	Geocode  GeocodeConfig  `yaml:"geocode"`
	Route    RouteConfig    `yaml:"route"`
	Layers   LayersConfig   `yaml:"layers"`
	POI      POIConfig      `yaml:"poi"`
	Location LocationConfig `yaml:"location"`
	Tracing  tracing.Config `yaml:"tracing"`
}

type MapboxConfig struct {
	AccessToken   string        `yaml:"access_token"`
	StyleURL      string        `yaml:"style_url"`
	DirectionsURL string        `yaml:"directions_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type GeocodeConfig struct {
	Server    string        `yaml:"server"`
	Retries   int           `yaml:"retries"`
	Throttle  time.Duration `yaml:"throttle"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type RouteConfig struct {
	DefaultProfile string `yaml:"default_profile"`
	FitPadding     int    `yaml:"fit_padding"`
}

type LayersConfig struct {
	ReadyAttempts  int           `yaml:"ready_attempts"`
	ReadyBaseDelay time.Duration `yaml:"ready_base_delay"`
	SlowInterval   time.Duration `yaml:"slow_interval"`
	Exaggeration   float64       `yaml:"exaggeration"`
}

type POIConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Limit    int           `yaml:"limit"`
	Import   string        `yaml:"import"` // optional .osm or .osm.pbf file loaded at startup
}

type LocationConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	Zoom    float64       `yaml:"zoom"`
}

// Default returns a Config with every default applied.
func Default() Config {
	var c Config
	c.Location.Enabled = true
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8787"
	}
	if c.Mapbox.StyleURL == "" {
		c.Mapbox.StyleURL = "mapbox://styles/mapbox/outdoors-v12"
	}
	if c.Mapbox.DirectionsURL == "" {
		c.Mapbox.DirectionsURL = "https://api.mapbox.com"
	}
	if c.Mapbox.Timeout == 0 {
		c.Mapbox.Timeout = 15 * time.Second
	}
	if c.Geocode.Server == "" {
		c.Geocode.Server = "https://nominatim.openstreetmap.org"
	}
	if c.Geocode.Retries == 0 {
		c.Geocode.Retries = 1
	}
	if c.Geocode.Throttle == 0 {
		c.Geocode.Throttle = 400 * time.Millisecond
	}
	if c.Geocode.CacheSize == 0 {
		c.Geocode.CacheSize = 512
	}
	if c.Geocode.CacheTTL == 0 {
		c.Geocode.CacheTTL = 24 * time.Hour
	}
	if c.Route.DefaultProfile == "" {
		c.Route.DefaultProfile = "driving"
	}
	if c.Route.FitPadding == 0 {
		c.Route.FitPadding = 50
	}
	if c.Layers.ReadyAttempts == 0 {
		c.Layers.ReadyAttempts = 5
	}
	if c.Layers.ReadyBaseDelay == 0 {
		c.Layers.ReadyBaseDelay = 500 * time.Millisecond
	}
	if c.Layers.SlowInterval == 0 {
		c.Layers.SlowInterval = 10 * time.Second
	}
	if c.Layers.Exaggeration == 0 {
		c.Layers.Exaggeration = 1.5
	}
	if c.POI.Debounce == 0 {
		c.POI.Debounce = 500 * time.Millisecond
	}
	if c.POI.Limit == 0 {
		c.POI.Limit = 500
	}
	if c.Location.Timeout == 0 {
		c.Location.Timeout = 10 * time.Second
	}
	if c.Location.Zoom == 0 {
		c.Location.Zoom = 12
	}
}

// Load reads path if it exists; a missing file yields the defaults. Env
// overrides are applied on top of the file.
func Load(path string) (Config, error) {
	cfg := Config{Location: LocationConfig{Enabled: true}}
	if path != "" && fileExists(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("WAYPLAN_LISTEN", &c.Listen)
	str("WAYPLAN_MAPBOX_TOKEN", &c.Mapbox.AccessToken)
	if c.Mapbox.AccessToken == "" {
		str("MAPBOX_ACCESS_TOKEN", &c.Mapbox.AccessToken)
	}
	str("WAYPLAN_STYLE_URL", &c.Mapbox.StyleURL)
	str("WAYPLAN_DIRECTIONS_URL", &c.Mapbox.DirectionsURL)
	str("WAYPLAN_NOMINATIM_SERVER", &c.Geocode.Server)
	str("WAYPLAN_POI_IMPORT", &c.POI.Import)

	if v := getenv("WAYPLAN_NOMINATIM_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("WAYPLAN_NOMINATIM_RETRIES: invalid value %q", v)
		}
		c.Geocode.Retries = n
	}
	if v := getenv("WAYPLAN_POI_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WAYPLAN_POI_DEBOUNCE: %w", err)
		}
		c.POI.Debounce = d
	}
	if v := getenv("WAYPLAN_LOCATION"); v != "" {
		c.Location.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := getenv("WAYPLAN_TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	str("WAYPLAN_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("WAYPLAN_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	return nil
}

// Validate rejects settings that cannot work. A missing access token is not
// an error here; the planner reports it when rendering starts.
func (c Config) Validate() error {
	var errs []error
	switch c.Route.DefaultProfile {
	case "driving", "walking", "cycling":
	default:
		errs = append(errs, fmt.Errorf("route.default_profile: unknown profile %q", c.Route.DefaultProfile))
	}
	if c.Geocode.Retries < 0 {
		errs = append(errs, errors.New("geocode.retries must not be negative"))
	}
	if c.Layers.ReadyAttempts < 1 {
		errs = append(errs, errors.New("layers.ready_attempts must be at least 1"))
	}
	if c.Layers.Exaggeration < 0 {
		errs = append(errs, errors.New("layers.exaggeration must not be negative"))
	}
	if c.POI.Debounce < 0 {
		errs = append(errs, errors.New("poi.debounce must not be negative"))
	}
	return errors.Join(errs...)
}
