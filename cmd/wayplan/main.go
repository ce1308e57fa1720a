package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rubiojr/wayplan/pkg/api"
	"github.com/rubiojr/wayplan/pkg/config"
	"github.com/rubiojr/wayplan/pkg/directions"
	"github.com/rubiojr/wayplan/pkg/eventloop"
	"github.com/rubiojr/wayplan/pkg/geocode"
	"github.com/rubiojr/wayplan/pkg/layers"
	"github.com/rubiojr/wayplan/pkg/locate"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/mapsurface"
	"github.com/rubiojr/wayplan/pkg/metrics"
	"github.com/rubiojr/wayplan/pkg/planerr"
	"github.com/rubiojr/wayplan/pkg/planner"
	"github.com/rubiojr/wayplan/pkg/poi"
	"github.com/rubiojr/wayplan/pkg/routestore"
	"github.com/rubiojr/wayplan/pkg/tracing"
)

//go:embed config.example.yaml
var embeddedConfig []byte

const desktopID = "io.github.rubiojr.wayplan.desktop"

func main() {
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	dataDirFlag := flag.String("data-dir", "", "custom data directory (overrides XDG_DATA_HOME)")
	configDirFlag := flag.String("config-dir", "", "custom config directory (overrides XDG_CONFIG_HOME)")
	cacheDirFlag := flag.String("cache-dir", "", "custom cache directory (overrides XDG_CACHE_HOME)")
	importFlag := flag.String("import", "", "import POIs from an .osm or .osm.pbf file before serving")
	flag.Parse()

	logger.SetDebug(*debugFlag)

	dirs, err := config.ResolveDirs(*configDirFlag, *dataDirFlag, *cacheDirFlag)
	if err != nil {
		logger.Fatal("Failed to create directories: %v", err)
	}
	logger.Debug("config dir: %s, data dir: %s, cache dir: %s", dirs.Config, dirs.Data, dirs.Cache)

	copyEmbeddedConfig(dirs.ConfigFile())

	cfg, err := config.Load(dirs.ConfigFile())
	if err != nil {
		logger.Fatal("%v", err)
	}
	if *importFlag != "" {
		cfg.POI.Import = *importFlag
	}

	if err := run(cfg, dirs); err != nil {
		logger.Fatal("%v", err)
	}
}

// copyEmbeddedConfig writes the commented example settings on first start.
func copyEmbeddedConfig(dest string) {
	if _, err := os.Stat(dest); err == nil {
		return
	}
	if err := os.WriteFile(dest, embeddedConfig, 0o600); err != nil {
		logger.Warn("Failed to write default config to %s: %v", dest, err)
		return
	}
	logger.Info("Wrote default config to %s", dest)
}

func run(cfg config.Config, dirs config.Dirs) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.ShutdownWithTimeout(context.Background(), shutdownTracing)

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	cache, err := geocode.OpenCache(dirs.Database("geocode.db"), cfg.Geocode.CacheSize, cfg.Geocode.CacheTTL)
	if err != nil {
		return fmt.Errorf("open geocode cache: %w", err)
	}
	defer cache.Close()

	pois, err := poi.Open(dirs.Database("pois.db"))
	if err != nil {
		return fmt.Errorf("open POI store: %w", err)
	}
	defer pois.Close()

	if cfg.POI.Import != "" {
		stats, err := poi.ImportFile(ctx, pois, cfg.POI.Import)
		if err != nil {
			logger.Error("POI import from %s failed: %v", cfg.POI.Import, err)
		} else {
			logger.Info("Imported %d POIs from %s (%d nodes scanned, %d matched) in %s",
				stats.Inserted, cfg.POI.Import, stats.Scanned, stats.Matched, stats.Took.Round(time.Millisecond))
		}
	}

	routes, err := routestore.Open(dirs.Database("routes.db"))
	if err != nil {
		return fmt.Errorf("open route store: %w", err)
	}
	defer routes.Close()

	var locator locate.Locator = locate.None{}
	if cfg.Location.Enabled {
		if err := locate.EnsureDesktopFile(config.ApplicationsDir(), desktopID); err != nil {
			logger.Warn("Failed to write desktop file for GeoClue: %v", err)
		}
		gc := locate.NewGeoClue(desktopID)
		gc.Start(ctx)
		defer gc.Stop()
		locator = gc
	}

	profile, err := directions.ParseProfile(cfg.Route.DefaultProfile)
	if err != nil {
		return fmt.Errorf("route.default_profile: %w", err)
	}

	loop := eventloop.New()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer func() {
		stopLoop()
		<-loop.Done()
	}()
	go loop.Run(loopCtx)

	surface := mapsurface.NewMemory(cfg.Mapbox.StyleURL, loop.Post)
	geocoder := geocode.NewGateway(
		geocode.NewNominatim(cfg.Geocode.Server, cfg.Geocode.Retries, cfg.Geocode.Throttle),
		cache, m)

	var (
		p         *planner.Planner
		configErr error
	)
	err = loop.Call(ctx, func() {
		p, configErr = planner.New(loop, planner.Options{
			AccessToken:    cfg.Mapbox.AccessToken,
			DefaultProfile: profile,
			FitPadding:     cfg.Route.FitPadding,
			Layers: layers.Options{
				ReadyAttempts:  cfg.Layers.ReadyAttempts,
				ReadyBaseDelay: cfg.Layers.ReadyBaseDelay,
				SlowInterval:   cfg.Layers.SlowInterval,
				Exaggeration:   cfg.Layers.Exaggeration,
			},
			POIDebounce:     cfg.POI.Debounce,
			POILimit:        cfg.POI.Limit,
			LocationTimeout: cfg.Location.Timeout,
			LocationZoom:    cfg.Location.Zoom,
		}, planner.Deps{
			Surface:    surface,
			Directions: directions.NewMapbox(cfg.Mapbox.DirectionsURL, cfg.Mapbox.AccessToken, cfg.Mapbox.Timeout),
			Geocoder:   geocoder,
			POIs:       pois,
			Routes:     routes,
			Locator:    locator,
			Metrics:    m,
		})
		if configErr != nil {
			return
		}
		ready := p.Start()
		go func() {
			if err := ready.Wait(ctx); err != nil {
				logger.Warn("Map layers not ready: %v", err)
				return
			}
			logger.Info("Map layers ready")
		}()
	})
	if err != nil {
		return err
	}
	if configErr != nil {
		if !errors.Is(configErr, planerr.ErrConfiguration) {
			return configErr
		}
		// Keep serving so the client can show how to fix the setup.
		logger.Error("%s", planerr.Message(configErr))
		p = nil
	}

	srv := api.New(loop, p, surface, m, configErr).NewHTTPServer(cfg.Listen)
	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening on http://%s", cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}
	if err := api.Shutdown(srv, 10*time.Second); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}

	if p != nil {
		if err := loop.Call(context.Background(), p.Close); err != nil {
			logger.Debug("planner close: %v", err)
		}
	}
	return nil
}
