// Package metrics bundles the Prometheus collectors of the planning engine.
//
// Every recording method is safe to call on a nil *Collector so components
// can run without metrics wired.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the request counters.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDiscarded = "discarded"
	OutcomeAborted   = "aborted"
	OutcomeNotFound  = "not_found"
	OutcomeCached    = "cached"
)

// Collector holds the engine metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	DirectionsRequests *prometheus.CounterVec
	DirectionsDuration *prometheus.HistogramVec
	GeocodeRequests    *prometheus.CounterVec
	POIFetches         *prometheus.CounterVec
	StaleResults       *prometheus.CounterVec
	LayerInits         prometheus.Counter
	LayerTimeouts      prometheus.Counter
	StyleReloads       prometheus.Counter
	Waypoints          prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
}

// New registers the collectors against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.DirectionsRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wayplan_directions_requests_total",
		Help: "Directions requests by travel profile and outcome.",
	}, []string{"profile", "outcome"})); err != nil {
		return nil, err
	}
	if c.DirectionsDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wayplan_directions_duration_seconds",
		Help:    "Directions provider latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"profile"})); err != nil {
		return nil, err
	}
	if c.GeocodeRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wayplan_geocode_requests_total",
		Help: "Geocoding lookups by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.POIFetches, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wayplan_poi_fetches_total",
		Help: "Viewport POI fetches by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.StaleResults, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wayplan_stale_results_total",
		Help: "Asynchronous results discarded because newer state superseded them.",
	}, []string{"component"})); err != nil {
		return nil, err
	}
	if c.LayerInits, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wayplan_layer_initializations_total",
		Help: "Completed custom layer initializations, one per style load.",
	})); err != nil {
		return nil, err
	}
	if c.LayerTimeouts, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wayplan_layer_init_timeouts_total",
		Help: "Times the map did not report ready within the bounded attempts.",
	})); err != nil {
		return nil, err
	}
	if c.StyleReloads, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wayplan_style_reloads_total",
		Help: "Map style loads observed, including the first.",
	})); err != nil {
		return nil, err
	}
	if c.Waypoints, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wayplan_waypoints",
		Help: "Current number of waypoints in the planned route.",
	})); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wayplan_http_requests_total",
		Help: "API requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"})); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveDirections(profile, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.DirectionsRequests.WithLabelValues(profile, outcome).Inc()
	if outcome != OutcomeDiscarded {
		c.DirectionsDuration.WithLabelValues(profile).Observe(took.Seconds())
	}
}

func (c *Collector) ObserveGeocode(outcome string) {
	if c == nil {
		return
	}
	c.GeocodeRequests.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObservePOIFetch(outcome string) {
	if c == nil {
		return
	}
	c.POIFetches.WithLabelValues(outcome).Inc()
}

// Stale counts a result thrown away by component.
func (c *Collector) Stale(component string) {
	if c == nil {
		return
	}
	c.StaleResults.WithLabelValues(component).Inc()
}

func (c *Collector) LayerInitialized() {
	if c == nil {
		return
	}
	c.LayerInits.Inc()
}

func (c *Collector) LayerTimeout() {
	if c == nil {
		return
	}
	c.LayerTimeouts.Inc()
}

func (c *Collector) StyleReloaded() {
	if c == nil {
		return
	}
	c.StyleReloads.Inc()
}

func (c *Collector) SetWaypoints(n int) {
	if c == nil {
		return
	}
	c.Waypoints.Set(float64(n))
}

// Middleware counts API requests by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		if c == nil {
			return
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return nil, err
	}
	return gauge, nil
}
