// Package route turns the ordered waypoint list into a drawn route.
//
// Every request is tagged with a generation. Waypoint edits, profile changes
// and drops advance the generation, so a late provider answer for an older
// list is discarded instead of overwriting the newer route.
package route

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rubiojr/wayplan/pkg/directions"
	"github.com/rubiojr/wayplan/pkg/eventloop"
	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/metrics"
	"github.com/rubiojr/wayplan/pkg/notice"
	"github.com/rubiojr/wayplan/pkg/planerr"
	"github.com/rubiojr/wayplan/pkg/tracing"
	"github.com/rubiojr/wayplan/pkg/waypoint"
)

// Route is the applied result of one directions request.
type Route struct {
	Geometry        []geo.Point        `json:"geometry"`
	DistanceMeters  float64            `json:"distanceMeters"`
	DurationSeconds float64            `json:"durationSeconds"`
	Profile         directions.Profile `json:"profile"`
	Instructions    []string           `json:"instructions,omitempty"`
	Generation      uint64             `json:"generation"`
}

// Update is delivered to listeners when a request settles. Exactly one of
// Route and Err is set; Route is nil with a nil Err when the route was
// dropped.
type Update struct {
	Generation uint64
	Route      *Route
	Err        error
}

// WaypointSource publishes waypoint list changes.
type WaypointSource interface {
	Subscribe(fn func(waypoint.Change)) (unsubscribe func())
}

// Service owns the current route. All methods run on the loop.
type Service struct {
	loop     *eventloop.Loop
	provider directions.Provider
	line     *Line
	notices  *notice.Board
	metrics  *metrics.Collector
	log      *logger.Logger

	profile   directions.Profile
	waypoints []geo.Point
	gen       uint64
	current   *Route
	staged    *Route
	cancel    context.CancelFunc
	listeners []func(Update)
}

// NewService wires a route service. notices and m may be nil.
func NewService(loop *eventloop.Loop, p directions.Provider, line *Line, notices *notice.Board, m *metrics.Collector) *Service {
	return &Service{
		loop:     loop,
		provider: p,
		line:     line,
		notices:  notices,
		metrics:  m,
		log:      logger.New("route"),
		profile:  directions.Driving,
	}
}

// Attach subscribes the service to waypoint changes.
func (s *Service) Attach(src WaypointSource) (detach func()) {
	return src.Subscribe(s.OnWaypointsChanged)
}

// OnUpdate registers fn for settled requests.
func (s *Service) OnUpdate(fn func(Update)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Service) emit(u Update) {
	for _, fn := range s.listeners {
		fn(u)
	}
}

// OnWaypointsChanged reacts to an edit of the waypoint list.
func (s *Service) OnWaypointsChanged(ch waypoint.Change) {
	points := make([]geo.Point, len(ch.Waypoints))
	for i, wp := range ch.Waypoints {
		points[i] = wp.Point
	}
	s.waypoints = points
	if len(points) < 2 {
		s.Drop()
		return
	}
	if r := s.staged; r != nil {
		s.staged = nil
		s.Restore(*r)
		return
	}
	s.RequestRoute(points, s.profile)
}

// Profile returns the active travel profile.
func (s *Service) Profile() directions.Profile { return s.profile }

// SetProfile switches the travel profile, re-requesting when a route is
// possible.
func (s *Service) SetProfile(p directions.Profile) {
	if p == s.profile {
		return
	}
	s.profile = p
	if len(s.waypoints) >= 2 {
		s.RequestRoute(s.waypoints, p)
	}
}

// RestoreWith runs edit, which replaces the waypoint list, and installs r for
// the resulting change instead of asking the provider.
func (s *Service) RestoreWith(r Route, edit func() error) error {
	s.staged = &r
	defer func() { s.staged = nil }()
	return edit()
}

// Recalculate re-requests the route for the known waypoints.
func (s *Service) Recalculate() {
	if len(s.waypoints) < 2 {
		return
	}
	s.RequestRoute(s.waypoints, s.profile)
}

// Drop forgets the current route, empties the drawn line and invalidates
// every in-flight request.
func (s *Service) Drop() {
	s.gen++
	s.cancelInflight()
	hadRoute := s.current != nil
	s.current = nil
	if err := s.line.Clear(); err != nil {
		s.log.Warn("clear route line: %v", err)
	}
	if hadRoute {
		s.emit(Update{Generation: s.gen})
	}
}

func (s *Service) cancelInflight() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// RequestRoute asks the provider for points under profile and returns the
// generation of the request. The result is applied on the loop only if no
// newer request or drop happened in between.
func (s *Service) RequestRoute(points []geo.Point, profile directions.Profile) uint64 {
	s.gen++
	gen := s.gen
	s.cancelInflight()

	req := directions.Request{Waypoints: append([]geo.Point(nil), points...), Profile: profile}
	if len(req.Waypoints) > directions.MaxWaypoints {
		err := planerr.Validation("directions", "maximum 25 waypoints allowed")
		s.fail(gen, err)
		return gen
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	started := time.Now()
	s.log.Debug("request gen=%d waypoints=%d profile=%s", gen, len(points), profile)

	eventloop.Go(s.loop, func() (directions.Result, error) {
		ctx, span := tracing.Start(ctx, "directions",
			attribute.String("profile", string(profile)),
			attribute.Int("waypoints", len(req.Waypoints)),
			attribute.Int64("generation", int64(gen)),
		)
		res, err := s.provider.Directions(ctx, req)
		tracing.End(span, err)
		return res, err
	}, func(res directions.Result, err error) {
		cancel()
		if gen != s.gen {
			s.metrics.ObserveDirections(string(profile), metrics.OutcomeDiscarded, 0)
			s.metrics.Stale("route")
			s.log.Debug("%v", planerr.Discarded("directions", gen, s.gen))
			return
		}
		s.cancel = nil
		if err != nil {
			s.metrics.ObserveDirections(string(profile), metrics.OutcomeError, time.Since(started))
			s.fail(gen, err)
			return
		}
		s.metrics.ObserveDirections(string(profile), metrics.OutcomeOK, time.Since(started))
		s.apply(gen, profile, res)
	})
	return gen
}

func (s *Service) fail(gen uint64, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if !errors.Is(err, planerr.ErrConfiguration) && !errors.Is(err, planerr.ErrValidation) && !errors.Is(err, planerr.ErrNetwork) {
		err = planerr.Network("directions", err)
	}
	s.log.Error("gen=%d: %v", gen, err)
	if s.notices != nil {
		s.notices.Report("route", err)
	}
	s.emit(Update{Generation: gen, Err: err})
}

func (s *Service) apply(gen uint64, profile directions.Profile, res directions.Result) {
	r := &Route{
		Geometry:        res.Geometry,
		DistanceMeters:  res.DistanceMeters,
		DurationSeconds: res.DurationSeconds,
		Profile:         profile,
		Instructions:    res.Instructions,
		Generation:      gen,
	}
	s.current = r
	if err := s.line.Show(r.Geometry); err != nil {
		s.log.Error("draw route line: %v", err)
	}
	s.line.Fit()
	s.log.Info("route %s, %s (%s)", FormatDistance(r.DistanceMeters), FormatDuration(r.DurationSeconds), profile)
	s.emit(Update{Generation: gen, Route: r})
}

// Restore installs a previously computed route, e.g. from a saved record,
// without calling the provider.
func (s *Service) Restore(r Route) {
	s.gen++
	s.cancelInflight()
	r.Generation = s.gen
	r.Geometry = append([]geo.Point(nil), r.Geometry...)
	s.current = &r
	s.profile = r.Profile
	if err := s.line.Show(r.Geometry); err != nil {
		s.log.Error("draw route line: %v", err)
	}
	s.line.Fit()
	s.emit(Update{Generation: s.gen, Route: &r})
}

// Current returns the applied route, nil when there is none.
func (s *Service) Current() *Route {
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Generation is the generation of the newest request or drop.
func (s *Service) Generation() uint64 { return s.gen }

// Pending reports whether a request for the current generation is running.
func (s *Service) Pending() bool { return s.cancel != nil }

// Line exposes the presenter.
func (s *Service) Line() *Line { return s.line }
