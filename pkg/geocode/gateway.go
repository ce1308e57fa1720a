// Package geocode resolves free-text places to coordinates.
//
// Callers that issue repeated lookups (a search box, a start field) hold a
// CancelSource. A new lookup on the same source cancels the previous one and
// the cancelled call returns planerr.ErrAborted, which callers must not show
// to the user.
package geocode

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/metrics"
	"github.com/rubiojr/wayplan/pkg/planerr"
	"github.com/rubiojr/wayplan/pkg/tracing"
)

// Match is one geocoding hit.
type Match struct {
	Name  string    `json:"name"`
	Point geo.Point `json:"coordinates"`
	Class string    `json:"class,omitempty"`
	Type  string    `json:"type,omitempty"`
}

// Provider performs the actual lookup.
type Provider interface {
	Search(ctx context.Context, text string, limit int) ([]Match, error)
}

// CancelSource allows one in-flight lookup at a time.
type CancelSource struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
}

// begin cancels the previous lookup and derives a context for the next one.
func (s *CancelSource) begin(parent context.Context) (context.Context, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.seq++
	seq := s.seq
	s.cancel = cancel
	return ctx, func() {
		cancel()
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
	}
}

// Cancel aborts the in-flight lookup, if any.
func (s *CancelSource) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

const suggestLimit = 5

// Gateway fronts a Provider with a cache and cancel-source bookkeeping.
type Gateway struct {
	provider Provider
	cache    *Cache
	metrics  *metrics.Collector
	log      *logger.Logger
}

// NewGateway wires a gateway. cache and m may be nil.
func NewGateway(p Provider, cache *Cache, m *metrics.Collector) *Gateway {
	return &Gateway{provider: p, cache: cache, metrics: m, log: logger.New("geocode")}
}

// Geocode resolves text to the coordinates of its best match. src may be nil
// for a one-off lookup.
func (g *Gateway) Geocode(ctx context.Context, src *CancelSource, text string) (geo.Point, error) {
	matches, err := g.Suggest(ctx, src, text, suggestLimit)
	if err != nil {
		return geo.Point{}, err
	}
	return matches[0].Point, nil
}

// Suggest returns up to limit matches for text. An empty result is
// planerr.ErrNotFound.
func (g *Gateway) Suggest(ctx context.Context, src *CancelSource, text string, limit int) ([]Match, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, planerr.Validation("geocode", "enter a place to search for")
	}
	if limit <= 0 {
		limit = suggestLimit
	}
	fetch := max(limit, suggestLimit)

	// Every call supersedes the previous one on src, cache hits included.
	if src != nil {
		var done func()
		ctx, done = src.begin(ctx)
		defer done()
	}

	if cached, ok := g.cache.Get(text, fetch); ok && len(cached) > 0 {
		g.metrics.ObserveGeocode(metrics.OutcomeCached)
		return truncate(cached, limit), nil
	}

	ctx, span := tracing.Start(ctx, "geocode.search", attribute.String("query", text))
	matches, err := g.provider.Search(ctx, text, fetch)

	// A superseded or cancelled lookup is aborted even if the provider
	// managed to answer.
	if ctx.Err() != nil {
		err = planerr.Aborted("geocode", ctx.Err())
		tracing.End(span, nil)
		g.metrics.ObserveGeocode(metrics.OutcomeAborted)
		g.log.Debug("lookup %q aborted", text)
		return nil, err
	}
	tracing.End(span, err)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			g.metrics.ObserveGeocode(metrics.OutcomeAborted)
			return nil, planerr.Aborted("geocode", err)
		}
		g.metrics.ObserveGeocode(metrics.OutcomeError)
		g.log.Error("lookup %q failed: %v", text, err)
		return nil, planerr.Network("geocode", err)
	}
	if len(matches) == 0 {
		g.metrics.ObserveGeocode(metrics.OutcomeNotFound)
		return nil, planerr.NotFound("geocode", text)
	}

	g.cache.Put(text, fetch, matches)
	g.metrics.ObserveGeocode(metrics.OutcomeOK)
	return truncate(matches, limit), nil
}

func truncate(m []Match, limit int) []Match {
	if len(m) > limit {
		m = m[:limit]
	}
	out := make([]Match, len(m))
	copy(out, m)
	return out
}
