package poi

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rubiojr/wayplan/pkg/eventloop"
	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/metrics"
	"github.com/rubiojr/wayplan/pkg/notice"
	"github.com/rubiojr/wayplan/pkg/planerr"
	"github.com/rubiojr/wayplan/pkg/tracing"
)

// DefaultDebounce is how long the viewport must stay still before POIs load.
const DefaultDebounce = 500 * time.Millisecond

// Querier answers bounding-box queries.
type Querier interface {
	InBounds(ctx context.Context, b geo.Bounds, limit int) ([]POI, error)
}

// Renderer replaces the displayed POI set.
type Renderer interface {
	ReplacePOIs(pois []POI)
}

// BoundsLoader loads the POIs of the settled viewport. Viewport events are
// debounced with last-call-wins; each fetch carries a generation and only
// the newest one is rendered. All methods run on the loop.
type BoundsLoader struct {
	loop     *eventloop.Loop
	querier  Querier
	renderer Renderer
	notices  *notice.Board
	debounce time.Duration
	limit    int
	metrics  *metrics.Collector
	log      *logger.Logger

	gen     uint64
	stop    func() bool
	cancel  context.CancelFunc
	last    geo.Bounds
	hasLast bool
}

// NewBoundsLoader returns a loader. A non-positive debounce uses
// DefaultDebounce; notices and m may be nil.
func NewBoundsLoader(loop *eventloop.Loop, q Querier, r Renderer, notices *notice.Board, debounce time.Duration, limit int, m *metrics.Collector) *BoundsLoader {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &BoundsLoader{
		loop:     loop,
		querier:  q,
		renderer: r,
		notices:  notices,
		debounce: debounce,
		limit:    limit,
		metrics:  m,
		log:      logger.New("poi-loader"),
	}
}

// OnViewportSettled schedules a fetch for b, replacing any pending one.
func (l *BoundsLoader) OnViewportSettled(b geo.Bounds) {
	if err := geo.ValidateBounds(b); err != nil {
		l.log.Warn("ignoring viewport %v: %v", b, err)
		return
	}
	l.gen++
	gen := l.gen
	if l.stop != nil {
		l.stop()
	}
	l.last, l.hasLast = b, true
	l.stop = l.loop.After(l.debounce, func() {
		if gen != l.gen {
			return
		}
		l.stop = nil
		l.fetch(gen, b)
	})
}

// Refresh reloads the last viewport right away, e.g. after a POI was added.
func (l *BoundsLoader) Refresh() {
	if !l.hasLast {
		return
	}
	if l.stop != nil {
		l.stop()
		l.stop = nil
	}
	l.gen++
	l.fetch(l.gen, l.last)
}

// Stop cancels the pending timer and any running fetch.
func (l *BoundsLoader) Stop() {
	l.gen++
	if l.stop != nil {
		l.stop()
		l.stop = nil
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Pending reports whether a fetch is scheduled or running.
func (l *BoundsLoader) Pending() bool { return l.stop != nil || l.cancel != nil }

func (l *BoundsLoader) fetch(gen uint64, b geo.Bounds) {
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	limit := l.limit

	eventloop.Go(l.loop, func() ([]POI, error) {
		ctx, span := tracing.Start(ctx, "poi.in_bounds",
			attribute.Float64Slice("bounds", []float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}),
			attribute.Int64("generation", int64(gen)),
		)
		pois, err := l.querier.InBounds(ctx, b, limit)
		tracing.End(span, err)
		return pois, err
	}, func(pois []POI, err error) {
		cancel()
		if gen != l.gen {
			l.metrics.ObservePOIFetch(metrics.OutcomeDiscarded)
			l.metrics.Stale("poi")
			l.log.Debug("%v", planerr.Discarded("poi", gen, l.gen))
			return
		}
		l.cancel = nil
		if err != nil {
			l.metrics.ObservePOIFetch(metrics.OutcomeError)
			l.log.Error("load POIs: %v", err)
			if l.notices != nil {
				l.notices.Report("load POIs", planerr.Network("poi", err))
			}
			return
		}
		l.metrics.ObservePOIFetch(metrics.OutcomeOK)
		l.log.Debug("gen=%d: %d POIs in view", gen, len(pois))
		l.renderer.ReplacePOIs(pois)
	})
}
