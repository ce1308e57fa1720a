package geocode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muesli/gominatim"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
)

const DefaultNominatimServer = "https://nominatim.openstreetmap.org"

// gominatim keeps its server in a package global.
var serverMu sync.Mutex

// Nominatim searches an OSM Nominatim server. Requests are spaced at least
// throttle apart and transient decode failures are retried.
type Nominatim struct {
	server   string
	retries  int
	throttle time.Duration

	mu   sync.Mutex
	last time.Time

	search func(q gominatim.SearchQuery) ([]gominatim.SearchResult, error)
	log    *logger.Logger
}

// NewNominatim returns a provider for server. retries is the number of extra
// attempts after a transient error.
func NewNominatim(server string, retries int, throttle time.Duration) *Nominatim {
	if strings.TrimSpace(server) == "" {
		server = DefaultNominatimServer
	}
	if retries < 0 {
		retries = 0
	}
	if retries > 5 {
		retries = 5
	}
	n := &Nominatim{
		server:   server,
		retries:  retries,
		throttle: throttle,
		log:      logger.New("nominatim"),
	}
	n.search = n.get
	return n
}

func (n *Nominatim) get(q gominatim.SearchQuery) ([]gominatim.SearchResult, error) {
	serverMu.Lock()
	gominatim.SetServer(n.server)
	serverMu.Unlock()
	return q.Get()
}

// wait blocks until the throttle interval since the last request has passed.
func (n *Nominatim) wait(ctx context.Context) error {
	n.mu.Lock()
	delta := time.Since(n.last)
	var sleep time.Duration
	if delta < n.throttle {
		sleep = n.throttle - delta
	}
	n.last = time.Now().Add(sleep)
	n.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func transient(err error) bool {
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") || strings.Contains(s, "EOF")
}

// Search implements Provider. gominatim has no context support, so a
// cancelled ctx abandons the in-flight lookup and returns ctx.Err().
func (n *Nominatim) Search(ctx context.Context, text string, limit int) ([]Match, error) {
	if err := n.wait(ctx); err != nil {
		return nil, err
	}

	type result struct {
		res []gominatim.SearchResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		q := gominatim.SearchQuery{Q: text, Limit: limit}
		attempts := n.retries + 1
		var res []gominatim.SearchResult
		var err error
		for attempt := 1; attempt <= attempts; attempt++ {
			res, err = n.search(q)
			if err == nil {
				if attempt > 1 {
					n.log.Info("recovered after %d attempt(s) for %q", attempt, text)
				}
				break
			}
			if !transient(err) || attempt == attempts || ctx.Err() != nil {
				break
			}
			n.log.Warn("transient error (attempt %d/%d, will retry) query=%q err=%v", attempt, attempts, text, err)
			time.Sleep(150 * time.Millisecond)
		}
		done <- result{res, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, fmt.Errorf("nominatim search %q: %w", text, r.err)
	}

	out := make([]Match, 0, len(r.res))
	for _, sr := range r.res {
		lat, err := strconv.ParseFloat(sr.Lat, 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(sr.Lon, 64)
		if err != nil {
			continue
		}
		p := geo.Pt(lon, lat)
		if geo.Validate(p) != nil {
			continue
		}
		out = append(out, Match{
			Name:  sr.DisplayName,
			Point: p,
			Class: sr.Class,
			Type:  sr.Type,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
