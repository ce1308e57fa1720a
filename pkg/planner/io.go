package planner

import (
	"context"
	"errors"
	"strings"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/geocode"
	"github.com/rubiojr/wayplan/pkg/planerr"
	"github.com/rubiojr/wayplan/pkg/poi"
	"github.com/rubiojr/wayplan/pkg/route"
	"github.com/rubiojr/wayplan/pkg/routestore"
	"github.com/rubiojr/wayplan/pkg/waypoint"
)

// The operations in this file block on network or disk. They must be called
// off the loop and marshal their state changes onto it with Loop.Call.

// report shows err to the user when it is worth showing and returns it.
func (p *Planner) report(action string, err error) error {
	if errors.Is(err, planerr.ErrNotFound) {
		p.notices.Push(action, planerr.Message(err))
		return err
	}
	p.notices.Report(action, err)
	return err
}

// GeocodeEndpoints resolves the typed start and end fields and replaces the
// waypoint list with the two results. Each field has its own cancel source,
// so a newer call aborts the previous one; an aborted call changes nothing.
func (p *Planner) GeocodeEndpoints(ctx context.Context, start, end string) ([]waypoint.Waypoint, error) {
	if p.geocoder == nil {
		return nil, p.report("route", planerr.Configuration("geocode", errors.New("no geocoding provider configured")))
	}
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		return nil, planerr.Validation("route", "enter both a start and an end")
	}
	seq := p.endpointSeq.Add(1)

	from, err := p.geocoder.Geocode(ctx, &p.startSrc, start)
	if err != nil {
		return nil, p.report("resolve start", err)
	}
	to, err := p.geocoder.Geocode(ctx, &p.endSrc, end)
	if err != nil {
		return nil, p.report("resolve end", err)
	}

	var (
		out      []waypoint.Waypoint
		applyErr error
	)
	if err := p.loop.Call(ctx, func() {
		if cur := p.endpointSeq.Load(); cur != seq {
			applyErr = planerr.Aborted("geocode", planerr.Discarded("endpoints", seq, cur))
			return
		}
		if applyErr = p.store.Replace([]geo.Point{from, to}, []string{start, end}); applyErr == nil {
			out = p.store.List()
		}
	}); err != nil {
		return nil, err
	}
	return out, applyErr
}

// Suggest returns place suggestions for a search box. A newer call aborts the
// previous one.
func (p *Planner) Suggest(ctx context.Context, text string, limit int) ([]geocode.Match, error) {
	if p.geocoder == nil {
		return nil, planerr.Configuration("geocode", errors.New("no geocoding provider configured"))
	}
	return p.geocoder.Suggest(ctx, &p.suggestSrc, text, limit)
}

// SaveRequest is the user-editable part of a saved route.
type SaveRequest struct {
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	Public      bool   `json:"public"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// SaveRoute persists the current waypoints and route under req.
func (p *Planner) SaveRoute(ctx context.Context, req SaveRequest) (routestore.Record, error) {
	if p.saved == nil {
		return routestore.Record{}, planerr.Configuration("save route", errors.New("no route store configured"))
	}
	diff, err := routestore.ParseDifficulty(req.Difficulty)
	if err != nil {
		return routestore.Record{}, planerr.Validation("save route", err.Error())
	}

	var (
		rec     routestore.Record
		snapErr error
	)
	if err := p.loop.Call(ctx, func() {
		cur := p.routes.Current()
		if cur == nil {
			snapErr = planerr.Validation("save route", "calculate a route before saving")
			return
		}
		rec = routestore.Record{
			UserID:          req.UserID,
			Name:            req.Name,
			Description:     req.Description,
			Difficulty:      diff,
			Public:          req.Public,
			PhotoURL:        req.PhotoURL,
			Notes:           req.Notes,
			Profile:         cur.Profile,
			Geometry:        cur.Geometry,
			DistanceMeters:  cur.DistanceMeters,
			DurationSeconds: cur.DurationSeconds,
		}
		for _, wp := range p.store.List() {
			rec.Waypoints = append(rec.Waypoints, routestore.Waypoint{Point: wp.Point, Label: wp.Label, Name: wp.Name})
		}
	}); err != nil {
		return routestore.Record{}, err
	}
	if snapErr != nil {
		return routestore.Record{}, snapErr
	}

	saved, err := p.saved.Save(ctx, rec)
	if err != nil {
		return routestore.Record{}, err
	}
	p.log.Info("saved route %d %q for %s", saved.ID, saved.Name, saved.UserID)
	return saved, nil
}

// LoadRoute restores a saved route: its waypoints replace the list and its
// stored geometry is drawn without asking the directions provider. A record
// without geometry is recalculated under its profile.
func (p *Planner) LoadRoute(ctx context.Context, userID string, id int64) (routestore.Record, error) {
	if p.saved == nil {
		return routestore.Record{}, planerr.Configuration("load route", errors.New("no route store configured"))
	}
	rec, err := p.saved.Get(ctx, userID, id)
	if err != nil {
		return routestore.Record{}, err
	}
	var applyErr error
	if err := p.loop.Call(ctx, func() { applyErr = p.restore(rec) }); err != nil {
		return routestore.Record{}, err
	}
	return rec, applyErr
}

func (p *Planner) restore(rec routestore.Record) error {
	p.endpointSeq.Add(1)
	points := make([]geo.Point, len(rec.Waypoints))
	names := make([]string, len(rec.Waypoints))
	for i, wp := range rec.Waypoints {
		points[i] = wp.Point
		names[i] = wp.Name
	}
	if len(rec.Geometry) < 2 {
		if err := p.store.Replace(points, names); err != nil {
			return planerr.Validation("load route", err.Error())
		}
		p.routes.SetProfile(rec.Profile)
		return nil
	}
	saved := route.Route{
		Geometry:        rec.Geometry,
		DistanceMeters:  rec.DistanceMeters,
		DurationSeconds: rec.DurationSeconds,
		Profile:         rec.Profile,
	}
	if err := p.routes.RestoreWith(saved, func() error { return p.store.Replace(points, names) }); err != nil {
		return planerr.Validation("load route", err.Error())
	}
	p.log.Info("loaded route %d %q (%d waypoints)", rec.ID, rec.Name, len(rec.Waypoints))
	return nil
}

// CreatePOI stores the POI completed in the editor and reloads the visible
// POI markers.
func (p *Planner) CreatePOI(ctx context.Context, in poi.POI) (poi.POI, error) {
	if p.poiStore == nil {
		return poi.POI{}, planerr.Configuration("poi", errors.New("no POI store configured"))
	}
	created, err := p.poiStore.Add(ctx, in)
	if err != nil {
		return poi.POI{}, err
	}
	p.loop.Post(func() {
		p.pendingPOI = nil
		if p.loader != nil {
			p.loader.Refresh()
		}
	})
	return created, nil
}

// DeletePOI removes a POI and reloads the visible POI markers.
func (p *Planner) DeletePOI(ctx context.Context, id int64) error {
	if p.poiStore == nil {
		return planerr.Configuration("poi", errors.New("no POI store configured"))
	}
	if err := p.poiStore.Delete(ctx, id); err != nil {
		return err
	}
	p.loop.Post(func() {
		if p.loader != nil {
			p.loader.Refresh()
		}
	})
	return nil
}
