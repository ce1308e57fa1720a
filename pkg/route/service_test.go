package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/rubiojr/wayplan/pkg/directions"
	"github.com/rubiojr/wayplan/pkg/eventloop"
	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/mapsurface"
	"github.com/rubiojr/wayplan/pkg/notice"
	"github.com/rubiojr/wayplan/pkg/planerr"
	"github.com/rubiojr/wayplan/pkg/waypoint"
)

type reply struct {
	res directions.Result
	err error
}

type call struct {
	req   directions.Request
	reply chan reply
}

// fakeProvider hands every request to the test, which answers it whenever it
// likes and in any order.
type fakeProvider struct {
	calls chan call
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: make(chan call, 16)}
}

func (f *fakeProvider) Directions(ctx context.Context, req directions.Request) (directions.Result, error) {
	c := call{req: req, reply: make(chan reply, 1)}
	f.calls <- c
	r := <-c.reply
	return r.res, r.err
}

func (f *fakeProvider) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("no directions request issued")
	}
	return call{}
}

func (f *fakeProvider) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected directions request: %+v", c.req)
	case <-time.After(30 * time.Millisecond):
	}
}

func line(points ...geo.Point) directions.Result {
	return directions.Result{Geometry: points, DistanceMeters: geo.PathLength(points), DurationSeconds: 600}
}

type fixture struct {
	loop     *eventloop.Loop
	surface  *mapsurface.Memory
	provider *fakeProvider
	notices  *notice.Board
	svc      *Service
	store    *waypoint.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	f := &fixture{loop: l, provider: newFakeProvider(), notices: notice.NewBoard(10)}
	f.on(t, func() {
		f.surface = mapsurface.NewMemory("style-a", l.Post)
		f.surface.FinishLoading()
		f.svc = NewService(l, f.provider, NewLine(f.surface, f.surface, 40), f.notices, nil)
		f.store = waypoint.NewStore()
		f.svc.Attach(f.store)
	})
	return f
}

func (f *fixture) on(t *testing.T, fn func()) {
	t.Helper()
	if err := f.loop.Call(context.Background(), fn); err != nil {
		t.Fatalf("loop call: %v", err)
	}
}

func (f *fixture) eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		var ok bool
		f.on(t, func() { ok = cond() })
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (f *fixture) add(t *testing.T, p geo.Point) {
	t.Helper()
	var err error
	f.on(t, func() { _, err = f.store.Add(p, waypoint.TypeWaypoint, "") })
	if err != nil {
		t.Fatal(err)
	}
}

var (
	a = geo.Pt(9.18, 48.77)
	b = geo.Pt(9.20, 48.80)
	c = geo.Pt(9.22, 48.81)
)

func TestSingleWaypointDoesNotRequest(t *testing.T) {
	f := newFixture(t)
	f.add(t, a)
	f.provider.none(t)
}

func TestRouteAppliedAndDrawn(t *testing.T) {
	f := newFixture(t)
	f.add(t, a)
	f.add(t, b)

	req := f.provider.next(t)
	if len(req.req.Waypoints) != 2 || req.req.Profile != directions.Driving {
		t.Fatalf("request = %+v", req.req)
	}
	req.reply <- reply{res: line(a, b)}

	f.eventually(t, func() bool { return f.svc.Current() != nil })
	f.on(t, func() {
		r := f.svc.Current()
		if r.DistanceMeters <= 0 || len(r.Geometry) != 2 {
			t.Errorf("route = %+v", r)
		}
		if !f.surface.HasLayer(LayerID) {
			t.Error("route layer not registered")
		}
		data, _ := f.surface.SourceData(SourceID)
		if data == nil {
			t.Error("route source has no data")
			return
		}
		if ls, ok := data.Geometry.(orb.LineString); !ok || len(ls) != 2 {
			t.Errorf("route source geometry = %v", data.Geometry)
		}
		if f.surface.Snapshot().Fitted == nil {
			t.Error("camera not fitted to the route")
		}
	})
}

func TestStaleResultIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.add(t, a)
	f.add(t, b)
	first := f.provider.next(t)

	f.add(t, c)
	second := f.provider.next(t)

	second.reply <- reply{res: line(a, b, c)}
	f.eventually(t, func() bool { return f.svc.Current() != nil })

	first.reply <- reply{res: line(a, b)}
	// Let the stale completion reach the loop.
	time.Sleep(20 * time.Millisecond)
	f.on(t, func() {
		r := f.svc.Current()
		if len(r.Geometry) != 3 {
			t.Errorf("stale route applied: %d points", len(r.Geometry))
		}
		if got := f.svc.Line().Cached(); len(got) != 3 {
			t.Errorf("route line shows %d points, want 3", len(got))
		}
	})
}

func TestFailureKeepsPreviousRoute(t *testing.T) {
	f := newFixture(t)
	f.add(t, a)
	f.add(t, b)
	f.provider.next(t).reply <- reply{res: line(a, b)}
	f.eventually(t, func() bool { return f.svc.Current() != nil })

	f.add(t, c)
	f.provider.next(t).reply <- reply{err: planerr.Network("directions", errors.New("connection reset"))}

	f.eventually(t, func() bool { return len(f.notices.List()) == 1 })
	f.on(t, func() {
		if r := f.svc.Current(); r == nil || len(r.Geometry) != 2 {
			t.Errorf("previous route replaced after failure: %+v", r)
		}
	})
	f.provider.none(t)
}

func TestDropBelowTwoWaypoints(t *testing.T) {
	f := newFixture(t)
	f.add(t, a)
	f.add(t, b)
	f.provider.next(t).reply <- reply{res: line(a, b)}
	f.eventually(t, func() bool { return f.svc.Current() != nil })

	f.on(t, func() {
		wps := f.store.List()
		if err := f.store.Remove(wps[1].ID); err != nil {
			t.Error(err)
			return
		}
		if f.svc.Current() != nil {
			t.Error("route kept with one waypoint")
		}
		if f.svc.Line().Cached() != nil {
			t.Error("route line still cached")
		}
	})
}

func TestProfileSwitchRerequests(t *testing.T) {
	f := newFixture(t)
	f.add(t, a)
	f.add(t, b)
	f.provider.next(t).reply <- reply{res: line(a, b)}
	f.eventually(t, func() bool { return f.svc.Current() != nil })

	f.on(t, func() { f.svc.SetProfile(directions.Cycling) })
	req := f.provider.next(t)
	if req.req.Profile != directions.Cycling || len(req.req.Waypoints) != 2 {
		t.Errorf("re-request = %+v", req.req)
	}
	req.reply <- reply{res: line(a, c, b)}
	f.eventually(t, func() bool {
		r := f.svc.Current()
		return r != nil && r.Profile == directions.Cycling
	})

	f.on(t, func() { f.svc.SetProfile(directions.Cycling) })
	f.provider.none(t)
}

func TestTooManyWaypoints(t *testing.T) {
	f := newFixture(t)
	f.on(t, func() {
		points := make([]geo.Point, directions.MaxWaypoints+1)
		for i := range points {
			points[i] = geo.Pt(9+float64(i)*0.01, 48)
		}
		f.svc.RequestRoute(points, directions.Driving)
	})
	f.provider.none(t)
	notices := f.notices.List()
	if len(notices) != 1 || notices[0].Message != "maximum 25 waypoints allowed" {
		t.Errorf("notices = %+v", notices)
	}
}

func TestLineSurvivesStyleSwap(t *testing.T) {
	f := newFixture(t)
	f.on(t, func() {
		l := f.svc.Line()
		if err := l.Show([]geo.Point{a, b}); err != nil {
			t.Error(err)
		}
		if err := f.surface.SetStyle("style-b"); err != nil {
			t.Error(err)
		}
		if f.surface.HasLayer(LayerID) {
			t.Error("style swap kept route layer")
		}
	})
	f.eventually(t, func() bool { return f.surface.Loaded() })
	f.on(t, func() {
		ok, err := f.svc.Line().Reattach()
		if !ok || err != nil {
			t.Errorf("Reattach = %v, %v", ok, err)
		}
		data, _ := f.surface.SourceData(SourceID)
		if data == nil || !f.surface.HasLayer(LayerID) {
			t.Error("route line not re-registered")
		}
	})
}

func TestRestoreWithSkipsProvider(t *testing.T) {
	f := newFixture(t)
	stored := Route{Geometry: []geo.Point{a, c, b}, DistanceMeters: 4200, DurationSeconds: 900, Profile: directions.Walking}

	var err error
	f.on(t, func() {
		err = f.svc.RestoreWith(stored, func() error {
			return f.store.Replace([]geo.Point{a, b}, []string{"Home", "Hut"})
		})
	})
	if err != nil {
		t.Fatalf("RestoreWith: %v", err)
	}
	f.provider.none(t)
	f.on(t, func() {
		r := f.svc.Current()
		if r == nil || r.DistanceMeters != 4200 || r.Profile != directions.Walking || len(r.Geometry) != 3 {
			t.Errorf("current = %+v", r)
		}
		if f.svc.Profile() != directions.Walking {
			t.Errorf("profile = %s, want walking", f.svc.Profile())
		}
	})

	// Later edits request as usual.
	f.add(t, c)
	f.provider.next(t).reply <- reply{res: line(a, b, c)}
	f.eventually(t, func() bool { r := f.svc.Current(); return r != nil && r.DistanceMeters != 4200 })
}

func TestRestoreWithFailedEditLeavesNothingStaged(t *testing.T) {
	f := newFixture(t)
	var err error
	f.on(t, func() {
		err = f.svc.RestoreWith(Route{Geometry: []geo.Point{a, b}}, func() error {
			return errors.New("bad list")
		})
	})
	if err == nil {
		t.Fatal("edit error not returned")
	}
	f.add(t, a)
	f.add(t, b)
	f.provider.next(t).reply <- reply{res: line(a, b)}
	f.eventually(t, func() bool { return f.svc.Current() != nil })
}
