package locate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
)

const (
	geoService    = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	propsIface    = "org.freedesktop.DBus.Properties"
)

const (
	maxInitialRetries = 5
	retryBaseDelay    = 2 * time.Second
	slowRetryDelay    = 30 * time.Second

	requestedAccuracy = uint32(5)  // "exact"
	distanceThreshold = uint32(25) // meters between updates
	timeThreshold     = uint32(5)  // seconds between updates
)

// retryDelay grows linearly for the first attempts, then settles on a slow
// fixed cadence.
func retryDelay(attempt int) time.Duration {
	if attempt <= maxInitialRetries {
		return retryBaseDelay * time.Duration(attempt)
	}
	return slowRetryDelay
}

// GeoClue tracks the device position through GeoClue2 on the system bus.
//
// GeoClue only serves clients whose DesktopId matches a .desktop file with
// X-Geoclue-2-Client=true; EnsureDesktopFile writes one. When GeoClue is
// missing or denies access the tracker keeps retrying in the background and
// Current reports no fix.
type GeoClue struct {
	*holder
	desktopID string
	cancel    context.CancelFunc
	done      chan struct{}
	log       *logger.Logger
}

// NewGeoClue returns a stopped tracker for desktopID (e.g. "wayplan.desktop").
func NewGeoClue(desktopID string) *GeoClue {
	return &GeoClue{holder: newHolder(), desktopID: desktopID, log: logger.New("locate")}
}

// Start launches the tracking goroutine.
func (g *GeoClue) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		g.run(ctx)
	}()
}

// Stop ends tracking and waits for the goroutine.
func (g *GeoClue) Stop() {
	if g.cancel == nil {
		return
	}
	g.cancel()
	<-g.done
}

func (g *GeoClue) run(ctx context.Context) {
	var attempt int
	for {
		if ctx.Err() != nil {
			return
		}
		err := g.session(ctx)
		if err == nil {
			return
		}
		attempt++
		delay := retryDelay(attempt)
		g.log.Debug("retrying after error (%v), attempt=%d delay=%s", err, attempt, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one client lifetime; it returns nil only when ctx ended.
func (g *GeoClue) session(ctx context.Context) error {
	cl, err := newClient(g.desktopID)
	if err != nil {
		return err
	}
	defer cl.close()
	if err := cl.start(); err != nil {
		return err
	}
	if path, err := cl.locationPath(); err == nil && path != "" {
		g.read(cl, path)
	}
	return cl.watch(ctx, func(path dbus.ObjectPath) { g.read(cl, path) })
}

func (g *GeoClue) read(cl *client, path dbus.ObjectPath) {
	props, err := cl.locationProps(path)
	if err != nil {
		g.log.Debug("read location %s: %v", path, err)
		return
	}
	if fix, ok := fixFromProps(props, time.Now().UTC()); ok {
		g.set(fix)
	}
}

// fixFromProps converts GeoClue Location properties. A 0,0 reading is
// rejected.
func fixFromProps(props map[string]dbus.Variant, now time.Time) (Fix, bool) {
	f64 := func(key string) float64 {
		if v, ok := props[key]; ok {
			if f, ok := v.Value().(float64); ok {
				return f
			}
		}
		return 0
	}
	lat, lon := f64("Latitude"), f64("Longitude")
	if lat == 0 && lon == 0 {
		return Fix{}, false
	}
	p := geo.Pt(lon, lat)
	if geo.Validate(p) != nil {
		return Fix{}, false
	}
	return Fix{Point: p, Accuracy: f64("Accuracy"), Altitude: f64("Altitude"), Timestamp: now}, true
}

type client struct {
	path dbus.ObjectPath
	bus  *dbus.Conn
}

func newClient(desktopID string) (*client, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	var path dbus.ObjectPath
	call := bus.Object(geoService, managerPath).Call(managerIface+".CreateClient", 0)
	if call.Err != nil {
		return nil, call.Err
	}
	if err := call.Store(&path); err != nil {
		return nil, err
	}
	obj := bus.Object(geoService, path)
	set := func(name string, val any) error {
		return obj.Call(propsIface+".Set", 0, clientIface, name, dbus.MakeVariant(val)).Err
	}
	if err := set("DesktopId", desktopID); err != nil {
		return nil, fmt.Errorf("set DesktopId: %w", err)
	}
	if err := set("RequestedAccuracyLevel", requestedAccuracy); err != nil {
		return nil, fmt.Errorf("set accuracy: %w", err)
	}
	_ = set("DistanceThreshold", distanceThreshold)
	_ = set("TimeThreshold", timeThreshold)
	return &client{path: path, bus: bus}, nil
}

func (c *client) start() error {
	return c.bus.Object(geoService, c.path).Call(clientIface+".Start", 0).Err
}

func (c *client) close() {
	_ = c.bus.Object(geoService, c.path).Call(clientIface+".Stop", 0)
	c.bus.Close()
}

func (c *client) locationPath() (dbus.ObjectPath, error) {
	var v dbus.Variant
	call := c.bus.Object(geoService, c.path).Call(propsIface+".Get", 0, clientIface, "Location")
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&v); err != nil {
		return "", err
	}
	p, _ := v.Value().(dbus.ObjectPath)
	return p, nil
}

func (c *client) locationProps(path dbus.ObjectPath) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	call := c.bus.Object(geoService, path).Call(propsIface+".GetAll", 0, locationIface)
	if call.Err != nil {
		return nil, call.Err
	}
	return props, call.Store(&props)
}

// watch delivers Location property changes until ctx ends.
func (c *client) watch(ctx context.Context, onLocation func(dbus.ObjectPath)) error {
	rule := fmt.Sprintf("type='signal',interface='%s',path='%s'", propsIface, c.path)
	if call := c.bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
		return call.Err
	}
	signals := make(chan *dbus.Signal, 10)
	c.bus.Signal(signals)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-signals:
			if sig == nil {
				return errors.New("dbus signal channel closed")
			}
			if path, ok := changedLocation(sig, c.path); ok {
				onLocation(path)
			}
		}
	}
}

// changedLocation extracts the new Location path from a PropertiesChanged
// signal of client.
func changedLocation(sig *dbus.Signal, client dbus.ObjectPath) (dbus.ObjectPath, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || sig.Path != client || len(sig.Body) < 2 {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Location"]
	if !ok {
		return "", false
	}
	p, ok := v.Value().(dbus.ObjectPath)
	return p, ok && p != ""
}

// EnsureDesktopFile writes a minimal GeoClue-enabled desktop entry named
// desktopID into appsDir unless one exists.
func EnsureDesktopFile(appsDir, desktopID string) error {
	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(appsDir, desktopID)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	content := `[Desktop Entry]
Type=Application
Name=wayplan
Comment=Route planner (GeoClue client)
Exec=wayplan
Terminal=false
Categories=Utility;
X-Geoclue-2-Client=true
X-Geoclue-2-Access-Fine=true
`
	return os.WriteFile(dest, []byte(content), 0o644)
}
