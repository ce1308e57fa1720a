// Package api exposes the planner over HTTP.
//
// A browser renderer mirrors the map surface: it reads /api/map, reports its
// own load, click and move events back, and drives the planner through the
// remaining endpoints. Every call touching planner state is marshalled onto
// the event loop.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rubiojr/wayplan/pkg/eventloop"
	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/mapsurface"
	"github.com/rubiojr/wayplan/pkg/metrics"
	"github.com/rubiojr/wayplan/pkg/planner"
	"github.com/rubiojr/wayplan/pkg/poi"
	"github.com/rubiojr/wayplan/pkg/routestore"
)

// Mirror is the surface state a renderer copies.
type Mirror interface {
	mapsurface.Surface
	FinishLoading()
	Click(p geo.Point)
	MoveEnd(b geo.Bounds)
	Snapshot() mapsurface.Snapshot
}

// Server holds the handlers and their dependencies.
type Server struct {
	loop      *eventloop.Loop
	planner   *planner.Planner
	surface   Mirror
	metrics   *metrics.Collector
	configErr error
	log       *logger.Logger
}

// New returns a server. When configErr is set (the planner could not be
// built, typically for a missing access token) p may be nil and every
// planner endpoint answers with the remediation message.
func New(loop *eventloop.Loop, p *planner.Planner, surface Mirror, m *metrics.Collector, configErr error) *Server {
	return &Server{loop: loop, planner: p, surface: surface, metrics: m, configErr: configErr, log: logger.New("api")}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(s.logRequests)
	r.Use(cors)

	r.Get("/api/version", handleGetVersion)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requirePlanner)

		r.Get("/api/state", s.handleGetState)
		r.Get("/api/suggest", s.handleGetSuggest)

		r.Route("/api/map", func(r chi.Router) {
			r.Get("/", s.handleGetMap)
			r.Post("/loaded", s.handleMapLoaded)
			r.Post("/click", s.handleMapClick)
			r.Post("/moveend", s.handleMapMoveEnd)
			r.Put("/style", s.handlePutStyle)
		})

		r.Put("/api/mode", s.handlePutMode)
		r.Put("/api/profile", s.handlePutProfile)
		r.Post("/api/layers/{id}/toggle", s.handleToggleLayer)

		r.Route("/api/waypoints", func(r chi.Router) {
			r.Delete("/", s.handleClearWaypoints)
			r.Put("/order", s.handleReorderWaypoints)
			r.Delete("/{id}", s.handleDeleteWaypoint)
			r.Post("/poi/{id}", s.handleAddPOIWaypoint)
		})

		r.Post("/api/route/endpoints", s.handlePostEndpoints)
		r.Post("/api/route/recalculate", s.handleRecalculate)

		r.Route("/api/pois", func(r chi.Router) {
			r.Get("/", s.handleGetPOIs)
			r.Post("/", s.handlePostPOI)
			r.Delete("/pending", s.handleCancelPOI)
			r.Delete("/{id}", s.handleDeletePOI)
		})

		r.Route("/api/routes", func(r chi.Router) {
			r.Get("/", s.handleListRoutes)
			r.Post("/", s.handleSaveRoute)
			r.Get("/{id}", s.handleGetRoute)
			r.Delete("/{id}", s.handleDeleteRoute)
			r.Post("/{id}/load", s.handleLoadRoute)
			r.Get("/{id}/gpx", s.handleGetRouteGPX)
		})

		r.Delete("/api/notices/{id}", s.handleDismissNotice)
	})
	return r
}

// NewHTTPServer wraps the router with the listen address and timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("%s %s %s", r.Method, r.URL.Path, time.Since(start).Round(time.Microsecond))
	})
}

// requirePlanner answers with the configuration problem while there is no
// planner to serve the request.
func (s *Server) requirePlanner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.planner == nil {
			writeError(w, s.configErr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// onLoop runs fn on the event loop for the duration of the request.
func (s *Server) onLoop(r *http.Request, fn func()) error {
	return s.loop.Call(r.Context(), fn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response: %v", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "invalid id"})
		return 0, false
	}
	return id, true
}

func userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "user required"})
		return "", false
	}
	return user, true
}

// ---------------- Planner state ----------------

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	var st planner.State
	if err := s.onLoop(r, func() { st = s.planner.Snapshot() }); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetSuggest(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := s.planner.Suggest(r.Context(), q, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "suggestions": matches})
}

// ---------------- Map surface mirror ----------------

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	var snap mapsurface.Snapshot
	if err := s.onLoop(r, func() { snap = s.surface.Snapshot() }); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMapLoaded(w http.ResponseWriter, r *http.Request) {
	if err := s.onLoop(r, s.surface.FinishLoading); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMapClick(w http.ResponseWriter, r *http.Request) {
	var req PointRequest
	if !decode(w, r, &req) {
		return
	}
	p := geo.Pt(req.Lon, req.Lat)
	if err := geo.Validate(p); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_coordinates", Message: err.Error()})
		return
	}
	var st planner.State
	if err := s.onLoop(r, func() {
		s.surface.Click(p)
		st = s.planner.Snapshot()
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMapMoveEnd(w http.ResponseWriter, r *http.Request) {
	var req BoundsRequest
	if !decode(w, r, &req) {
		return
	}
	b := geo.NewBounds(req.West, req.South, req.East, req.North)
	if err := geo.ValidateBounds(b); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_bounds", Message: err.Error()})
		return
	}
	if err := s.onLoop(r, func() { s.surface.MoveEnd(b) }); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePutStyle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.applyAndRespond(w, r, func() error { return s.planner.ChangeStyle(req.URL) })
}

// applyAndRespond runs op on the loop and answers with the new state.
func (s *Server) applyAndRespond(w http.ResponseWriter, r *http.Request, op func() error) {
	var (
		st    planner.State
		opErr error
	)
	if err := s.onLoop(r, func() {
		if opErr = op(); opErr == nil {
			st = s.planner.Snapshot()
		}
	}); err != nil {
		writeError(w, err)
		return
	}
	if opErr != nil {
		writeError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ---------------- Mode, profile, layers ----------------

func (s *Server) handlePutMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	m, err := planner.ParseMode(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_mode", Message: err.Error()})
		return
	}
	s.applyAndRespond(w, r, func() error { return s.planner.SetMode(m) })
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.applyAndRespond(w, r, func() error { return s.planner.SetProfile(req.Profile) })
}

func (s *Server) handleToggleLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.applyAndRespond(w, r, func() error { return s.planner.ToggleLayer(id) })
}

// ---------------- Waypoints & route ----------------

func (s *Server) handleClearWaypoints(w http.ResponseWriter, r *http.Request) {
	s.applyAndRespond(w, r, func() error {
		s.planner.Clear()
		return nil
	})
}

func (s *Server) handleReorderWaypoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.applyAndRespond(w, r, func() error { return s.planner.Reorder(req.IDs) })
}

func (s *Server) handleDeleteWaypoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.applyAndRespond(w, r, func() error { return s.planner.RemoveWaypoint(id) })
}

func (s *Server) handleAddPOIWaypoint(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.applyAndRespond(w, r, func() error {
		_, err := s.planner.AddPOIWaypoint(id)
		return err
	})
}

func (s *Server) handlePostEndpoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if !decode(w, r, &req) {
		return
	}
	wps, err := s.planner.GeocodeEndpoints(r.Context(), req.Start, req.End)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"waypoints": wps})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	s.applyAndRespond(w, r, func() error {
		s.planner.Recalculate()
		return nil
	})
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "invalid id"})
		return
	}
	if !s.planner.Notices().Dismiss(id) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------- POIs ----------------

func (s *Server) handleGetPOIs(w http.ResponseWriter, r *http.Request) {
	store := s.planner.POIs()
	if store == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no POI store configured"})
		return
	}
	q := r.URL.Query()
	var edges [4]float64
	for i, key := range []string{"west", "south", "east", "north"} {
		v, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_bounds", Message: "invalid " + key})
			return
		}
		edges[i] = v
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	pois, err := store.InBounds(r.Context(), geo.NewBounds(edges[0], edges[1], edges[2], edges[3]), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pois": pois})
}

func (s *Server) handlePostPOI(w http.ResponseWriter, r *http.Request) {
	var req POIRequest
	if !decode(w, r, &req) {
		return
	}
	cat, err := poi.ParseCategory(req.Type)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_category", Message: err.Error()})
		return
	}
	created, err := s.planner.CreatePOI(r.Context(), poi.POI{
		Point:       geo.Pt(req.Lon, req.Lat),
		Category:    cat,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCancelPOI(w http.ResponseWriter, r *http.Request) {
	if err := s.onLoop(r, s.planner.CancelPOI); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePOI(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.planner.DeletePOI(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------- Saved routes ----------------

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	store := s.planner.SavedRoutes()
	if store == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no route store configured"})
		return
	}
	recs, err := store.List(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": recs})
}

func (s *Server) handleSaveRoute(w http.ResponseWriter, r *http.Request) {
	var req planner.SaveRequest
	if !decode(w, r, &req) {
		return
	}
	saved, err := s.planner.SaveRoute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	store := s.planner.SavedRoutes()
	if store == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no route store configured"})
		return
	}
	rec, err := store.Get(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	store := s.planner.SavedRoutes()
	if store == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no route store configured"})
		return
	}
	if err := store.Delete(r.Context(), user, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	rec, err := s.planner.LoadRoute(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetRouteGPX(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	store := s.planner.SavedRoutes()
	if store == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no route store configured"})
		return
	}
	rec, err := store.Get(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := routestore.GPX(rec)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+gpxFilename(rec.Name)+`"`)
	_, _ = w.Write(b)
}

// ---------------- Version ----------------

func handleGetVersion(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info["go_module"] = bi.Path
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info["app_version"] = bi.Main.Version
		}
		settings := make(map[string]string)
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				settings["commit"] = s.Value
				if len(s.Value) > 7 {
					settings["commit_short"] = s.Value[:7]
				}
			case "vcs.time":
				settings["build_time"] = s.Value
			case "vcs.modified":
				settings["dirty"] = s.Value
			}
		}
		if len(settings) > 0 {
			info["build_info"] = settings
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// Shutdown gracefully stops srv, waiting at most timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
