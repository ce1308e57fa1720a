package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/rubiojr/wayplan/pkg/eventloop"
	"github.com/rubiojr/wayplan/pkg/layers"
	"github.com/rubiojr/wayplan/pkg/planerr"
	"github.com/rubiojr/wayplan/pkg/poi"
	"github.com/rubiojr/wayplan/pkg/routestore"
	"github.com/rubiojr/wayplan/pkg/waypoint"
)

// PointRequest is a clicked coordinate.
type PointRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundsRequest is a settled viewport.
type BoundsRequest struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// POIRequest is the POI editor form.
type POIRequest struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError maps err to a status code and a stable error code.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case err == nil:
		err = errors.New("unknown error")
	case errors.Is(err, planerr.ErrConfiguration):
		status, code = http.StatusServiceUnavailable, "configuration"
	case errors.Is(err, planerr.ErrValidation),
		errors.Is(err, waypoint.ErrUnknownID),
		errors.Is(err, waypoint.ErrBadOrdering):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, planerr.ErrNotFound),
		errors.Is(err, routestore.ErrNotFound),
		errors.Is(err, poi.ErrNotFound),
		errors.Is(err, layers.ErrUnknownLayer):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, routestore.ErrDuplicate), errors.Is(err, poi.ErrDuplicate):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, layers.ErrLayerBusy):
		status, code = http.StatusConflict, "busy"
	case errors.Is(err, planerr.ErrAborted):
		status, code = http.StatusConflict, "aborted"
	case errors.Is(err, planerr.ErrNetwork):
		status, code = http.StatusBadGateway, "upstream_error"
	case errors.Is(err, eventloop.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	msg := planerr.Message(err)
	if status == http.StatusInternalServerError {
		msg = ""
	}
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// gpxFilename turns a route name into a download file name.
func gpxFilename(name string) string {
	base := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if base == "" {
		base = "route"
	}
	return base + ".gpx"
}
