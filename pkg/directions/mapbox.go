package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/planerr"
)

const DefaultMapboxURL = "https://api.mapbox.com"

// Mapbox is a Directions API v5 client.
type Mapbox struct {
	baseURL string
	token   string
	client  *http.Client
	log     *logger.Logger
}

// NewMapbox returns a client. baseURL defaults to the public API.
func NewMapbox(baseURL, token string, timeout time.Duration) *Mapbox {
	if baseURL == "" {
		baseURL = DefaultMapboxURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Mapbox{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     logger.New("mapbox"),
	}
}

type mapboxResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Routes  []mapboxRoute `json:"routes"`
}

type mapboxRoute struct {
	Geometry json.RawMessage `json:"geometry"`
	Distance float64         `json:"distance"`
	Duration float64         `json:"duration"`
	Legs     []struct {
		Steps []struct {
			Maneuver struct {
				Instruction string `json:"instruction"`
			} `json:"maneuver"`
		} `json:"steps"`
	} `json:"legs"`
}

// URL builds the request URL for req.
func (m *Mapbox) URL(req Request) string {
	coords := make([]string, len(req.Waypoints))
	radiuses := make([]string, len(req.Waypoints))
	for i, p := range req.Waypoints {
		coords[i] = strconv.FormatFloat(p.Lon(), 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat(), 'f', -1, 64)
		radiuses[i] = strconv.Itoa(DefaultSnapRadius)
	}

	params := url.Values{}
	params.Set("access_token", m.token)
	params.Set("alternatives", "false")
	params.Set("steps", "true")
	params.Set("overview", "full")
	params.Set("geometries", "geojson")
	params.Set("language", "en")
	params.Set("radiuses", strings.Join(radiuses, ";"))
	if len(req.Waypoints) > 2 {
		idx := make([]string, len(req.Waypoints))
		for i := range idx {
			idx[i] = strconv.Itoa(i)
		}
		params.Set("waypoints", strings.Join(idx, ";"))
	}

	return fmt.Sprintf("%s/directions/v5/mapbox/%s/%s?%s",
		m.baseURL, req.Profile, strings.Join(coords, ";"), params.Encode())
}

// Directions implements Provider. Failures are classified with planerr:
// a missing token is a configuration error, bad input a validation error and
// everything on the wire a network error.
func (m *Mapbox) Directions(ctx context.Context, req Request) (Result, error) {
	if m.token == "" {
		return Result{}, planerr.Configuration("directions", errors.New("mapbox access token is not set"))
	}
	if len(req.Waypoints) < 2 {
		return Result{}, planerr.Validation("directions", "at least 2 waypoints required for directions")
	}
	if len(req.Waypoints) > MaxWaypoints {
		return Result{}, planerr.Validation("directions", fmt.Sprintf("maximum %d waypoints allowed", MaxWaypoints))
	}
	if req.Profile == "" {
		req.Profile = Driving
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL(req), nil)
	if err != nil {
		return Result{}, planerr.Network("directions", err)
	}
	m.log.Debug("fetching %d waypoints, profile=%s", len(req.Waypoints), req.Profile)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return Result{}, planerr.Network("directions", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Result{}, planerr.Network("directions", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		var mr mapboxResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &mr) == nil && mr.Message != "" {
			msg = mr.Message
		}
		return Result{}, planerr.Network("directions", fmt.Errorf("directions API error: %d - %s", resp.StatusCode, msg))
	}

	var mr mapboxResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return Result{}, planerr.Network("directions", fmt.Errorf("decode response: %w", err))
	}
	if mr.Code != "Ok" {
		return Result{}, planerr.Network("directions", fmt.Errorf("directions API returned: %s", mr.Code))
	}
	if len(mr.Routes) == 0 {
		return Result{}, planerr.Network("directions", errors.New("directions API returned no routes"))
	}

	route := mr.Routes[0]
	line, err := decodeLine(route.Geometry)
	if err != nil {
		return Result{}, planerr.Network("directions", err)
	}
	res := Result{
		Geometry:        line,
		DistanceMeters:  route.Distance,
		DurationSeconds: route.Duration,
	}
	for _, leg := range route.Legs {
		for _, step := range leg.Steps {
			if step.Maneuver.Instruction != "" {
				res.Instructions = append(res.Instructions, step.Maneuver.Instruction)
			}
		}
	}
	return res, nil
}

func decodeLine(raw json.RawMessage) ([]geo.Point, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("decode route geometry: %w", err)
	}
	if g.Geometry() == nil {
		return nil, errors.New("route has no geometry")
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("route geometry is %s, want LineString", g.Geometry().GeoJSONType())
	}
	if len(ls) < 2 {
		return nil, errors.New("route geometry has fewer than 2 points")
	}
	out := make([]geo.Point, len(ls))
	copy(out, ls)
	return out, nil
}
