// Package directions talks to the external routing provider. The engine never
// computes shortest paths itself.
package directions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rubiojr/wayplan/pkg/geo"
)

// Profile is the travel mode.
type Profile string

const (
	Driving Profile = "driving"
	Walking Profile = "walking"
	Cycling Profile = "cycling"
)

// MaxWaypoints is the provider's coordinate limit per request.
const MaxWaypoints = 25

// DefaultSnapRadius is the per-waypoint road snapping radius in meters.
const DefaultSnapRadius = 50

// ParseProfile validates a profile name.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case Driving, Walking, Cycling:
		return p, nil
	default:
		return "", fmt.Errorf("unknown profile %q (want driving, walking or cycling)", s)
	}
}

// Request is an ordered waypoint list plus a profile.
type Request struct {
	Waypoints []geo.Point
	Profile   Profile
}

// Result is the first route the provider returned.
type Result struct {
	Geometry        []geo.Point
	DistanceMeters  float64
	DurationSeconds float64
	Instructions    []string
}

// Provider fetches directions.
type Provider interface {
	Directions(ctx context.Context, req Request) (Result, error)
}
