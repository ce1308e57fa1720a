package route

import (
	"fmt"
	"math"

	"github.com/rubiojr/wayplan/pkg/directions"
)

// FormatDistance renders meters as "850 m" or "3.7 km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders seconds as "7 min" or "1h 5m".
func FormatDuration(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%d min", minutes)
}

// litersPer100km is the rough consumption used for fuel estimates.
const litersPer100km = 8

// EstimateFuel returns a rough fuel estimate for driving routes, "N/A"
// otherwise.
func EstimateFuel(meters float64, profile directions.Profile) string {
	if profile != directions.Driving {
		return "N/A"
	}
	liters := meters / 1000 * litersPer100km / 100
	return fmt.Sprintf("~%.1fL", liters)
}

// Summary is the human readable description of a route.
type Summary struct {
	Distance string `json:"distance"`
	Duration string `json:"duration"`
	Fuel     string `json:"fuel"`
}

// Summarize formats r.
func Summarize(r *Route) Summary {
	return Summary{
		Distance: FormatDistance(r.DistanceMeters),
		Duration: FormatDuration(r.DurationSeconds),
		Fuel:     EstimateFuel(r.DistanceMeters, r.Profile),
	}
}
