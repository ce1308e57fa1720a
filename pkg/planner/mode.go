package planner

import (
	"fmt"
	"strings"
)

// Mode decides what a map click does. Exactly one mode is active.
type Mode int

const (
	// Idle ignores clicks.
	Idle Mode = iota
	// AddingWaypoints appends a waypoint per click.
	AddingWaypoints
	// AddingPOI opens the POI editor at the next click, then returns to Idle.
	AddingPOI
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case AddingWaypoints:
		return "adding_waypoints"
	case AddingPOI:
		return "adding_poi"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m Mode) valid() bool { return m >= Idle && m <= AddingPOI }

// ParseMode accepts the names printed by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle", "":
		return Idle, nil
	case "adding_waypoints", "waypoints":
		return AddingWaypoints, nil
	case "adding_poi", "poi":
		return AddingPOI, nil
	}
	return Idle, fmt.Errorf("unknown mode %q", s)
}
