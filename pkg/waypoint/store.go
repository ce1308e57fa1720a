// Package waypoint owns the ordered waypoint list of the route being planned.
//
// The store is not safe for concurrent use; it lives on the event loop. Every
// mutation bumps the generation and is published to subscribers, which is how
// the route service and marker manager learn about changes.
package waypoint

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rubiojr/wayplan/pkg/geo"
)

var (
	ErrUnknownID   = errors.New("unknown waypoint id")
	ErrBadOrdering = errors.New("reorder must list every waypoint exactly once")
)

// Type tells whether a waypoint was clicked on the map or taken from a POI.
type Type string

const (
	TypeWaypoint Type = "waypoint"
	TypePOI      Type = "poi"
)

// Waypoint is one stop of the route. Label is derived from the position in
// the list and rewritten on every shape change.
type Waypoint struct {
	ID    string    `json:"id"`
	Point geo.Point `json:"coordinates"`
	Label string    `json:"label"`
	Type  Type      `json:"type"`
	Name  string    `json:"name,omitempty"`
}

// ChangeKind says what happened to the list.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Reordered
	Cleared
	Replaced
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Reordered:
		return "reordered"
	case Cleared:
		return "cleared"
	case Replaced:
		return "replaced"
	}
	return "unknown"
}

// Change is published after each mutation. Waypoints is the full list after
// the change; Affected holds the added or removed entries.
type Change struct {
	Kind       ChangeKind
	Generation uint64
	Waypoints  []Waypoint
	Affected   []Waypoint
}

// Label returns the role text for position i in a list of n waypoints:
// "A" first, "B" last, interior positions their index.
func Label(i, n int) string {
	switch {
	case i == 0:
		return "A"
	case i == n-1:
		return "B"
	default:
		return strconv.Itoa(i)
	}
}

// Labels returns the labels of a list of n waypoints.
func Labels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = Label(i, n)
	}
	return out
}

// Store is the single owner of the waypoint list.
type Store struct {
	items  []Waypoint
	seq    int
	gen    uint64
	subs   map[int]func(Change)
	subSeq int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(Change))}
}

// Subscribe registers fn for change notifications, delivered synchronously
// in subscription order.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	id := s.subSeq
	s.subSeq++
	s.subs[id] = fn
	return func() { delete(s.subs, id) }
}

func (s *Store) publish(kind ChangeKind, affected []Waypoint) {
	s.gen++
	ch := Change{
		Kind:       kind,
		Generation: s.gen,
		Waypoints:  s.List(),
		Affected:   affected,
	}
	for id := 0; id < s.subSeq; id++ {
		if fn, ok := s.subs[id]; ok {
			fn(ch)
		}
	}
}

func (s *Store) relabel() {
	for i := range s.items {
		s.items[i].Label = Label(i, len(s.items))
	}
}

func (s *Store) nextID() string {
	s.seq++
	return fmt.Sprintf("wp-%d", s.seq)
}

// Add appends a waypoint at p and relabels the list.
func (s *Store) Add(p geo.Point, typ Type, name string) (Waypoint, error) {
	if err := geo.Validate(p); err != nil {
		return Waypoint{}, err
	}
	if typ == "" {
		typ = TypeWaypoint
	}
	wp := Waypoint{ID: s.nextID(), Point: p, Type: typ, Name: name}
	s.items = append(s.items, wp)
	s.relabel()
	wp = s.items[len(s.items)-1]
	s.publish(Added, []Waypoint{wp})
	return wp, nil
}

// Remove deletes the waypoint with the given id.
func (s *Store) Remove(id string) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	removed := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.relabel()
	s.publish(Removed, []Waypoint{removed})
	return nil
}

// Reorder rearranges the list to follow ids, which must be a permutation of
// the current ids.
func (s *Store) Reorder(ids []string) error {
	if len(ids) != len(s.items) {
		return ErrBadOrdering
	}
	byID := make(map[string]Waypoint, len(s.items))
	for _, wp := range s.items {
		byID[wp.ID] = wp
	}
	next := make([]Waypoint, 0, len(ids))
	for _, id := range ids {
		wp, ok := byID[id]
		if !ok {
			return ErrBadOrdering
		}
		delete(byID, id)
		next = append(next, wp)
	}
	s.items = next
	s.relabel()
	s.publish(Reordered, nil)
	return nil
}

// Clear empties the list. It publishes even when the list was already empty
// so dependents drop any leftover route state.
func (s *Store) Clear() {
	removed := s.items
	s.items = nil
	s.publish(Cleared, removed)
}

// Replace swaps the whole list, assigning fresh ids. Used when loading a
// saved route.
func (s *Store) Replace(points []geo.Point, names []string) error {
	for _, p := range points {
		if err := geo.Validate(p); err != nil {
			return err
		}
	}
	removed := s.items
	s.items = make([]Waypoint, 0, len(points))
	for i, p := range points {
		wp := Waypoint{ID: s.nextID(), Point: p, Type: TypeWaypoint}
		if i < len(names) {
			wp.Name = names[i]
		}
		s.items = append(s.items, wp)
	}
	s.relabel()
	s.publish(Replaced, removed)
	return nil
}

// List returns a copy of the current waypoints in order.
func (s *Store) List() []Waypoint {
	out := make([]Waypoint, len(s.items))
	copy(out, s.items)
	return out
}

// Points returns the coordinates in order.
func (s *Store) Points() []geo.Point {
	out := make([]geo.Point, len(s.items))
	for i, wp := range s.items {
		out[i] = wp.Point
	}
	return out
}

// Len returns the number of waypoints.
func (s *Store) Len() int { return len(s.items) }

// Generation increases with every mutation.
func (s *Store) Generation() uint64 { return s.gen }

// Get returns the waypoint with id.
func (s *Store) Get(id string) (Waypoint, bool) {
	i := s.index(id)
	if i < 0 {
		return Waypoint{}, false
	}
	return s.items[i], true
}

func (s *Store) index(id string) int {
	for i, wp := range s.items {
		if wp.ID == id {
			return i
		}
	}
	return -1
}
