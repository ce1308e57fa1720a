// Package routestore persists saved routes per user and exports them as GPX.
//
// Records live in a single sqlite table. Waypoints are stored as JSON and
// the route geometry as a GeoJSON LineString, so a loaded record draws the
// exact line that was saved without asking the directions provider again.
package routestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	_ "modernc.org/sqlite"

	"github.com/rubiojr/wayplan/pkg/directions"
	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/planerr"
)

var (
	// ErrDuplicate is returned when the user already saved a route with the
	// same name through the same stops.
	ErrDuplicate = errors.New("duplicate route")
	ErrNotFound  = errors.New("route not found")
)

// Difficulty grades a saved route.
type Difficulty string

const (
	Easy     Difficulty = "easy"
	Moderate Difficulty = "moderate"
	Hard     Difficulty = "hard"
	Expert   Difficulty = "expert"
)

// ParseDifficulty accepts a difficulty name; empty means Moderate.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Moderate, nil
	case Easy, Moderate, Hard, Expert:
		return d, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// Waypoint is a stop as saved.
type Waypoint struct {
	Point geo.Point `json:"coordinates"`
	Label string    `json:"label"`
	Name  string    `json:"name,omitempty"`
}

// Record is a saved route.
type Record struct {
	ID              int64              `json:"id"`
	UserID          string             `json:"userId"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	Difficulty      Difficulty         `json:"difficulty"`
	Public          bool               `json:"public"`
	PhotoURL        string             `json:"photoUrl,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Profile         directions.Profile `json:"profile"`
	Waypoints       []Waypoint         `json:"waypoints"`
	Geometry        []geo.Point        `json:"geometry"`
	DistanceMeters  float64            `json:"distanceMeters"`
	DurationSeconds float64            `json:"durationSeconds"`
	Created         time.Time          `json:"createdAt"`
	Updated         time.Time          `json:"updatedAt"`
}

// Validate checks what a record needs before it can be saved.
func (r Record) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return planerr.Validation("save route", "user id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return planerr.Validation("save route", "please enter a route name")
	}
	if len(r.Waypoints) < 2 {
		return planerr.Validation("save route", "a route needs at least two waypoints")
	}
	for _, wp := range r.Waypoints {
		if err := geo.Validate(wp.Point); err != nil {
			return planerr.Validation("save route", err.Error())
		}
	}
	if _, err := directions.ParseProfile(string(r.Profile)); err != nil {
		return planerr.Validation("save route", err.Error())
	}
	return nil
}

// Store is the sqlite-backed route store. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (or creates) the database at path; empty keeps it in memory.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS saved_routes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		difficulty  TEXT NOT NULL,
		public      INTEGER NOT NULL DEFAULT 0,
		photo_url   TEXT NOT NULL DEFAULT '',
		notes       TEXT NOT NULL DEFAULT '',
		profile     TEXT NOT NULL,
		waypoints   TEXT NOT NULL,
		geometry    TEXT NOT NULL,
		distance_m  REAL NOT NULL,
		duration_s  REAL NOT NULL,
		fingerprint TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL,
		UNIQUE(user_id, fingerprint)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create saved_routes table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_saved_routes_user ON saved_routes(user_id, updated_at)`)
	return &Store{db: db, log: logger.New("routestore")}, nil
}

func encodeGeometry(points []geo.Point) (string, error) {
	ls := make(orb.LineString, len(points))
	copy(ls, points)
	b, err := geojson.NewGeometry(ls).MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeGeometry(raw string) ([]geo.Point, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, err
	}
	ls, ok := g.Coordinates.(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("geometry is %T, want LineString", g.Coordinates)
	}
	return []geo.Point(ls), nil
}

// Save stores rec for rec.UserID and returns it with id and timestamps set.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Description = strings.TrimSpace(rec.Description)
	rec.Notes = strings.TrimSpace(rec.Notes)
	if rec.Difficulty == "" {
		rec.Difficulty = Moderate
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	wps, err := json.Marshal(rec.Waypoints)
	if err != nil {
		return Record{}, err
	}
	geom, err := encodeGeometry(rec.Geometry)
	if err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	rec.Created, rec.Updated = now, now

	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO saved_routes
		(user_id, name, description, difficulty, public, photo_url, notes, profile, waypoints, geometry, distance_m, duration_s, fingerprint, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.UserID, rec.Name, rec.Description, string(rec.Difficulty), rec.Public, rec.PhotoURL, rec.Notes,
		string(rec.Profile), string(wps), geom, rec.DistanceMeters, rec.DurationSeconds,
		fingerprint(rec.Name, rec.Waypoints), rec.Created, rec.Updated)
	if err != nil {
		return Record{}, fmt.Errorf("insert route: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Record{}, ErrDuplicate
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return Record{}, err
	}
	s.log.Info("saved route %d %q for %s (%d waypoints)", rec.ID, rec.Name, rec.UserID, len(rec.Waypoints))
	return rec, nil
}

const selectColumns = `id, user_id, name, description, difficulty, public, photo_url, notes, profile,
	waypoints, geometry, distance_m, duration_s, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		wps, geom string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Description, &rec.Difficulty, &rec.Public,
		&rec.PhotoURL, &rec.Notes, &rec.Profile, &wps, &geom, &rec.DistanceMeters, &rec.DurationSeconds,
		&rec.Created, &rec.Updated); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(wps), &rec.Waypoints); err != nil {
		return Record{}, fmt.Errorf("route %d waypoints: %w", rec.ID, err)
	}
	points, err := decodeGeometry(geom)
	if err != nil {
		return Record{}, fmt.Errorf("route %d geometry: %w", rec.ID, err)
	}
	rec.Geometry = points
	return rec, nil
}

// Get returns the route id owned by userID.
func (s *Store) Get(ctx context.Context, userID string, id int64) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM saved_routes WHERE id = ? AND user_id = ?`, id, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns the routes of userID, most recently updated first.
func (s *Store) List(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM saved_routes WHERE user_id = ? ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the route id owned by userID.
func (s *Store) Delete(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_routes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
