package poi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/rtree"
	_ "modernc.org/sqlite"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
)

var (
	// ErrDuplicate is returned when a POI with the same name already sits at
	// the same coordinates.
	ErrDuplicate = errors.New("duplicate POI")
	ErrNotFound  = errors.New("POI not found")
)

// Store persists POIs in sqlite and answers bounding-box queries from an
// in-memory rtree rebuilt at open time.
//
// Concurrency: safe for concurrent use; the loader queries it from worker
// goroutines while the API adds entries.
type Store struct {
	mu    sync.RWMutex
	db    *sql.DB
	index rtree.RTreeG[int64]
	byID  map[int64]POI
	log   *logger.Logger
}

// Open opens (or creates) the POI database at path. An empty path keeps
// everything in memory.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection so an in-memory database is shared by every query.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS pois (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		lon         REAL NOT NULL,
		lat         REAL NOT NULL,
		category    TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT 'user',
		osm_id      INTEGER UNIQUE,
		created_at  TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create pois table: %w", err)
	}

	s := &Store{db: db, byID: make(map[int64]POI), log: logger.New("poi-store")}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT id, lon, lat, category, name, description, source, osm_id, created_at FROM pois`)
	if err != nil {
		return fmt.Errorf("load pois: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p     POI
			lon   float64
			lat   float64
			osmID sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &lon, &lat, &p.Category, &p.Name, &p.Description, &p.Source, &osmID, &p.Created); err != nil {
			return fmt.Errorf("scan poi: %w", err)
		}
		p.Point = geo.Pt(lon, lat)
		p.OSMID = osmID.Int64
		s.insertIndex(p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.log.Debug("loaded %d POIs", len(s.byID))
	return nil
}

func box(p geo.Point) [2]float64 { return [2]float64{p.Lon(), p.Lat()} }

func (s *Store) insertIndex(p POI) {
	s.byID[p.ID] = p
	s.index.Insert(box(p.Point), box(p.Point), p.ID)
}

func (s *Store) removeIndex(p POI) {
	delete(s.byID, p.ID)
	s.index.Delete(box(p.Point), box(p.Point), p.ID)
}

// duplicateLocked reports whether a POI named name already sits within
// geo.Epsilon of pt.
func (s *Store) duplicateLocked(pt geo.Point, name string) bool {
	min := [2]float64{pt.Lon() - geo.Epsilon, pt.Lat() - geo.Epsilon}
	max := [2]float64{pt.Lon() + geo.Epsilon, pt.Lat() + geo.Epsilon}
	found := false
	s.index.Search(min, max, func(_, _ [2]float64, id int64) bool {
		if strings.EqualFold(s.byID[id].Name, name) {
			found = true
			return false
		}
		return true
	})
	return found
}

func validate(p POI) error {
	if err := geo.Validate(p.Point); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("POI name is required")
	}
	if _, ok := styles[p.Category]; !ok {
		return fmt.Errorf("unknown POI category %q", p.Category)
	}
	return nil
}

// Add stores p and returns it with its assigned id.
func (s *Store) Add(ctx context.Context, p POI) (POI, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Category == "" {
		p.Category = Other
	}
	if p.Source == "" {
		p.Source = SourceUser
	}
	if err := validate(p); err != nil {
		return POI{}, err
	}
	if p.Created.IsZero() {
		p.Created = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duplicateLocked(p.Point, p.Name) {
		return POI{}, ErrDuplicate
	}
	var osmID any
	if p.OSMID != 0 {
		osmID = p.OSMID
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO pois(lon, lat, category, name, description, source, osm_id, created_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		p.Point.Lon(), p.Point.Lat(), string(p.Category), p.Name, p.Description, p.Source, osmID, p.Created)
	if err != nil {
		return POI{}, fmt.Errorf("insert poi: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return POI{}, err
	}
	s.insertIndex(p)
	return p, nil
}

// Delete removes the POI with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pois WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete poi %d: %w", id, err)
	}
	s.removeIndex(p)
	return nil
}

// Get returns the POI with id.
func (s *Store) Get(id int64) (POI, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// Len returns the number of stored POIs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// InBounds returns the POIs inside b ordered by id, at most limit of them
// when limit is positive.
func (s *Store) InBounds(ctx context.Context, b geo.Bounds, limit int) ([]POI, error) {
	if err := geo.ValidateBounds(b); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var ids []int64
	s.index.Search(box(b.Min), box(b.Max), func(_, _ [2]float64, id int64) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]POI, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	s.mu.RUnlock()
	return out, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
