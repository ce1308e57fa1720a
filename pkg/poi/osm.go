package poi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"

	"github.com/rubiojr/wayplan/pkg/geo"
)

// tagCategories maps "key=value" OSM tags to POI categories. A "key=*" entry
// matches any value except "no".
var tagCategories = []struct {
	tag      string
	category Category
}{
	{"tourism=camp_site", Camping},
	{"tourism=caravan_site", Camping},
	{"amenity=drinking_water", Water},
	{"amenity=water_point", Water},
	{"natural=spring", Water},
	{"amenity=fuel", Fuel},
	{"shop=car_repair", Mechanic},
	{"shop=tyres", Mechanic},
	{"tourism=viewpoint", Viewpoint},
	{"hazard=*", Hazard},
	{"ford=*", RiverCrossing},
	{"barrier=gate", Gate},
	{"barrier=lift_gate", Gate},
	{"tourism=hotel", Accommodation},
	{"tourism=motel", Accommodation},
	{"tourism=hostel", Accommodation},
	{"tourism=guest_house", Accommodation},
	{"tourism=alpine_hut", Accommodation},
	{"tourism=chalet", Accommodation},
	{"amenity=restaurant", Food},
	{"amenity=cafe", Food},
	{"amenity=fast_food", Food},
	{"amenity=pub", Food},
	{"amenity=hospital", Emergency},
	{"amenity=clinic", Emergency},
	{"amenity=police", Emergency},
	{"amenity=fire_station", Emergency},
	{"emergency=*", Emergency},
}

// categorize returns the POI category of a tagged node.
func categorize(tags osm.Tags) (Category, bool) {
	for _, tc := range tagCategories {
		key, value, _ := strings.Cut(tc.tag, "=")
		got := tags.Find(key)
		if got == "" {
			continue
		}
		if (value == "*" && got != "no") || got == value {
			return tc.category, true
		}
	}
	return "", false
}

// ImportStats summarizes an OSM import.
type ImportStats struct {
	Scanned  int
	Matched  int
	Inserted int
	Took     time.Duration
}

// Import scans nodes from sc and stores the ones that map to a category.
// Nodes already imported (same OSM id) are skipped. The scanner is closed.
func Import(ctx context.Context, s *Store, sc osm.Scanner) (ImportStats, error) {
	start := time.Now()
	var stats ImportStats
	var batch []POI
	for sc.Scan() {
		n, ok := sc.Object().(*osm.Node)
		if !ok {
			continue
		}
		stats.Scanned++
		cat, ok := categorize(n.Tags)
		if !ok {
			continue
		}
		name := n.Tags.Find("name")
		if name == "" {
			name = StyleOf(cat).Label
		}
		p := POI{
			Point:       geo.Pt(n.Lon, n.Lat),
			Category:    cat,
			Name:        name,
			Description: n.Tags.Find("description"),
			Source:      SourceOSM,
			OSMID:       int64(n.ID),
		}
		if geo.Validate(p.Point) != nil {
			continue
		}
		stats.Matched++
		batch = append(batch, p)
	}
	if err := sc.Err(); err != nil {
		sc.Close()
		return stats, fmt.Errorf("scan osm: %w", err)
	}
	sc.Close()

	inserted, err := s.addOSM(ctx, batch)
	stats.Inserted = inserted
	stats.Took = time.Since(start)
	if err != nil {
		return stats, err
	}
	s.log.Info("osm import: %d nodes scanned, %d matched, %d new (%s)", stats.Scanned, stats.Matched, stats.Inserted, stats.Took.Round(time.Millisecond))
	return stats, nil
}

// ImportFile imports an .osm (XML) or .osm.pbf file.
func ImportFile(ctx context.Context, s *Store, path string) (ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportStats{}, err
	}
	defer f.Close()

	var sc osm.Scanner
	switch {
	case strings.HasSuffix(path, ".pbf"):
		pbf := osmpbf.New(ctx, f, 1)
		pbf.SkipWays = true
		pbf.SkipRelations = true
		sc = pbf
	case filepath.Ext(path) == ".osm" || filepath.Ext(path) == ".xml":
		sc = osmxml.New(ctx, f)
	default:
		return ImportStats{}, fmt.Errorf("unsupported OSM file %q (want .osm, .xml or .pbf)", path)
	}
	return Import(ctx, s, sc)
}

// addOSM inserts imported POIs in one transaction, ignoring OSM ids that
// are already stored.
func (s *Store) addOSM(ctx context.Context, pois []POI) (int, error) {
	if len(pois) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO pois(lon, lat, category, name, description, source, osm_id, created_at)
		VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var added []POI
	for _, p := range pois {
		p.Created = now
		res, err := stmt.ExecContext(ctx, p.Point.Lon(), p.Point.Lat(), string(p.Category), p.Name, p.Description, p.Source, p.OSMID, p.Created)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert osm node %d: %w", p.OSMID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		added = append(added, p)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	for _, p := range added {
		s.insertIndex(p)
	}
	return len(added), nil
}
