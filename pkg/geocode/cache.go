package geocode

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bluele/gcache"
	_ "modernc.org/sqlite"

	"github.com/rubiojr/wayplan/pkg/logger"
)

// Cache keeps successful lookups in an LRU in front of a persistent sqlite
// table. Entries never expire on disk.
type Cache struct {
	mem gcache.Cache
	db  *sql.DB
	log *logger.Logger
}

// OpenCache opens (or creates) the sqlite cache at path. An empty path gives
// a memory-only cache.
func OpenCache(path string, size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		size = 512
	}
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	c := &Cache{mem: b.Build(), log: logger.New("geocode-cache")}
	if path == "" {
		return c, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS geocode_cache (
		query TEXT PRIMARY KEY,
		json  TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_geocode_cache_fetched_at ON geocode_cache(fetched_at)`)
	c.db = db
	return c, nil
}

// cacheKey includes the provider limit the matches were fetched with, so a
// short list never answers a request for more.
func cacheKey(query string, limit int) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " ")) + "#" + strconv.Itoa(limit)
}

// Get returns the matches cached for query fetched with limit.
func (c *Cache) Get(query string, limit int) ([]Match, bool) {
	if c == nil {
		return nil, false
	}
	key := cacheKey(query, limit)
	if v, err := c.mem.Get(key); err == nil {
		if m, ok := v.([]Match); ok {
			return m, true
		}
	}
	if c.db == nil {
		return nil, false
	}

	var raw string
	err := c.db.QueryRow(`SELECT json FROM geocode_cache WHERE query = ?`, key).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.log.Error("lookup %q: %v", key, err)
		}
		return nil, false
	}
	var m []Match
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		c.log.Error("unmarshal failed for %q: %v (ignoring)", key, err)
		return nil, false
	}
	_ = c.mem.Set(key, m)
	return m, true
}

// Put stores matches for query fetched with limit. Only successful lookups
// belong here.
func (c *Cache) Put(query string, limit int, matches []Match) {
	if c == nil {
		return
	}
	key := cacheKey(query, limit)
	_ = c.mem.Set(key, matches)
	if c.db == nil {
		return
	}
	b, err := json.Marshal(matches)
	if err != nil {
		return
	}
	if _, err := c.db.Exec(`INSERT OR REPLACE INTO geocode_cache(query, json, fetched_at) VALUES(?,?,?)`,
		key, string(b), time.Now().UTC()); err != nil {
		c.log.Error("store %q: %v", key, err)
	}
}

// Close releases the database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
