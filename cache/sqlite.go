package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache store with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS caches (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			cache TEXT NOT NULL,
			key TEXT NOT NULL,
			requested_at INTEGER,
			received_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (cache, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM caches ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) Create(name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	return err
}

func (s SQLiteCache) Has(name string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM caches WHERE name = ?", name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s SQLiteCache) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE cache = ?", name); err != nil {
		return false, err
	}
	result, err := tx.Exec("DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

// All uses substr instead of LIKE, since LIKE is case-insensitive and
// treats '%' and '_' (both common in URLs) as wildcards.
func (s SQLiteCache) All(name, prefix string) ([]CacheEntry, error) {
	query := `SELECT e.cache, e.key, e.requested_at, e.received_at, e.bytes
		FROM entries e JOIN caches c ON c.name = e.cache
		WHERE substr(e.key, 1, length(?)) = ?`
	args := []any{prefix, prefix}
	if name != "" {
		query += " AND e.cache = ?"
		args = append(args, name)
	}
	query += " ORDER BY c.rowid, e.key"

	entries := make([]CacheEntry, 0)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry CacheEntry
		var req, rec int64
		if err := rows.Scan(&entry.Cache, &entry.Key, &req, &rec, &entry.Bytes); err != nil {
			return entries, err
		}
		entry.RequestedAt = time.Unix(req, 0)
		entry.ReceivedAt = time.Unix(rec, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLiteCache) Put(name string, entries ...CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)", name, time.Now().Unix()); err != nil {
		return err
	}
	for _, ce := range entries {
		_, err := tx.Exec(`INSERT OR REPLACE INTO entries
			(cache, key, requested_at, received_at, bytes) VALUES (?, ?, ?, ?, ?)`,
			name, ce.Key, ce.RequestedAt.Unix(), ce.ReceivedAt.Unix(), ce.Bytes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s SQLiteCache) Purge(name, key string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.Exec("DELETE FROM entries WHERE cache = ? AND key = ?", name, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (s SQLiteCache) Keys(name string, cb func(string)) error {
	rows, err := s.db.Query("SELECT key FROM entries WHERE cache = ? ORDER BY key", name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
