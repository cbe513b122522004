// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	voxerrors "github.com/voxctl/voxctl/pkg/errors"
)

const lastRefreshKey = "last_refresh"

var cacheMigrations = []string{
	`CREATE TABLE IF NOT EXISTS mcp_catalog_entries (
		id TEXT PRIMARY KEY,
		entry_data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mcp_catalog_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Cache is the local sqlite store of registry entries. Search and
// lookup run against the cache so browsing works offline and stays
// fast.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCache opens (creating if needed) the catalog cache database.
func NewCache(path string, logger *slog.Logger) (*Cache, error) {
	if path == "" {
		return nil, &voxerrors.ConfigError{Key: "catalog.db_path", Reason: "path must not be empty"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog cache: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to catalog cache: %w", err)
	}

	for _, migration := range cacheMigrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate catalog cache: %w", err)
		}
	}

	return &Cache{db: db, logger: logger}, nil
}

// SaveEntries replaces the full cache contents with the given entries.
func (c *Cache) SaveEntries(ctx context.Context, entries []Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM mcp_catalog_entries"); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode catalog entry %s: %w", entry.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO mcp_catalog_entries (id, entry_data, updated_at) VALUES (?, ?, ?)",
			entry.ID, string(data), now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.logger.Info("catalog cache updated", "entries", len(entries))
	return nil
}

// Search filters cached entries by query text and tag, ordered by name.
func (c *Cache) Search(ctx context.Context, query, tag string, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	entries, err := c.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var matched []Entry
	for _, entry := range entries {
		if entry.matches(query, tag) {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return strings.ToLower(matched[i].Name) < strings.ToLower(matched[j].Name)
	})

	if offset >= len(matched) {
		return []Entry{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// GetEntry returns one cached entry by id.
func (c *Cache) GetEntry(ctx context.Context, id string) (*Entry, error) {
	var data string
	err := c.db.QueryRowContext(ctx,
		"SELECT entry_data FROM mcp_catalog_entries WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &voxerrors.NotFoundError{Resource: "catalog entry", ID: id}
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("corrupt catalog entry %s: %w", id, err)
	}
	return &entry, nil
}

// Count returns the number of cached entries.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mcp_catalog_entries").Scan(&count)
	return count, err
}

// LastRefresh returns the time of the last successful refresh, or the
// zero time when the cache has never been filled.
func (c *Cache) LastRefresh(ctx context.Context) (time.Time, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		"SELECT value FROM mcp_catalog_metadata WHERE key = ?", lastRefreshKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, nil
	}
	return ts, nil
}

// SetLastRefresh records the refresh timestamp.
func (c *Cache) SetLastRefresh(ctx context.Context, ts time.Time) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO mcp_catalog_metadata (key, value) VALUES (?, ?)",
		lastRefreshKey, ts.UTC().Format(time.RFC3339))
	return err
}

// Expired reports whether the cache is empty or older than ttl.
func (c *Cache) Expired(ctx context.Context, ttl time.Duration) bool {
	count, err := c.Count(ctx)
	if err != nil || count == 0 {
		return true
	}
	last, err := c.LastRefresh(ctx)
	if err != nil || last.IsZero() {
		return true
	}
	return time.Since(last) > ttl
}

// Clear drops all cached entries and metadata.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM mcp_catalog_entries"); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, "DELETE FROM mcp_catalog_metadata")
	return err
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) loadAll(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT entry_data FROM mcp_catalog_entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			c.logger.Warn("skipping corrupt catalog entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
