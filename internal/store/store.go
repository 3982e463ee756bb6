package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/source"
)

// Store is the SQLite backend for favorites, sites and session metadata.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadFavorites returns every favorite, newest first.
func (s *Store) LoadFavorites(ctx context.Context) ([]favorites.Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, added_at, post_json
		FROM favorites
		ORDER BY added_at DESC, key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []favorites.Entry
	for rows.Next() {
		var (
			e        favorites.Entry
			postJSON string
		)
		if err := rows.Scan(&e.Key, &e.AddedAt, &postJSON); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		if err := json.Unmarshal([]byte(postJSON), &e.Post); err != nil {
			return nil, fmt.Errorf("decode favorite %s: %w", e.Key, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}

	return entries, nil
}

// SaveFavorites replaces the stored list with entries in one transaction.
func (s *Store) SaveFavorites(ctx context.Context, entries []favorites.Entry) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM favorites"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear favorites: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO favorites (key, site_base, site_name, added_at, post_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			site_base = excluded.site_base,
			site_name = excluded.site_name,
			added_at = excluded.added_at,
			post_json = excluded.post_json,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare favorite insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	now := formatTime(time.Now())
	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			_ = tx.Rollback()
			return errors.New("favorite key is required")
		}
		postJSON, err := json.Marshal(e.Post)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode favorite %s: %w", e.Key, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.Key,
			e.Post.Site.BaseURL,
			e.Post.Site.Name,
			e.AddedAt,
			string(postJSON),
			now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert favorite: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit favorites: %w", err)
	}
	return nil
}

// LoadSites returns the site list in order_index order.
func (s *Store) LoadSites(ctx context.Context) ([]source.Site, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, "SELECT order_index, site_json FROM sites ORDER BY order_index")
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []source.Site
	for rows.Next() {
		var (
			idx      int
			siteJSON string
			site     source.Site
		)
		if err := rows.Scan(&idx, &siteJSON); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		if err := json.Unmarshal([]byte(siteJSON), &site); err != nil {
			return nil, fmt.Errorf("decode site %d: %w", idx, err)
		}
		site.OrderIndex = idx
		list = append(list, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return list, nil
}

// SaveSites replaces the stored site list. Position in list becomes order_index.
func (s *Store) SaveSites(ctx context.Context, list []source.Site) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sites"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear sites: %w", err)
	}

	for i, site := range list {
		site.OrderIndex = i
		siteJSON, err := json.Marshal(site)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode site %s: %w", site.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sites (order_index, identity, name, type, base_url, site_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, i, site.Identity(), site.Name, string(site.Type), site.BaseURL, string(siteJSON)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert site %s: %w", site.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sites: %w", err)
	}
	return nil
}

// GetValue reads a metadata value. Missing keys return "" and no error.
func (s *Store) GetValue(ctx context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

// SetValue writes a metadata value. An empty value deletes the key.
func (s *Store) SetValue(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if key == "schema_version" {
		return errors.New("schema_version is reserved")
	}

	var err error
	if value == "" {
		_, err = s.db.ExecContext(ctx, "DELETE FROM metadata WHERE key = ?", key)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO metadata(key, value) VALUES(?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// FavoriteStats returns favorite counts per site, largest first.
func (s *Store) FavoriteStats(ctx context.Context) ([]favorites.SiteStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT site_base, MAX(site_name), COUNT(*), MIN(added_at), MAX(added_at)
		FROM favorites
		GROUP BY site_base
		ORDER BY COUNT(*) DESC, site_base ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get favorite stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []favorites.SiteStats
	for rows.Next() {
		var (
			st          favorites.SiteStats
			first, last int64
		)
		if err := rows.Scan(&st.BaseURL, &st.Name, &st.Total, &first, &last); err != nil {
			return nil, fmt.Errorf("scan favorite stats: %w", err)
		}
		st.FirstSeen = time.UnixMilli(first).UTC()
		st.LastSeen = time.UnixMilli(last).UTC()
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorite stats: %w", err)
	}
	return stats, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
