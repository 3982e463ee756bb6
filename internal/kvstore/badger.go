// Package kvstore is the BadgerDB backend for favorites, sites and session metadata.
package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/boorupan/internal/favorites"
	"github.com/ppiankov/boorupan/internal/source"
)

var (
	favPrefix  = []byte("fav:")
	sitePrefix = []byte("site:")
	metaPrefix = []byte("meta:")
)

// Store implements favorites.Persister and sites.Persister over BadgerDB.
type Store struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// Open opens the database in dir. An empty dir opens an in-memory database.
func Open(dir string, logger logrus.FieldLogger) (*Store, error) {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	opts := badger.DefaultOptions(dir)
	if strings.TrimSpace(dir) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db at %s: %w", dir, err)
	}
	logger.WithField("path", dir).Debug("badger opened")

	return &Store{db: db, log: logger.WithField("component", "kvstore")}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func favKey(key string) []byte {
	return append(append([]byte{}, favPrefix...), key...)
}

// siteKey zero-pads the index so prefix iteration returns sites in order.
func siteKey(i int) []byte {
	return []byte(fmt.Sprintf("site:%06d", i))
}

func metaKey(key string) []byte {
	return append(append([]byte{}, metaPrefix...), key...)
}

// LoadFavorites returns every favorite, newest first.
func (s *Store) LoadFavorites(_ context.Context) ([]favorites.Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var entries []favorites.Entry
	err := s.scan(favPrefix, func(key, val []byte) error {
		var e favorites.Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return fmt.Errorf("decode favorite %s: %w", key, err)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AddedAt != entries[j].AddedAt {
			return entries[i].AddedAt > entries[j].AddedAt
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

// SaveFavorites replaces the stored favorites with entries. Only keys that
// changed are written, through a WriteBatch that splits into as many
// transactions as the set needs.
func (s *Store) SaveFavorites(_ context.Context, entries []favorites.Entry) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}

	want := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			return errors.New("favorite key is required")
		}
		val, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode favorite %s: %w", e.Key, err)
		}
		want[e.Key] = val
	}

	have := make(map[string][]byte)
	if err := s.scan(favPrefix, func(key, val []byte) error {
		have[string(key)] = val
		return nil
	}); err != nil {
		return fmt.Errorf("save favorites: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	var written, deleted int
	for key := range have {
		if _, ok := want[key]; ok {
			continue
		}
		if err := wb.Delete(favKey(key)); err != nil {
			return fmt.Errorf("save favorites: %w", err)
		}
		deleted++
	}
	for key, val := range want {
		if old, ok := have[key]; ok && bytes.Equal(old, val) {
			continue
		}
		if err := wb.SetEntry(badger.NewEntry(favKey(key), val)); err != nil {
			return fmt.Errorf("save favorites: %w", err)
		}
		written++
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("save favorites: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"count":   len(entries),
		"written": written,
		"deleted": deleted,
	}).Debug("favorites saved")
	return nil
}

// LoadSites returns the site list in order.
func (s *Store) LoadSites(_ context.Context) ([]source.Site, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var list []source.Site
	err := s.scan(sitePrefix, func(key, val []byte) error {
		var site source.Site
		if err := json.Unmarshal(val, &site); err != nil {
			return fmt.Errorf("decode site %s: %w", key, err)
		}
		site.OrderIndex = len(list)
		list = append(list, site)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// SaveSites replaces the stored site list.
func (s *Store) SaveSites(_ context.Context, list []source.Site) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, sitePrefix); err != nil {
			return err
		}
		seen := make(map[string]bool, len(list))
		for i, site := range list {
			id := site.Identity()
			if seen[id] {
				return fmt.Errorf("duplicate site %s", id)
			}
			seen[id] = true
			site.OrderIndex = i
			val, err := json.Marshal(site)
			if err != nil {
				return fmt.Errorf("encode site %s: %w", site.Name, err)
			}
			if err := txn.SetEntry(badger.NewEntry(siteKey(i), val)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save sites: %w", err)
	}
	return nil
}

// GetValue reads a metadata value. Missing keys return "".
func (s *Store) GetValue(_ context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store is not initialized")
	}
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

// SetValue writes a metadata value. An empty value deletes the key.
func (s *Store) SetValue(_ context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if value == "" {
			return txn.Delete(metaKey(key))
		}
		return txn.SetEntry(badger.NewEntry(metaKey(key), []byte(value)))
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// FavoriteStats returns favorite counts per site, largest first.
func (s *Store) FavoriteStats(ctx context.Context) ([]favorites.SiteStats, error) {
	entries, err := s.LoadFavorites(ctx)
	if err != nil {
		return nil, err
	}
	return favorites.StatsBySite(entries), nil
}

func (s *Store) scan(prefix []byte, fn func(key, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			if err := fn(bytes.TrimPrefix(key, prefix), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
