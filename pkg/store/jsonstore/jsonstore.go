// Package jsonstore provides a simple JSON-file-backed unit store for small
// mirrors and tests. It has no server-side aggregation.
package jsonstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/fsutil"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
)

// FormatVersion is written into every saved database.
const FormatVersion = "1"

type unitEntry struct {
	ID        string        `json:"id"`
	Package   model.Package `json:"package"`
	CreatedAt time.Time     `json:"created_at"`
}

type database struct {
	FormatVersion string                          `json:"format_version"`
	LastUpdate    time.Time                       `json:"last_update"`
	Units         []*unitEntry                    `json:"units"`
	Associations  map[string]map[string]time.Time `json:"associations"`
}

// Store keeps every unit in memory and persists to a single JSON file on Save
// and Close.
type Store struct {
	path    string
	rwMutex sync.RWMutex
	db      database
	byKey   map[model.UnitKey]*unitEntry
	byID    map[string]*unitEntry
	dirty   bool
}

// Open loads the database at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("database path must be absolute: %s: %w", path, errors.ErrInvalidPath)
	}

	s := &Store{
		path: cleanPath,
		db: database{
			FormatVersion: FormatVersion,
			LastUpdate:    time.Now(),
			Associations:  make(map[string]map[string]time.Time),
		},
	}

	file, err := os.Open(cleanPath)
	if os.IsNotExist(err) {
		s.reindex()
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := s.load(file); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(r io.Reader) error {
	var db database
	if err := json.NewDecoder(r).Decode(&db); err != nil {
		return fmt.Errorf("failed to parse database file %s: %w", s.path, err)
	}
	if db.Associations == nil {
		db.Associations = make(map[string]map[string]time.Time)
	}
	s.db = db
	s.reindex()
	return nil
}

func (s *Store) reindex() {
	s.byKey = make(map[model.UnitKey]*unitEntry, len(s.db.Units))
	s.byID = make(map[string]*unitEntry, len(s.db.Units))
	for _, u := range s.db.Units {
		s.byKey[u.Package.Key] = u
		s.byID[u.ID] = u
	}
}

// Save writes the database atomically through a temporary file.
func (s *Store) Save() error {
	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()
	return s.save()
}

func (s *Store) save() error {
	if !s.dirty {
		return nil
	}

	s.db.LastUpdate = time.Now()
	err := fsutil.WriteAtomic(s.path, fsutil.FileModeSecure, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(&s.db); err != nil {
			return fmt.Errorf("failed to marshal database to JSON: %w", err)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to save database %s", s.path)
	}

	s.dirty = false
	return nil
}

// Close saves pending changes.
func (s *Store) Close() error {
	return s.Save()
}

// Add implements store.Store.
func (s *Store) Add(ctx context.Context, pkgs ...model.Package) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()

	for _, p := range pkgs {
		if _, ok := s.byKey[p.Key]; ok {
			continue
		}
		u := &unitEntry{ID: uuid.NewString(), Package: p, CreatedAt: time.Now()}
		s.db.Units = append(s.db.Units, u)
		s.byKey[p.Key] = u
		s.byID[u.ID] = u
		s.dirty = true
	}
	return nil
}

// Associate implements store.Store.
func (s *Store) Associate(ctx context.Context, repo string, key model.UnitKey, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()

	u, ok := s.byKey[key]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnitNotFound, key)
	}
	members, ok := s.db.Associations[repo]
	if !ok {
		members = make(map[string]time.Time)
		s.db.Associations[repo] = members
	}
	members[u.ID] = at
	s.dirty = true
	return nil
}

// Remove implements store.Store.
func (s *Store) Remove(ctx context.Context, repo string, keys ...model.UnitKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()

	members := s.db.Associations[repo]
	for _, k := range keys {
		if u, ok := s.byKey[k]; ok {
			if _, ok := members[u.ID]; ok {
				delete(members, u.ID)
				s.dirty = true
			}
		}
	}
	return nil
}

// Exists implements store.Store.
func (s *Store) Exists(_ context.Context, key model.UnitKey) (bool, error) {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()
	_, ok := s.byKey[key]
	return ok, nil
}

// Lookup implements store.Store.
func (s *Store) Lookup(_ context.Context, key model.UnitKey) (model.Package, error) {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()
	u, ok := s.byKey[key]
	if !ok {
		return model.Package{}, fmt.Errorf("%w: %s", errors.ErrUnitNotFound, key)
	}
	return u.Package, nil
}

// snapshot copies the entries in scope so callers can mutate the store while
// iterating.
func (s *Store) snapshot(scope store.Scope) []*unitEntry {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()

	var out []*unitEntry
	if scope.Global() {
		for _, u := range s.db.Units {
			if u.Package.Key.ContentType == scope.ContentType {
				out = append(out, u)
			}
		}
		return out
	}

	for id := range s.db.Associations[scope.Repo] {
		if u, ok := s.byID[id]; ok && u.Package.Key.ContentType == scope.ContentType {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b *unitEntry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Units implements store.Store.
func (s *Store) Units(ctx context.Context, scope store.Scope) iter.Seq2[model.Package, error] {
	return func(yield func(model.Package, error) bool) {
		for _, u := range s.snapshot(scope) {
			if err := ctx.Err(); err != nil {
				yield(model.Package{}, err)
				return
			}
			if !yield(u.Package, nil) {
				return
			}
		}
	}
}

// Keys implements store.Store.
func (s *Store) Keys(ctx context.Context, scope store.Scope) iter.Seq2[model.UnitKey, error] {
	return func(yield func(model.UnitKey, error) bool) {
		for p, err := range s.Units(ctx, scope) {
			if !yield(p.Key, err) || err != nil {
				return
			}
		}
	}
}

// Associations implements store.Store.
func (s *Store) Associations(_ context.Context, repo string, keys []model.UnitKey) ([]store.Association, error) {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()

	var out []store.Association
	for r, members := range s.db.Associations {
		if repo != "" && r != repo {
			continue
		}
		for _, k := range keys {
			u, ok := s.byKey[k]
			if !ok {
				continue
			}
			if at, ok := members[u.ID]; ok {
				out = append(out, store.Association{Repo: r, Key: k, UpdatedAt: at})
			}
		}
	}
	return out, nil
}

// QueryByNames implements store.Store.
func (s *Store) QueryByNames(ctx context.Context, repo string, names []string) iter.Seq2[model.Package, error] {
	return func(yield func(model.Package, error) bool) {
		wanted := make(map[string]struct{}, len(names))
		for _, n := range names {
			wanted[n] = struct{}{}
		}

		var pkgs []model.Package
		for _, u := range s.snapshot(store.Scope{Repo: repo, ContentType: model.ContentTypeRPM}) {
			for _, n := range u.Package.ProvidedNames() {
				if _, ok := wanted[n]; ok {
					pkgs = append(pkgs, u.Package)
					break
				}
			}
		}
		store.SortByVersion(pkgs)

		for _, p := range pkgs {
			if err := ctx.Err(); err != nil {
				yield(model.Package{}, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Aggregation implements store.Store. Grouping always happens client side.
func (s *Store) Aggregation(context.Context) store.Aggregation {
	return store.AggregationUnsupported
}

var _ store.Store = (*Store)(nil)
