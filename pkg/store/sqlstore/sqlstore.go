// Package sqlstore implements store.Store on SQLite through gorm. Duplicate
// detection runs as a GROUP BY aggregation inside the database.
package sqlstore

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
)

// DefaultBatchSize is the number of rows fetched per page when streaming units.
const DefaultBatchSize = 500

// Store is a gorm-backed unit store.
type Store struct {
	db        *gorm.DB
	batchSize int
}

// Option configures a Store.
type Option func(*Store)

// WithBatchSize sets the page size used by Units and Keys.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// Open opens (creating if needed) the SQLite database at path and migrates the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", errors.ErrInvalidStoreDSN)
	}

	level := gormlogger.Silent
	if logger.GetLogger().IsLevelEnabled(logrus.TraceLevel) {
		level = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite store %s", path)
	}

	return New(db, opts...)
}

// New wraps an open gorm connection and migrates the schema.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.AutoMigrate(&unitRecord{}, &associationRecord{}, &provideRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate store schema")
	}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) unitID(tx *gorm.DB, key model.UnitKey) (string, error) {
	var rec unitRecord
	err := tx.Model(&unitRecord{}).Select("id").Where(identity(key)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", errors.ErrUnitNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Add implements store.Store.
func (s *Store) Add(ctx context.Context, pkgs ...model.Package) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range pkgs {
			_, err := s.unitID(tx, p.Key)
			if err == nil {
				continue
			}
			if !errors.Is(err, errors.ErrUnitNotFound) {
				return err
			}

			rec := fromPackage(uuid.NewString(), p)
			if err := tx.Create(rec).Error; err != nil {
				return errors.Wrapf(err, "failed to add %s", p.Key)
			}

			names := p.ProvidedNames()
			if len(names) == 0 {
				continue
			}
			provides := make([]provideRecord, 0, len(names))
			for _, n := range names {
				provides = append(provides, provideRecord{UnitID: rec.ID, Name: n})
			}
			if err := tx.Create(&provides).Error; err != nil {
				return errors.Wrapf(err, "failed to index provides of %s", p.Key)
			}
		}
		return nil
	})
}

// Associate implements store.Store.
func (s *Store) Associate(ctx context.Context, repo string, key model.UnitKey, at time.Time) error {
	tx := s.db.WithContext(ctx)
	id, err := s.unitID(tx, key)
	if err != nil {
		return err
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repo_id"}, {Name: "unit_id"}},
		DoUpdates: clause.Assignments(map[string]any{"associated_at": at}),
	}).Create(&associationRecord{RepoID: repo, UnitID: id, AssociatedAt: at}).Error
}

// Remove implements store.Store.
func (s *Store) Remove(ctx context.Context, repo string, keys ...model.UnitKey) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(keys))
		for _, k := range keys {
			id, err := s.unitID(tx, k)
			if errors.Is(err, errors.ErrUnitNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Where("repo_id = ? AND unit_id IN ?", repo, ids).Delete(&associationRecord{}).Error
	})
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, key model.UnitKey) (bool, error) {
	_, err := s.unitID(s.db.WithContext(ctx), key)
	if errors.Is(err, errors.ErrUnitNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Lookup implements store.Store.
func (s *Store) Lookup(ctx context.Context, key model.UnitKey) (model.Package, error) {
	var rec unitRecord
	err := s.db.WithContext(ctx).Where(identity(key)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Package{}, fmt.Errorf("%w: %s", errors.ErrUnitNotFound, key)
	}
	if err != nil {
		return model.Package{}, err
	}
	return rec.toPackage(), nil
}

func (s *Store) scoped(tx *gorm.DB, scope store.Scope) *gorm.DB {
	tx = tx.Model(&unitRecord{}).Where("units.content_type = ?", string(scope.ContentType))
	if !scope.Global() {
		tx = tx.Joins("JOIN repo_units ON repo_units.unit_id = units.id AND repo_units.repo_id = ?", scope.Repo)
	}
	return tx
}

// page streams records in scope ordered by id, fetching one page per query
// so that no cursor stays open while the consumer works.
func (s *Store) page(ctx context.Context, scope store.Scope, columns []string) iter.Seq2[*unitRecord, error] {
	return func(yield func(*unitRecord, error) bool) {
		last := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var batch []*unitRecord
			tx := s.scoped(s.db.WithContext(ctx), scope)
			if len(columns) > 0 {
				tx = tx.Select(columns)
			}
			err := tx.Where("units.id > ?", last).Order("units.id").Limit(s.batchSize).Find(&batch).Error
			if err != nil {
				yield(nil, err)
				return
			}

			for _, rec := range batch {
				if !yield(rec, nil) {
					return
				}
			}
			if len(batch) < s.batchSize {
				return
			}
			last = batch[len(batch)-1].ID
		}
	}
}

// Units implements store.Store.
func (s *Store) Units(ctx context.Context, scope store.Scope) iter.Seq2[model.Package, error] {
	return func(yield func(model.Package, error) bool) {
		for rec, err := range s.page(ctx, scope, nil) {
			if err != nil {
				yield(model.Package{}, err)
				return
			}
			if !yield(rec.toPackage(), nil) {
				return
			}
		}
	}
}

var keyColumns = func() []string {
	cols := []string{"units.id"}
	for _, c := range identityColumns {
		cols = append(cols, "units."+c)
	}
	return cols
}()

// Keys implements store.Store. Only identity columns are loaded.
func (s *Store) Keys(ctx context.Context, scope store.Scope) iter.Seq2[model.UnitKey, error] {
	return func(yield func(model.UnitKey, error) bool) {
		for rec, err := range s.page(ctx, scope, keyColumns) {
			if err != nil {
				yield(model.UnitKey{}, err)
				return
			}
			if !yield(rec.key(), nil) {
				return
			}
		}
	}
}

// Associations implements store.Store.
func (s *Store) Associations(ctx context.Context, repo string, keys []model.UnitKey) ([]store.Association, error) {
	tx := s.db.WithContext(ctx)
	byID := make(map[string]model.UnitKey, len(keys))
	for _, k := range keys {
		id, err := s.unitID(tx, k)
		if errors.Is(err, errors.ErrUnitNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		byID[id] = k
	}
	if len(byID) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	q := tx.Where("unit_id IN ?", ids)
	if repo != "" {
		q = q.Where("repo_id = ?", repo)
	}
	var recs []associationRecord
	if err := q.Order("repo_id").Order("associated_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]store.Association, 0, len(recs))
	for _, r := range recs {
		out = append(out, store.Association{Repo: r.RepoID, Key: byID[r.UnitID], UpdatedAt: r.AssociatedAt})
	}
	return out, nil
}

// QueryByNames implements store.Store. All names are resolved in one query.
func (s *Store) QueryByNames(ctx context.Context, repo string, names []string) iter.Seq2[model.Package, error] {
	return func(yield func(model.Package, error) bool) {
		if len(names) == 0 {
			return
		}

		var recs []*unitRecord
		provided := s.db.Model(&provideRecord{}).Select("unit_id").Where("name IN ?", names)
		err := s.scoped(s.db.WithContext(ctx), store.Scope{Repo: repo, ContentType: model.ContentTypeRPM}).
			Where("units.id IN (?)", provided).
			Find(&recs).Error
		if err != nil {
			yield(model.Package{}, err)
			return
		}

		pkgs := make([]model.Package, 0, len(recs))
		for _, r := range recs {
			pkgs = append(pkgs, r.toPackage())
		}
		store.SortByVersion(pkgs)

		for _, p := range pkgs {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Aggregation implements store.Store.
func (s *Store) Aggregation(context.Context) store.Aggregation {
	return store.AggregationSupported
}

type groupRow struct {
	IDs string `gorm:"column:ids"`
}

// DuplicateGroups implements store.Aggregator with a GROUP BY over the NEVRA columns.
func (s *Store) DuplicateGroups(ctx context.Context, scope store.Scope) iter.Seq2[[]model.UnitKey, error] {
	return func(yield func([]model.UnitKey, error) bool) {
		group := make([]string, 0, len(nevraColumns))
		for _, c := range nevraColumns {
			group = append(group, "units."+c)
		}

		var rows []groupRow
		err := s.scoped(s.db.WithContext(ctx), scope).
			Select("GROUP_CONCAT(units.id) AS ids").
			Group(strings.Join(group, ", ")).
			Having("COUNT(*) > 1").
			Scan(&rows).Error
		if err != nil {
			yield(nil, err)
			return
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			var members []*unitRecord
			ids := strings.Split(row.IDs, ",")
			if err := s.db.WithContext(ctx).Select(keyColumns).Where("units.id IN ?", ids).Order("units.id").Find(&members).Error; err != nil {
				yield(nil, err)
				return
			}

			keys := make([]model.UnitKey, 0, len(members))
			for _, m := range members {
				keys = append(keys, m.key())
			}
			if !yield(keys, nil) {
				return
			}
		}
	}
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Aggregator = (*Store)(nil)
)
