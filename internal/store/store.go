// Package store is a thin record-store port over gorm: insert, exact-match
// find, update by id, conditional update and delete for one model type.
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when no record matches an id lookup.
	ErrNotFound = errors.New("store: record not found")
	// ErrPersistence wraps every failure of the underlying database.
	ErrPersistence = errors.New("store: persistence failure")
)

// Query is an exact-match filter: column name to required value.
type Query map[string]any

// FindOpts shapes the result set of Find.
type FindOpts struct {
	OrderBy string // e.g. "created_at desc"
	Limit   int
}

// Collection gives typed access to the table backing T. T must have a
// primary key column named "id".
type Collection[T any] struct {
	db   *gorm.DB
	name string
}

// NewCollection returns a Collection for T on db.
func NewCollection[T any](db *gorm.DB) *Collection[T] {
	var zero T
	return &Collection[T]{db: db, name: reflect.TypeOf(zero).Name()}
}

// DB exposes the underlying handle for range queries the port does not model.
func (c *Collection[T]) DB() *gorm.DB { return c.db }

// Insert creates rec.
func (c *Collection[T]) Insert(ctx context.Context, rec *T) error {
	if err := c.db.WithContext(ctx).Create(rec).Error; err != nil {
		return c.fail("insert", err)
	}
	return nil
}

// Save inserts rec or overwrites the existing row with the same primary key.
func (c *Collection[T]) Save(ctx context.Context, rec *T) error {
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error; err != nil {
		return c.fail("save", err)
	}
	return nil
}

// FindByID returns the record with the given primary key, or ErrNotFound.
func (c *Collection[T]) FindByID(ctx context.Context, id any) (*T, error) {
	var rec T
	err := c.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, c.fail("find by id", err)
	}
	return &rec, nil
}

// Find returns every record matching q. An empty query matches all rows.
func (c *Collection[T]) Find(ctx context.Context, q Query, opts ...FindOpts) ([]T, error) {
	var recs []T
	if err := c.scope(ctx, q, opts).Find(&recs).Error; err != nil {
		return nil, c.fail("find", err)
	}
	return recs, nil
}

// FindOne returns the first record matching q, or ErrNotFound.
func (c *Collection[T]) FindOne(ctx context.Context, q Query, opts ...FindOpts) (*T, error) {
	var recs []T
	o := FindOpts{}
	if len(opts) > 0 {
		o = opts[0]
	}
	o.Limit = 1
	if err := c.scope(ctx, q, []FindOpts{o}).Find(&recs).Error; err != nil {
		return nil, c.fail("find one", err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// Count returns the number of records matching q.
func (c *Collection[T]) Count(ctx context.Context, q Query) (int64, error) {
	var n int64
	if err := c.scope(ctx, q, nil).Count(&n).Error; err != nil {
		return 0, c.fail("count", err)
	}
	return n, nil
}

// Update applies patch to the record with the given id. It reports whether
// a row was changed; false with a nil error means no such record.
func (c *Collection[T]) Update(ctx context.Context, id any, patch map[string]any) (bool, error) {
	return c.UpdateIf(ctx, id, nil, patch)
}

// UpdateIf applies patch only if the record with the given id also matches
// cond, as one statement. This is the check-and-set primitive: when two
// callers race on the same precondition exactly one sees true.
func (c *Collection[T]) UpdateIf(ctx context.Context, id any, cond Query, patch map[string]any) (bool, error) {
	tx := c.db.WithContext(ctx).Model(new(T)).Where("id = ?", id)
	if len(cond) > 0 {
		tx = tx.Where(map[string]any(cond))
	}
	result := tx.Updates(patch)
	if result.Error != nil {
		return false, c.fail("update", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateWhere applies patch to every record matching q and returns the
// number of rows changed.
func (c *Collection[T]) UpdateWhere(ctx context.Context, q Query, patch map[string]any) (int64, error) {
	if len(q) == 0 {
		return 0, fmt.Errorf("store: update %s: empty query", c.name)
	}
	result := c.db.WithContext(ctx).Model(new(T)).Where(map[string]any(q)).Updates(patch)
	if result.Error != nil {
		return 0, c.fail("update where", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes the record with the given id and reports whether it existed.
func (c *Collection[T]) Delete(ctx context.Context, id any) (bool, error) {
	result := c.db.WithContext(ctx).Where("id = ?", id).Delete(new(T))
	if result.Error != nil {
		return false, c.fail("delete", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (c *Collection[T]) scope(ctx context.Context, q Query, opts []FindOpts) *gorm.DB {
	tx := c.db.WithContext(ctx).Model(new(T))
	if len(q) > 0 {
		tx = tx.Where(map[string]any(q))
	}
	if len(opts) > 0 {
		if opts[0].OrderBy != "" {
			tx = tx.Order(opts[0].OrderBy)
		}
		if opts[0].Limit > 0 {
			tx = tx.Limit(opts[0].Limit)
		}
	}
	return tx
}

func (c *Collection[T]) fail(op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrPersistence, op, c.name, err)
}
