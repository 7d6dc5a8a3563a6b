package repo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/marketplace-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

// Repository is the uniform CRUD surface over one model type. Every entity
// gets the same contract; domain repositories embed it and add their own
// queries.
type Repository[T any] struct {
	Base
	meta *query.Meta
}

// New builds a repository for T, parsing its schema once.
func New[T any](db *gorm.DB) (*Repository[T], error) {
	if db == nil {
		return nil, errors.New("db connection required")
	}
	meta, err := query.MetaOf(db, new(T))
	if err != nil {
		return nil, err
	}
	return &Repository[T]{Base: NewBase(db), meta: meta}, nil
}

// WithTx returns a copy bound to tx.
func (r *Repository[T]) WithTx(tx *gorm.DB) *Repository[T] {
	if tx == nil {
		return r
	}
	return &Repository[T]{Base: NewBase(tx), meta: r.meta}
}

// Meta exposes the entity metadata.
func (r *Repository[T]) Meta() *query.Meta {
	return r.meta
}

func (r *Repository[T]) model(ctx context.Context) *gorm.DB {
	return r.DB(ctx).Model(new(T))
}

func (r *Repository[T]) entity() string {
	return r.meta.Name()
}

func (r *Repository[T]) idKey(id any) query.UniqueKey {
	return query.UniqueKey{r.meta.PrimaryKey().DBName: id}
}

// FindByID returns the row or nil when absent.
func (r *Repository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	return r.FindUnique(ctx, r.idKey(id))
}

// FindByIDOrThrow returns the row or a NOT_FOUND error.
func (r *Repository[T]) FindByIDOrThrow(ctx context.Context, id any) (*T, error) {
	return r.FindUniqueOrThrow(ctx, r.idKey(id))
}

// FindUnique looks a row up by a declared unique key. It returns nil when absent.
func (r *Repository[T]) FindUnique(ctx context.Context, key query.UniqueKey, includes ...query.Include) (*T, error) {
	return r.findUnique(ctx, key, false, includes)
}

// FindUniqueForUpdate is FindUnique holding a row lock until the surrounding
// transaction ends. The lock is skipped on sqlite, which locks the whole database.
func (r *Repository[T]) FindUniqueForUpdate(ctx context.Context, key query.UniqueKey) (*T, error) {
	return r.findUnique(ctx, key, true, nil)
}

func (r *Repository[T]) findUnique(ctx context.Context, key query.UniqueKey, lock bool, includes []query.Include) (*T, error) {
	cond, err := r.meta.UniqueWhere(key)
	if err != nil {
		return nil, err
	}
	tx := r.DB(ctx).Where(cond)
	if lock && tx.Dialector.Name() != "sqlite" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if len(includes) > 0 {
		if tx, err = r.meta.Preload(tx, includes); err != nil {
			return nil, err
		}
	}

	var row T
	if err := tx.Take(&row).Error; err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.meta.Trim(&row, includes); err != nil {
		return nil, err
	}
	return &row, nil
}

// FindUniqueOrThrow is FindUnique returning NOT_FOUND when absent.
func (r *Repository[T]) FindUniqueOrThrow(ctx context.Context, key query.UniqueKey, includes ...query.Include) (*T, error) {
	row, err := r.FindUnique(ctx, key, includes...)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, pkgerrors.NotFound(r.entity())
	}
	return row, nil
}

// FindMany runs a filtered, sorted, paginated read.
func (r *Repository[T]) FindMany(ctx context.Context, args query.FindManyArgs) ([]T, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	limit := args.Limit()
	if limit == 0 {
		return []T{}, nil
	}

	tx := r.model(ctx)
	where, ok, err := r.meta.Where(args.Where)
	if err != nil {
		return nil, err
	}
	if ok {
		tx = tx.Where(where)
	}

	ordering, err := r.meta.Ordering(args.OrderBy)
	if err != nil {
		return nil, err
	}
	backward := args.Backward()

	if args.Cursor != nil {
		cursorRow, err := r.FindUnique(ctx, args.Cursor)
		if err != nil {
			return nil, err
		}
		if cursorRow == nil {
			return []T{}, nil
		}
		after, err := ordering.After(ctx, cursorRow, backward)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(after)
	}
	tx = ordering.Apply(tx, backward)

	switch {
	case limit > 0:
		tx = tx.Limit(limit)
	case args.Skip > 0:
		// OFFSET needs a LIMIT on sqlite.
		tx = tx.Limit(math.MaxInt32)
	}
	if args.Skip > 0 {
		tx = tx.Offset(args.Skip)
	}

	if len(args.Select) > 0 {
		cols, err := r.meta.Columns(args.Select)
		if err != nil {
			return nil, err
		}
		tx = tx.Select(cols)
	}
	if len(args.Include) > 0 {
		if tx, err = r.meta.Preload(tx, args.Include); err != nil {
			return nil, err
		}
	}

	rows := []T{}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	if backward {
		query.ReverseSlice(&rows)
	}
	if err := r.meta.Trim(&rows, args.Include); err != nil {
		return nil, err
	}
	return rows, nil
}

// FindFirst returns the first row FindMany would return, or nil.
func (r *Repository[T]) FindFirst(ctx context.Context, args query.FindManyArgs) (*T, error) {
	if args.Backward() {
		args.Take = query.Take(-1)
	} else {
		args.Take = query.Take(1)
	}
	rows, err := r.FindMany(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Count returns the number of rows matching where.
func (r *Repository[T]) Count(ctx context.Context, where *query.Filter) (int64, error) {
	tx := r.model(ctx)
	cond, ok, err := r.meta.Where(where)
	if err != nil {
		return 0, err
	}
	if ok {
		tx = tx.Where(cond)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// Create inserts row. A collision on a unique key yields UNIQUE_CONSTRAINT_VIOLATION.
func (r *Repository[T]) Create(ctx context.Context, row *T) error {
	if row == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "row is required")
	}
	if err := r.DB(ctx).Create(row).Error; err != nil {
		return r.translate(err)
	}
	return nil
}

// CreateMany inserts rows in one statement and returns how many were written.
// With skipDuplicates, rows colliding on a unique key are skipped; otherwise a
// single collision fails the whole batch.
func (r *Repository[T]) CreateMany(ctx context.Context, rows []T, skipDuplicates bool) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx := r.DB(ctx)
	if skipDuplicates {
		tx = tx.Clauses(clause.OnConflict{DoNothing: true})
	}
	res := tx.Create(&rows)
	if res.Error != nil {
		return 0, r.translate(res.Error)
	}
	return res.RowsAffected, nil
}

// Update applies data to the row with id and returns the updated row.
func (r *Repository[T]) Update(ctx context.Context, id any, data query.Data) (*T, error) {
	return r.updateUnique(ctx, r.idKey(id), data)
}

// UpdateUnique is Update addressed by any unique key.
func (r *Repository[T]) UpdateUnique(ctx context.Context, key query.UniqueKey, data query.Data) (*T, error) {
	return r.updateUnique(ctx, key, data)
}

func (r *Repository[T]) updateUnique(ctx context.Context, key query.UniqueKey, data query.Data) (*T, error) {
	cond, err := r.meta.UniqueWhere(key)
	if err != nil {
		return nil, err
	}
	assignments, err := r.meta.Assignments(data)
	if err != nil {
		return nil, err
	}
	res := r.model(ctx).Where(cond).Updates(assignments)
	if res.Error != nil {
		return nil, r.translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.NotFound(r.entity())
	}
	return r.FindUniqueOrThrow(ctx, r.rekey(key, data))
}

// rekey follows a unique key through an update that rewrote one of its columns.
func (r *Repository[T]) rekey(key query.UniqueKey, data query.Data) query.UniqueKey {
	next := make(query.UniqueKey, len(key))
	for name, value := range key {
		next[name] = value
		if updated, ok := data[name]; ok {
			if _, isExpr := updated.(query.Increment); !isExpr {
				next[name] = updated
			}
		}
	}
	return next
}

// UpdateMany applies data to every row matching where and returns the count.
// An empty filter updates every row.
func (r *Repository[T]) UpdateMany(ctx context.Context, where *query.Filter, data query.Data) (int64, error) {
	assignments, err := r.meta.Assignments(data)
	if err != nil {
		return 0, err
	}
	tx := r.model(ctx)
	cond, ok, err := r.meta.Where(where)
	if err != nil {
		return 0, err
	}
	if ok {
		tx = tx.Where(cond)
	} else {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := tx.Updates(assignments)
	if res.Error != nil {
		return 0, r.translate(res.Error)
	}
	return res.RowsAffected, nil
}

// Upsert updates the row matching key with update, or inserts create when none
// matches. When a concurrent writer inserts the same key first, the insert is
// retried once as an update.
func (r *Repository[T]) Upsert(ctx context.Context, key query.UniqueKey, create *T, update query.Data) (*T, error) {
	if create == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "create data is required")
	}
	existing, err := r.FindUnique(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if len(update) == 0 {
			return existing, nil
		}
		return r.updateUnique(ctx, key, update)
	}

	// Nested Transaction runs under a savepoint when already inside one, so a
	// failed insert does not poison the caller's transaction on Postgres.
	err = r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(create).Error
	})
	if err == nil {
		return create, nil
	}
	if !dbpkg.IsUniqueViolation(err, "") {
		return nil, r.translate(err)
	}

	existing, findErr := r.FindUnique(ctx, key)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, r.translate(err)
	}
	if len(update) == 0 {
		return existing, nil
	}
	return r.updateUnique(ctx, key, update)
}

// Delete removes the row with id and returns it.
func (r *Repository[T]) Delete(ctx context.Context, id any) (*T, error) {
	return r.DeleteUnique(ctx, r.idKey(id))
}

// DeleteUnique removes the row matching key and returns it.
func (r *Repository[T]) DeleteUnique(ctx context.Context, key query.UniqueKey) (*T, error) {
	row, err := r.FindUniqueOrThrow(ctx, key)
	if err != nil {
		return nil, err
	}
	cond, err := r.meta.UniqueWhere(key)
	if err != nil {
		return nil, err
	}
	res := r.DB(ctx).Where(cond).Delete(new(T))
	if res.Error != nil {
		return nil, r.translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.NotFound(r.entity())
	}
	return row, nil
}

// DeleteMany removes every row matching where and returns the count. An empty
// filter deletes every row.
func (r *Repository[T]) DeleteMany(ctx context.Context, where *query.Filter) (int64, error) {
	tx := r.DB(ctx)
	cond, ok, err := r.meta.Where(where)
	if err != nil {
		return 0, err
	}
	if ok {
		tx = tx.Where(cond)
	} else {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := tx.Delete(new(T))
	if res.Error != nil {
		return 0, r.translate(res.Error)
	}
	return res.RowsAffected, nil
}

// Aggregate computes summaries over the rows matching where.
func (r *Repository[T]) Aggregate(ctx context.Context, where *query.Filter, aggs query.Aggregates) (query.AggregateResult, error) {
	return r.meta.Aggregate(r.model(ctx), where, aggs)
}

// GroupBy partitions the rows and summarises each group.
func (r *Repository[T]) GroupBy(ctx context.Context, args query.GroupByArgs) ([]query.GroupRow, error) {
	return r.meta.GroupBy(r.model(ctx), args)
}

func (r *Repository[T]) translate(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if dbpkg.IsUniqueViolation(err, "") {
		return pkgerrors.UniqueViolation(err, r.entity(), r.uniqueFields(err))
	}
	if dbpkg.IsForeignKeyViolation(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("%s references a missing or protected row", r.entity()))
	}
	return err
}
