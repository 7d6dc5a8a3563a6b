package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID    int
	Name  string
	Email string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:db_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&testModel{}))
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := NewFromConn(db, TxOptions{})

	ctx := context.Background()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed", Email: "a@example.com"}).Error
	}))

	var count int64
	require.NoError(t, db.Model(&testModel{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled", Email: "b@example.com"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	require.NoError(t, db.Model(&testModel{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "rollback must discard the second row")
}

func TestRunInTx_RollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)

	assert.Panics(t, func() {
		_ = RunInTx(context.Background(), db, TxOptions{}, func(tx *gorm.DB) error {
			if err := tx.Create(&testModel{Name: "panicky", Email: "p@example.com"}).Error; err != nil {
				return err
			}
			panic("boom")
		})
	})

	var count int64
	require.NoError(t, db.Model(&testModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunInTx_TimeoutRollsBack(t *testing.T) {
	db := newTestDB(t)

	err := RunInTx(context.Background(), db, TxOptions{Timeout: 20 * time.Millisecond}, func(tx *gorm.DB) error {
		time.Sleep(60 * time.Millisecond)
		return tx.Create(&testModel{Name: "late", Email: "late@example.com"}).Error
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&testModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunInTx_MaxWaitExceeded(t *testing.T) {
	db := newTestDB(t)

	holding := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		finished <- RunInTx(context.Background(), db, TxOptions{}, func(tx *gorm.DB) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	err := RunInTx(context.Background(), db, TxOptions{MaxWait: 30 * time.Millisecond}, func(tx *gorm.DB) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrTxWaitTimeout)

	close(release)
	require.NoError(t, <-finished)
}

func TestIsolationLevels(t *testing.T) {
	cases := map[string]sql.IsolationLevel{
		"":                sql.LevelDefault,
		"ReadUncommitted": sql.LevelReadUncommitted,
		"read_committed":  sql.LevelReadCommitted,
		"Repeatable Read": sql.LevelRepeatableRead,
		"SERIALIZABLE":    sql.LevelSerializable,
	}
	for raw, want := range cases {
		level, err := ParseIsolationLevel(raw)
		require.NoError(t, err, raw)
		got, err := level.SQLLevel()
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseIsolationLevel("snapshot")
	assert.Error(t, err)
}

func TestIsUniqueViolation_Sqlite(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&testModel{Name: "one", Email: "dup@example.com"}).Error)

	err := db.Create(&testModel{Name: "two", Email: "dup@example.com"}).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "test_models.email"))
	assert.False(t, IsUniqueViolation(err, "test_models.name"))
	assert.False(t, IsForeignKeyViolation(err))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestIsUniqueViolation_Postgres(t *testing.T) {
	err := fmt.Errorf("insert vendor: %w", &pgconn.PgError{Code: "23505", ConstraintName: "vendors_email_key"})
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "vendors_email_key"))
	assert.False(t, IsUniqueViolation(err, "products_sku_key"))

	fkErr := &pgconn.PgError{Code: "23503", ConstraintName: "order_items_product_id_fkey"}
	assert.True(t, IsForeignKeyViolation(fkErr))
	assert.Equal(t, "order_items_product_id_fkey", ConstraintName(fkErr))
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := NewFromConn(db, TxOptions{})
	require.NoError(t, client.Ping(context.Background()))
}
