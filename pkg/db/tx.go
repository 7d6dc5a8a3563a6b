package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// IsolationLevel names the transaction isolation levels callers may request.
type IsolationLevel string

const (
	IsolationDefault         IsolationLevel = ""
	IsolationReadUncommitted IsolationLevel = "read_uncommitted"
	IsolationReadCommitted   IsolationLevel = "read_committed"
	IsolationRepeatableRead  IsolationLevel = "repeatable_read"
	IsolationSerializable    IsolationLevel = "serializable"
)

// ErrTxWaitTimeout is returned when a transaction could not be opened within TxOptions.MaxWait.
var ErrTxWaitTimeout = errors.New("timed out waiting for transaction")

// TxOptions bounds a transaction. Zero values mean driver defaults and no bound.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
	// Timeout bounds the whole transaction; the context deadline rolls it back.
	Timeout time.Duration
	// MaxWait bounds how long to wait for a connection and BEGIN.
	MaxWait time.Duration
}

// ParseIsolationLevel accepts snake_case, camelCase and spaced spellings.
func ParseIsolationLevel(value string) (IsolationLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(normalized)
	switch normalized {
	case "":
		return IsolationDefault, nil
	case "readuncommitted":
		return IsolationReadUncommitted, nil
	case "readcommitted":
		return IsolationReadCommitted, nil
	case "repeatableread":
		return IsolationRepeatableRead, nil
	case "serializable":
		return IsolationSerializable, nil
	}
	return "", fmt.Errorf("invalid isolation level %q", value)
}

// SQLLevel maps the level onto database/sql.
func (l IsolationLevel) SQLLevel() (sql.IsolationLevel, error) {
	switch l {
	case IsolationDefault:
		return sql.LevelDefault, nil
	case IsolationReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case IsolationReadCommitted:
		return sql.LevelReadCommitted, nil
	case IsolationRepeatableRead:
		return sql.LevelRepeatableRead, nil
	case IsolationSerializable:
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("invalid isolation level %q", string(l))
}

func (o TxOptions) sqlOptions() (*sql.TxOptions, error) {
	level, err := o.Isolation.SQLLevel()
	if err != nil {
		return nil, err
	}
	if level == sql.LevelDefault && !o.ReadOnly {
		return nil, nil
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: o.ReadOnly}, nil
}

// RunInTx executes fn inside a transaction on conn, rolling back on error or panic.
func RunInTx(ctx context.Context, conn *gorm.DB, opts TxOptions, fn func(tx *gorm.DB) error) error {
	if conn == nil {
		return errors.New("db connection required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sqlOpts, err := opts.sqlOptions()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if opts.Timeout > 0 {
		cancel()
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	tx, err := begin(runCtx, conn, sqlOpts, opts.MaxWait)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return fmt.Errorf("commit transaction: %w", ctxErr)
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func begin(ctx context.Context, conn *gorm.DB, sqlOpts *sql.TxOptions, maxWait time.Duration) (*gorm.DB, error) {
	if maxWait <= 0 {
		tx := conn.WithContext(ctx).Begin(sqlOpts)
		if tx.Error != nil {
			return nil, fmt.Errorf("begin transaction: %w", tx.Error)
		}
		return tx, nil
	}

	done := make(chan *gorm.DB, 1)
	go func() {
		done <- conn.WithContext(ctx).Begin(sqlOpts)
	}()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case tx := <-done:
		if tx.Error != nil {
			return nil, fmt.Errorf("begin transaction: %w", tx.Error)
		}
		return tx, nil
	case <-timer.C:
		go func() {
			if tx := <-done; tx.Error == nil {
				tx.Rollback()
			}
		}()
		return nil, ErrTxWaitTimeout
	case <-ctx.Done():
		go func() {
			if tx := <-done; tx.Error == nil {
				tx.Rollback()
			}
		}()
		return nil, fmt.Errorf("begin transaction: %w", ctx.Err())
	}
}
