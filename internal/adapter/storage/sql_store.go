package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/port"
)

// ErrOptimisticLock is returned when a conditional write matched no row
// because a concurrent transaction changed it first.
var ErrOptimisticLock = errors.New("optimistic lock conflict")

const retryBackoff = 20 * time.Millisecond

type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxRetries       int
	Logger          *zap.Logger
}

// SQLStore is the transactional store shared by every owner. It implements
// port.DatabaseRepository for MySQL, PostgreSQL and SQLite.
type SQLStore struct {
	db        *sql.DB
	dialect   dialect
	txRetries int
	logger    *zap.Logger
}

var _ port.DatabaseRepository = (*SQLStore)(nil)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	if d.name == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}

	if d.name == DriverSQLite {
		// one writer at a time; extra connections only produce SQLITE_BUSY
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", domain.ErrStoreUnavailable, opts.Driver, err)
	}

	return newSQLStore(db, d, opts.TxRetries, opts.Logger), nil
}

func newSQLStore(db *sql.DB, d dialect, txRetries int, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if txRetries < 0 {
		txRetries = 0
	}
	return &SQLStore{db: db, dialect: d, txRetries: txRetries, logger: logger}
}

// sqliteDSN turns a bare path into a DSN whose transactions take the write
// lock up front, so concurrent checkouts queue instead of deadlocking.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	var err error
	for attempt := 0; attempt <= s.txRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		err = s.runTx(ctx, fn)
		if err == nil || !s.retryable(err) {
			return err
		}
		s.logger.Warn("transaction conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%w: transaction retries exhausted: %v", domain.ErrStoreUnavailable, err)
}

func (s *SQLStore) runTx(ctx context.Context, fn func(uow port.UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&unitOfWork{r: tx, d: s.dialect}); err != nil {
		return s.classify(err)
	}

	if err := tx.Commit(); err != nil {
		return s.classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (s *SQLStore) retryable(err error) bool {
	return errors.Is(err, ErrOptimisticLock) || s.dialect.isRetryable(err)
}

// classify tags connectivity failures with domain.ErrStoreUnavailable and
// leaves every other error untouched.
func (s *SQLStore) classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	if s.dialect.isUnavailable(err) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

func (s *SQLStore) Reader() port.UnitOfWork {
	return &unitOfWork{r: s.db, d: s.dialect}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying pool for tests and maintenance commands.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// runner is the part of *sql.DB and *sql.Tx the repositories need.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type unitOfWork struct {
	r runner
	d dialect
}

func (u *unitOfWork) Inventory() port.InventoryRepository { return &inventoryRepository{u} }
func (u *unitOfWork) Carts() port.CartRepository          { return &cartRepository{u} }
func (u *unitOfWork) Orders() port.OrderRepository        { return &orderRepository{u} }

func (u *unitOfWork) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return u.r.ExecContext(ctx, u.d.rebind(query), args...)
}

func (u *unitOfWork) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return u.r.QueryContext(ctx, u.d.rebind(query), args...)
}

func (u *unitOfWork) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return u.r.QueryRowContext(ctx, u.d.rebind(query), args...)
}
