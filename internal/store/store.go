package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
	"order-fulfillment/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Store is the PostgreSQL implementation of the inventory, order, payment,
// balance and sales stores. Methods take the transaction to run in; a nil
// transaction runs the statement on the pool in autocommit mode.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// PoolConfig sizes the connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a new database store
func NewStore(databaseURL string, pool PoolConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 25
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 5
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, logger: util.ComponentLogger("store")}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Migrate creates the schema when it does not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Database schema applied")
	return nil
}

// BeginTx opens a read-committed transaction
func (s *Store) BeginTx(ctx context.Context) (txn.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

// pgTx serializes statements so that goroutines sharing one saga
// transaction never use the connection at the same time.
type pgTx struct {
	mu sync.Mutex
	tx *sqlx.Tx
}

func (t *pgTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx.Commit()
}

func (t *pgTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx.Rollback()
}

func (t *pgTx) Savepoint(ctx context.Context, name string) error {
	return t.execRaw(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (t *pgTx) RollbackTo(ctx context.Context, name string) error {
	return t.execRaw(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (t *pgTx) ReleaseSavepoint(ctx context.Context, name string) error {
	return t.execRaw(ctx, "RELEASE SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (t *pgTx) execRaw(ctx context.Context, stmt string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.tx.ExecContext(ctx, stmt)
	return err
}

// queryer is the part of sqlx shared by *sqlx.DB and *sqlx.Tx
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) conn(tx txn.Tx) (queryer, func(), error) {
	if tx == nil {
		return s.db, func() {}, nil
	}
	p, ok := tx.(*pgTx)
	if !ok {
		return nil, nil, fmt.Errorf("%w: transaction %T was not opened by this store", models.ErrInfrastructure, tx)
	}
	p.mu.Lock()
	return p.tx, p.mu.Unlock, nil
}

func (s *Store) get(ctx context.Context, tx txn.Tx, dest interface{}, query string, args ...interface{}) error {
	q, unlock, err := s.conn(tx)
	if err != nil {
		return err
	}
	defer unlock()
	return q.GetContext(ctx, dest, query, args...)
}

func (s *Store) selectx(ctx context.Context, tx txn.Tx, dest interface{}, query string, args ...interface{}) error {
	q, unlock, err := s.conn(tx)
	if err != nil {
		return err
	}
	defer unlock()
	return q.SelectContext(ctx, dest, query, args...)
}

func (s *Store) exec(ctx context.Context, tx txn.Tx, query string, args ...interface{}) (sql.Result, error) {
	q, unlock, err := s.conn(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return q.ExecContext(ctx, query, args...)
}

// dbError classifies a driver error as an infrastructure failure
func dbError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrInfrastructure, op, err)
}
