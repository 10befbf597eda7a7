// Package txn models the "use this transaction if given, else open one" convention
// as an explicit value passed to operations.
package txn

import (
	"context"
	"fmt"

	"order-fulfillment/internal/models"
)

// Tx is an open unit of work owned by a store implementation
type Tx interface {
	Commit() error
	Rollback() error
}

// Beginner opens transactions
type Beginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Savepointer is implemented by transactions that support nested rollback points
type Savepointer interface {
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}

// Scope is either "new" (the operation opens and commits its own transaction)
// or "joined" (the operation runs inside a caller-managed transaction and must
// not commit or roll it back).
type Scope struct {
	tx Tx
}

// New returns a scope that asks the operation to open its own transaction.
func New() Scope {
	return Scope{}
}

// Join returns a scope participating in tx.
func Join(tx Tx) Scope {
	return Scope{tx: tx}
}

// Joined reports whether the scope belongs to a caller-managed transaction.
func (s Scope) Joined() bool {
	return s.tx != nil
}

// Tx returns the joined transaction, or nil for a new scope.
func (s Scope) Tx() Tx {
	return s.tx
}

// Run executes fn within the scope. A joined scope hands its transaction to fn
// unchanged; a new scope begins a transaction, commits it when fn succeeds and
// rolls it back when fn fails or panics.
func Run(ctx context.Context, b Beginner, scope Scope, fn func(ctx context.Context, tx Tx) error) (err error) {
	if scope.Joined() {
		return fn(ctx, scope.tx)
	}

	tx, err := b.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", models.ErrInfrastructure, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", models.ErrInfrastructure, err)
	}
	return nil
}

// Attempt is Run for work that may be retried inside a joined transaction.
// When the joined transaction supports savepoints, fn runs behind one so that
// a failed attempt is undone without aborting the caller's transaction.
func Attempt(ctx context.Context, b Beginner, scope Scope, name string, fn func(ctx context.Context, tx Tx) error) error {
	if !scope.Joined() {
		return Run(ctx, b, scope, fn)
	}

	sp, ok := scope.tx.(Savepointer)
	if !ok {
		return fn(ctx, scope.tx)
	}

	if err := sp.Savepoint(ctx, name); err != nil {
		return fmt.Errorf("%w: savepoint %s: %v", models.ErrInfrastructure, name, err)
	}
	if err := fn(ctx, scope.tx); err != nil {
		if rbErr := sp.RollbackTo(ctx, name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint failed: %v)", err, rbErr)
		}
		return err
	}
	return sp.ReleaseSavepoint(ctx, name)
}
