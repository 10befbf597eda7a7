package memory

import (
	"context"
	"errors"
	"fmt"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

var errTxDone = errors.New("transaction has already been committed or rolled back")

// memTx is a serializable transaction: the store admits one at a time and
// undoes its writes in reverse order on rollback. Its fields are guarded by
// the store's data mutex.
type memTx struct {
	s     *Store
	undo  []func()
	marks map[string]int
	done  bool
}

// BeginTx waits for the running transaction, if any, to finish.
func (s *Store) BeginTx(ctx context.Context) (txn.Tx, error) {
	select {
	case s.txSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := s.fault("BeginTx"); err != nil {
		<-s.txSem
		return nil, err
	}
	return &memTx{s: s, marks: make(map[string]int)}, nil
}

func (t *memTx) Commit() error {
	t.s.mu.Lock()
	if t.done {
		t.s.mu.Unlock()
		return errTxDone
	}
	t.done = true
	t.undo = nil
	t.s.mu.Unlock()

	<-t.s.txSem
	return nil
}

func (t *memTx) Rollback() error {
	t.s.mu.Lock()
	if t.done {
		t.s.mu.Unlock()
		return errTxDone
	}
	t.done = true
	t.unwind(0)
	t.s.mu.Unlock()

	<-t.s.txSem
	return nil
}

func (t *memTx) Savepoint(ctx context.Context, name string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.marks[name] = len(t.undo)
	return nil
}

func (t *memTx) RollbackTo(ctx context.Context, name string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return errTxDone
	}
	mark, ok := t.marks[name]
	if !ok {
		return fmt.Errorf("savepoint %q does not exist", name)
	}
	t.unwind(mark)
	return nil
}

func (t *memTx) ReleaseSavepoint(ctx context.Context, name string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return errTxDone
	}
	if _, ok := t.marks[name]; !ok {
		return fmt.Errorf("savepoint %q does not exist", name)
	}
	delete(t.marks, name)
	return nil
}

// unwind reverts every write recorded after mark. Caller holds the data mutex.
func (t *memTx) unwind(mark int) {
	for i := len(t.undo) - 1; i >= mark; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:mark]
}

// use validates tx and returns a function recording undo steps for it. A nil
// tx writes in autocommit mode. Caller holds the data mutex.
func (s *Store) use(tx txn.Tx) (func(undo func()), error) {
	if tx == nil {
		return func(func()) {}, nil
	}
	t, ok := tx.(*memTx)
	if !ok || t.s != s {
		return nil, fmt.Errorf("%w: transaction %T was not opened by this store", models.ErrInfrastructure, tx)
	}
	if t.done {
		return nil, fmt.Errorf("%w: %v", models.ErrInfrastructure, errTxDone)
	}
	return func(undo func()) { t.undo = append(t.undo, undo) }, nil
}
