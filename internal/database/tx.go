package database

import (
	"context"

	"gorm.io/gorm"
)

// CommitHooks collects callbacks that must run only after the enclosing
// transaction has committed.
type CommitHooks struct {
	fns []func()
}

// OnCommit queues fn. Queued callbacks run in registration order after a
// successful commit and are discarded on rollback.
func (h *CommitHooks) OnCommit(fn func()) {
	h.fns = append(h.fns, fn)
}

// Len returns the number of queued callbacks
func (h *CommitHooks) Len() int {
	return len(h.fns)
}

func (h *CommitHooks) drain() {
	fns := h.fns
	h.fns = nil
	for _, fn := range fns {
		fn()
	}
}

// WithTransaction runs fn inside a transaction and drains the commit hooks
// once the commit has succeeded. If fn or the commit fails nothing is run.
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB, hooks *CommitHooks) error) error {
	hooks := &CommitHooks{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, hooks)
	})
	if err != nil {
		return err
	}
	hooks.drain()
	return nil
}
