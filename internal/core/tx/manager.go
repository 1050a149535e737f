// Package tx defines the transaction contract the ledger depends on.
// Postgres and in-memory storage both implement it.
package tx

import (
	"context"
)

// Manager runs a unit of work atomically.
type Manager interface {
	// RunInTransaction executes fn within a transaction. If fn returns an error
	// the work is rolled back. Nested calls reuse the transaction in ctx.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ManagerFunc adapts a function to Manager.
type ManagerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// RunInTransaction calls f.
func (f ManagerFunc) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Passthrough runs fn directly. Used by storage without transactions.
var Passthrough Manager = ManagerFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
