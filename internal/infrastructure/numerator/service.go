// Package numerator implements document auto-numbering on PostgreSQL and in
// process memory.
package numerator

import (
	"context"
	"fmt"
	"sync"
	"time"

	corenumerator "backoffice/internal/core/numerator"
	"backoffice/internal/infrastructure/storage/postgres"
)

// Sequences draws numbers from sys_sequences with UPSERT ... RETURNING. The
// statement runs on the transaction in ctx when there is one, so a rolled
// back ledger write gives its number back and committed numbers have no gaps.
type Sequences struct {
	txManager *postgres.TxManager
}

var _ corenumerator.Generator = (*Sequences)(nil)

// NewSequences creates a PostgreSQL-backed generator.
func NewSequences(txManager *postgres.TxManager) *Sequences {
	return &Sequences{txManager: txManager}
}

// Next implements corenumerator.Generator.
func (s *Sequences) Next(ctx context.Context, cfg corenumerator.Config, period time.Time) (string, error) {
	key := cfg.Key(period)

	var n int64
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (key) DO UPDATE SET
			current_val = sys_sequences.current_val + 1,
			updated_at = NOW()
		RETURNING current_val
	`, key).Scan(&n)
	if err != nil {
		return "", postgres.Translate(fmt.Errorf("next number for %s: %w", key, err))
	}
	return cfg.Format(period, n), nil
}

// Set makes the next number of cfg's sequence for period value+1. Used when
// importing documents numbered elsewhere.
func (s *Sequences) Set(ctx context.Context, cfg corenumerator.Config, period time.Time, value int64) error {
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_sequences (key, current_val, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET current_val = $2, updated_at = NOW()
	`, cfg.Key(period), value)
	if err != nil {
		return postgres.Translate(fmt.Errorf("set sequence: %w", err))
	}
	return nil
}

// Memory keeps sequences in process. Numbers are not returned on rollback.
type Memory struct {
	mu   sync.Mutex
	vals map[string]int64
}

var _ corenumerator.Generator = (*Memory)(nil)

// NewMemory creates an in-memory generator.
func NewMemory() *Memory {
	return &Memory{vals: make(map[string]int64)}
}

// Next implements corenumerator.Generator.
func (m *Memory) Next(ctx context.Context, cfg corenumerator.Config, period time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := cfg.Key(period)

	m.mu.Lock()
	m.vals[key]++
	n := m.vals[key]
	m.mu.Unlock()

	return cfg.Format(period, n), nil
}
