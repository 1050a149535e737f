// Package postgres provides the PostgreSQL-backed ledger storage: the pool,
// the transaction manager, schema migrations and the idempotency store.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"backoffice/pkg/logger"
)

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	DSN      string
	AppName  string
	MaxConns int32
	MinConns int32

	// StatementTimeout caps every statement on the session; zero leaves the server default.
	StatementTimeout time.Duration

	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig returns defaults sized for a single back-office instance.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:               dsn,
		AppName:           "backoffice",
		MaxConns:          10,
		MinConns:          1,
		StatementTimeout:  30 * time.Second,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   15 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// Pool wraps pgxpool.Pool.
type Pool struct {
	*pgxpool.Pool
}

// NewPool parses cfg, connects and pings. Session settings travel as runtime
// params so they apply to every connection without an extra round trip.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= pc.MaxConns {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	params := pc.ConnConfig.RuntimeParams
	if cfg.AppName != "" {
		params["application_name"] = cfg.AppName
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Close closes all connections in the pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// PoolStats is a snapshot of pool usage for health output and logs.
type PoolStats struct {
	Total           int32  `json:"total"`
	Acquired        int32  `json:"acquired"`
	Idle            int32  `json:"idle"`
	Max             int32  `json:"max"`
	EmptyAcquire    int64  `json:"emptyAcquire"`
	AcquireDuration string `json:"acquireDuration"`
}

// Stats returns the current pool usage.
func (p *Pool) Stats() PoolStats {
	s := p.Stat()
	return PoolStats{
		Total:           s.TotalConns(),
		Acquired:        s.AcquiredConns(),
		Idle:            s.IdleConns(),
		Max:             s.MaxConns(),
		EmptyAcquire:    s.EmptyAcquireCount(),
		AcquireDuration: s.AcquireDuration().String(),
	}
}

// LogPoolStats logs pool statistics. Exhaustion is logged as a warning.
func (p *Pool) LogPoolStats(ctx context.Context) {
	st := p.Stats()
	kv := []any{
		"total", st.Total,
		"acquired", st.Acquired,
		"idle", st.Idle,
		"max", st.Max,
		"empty_acquire", st.EmptyAcquire,
		"acquire_duration", st.AcquireDuration,
	}
	if st.Max > 0 && st.Acquired >= st.Max {
		logger.Warn(ctx, "database pool exhausted", kv...)
		return
	}
	logger.Info(ctx, "database pool stats", kv...)
}
