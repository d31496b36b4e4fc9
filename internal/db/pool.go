// Package db owns the PostgreSQL connection pool: construction from the
// resolved configuration, leased connections, and the shutdown drain.
package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/querygate/internal/config"
)

// Conn is a connection leased from the pool. Release must be called exactly
// once; extra calls are ignored.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Release()
}

// Acquirer hands out leased connections. Handlers depend on this rather than
// on *Pool so they can be tested without a database.
type Acquirer interface {
	Acquire(ctx context.Context) (Conn, error)
}

// Pool is the process-wide connection pool. It wraps (does not embed)
// *pgxpool.Pool so that every lease goes through Acquire.
type Pool struct {
	pool   *pgxpool.Pool
	cfg    config.PoolConfig
	logger zerolog.Logger

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

var _ Acquirer = (*Pool)(nil)

// newPoolWithConfig is a seam for tests that need a pool without connecting.
var newPoolWithConfig = pgxpool.NewWithConfig

// PgxConfig translates a PoolConfig into pgxpool settings.
//
// Configuration:
//   - TLS always on (sslmode=require), chain verification per InsecureSkipVerify
//   - MaxConns from the config, MinConns 0 so idle connections can drain
//   - MaxConnIdleTime = IdleTimeout; the background health check runs at half
//     that period so stale idle connections are evicted promptly
//   - TCP keep-alive through a custom dialer
func PgxConfig(cfg config.PoolConfig) (*pgxpool.Config, error) {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=require",
	}
	pc, err := pgxpool.ParseConfig(u.String())
	if err != nil {
		// the parse error may echo the DSN; report the safe target only
		return nil, fmt.Errorf("invalid database settings for %s", cfg)
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = 0
	pc.MaxConnIdleTime = cfg.IdleTimeout
	pc.HealthCheckPeriod = max(cfg.IdleTimeout/2, time.Second)

	pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	if pc.ConnConfig.TLSConfig != nil {
		pc.ConnConfig.TLSConfig.InsecureSkipVerify = cfg.InsecureSkipVerify
		pc.ConnConfig.TLSConfig.ServerName = cfg.Host
	}
	pc.ConnConfig.Fallbacks = nil

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: -1}
	if cfg.KeepAlive {
		dialer.KeepAlive = cfg.KeepAliveDelay
	}
	pc.ConnConfig.DialFunc = dialer.DialContext

	return pc, nil
}

// Connect builds the pool and verifies it with one acquire, ping and release.
// A failed verification closes the pool and returns the error; callers treat it
// as fatal so traffic is never served against an unreachable database.
func Connect(ctx context.Context, cfg config.PoolConfig, logger zerolog.Logger) (*Pool, error) {
	pc, err := PgxConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := newPoolWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool (target=%s): %w", cfg, err)
	}

	p := &Pool{pool: pool, cfg: cfg, logger: logger.With().Str("component", "db").Logger()}

	start := time.Now()
	if err := p.verify(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable (target=%s): %w", cfg, err)
	}

	p.logger.Info().
		Str("target", cfg.String()).
		Int32("max_conns", cfg.MaxConns).
		Dur("idle_timeout", cfg.IdleTimeout).
		Dur("connect_timeout", cfg.ConnectTimeout).
		Bool("keepalive", cfg.KeepAlive).
		Dur("verify_duration", time.Since(start)).
		Msg("database pool ready")

	return p, nil
}

func (p *Pool) verify(ctx context.Context) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

// Acquire leases a connection. Waiting for a free slot (or dialing a new
// connection) is bounded by the configured connect timeout.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	if p.closed.Load() {
		return nil, &PoolError{Kind: ConnectionFailure, Err: ErrPoolClosed}
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	c, err := p.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, classifyAcquireError(acquireCtx, err)
	}
	return &pooledConn{conn: c}, nil
}

// classifyAcquireError maps a failed acquire onto the PoolError taxonomy.
func classifyAcquireError(acquireCtx context.Context, err error) *PoolError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
		return &PoolError{Kind: Timeout, Err: err}
	}
	return &PoolError{Kind: ConnectionFailure, Err: err}
}

// Shutdown closes every connection, waiting for leased ones to be released.
// It runs once; later calls return the first result. If ctx expires before the
// drain completes the error reports how many connections were still leased.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.closed.Store(true)

		done := make(chan struct{})
		go func() {
			p.pool.Close()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info().Msg("database pool closed")
		case <-ctx.Done():
			p.shutdownErr = fmt.Errorf("database pool drain incomplete, %d connection(s) still leased: %w",
				p.pool.Stat().AcquiredConns(), ctx.Err())
		}
	})
	return p.shutdownErr
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	AcquiredConns        int32
	IdleConns            int32
	TotalConns           int32
	MaxConns             int32
	AcquireCount         int64
	EmptyAcquireCount    int64
	CanceledAcquireCount int64
	AcquireDuration      time.Duration
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	s := p.pool.Stat()
	return Stats{
		AcquiredConns:        s.AcquiredConns(),
		IdleConns:            s.IdleConns(),
		TotalConns:           s.TotalConns(),
		MaxConns:             s.MaxConns(),
		AcquireCount:         s.AcquireCount(),
		EmptyAcquireCount:    s.EmptyAcquireCount(),
		CanceledAcquireCount: s.CanceledAcquireCount(),
		AcquireDuration:      s.AcquireDuration(),
	}
}

// pooledConn guards against double release of the underlying lease.
type pooledConn struct {
	conn     *pgxpool.Conn
	released atomic.Bool
}

func (c *pooledConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

func (c *pooledConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *pooledConn) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.conn.Release()
	}
}
