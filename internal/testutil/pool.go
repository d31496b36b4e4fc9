package testutil

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/TimurManjosov/querygate/internal/db"
)

// QueryFunc produces the rows for a query issued through a FakePool connection.
type QueryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

// FakePool is an in-memory db.Acquirer that counts leases so tests can verify
// every acquire is matched by exactly one release.
type FakePool struct {
	AcquireErr error
	PingErr    error
	Query      QueryFunc

	mu             sync.Mutex
	acquired       int
	released       int
	doubleReleases int
	queries        []RecordedQuery
}

// RecordedQuery captures one call to Conn.Query.
type RecordedQuery struct {
	SQL  string
	Args []any
}

var _ db.Acquirer = (*FakePool)(nil)

// Acquire implements db.Acquirer.
func (p *FakePool) Acquire(ctx context.Context) (db.Conn, error) {
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	if err := ctx.Err(); err != nil {
		return nil, &db.PoolError{Kind: db.Timeout, Err: err}
	}
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return &fakeConn{pool: p}, nil
}

// Acquired returns the number of successful acquires.
func (p *FakePool) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

// Released returns the number of first releases.
func (p *FakePool) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// DoubleReleases returns how many times an already released lease was released again.
func (p *FakePool) DoubleReleases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doubleReleases
}

// InUse returns the number of leases that have not been released.
func (p *FakePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired - p.released
}

// Queries returns the queries issued so far.
func (p *FakePool) Queries() []RecordedQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RecordedQuery(nil), p.queries...)
}

type fakeConn struct {
	pool     *FakePool
	released bool
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.pool.mu.Lock()
	c.pool.queries = append(c.pool.queries, RecordedQuery{SQL: sql, Args: args})
	fn := c.pool.Query
	c.pool.mu.Unlock()

	if fn == nil {
		return NewRows([]string{"?column?"}, [][]any{{int32(1)}}), nil
	}
	return fn(ctx, sql, args...)
}

func (c *fakeConn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pool.PingErr
}

// Release records double releases instead of ignoring them so tests can
// assert the caller never attempts one.
func (c *fakeConn) Release() {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if c.released {
		c.pool.doubleReleases++
		return
	}
	c.released = true
	c.pool.released++
}
