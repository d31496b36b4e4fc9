package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/querygate/internal/config"
)

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		Host:               "127.0.0.1",
		Port:               1, // nothing listens here
		Database:           "app",
		User:               "svc",
		Password:           "p@ss:w/rd?",
		MaxConns:           4,
		IdleTimeout:        30 * time.Second,
		ConnectTimeout:     500 * time.Millisecond,
		KeepAlive:          true,
		KeepAliveDelay:     10 * time.Second,
		InsecureSkipVerify: true,
	}
}

func TestPgxConfig_MapsSettings(t *testing.T) {
	cfg := testPoolConfig()
	pc, err := PgxConfig(cfg)
	if err != nil {
		t.Fatalf("PgxConfig() error = %v", err)
	}

	if pc.MaxConns != 4 {
		t.Errorf("MaxConns = %d, want 4", pc.MaxConns)
	}
	if pc.MinConns != 0 {
		t.Errorf("MinConns = %d, want 0", pc.MinConns)
	}
	if pc.MaxConnIdleTime != 30*time.Second {
		t.Errorf("MaxConnIdleTime = %s, want 30s", pc.MaxConnIdleTime)
	}
	if pc.HealthCheckPeriod != 15*time.Second {
		t.Errorf("HealthCheckPeriod = %s, want 15s", pc.HealthCheckPeriod)
	}
	if pc.ConnConfig.ConnectTimeout != 500*time.Millisecond {
		t.Errorf("ConnectTimeout = %s, want 500ms", pc.ConnConfig.ConnectTimeout)
	}
	if pc.ConnConfig.Host != "127.0.0.1" || pc.ConnConfig.Port != 1 {
		t.Errorf("target = %s:%d", pc.ConnConfig.Host, pc.ConnConfig.Port)
	}
	if pc.ConnConfig.User != "svc" || pc.ConnConfig.Database != "app" {
		t.Errorf("user/db = %s/%s", pc.ConnConfig.User, pc.ConnConfig.Database)
	}
	if pc.ConnConfig.Password != "p@ss:w/rd?" {
		t.Errorf("password was not preserved through URL encoding")
	}
	if pc.ConnConfig.TLSConfig == nil {
		t.Fatal("TLS must always be enabled")
	}
	if !pc.ConnConfig.TLSConfig.InsecureSkipVerify {
		t.Error("expected certificate verification to be skipped")
	}
	if len(pc.ConnConfig.Fallbacks) != 0 {
		t.Errorf("expected no plaintext fallbacks, got %d", len(pc.ConnConfig.Fallbacks))
	}
	if pc.ConnConfig.DialFunc == nil {
		t.Error("expected keep-alive dialer")
	}
}

func TestPgxConfig_ShortIdleTimeoutClampsHealthCheck(t *testing.T) {
	cfg := testPoolConfig()
	cfg.IdleTimeout = time.Second

	pc, err := PgxConfig(cfg)
	if err != nil {
		t.Fatalf("PgxConfig() error = %v", err)
	}
	if pc.HealthCheckPeriod != time.Second {
		t.Errorf("HealthCheckPeriod = %s, want 1s", pc.HealthCheckPeriod)
	}
}

func TestClassifyAcquireError(t *testing.T) {
	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := classifyAcquireError(expired, errors.New("acquire interrupted"))
	if err.Kind != Timeout {
		t.Errorf("Kind = %s, want Timeout", err.Kind)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout() = false, want true")
	}

	err = classifyAcquireError(context.Background(), context.DeadlineExceeded)
	if err.Kind != Timeout {
		t.Errorf("Kind = %s, want Timeout for wrapped deadline", err.Kind)
	}

	refused := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	err = classifyAcquireError(context.Background(), refused)
	if err.Kind != ConnectionFailure {
		t.Errorf("Kind = %s, want ConnectionFailure", err.Kind)
	}
	if !errors.Is(err, refused) {
		t.Error("PoolError should unwrap to its cause")
	}
}

func TestConnect_UnreachableDatabaseFails(t *testing.T) {
	cfg := testPoolConfig()
	p, err := Connect(context.Background(), cfg, zerolog.Nop())
	if err == nil {
		_ = p.Shutdown(context.Background())
		t.Fatal("expected Connect to fail against a closed port")
	}
	if !strings.Contains(err.Error(), "database unreachable") {
		t.Errorf("unexpected error: %v", err)
	}
	if strings.Contains(err.Error(), cfg.Password) {
		t.Errorf("error leaked password: %v", err)
	}
	var pe *PoolError
	if !errors.As(err, &pe) {
		t.Errorf("expected a PoolError in the chain, got %T", err)
	}
}

func TestConnect_PoolConstructionFailure(t *testing.T) {
	orig := newPoolWithConfig
	t.Cleanup(func() { newPoolWithConfig = orig })

	sentinel := errors.New("boom")
	newPoolWithConfig = func(context.Context, *pgxpool.Config) (*pgxpool.Pool, error) {
		return nil, sentinel
	}

	_, err := Connect(context.Background(), testPoolConfig(), zerolog.Nop())
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

// lazyPool builds a Pool without dialing; pgxpool only connects on Acquire.
func lazyPool(t *testing.T) *Pool {
	t.Helper()
	cfg := testPoolConfig()
	pc, err := PgxConfig(cfg)
	if err != nil {
		t.Fatalf("PgxConfig() error = %v", err)
	}
	pgxPool, err := pgxpool.NewWithConfig(context.Background(), pc)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	return &Pool{pool: pgxPool, cfg: cfg, logger: zerolog.Nop()}
}

func TestAcquire_ConnectionRefused(t *testing.T) {
	p := lazyPool(t)
	defer p.Shutdown(context.Background())

	conn, err := p.Acquire(context.Background())
	if err == nil {
		conn.Release()
		t.Fatal("expected acquire to fail")
	}
	var pe *PoolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PoolError, got %T", err)
	}
	if got := p.Stats().AcquiredConns; got != 0 {
		t.Errorf("AcquiredConns = %d after failed acquire, want 0", got)
	}
}

func TestShutdown_IsIdempotentAndClosesAcquire(t *testing.T) {
	p := lazyPool(t)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
	if !p.closed.Load() {
		t.Error("pool not marked closed after Shutdown")
	}

	_, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	var pe *PoolError
	if !errors.As(err, &pe) || pe.Kind != ConnectionFailure {
		t.Errorf("expected ConnectionFailure PoolError, got %v", err)
	}
}

func TestPoolErrorKind_String(t *testing.T) {
	if Timeout.String() != "Timeout" || ConnectionFailure.String() != "ConnectionFailure" {
		t.Error("unexpected kind names")
	}
	if PoolErrorKind(0).String() != "Unknown" {
		t.Error("zero kind should be Unknown")
	}
}
