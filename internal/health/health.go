// Package health probes database reachability for the health endpoint.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/querygate/internal/db"
	"github.com/TimurManjosov/querygate/internal/telemetry"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	DatabaseConnected    = "connected"
	DatabaseDisconnected = "disconnected"

	// DefaultProbeTimeout bounds acquire plus probe so monitors never hang.
	DefaultProbeTimeout = 5 * time.Second
)

// Status is the health report served at /api/health.
type Status struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Healthy reports whether the database probe succeeded.
func (s Status) Healthy() bool {
	return s.Status == StatusHealthy
}

type Service struct {
	pool    db.Acquirer
	env     string
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(pool db.Acquirer, env string, logger zerolog.Logger) *Service {
	return &Service{
		pool:    pool,
		env:     env,
		timeout: DefaultProbeTimeout,
		logger:  logger.With().Str("component", "health").Logger(),
		now:     time.Now,
	}
}

// WithTimeout overrides the probe timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

// Check leases a connection, runs SELECT 1 and releases it. It always returns
// a Status; failures (including panics in the driver) become an unhealthy report.
func (s *Service) Check(ctx context.Context) (st Status) {
	defer func() {
		if r := recover(); r != nil {
			st = s.unhealthy(fmt.Errorf("health probe panicked: %v", r))
		}
		s.record(st)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.probe(ctx); err != nil {
		return s.unhealthy(err)
	}
	return Status{
		Status:      StatusHealthy,
		Database:    DatabaseConnected,
		Timestamp:   s.timestamp(),
		Environment: s.env,
	}
}

func (s *Service) probe(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, "SELECT 1")
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

func (s *Service) unhealthy(err error) Status {
	s.logger.Warn().Err(err).Msg("database health probe failed")
	return Status{
		Status:    StatusUnhealthy,
		Database:  DatabaseDisconnected,
		Timestamp: s.timestamp(),
		Error:     err.Error(),
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Service) record(st Status) {
	telemetry.HealthChecks.WithLabelValues(st.Status).Inc()
	if st.Healthy() {
		telemetry.DatabaseUp.Set(1)
	} else {
		telemetry.DatabaseUp.Set(0)
	}
}
