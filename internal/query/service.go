// Package query executes caller-supplied SQL against the pool and shapes the
// result for JSON. It performs no validation beyond requiring query text.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TimurManjosov/querygate/internal/db"
	"github.com/TimurManjosov/querygate/internal/telemetry"
)

// Request is one query with its positional parameters.
type Request struct {
	Text   string `json:"text"`
	Params []any  `json:"params,omitempty"`
}

// FieldDescription describes one result column.
type FieldDescription struct {
	Name             string `json:"name"`
	TableID          uint32 `json:"tableID"`
	ColumnID         uint16 `json:"columnID"`
	DataTypeID       uint32 `json:"dataTypeID"`
	DataTypeSize     int16  `json:"dataTypeSize"`
	DataTypeModifier int32  `json:"dataTypeModifier"`
	Format           string `json:"format"`
}

// Result is what a successful query returns.
type Result struct {
	Rows     []map[string]any   `json:"rows"`
	RowCount int64              `json:"rowCount"`
	Fields   []FieldDescription `json:"fields"`
}

// Service runs queries on connections leased from an Acquirer.
type Service struct {
	pool   db.Acquirer
	logger zerolog.Logger
}

func NewService(pool db.Acquirer, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		logger: logger.With().Str("component", "query").Logger(),
	}
}

// Execute runs req on a single leased connection. The connection is released
// on every return path. Errors are *ServiceError; the service never retries.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		telemetry.QueriesTotal.WithLabelValues("bad_request").Inc()
		return nil, &ServiceError{Kind: BadRequest, Message: "Query text is required"}
	}

	fp := Fingerprint(req.Text)
	ctx, span := telemetry.Tracer().Start(ctx, "query.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("querygate.fingerprint", fp),
		attribute.Int("querygate.params", len(req.Params)),
	)

	start := time.Now()
	res, err := s.run(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		telemetry.QueriesTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.logger.Warn().Err(err).Str("fingerprint", fp).Dur("duration", elapsed).Msg("query failed")
		return nil, &ServiceError{Kind: QueryFailed, Message: err.Error(), Err: err}
	}

	telemetry.QueriesTotal.WithLabelValues("ok").Inc()
	telemetry.QueryDuration.Observe(elapsed.Seconds())
	telemetry.QueryRows.Observe(float64(len(res.Rows)))
	span.SetAttributes(attribute.Int64("querygate.row_count", res.RowCount))
	s.logger.Debug().
		Str("fingerprint", fp).
		Int64("row_count", res.RowCount).
		Dur("duration", elapsed).
		Msg("query executed")
	return res, nil
}

func (s *Service) run(ctx context.Context, req Request) (*Result, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, req.Text, req.Params...)
	if err != nil {
		return nil, err
	}
	// CollectRows closes rows; the deferred close covers the early returns above it
	defer rows.Close()

	fields := describeFields(rows.FieldDescriptions())
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		for k, v := range rec {
			rec[k] = normalize(v)
		}
	}
	if records == nil {
		records = []map[string]any{}
	}

	rowCount := rows.CommandTag().RowsAffected()
	if rowCount == 0 && len(records) > 0 {
		rowCount = int64(len(records))
	}

	return &Result{Rows: records, RowCount: rowCount, Fields: fields}, nil
}

func describeFields(fds []pgconn.FieldDescription) []FieldDescription {
	out := make([]FieldDescription, len(fds))
	for i, fd := range fds {
		format := "text"
		if fd.Format == pgx.BinaryFormatCode {
			format = "binary"
		}
		out[i] = FieldDescription{
			Name:             fd.Name,
			TableID:          fd.TableOID,
			ColumnID:         fd.TableAttributeNumber,
			DataTypeID:       fd.DataTypeOID,
			DataTypeSize:     fd.DataTypeSize,
			DataTypeModifier: fd.TypeModifier,
			Format:           format,
		}
	}
	return out
}

// normalize converts driver values that do not marshal to readable JSON.
func normalize(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case float64:
		return nonFinite(val)
	case float32:
		if f := float64(val); math.IsNaN(f) || math.IsInf(f, 0) {
			return nonFinite(f)
		}
		return val
	case []any:
		for i := range val {
			val[i] = normalize(val[i])
		}
		return val
	default:
		return v
	}
}

// nonFinite spells NaN and infinities the way PostgreSQL prints them; JSON
// has no literal for them.
func nonFinite(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

// Fingerprint identifies query text in logs and traces without recording it.
func Fingerprint(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(text)))
}

// IsBadRequest reports whether err is a ServiceError caused by the request shape.
func IsBadRequest(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == BadRequest
}
