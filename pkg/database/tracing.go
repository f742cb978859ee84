package database

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/facetindex/pkg/database"

type queryStartKey struct{}

type queryStart struct {
	sql   string
	start time.Time
	span  trace.Span
}

// QueryTracer is a pgx.QueryTracer that opens one client span per statement
// and warns about statements slower than Threshold.
type QueryTracer struct {
	Threshold time.Duration
	Logger    *slog.Logger

	tracer trace.Tracer
	now    func() time.Time
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

// NewQueryTracer returns a tracer using the global OpenTelemetry provider.
// A zero threshold or nil logger disables slow query warnings.
func NewQueryTracer(threshold time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{
		Threshold: threshold,
		Logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := t.tracer.Start(ctx, "db."+operation(data.SQL),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", data.SQL),
		),
	)
	return context.WithValue(ctx, queryStartKey{}, &queryStart{sql: data.SQL, start: t.now(), span: span})
}

func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartKey{}).(*queryStart)
	if !ok {
		return
	}
	if data.Err != nil {
		qs.span.RecordError(data.Err)
		qs.span.SetStatus(codes.Error, data.Err.Error())
	}
	qs.span.End()

	if t.Threshold <= 0 || t.Logger == nil {
		return
	}
	if elapsed := t.now().Sub(qs.start); elapsed >= t.Threshold {
		attrs := []any{
			slog.String("operation", operation(qs.sql)),
			slog.String("statement", qs.sql),
			slog.Duration("duration", elapsed),
		}
		if data.Err != nil {
			attrs = append(attrs, slog.String("error", data.Err.Error()))
		}
		t.Logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}

// operation returns the leading SQL keyword, e.g. "select" or "insert".
func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "query"
	}
	return strings.ToLower(fields[0])
}
