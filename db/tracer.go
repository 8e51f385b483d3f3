package db

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/migadu/soradb/logger"
)

type traceStartKey struct{}

type traceStart struct {
	sql   string
	start time.Time
}

// queryTracer logs every statement executed on a pgx connection at debug level.
// It is installed when log_queries is enabled.
type queryTracer struct {
	pool string
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceStartKey{}, traceStart{sql: data.SQL, start: time.Now()})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	ts, ok := ctx.Value(traceStartKey{}).(traceStart)
	if !ok {
		return
	}
	args := []any{
		"pool", t.pool,
		"sql", truncateSQL(ts.sql),
		"duration", time.Since(ts.start),
		"rows", data.CommandTag.RowsAffected(),
	}
	if data.Err != nil {
		args = append(args, "error", data.Err)
	}
	logger.DebugContext(ctx, "DB: query", args...)
}

const maxLoggedSQL = 200

func truncateSQL(sql string) string {
	if len(sql) <= maxLoggedSQL {
		return sql
	}
	cut := maxLoggedSQL
	for cut > 0 && !utf8.RuneStart(sql[cut]) {
		cut--
	}
	return sql[:cut] + "..."
}
