package database

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/metrics"
)

// QueryLoggerConfig configures query logging behavior.
type QueryLoggerConfig struct {
	// Queries slower than SlowQueryThreshold log at WARN, slower than
	// VerySlowQueryThreshold at ERROR.
	SlowQueryThreshold     time.Duration
	VerySlowQueryThreshold time.Duration

	// LogAllQueries logs a SampleRate fraction of fast queries at DEBUG.
	LogAllQueries bool
	SampleRate    float64
}

// DefaultQueryLoggerConfig returns sensible defaults for query logging.
func DefaultQueryLoggerConfig() *QueryLoggerConfig {
	return &QueryLoggerConfig{
		SlowQueryThreshold:     100 * time.Millisecond,
		VerySlowQueryThreshold: 500 * time.Millisecond,
		SampleRate:             0.1,
	}
}

// QueryStats is a point-in-time copy of the logger's counters.
type QueryStats struct {
	Total           int64         `json:"total"`
	Slow            int64         `json:"slow"`
	VerySlow        int64         `json:"very_slow"`
	Failed          int64         `json:"failed"`
	AvgDuration     time.Duration `json:"avg_duration_ns"`
	SlowestQuery    string        `json:"slowest_query,omitempty"`
	SlowestDuration time.Duration `json:"slowest_duration_ns"`
}

// QueryLogger implements pgx.QueryTracer. It logs slow and failed queries and
// records query durations by SQL verb.
type QueryLogger struct {
	config  *QueryLoggerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	total    atomic.Int64
	slow     atomic.Int64
	verySlow atomic.Int64
	failed   atomic.Int64
	sample   atomic.Uint64

	mu              sync.Mutex
	totalDuration   time.Duration
	slowestQuery    string
	slowestDuration time.Duration
}

// NewQueryLogger creates a new query logger. A nil config uses the defaults.
func NewQueryLogger(cfg *QueryLoggerConfig, logger *zap.Logger, m *metrics.Metrics) *QueryLogger {
	if cfg == nil {
		cfg = DefaultQueryLoggerConfig()
	}
	return &QueryLogger{
		config:  cfg,
		logger:  logger.Named("query"),
		metrics: m,
		now:     time.Now,
	}
}

type queryTraceData struct {
	startTime time.Time
	sql       string
}

type ctxKey struct{}

// TraceQueryStart implements pgx.QueryTracer.
func (ql *QueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, ctxKey{}, &queryTraceData{
		startTime: ql.now(),
		sql:       data.SQL,
	})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (ql *QueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(ctxKey{}).(*queryTraceData)
	if !ok {
		return
	}
	ql.observe(td.sql, ql.now().Sub(td.startTime), data.CommandTag.String(), data.Err)
}

func (ql *QueryLogger) observe(sql string, duration time.Duration, tag string, err error) {
	ql.total.Add(1)
	ql.metrics.RecordDBQuery(operation(sql), duration, err)

	ql.mu.Lock()
	ql.totalDuration += duration
	if duration > ql.slowestDuration {
		ql.slowestDuration = duration
		ql.slowestQuery = truncateSQL(sql, 200)
	}
	ql.mu.Unlock()

	if err != nil {
		ql.failed.Add(1)
		ql.logger.Error("query failed",
			zap.String("sql", truncateSQL(sql, 500)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	switch {
	case duration >= ql.config.VerySlowQueryThreshold:
		ql.verySlow.Add(1)
		ql.slow.Add(1)
		ql.logger.Error("very slow query detected",
			zap.String("sql", truncateSQL(sql, 500)),
			zap.Duration("duration", duration),
			zap.String("command_tag", tag),
		)
	case duration >= ql.config.SlowQueryThreshold:
		ql.slow.Add(1)
		ql.logger.Warn("slow query detected",
			zap.String("sql", truncateSQL(sql, 500)),
			zap.Duration("duration", duration),
			zap.String("command_tag", tag),
		)
	case ql.config.LogAllQueries && ql.shouldSample():
		ql.logger.Debug("query executed",
			zap.String("sql", truncateSQL(sql, 200)),
			zap.Duration("duration", duration),
			zap.String("command_tag", tag),
		)
	}
}

// Stats returns a copy of the current counters.
func (ql *QueryLogger) Stats() QueryStats {
	st := QueryStats{
		Total:    ql.total.Load(),
		Slow:     ql.slow.Load(),
		VerySlow: ql.verySlow.Load(),
		Failed:   ql.failed.Load(),
	}
	ql.mu.Lock()
	defer ql.mu.Unlock()
	if st.Total > 0 {
		st.AvgDuration = ql.totalDuration / time.Duration(st.Total)
	}
	st.SlowestQuery = ql.slowestQuery
	st.SlowestDuration = ql.slowestDuration
	return st
}

// ResetStats zeroes the counters.
func (ql *QueryLogger) ResetStats() {
	ql.total.Store(0)
	ql.slow.Store(0)
	ql.verySlow.Store(0)
	ql.failed.Store(0)

	ql.mu.Lock()
	ql.totalDuration = 0
	ql.slowestQuery = ""
	ql.slowestDuration = 0
	ql.mu.Unlock()
}

func (ql *QueryLogger) shouldSample() bool {
	if ql.config.SampleRate >= 1.0 {
		return true
	}
	if ql.config.SampleRate <= 0 {
		return false
	}
	count := ql.sample.Add(1)
	every := uint64(1.0 / ql.config.SampleRate)
	return count%every == 0
}

// operation returns the lowercased leading SQL verb, e.g. "select".
func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

func truncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen-3] + "..."
}
