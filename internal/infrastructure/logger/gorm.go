package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger writes ledger SQL through zap with the request and run ids of
// the calling context.
type GormLogger struct {
	zl             *zap.Logger
	level          gormlogger.LogLevel
	slow           time.Duration
	ignoreNotFound bool
}

var _ gormlogger.Interface = (*GormLogger)(nil)

type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets when a statement counts as slow. 0 turns the
// warning off.
func WithSlowThreshold(d time.Duration) GormLoggerOption {
	return func(l *GormLogger) { l.slow = d }
}

// WithIgnoreRecordNotFoundError skips ErrRecordNotFound, which is the default.
func WithIgnoreRecordNotFoundError(ignore bool) GormLoggerOption {
	return func(l *GormLogger) { l.ignoreNotFound = ignore }
}

func NewGormLogger(base *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	l := &GormLogger{
		zl:             base.Named("gorm"),
		level:          level,
		slow:           200 * time.Millisecond,
		ignoreNotFound: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) printf(ctx context.Context, min gormlogger.LogLevel, lvl zapcore.Level, msg string, data []any) {
	if l.level < min {
		return
	}
	WithLogger(ctx, l.zl).Zap().Sugar().Logf(lvl, msg, data...)
}

// Trace logs one statement: failures at error, slow ones at warn and the rest
// at debug when the level is Info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if err != nil && l.ignoreNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
		if l.level < gormlogger.Info {
			return
		}
	}

	took := time.Since(begin)
	query, rows := fc()
	stmt := []zap.Field{zap.String("sql", query), zap.Int64("rows", rows), zap.Duration("elapsed", took)}
	log := WithLogger(ctx, l.zl)

	switch {
	case err != nil:
		if l.level >= gormlogger.Error {
			log.Error("SQL error", append(stmt, zap.Error(err))...)
		}
	case l.slow > 0 && took > l.slow:
		if l.level >= gormlogger.Warn {
			log.Warn("Slow SQL", append(stmt, zap.Duration("threshold", l.slow))...)
		}
	case l.level >= gormlogger.Info:
		log.Debug("SQL query", stmt...)
	}
}

// MapGormLogLevel picks the gorm level for an application log level. Every
// statement is logged only at debug.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	levels := map[string]gormlogger.LogLevel{
		"silent": gormlogger.Silent,
		"debug":  gormlogger.Info,
		"error":  gormlogger.Error,
	}
	if gl, ok := levels[level]; ok {
		return gl
	}
	return gormlogger.Warn
}
