package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const maxLoggedSQL = 512

// zapGorm routes gorm's query log into zap. Hedge writes are small and
// frequent, so successful queries go to Debug and only slow or failed
// ones surface at Warn/Error.
type zapGorm struct {
	log   *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLogger(log *zap.Logger, level gormlogger.LogLevel, slow time.Duration) gormlogger.Interface {
	return &zapGorm{log: log.WithOptions(zap.AddCallerSkip(3)), level: level, slow: slow}
}

// parseLogLevel maps a config string to a gorm level; unknown values are Warn.
func parseLogLevel(s string) gormlogger.LogLevel {
	switch s {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (z *zapGorm) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *z
	cp.level = level
	return &cp
}

func (z *zapGorm) Info(_ context.Context, msg string, args ...interface{}) {
	if z.level >= gormlogger.Info {
		z.log.Sugar().Infof(msg, args...)
	}
}

func (z *zapGorm) Warn(_ context.Context, msg string, args ...interface{}) {
	if z.level >= gormlogger.Warn {
		z.log.Sugar().Warnf(msg, args...)
	}
}

func (z *zapGorm) Error(_ context.Context, msg string, args ...interface{}) {
	if z.level >= gormlogger.Error {
		z.log.Sugar().Errorf(msg, args...)
	}
}

func (z *zapGorm) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if z.level == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := z.slow > 0 && elapsed > z.slow

	var log func(string, ...zap.Field)
	switch {
	case failed && z.level >= gormlogger.Error:
		log = z.log.Error
	case slow && z.level >= gormlogger.Warn:
		log = z.log.Warn
	case z.level >= gormlogger.Info:
		log = z.log.Debug
	default:
		return
	}

	sql, rows := fc()
	if len(sql) > maxLoggedSQL {
		sql = sql[:maxLoggedSQL] + "..."
	}
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	if failed {
		fields = append(fields, zap.Error(err))
	}
	log("Storage query", fields...)
}
