package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQuery is the elapsed time above which a query is logged as a warning.
const slowQuery = 500 * time.Millisecond

var gormLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

// gormLog routes GORM's logging through slog. GORM's own levels gate what
// reaches slog; query traces are emitted at debug.
type gormLog struct {
	log   *slog.Logger
	level logger.LogLevel
}

func newGormLogger(level string, log *slog.Logger) *gormLog {
	lvl, ok := gormLevels[level]
	if !ok {
		lvl = logger.Warn
	}
	return &gormLog{log: log, level: lvl}
}

func (g *gormLog) LogMode(level logger.LogLevel) logger.Interface {
	out := *g
	out.level = level
	return &out
}

func (g *gormLog) printf(ctx context.Context, at logger.LogLevel, lvl slog.Level, msg string, args []any) {
	if g.level >= at {
		g.log.Log(ctx, lvl, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLog) Info(ctx context.Context, msg string, args ...any) {
	g.printf(ctx, logger.Info, slog.LevelInfo, msg, args)
}

func (g *gormLog) Warn(ctx context.Context, msg string, args ...any) {
	g.printf(ctx, logger.Warn, slog.LevelWarn, msg, args)
}

func (g *gormLog) Error(ctx context.Context, msg string, args ...any) {
	g.printf(ctx, logger.Error, slog.LevelError, msg, args)
}

func (g *gormLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	var (
		lvl slog.Level
		msg string
	)
	switch {
	case g.level <= logger.Silent:
		return
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= logger.Error:
		lvl, msg = slog.LevelError, "query failed"
	case elapsed > slowQuery && g.level >= logger.Warn:
		lvl, msg = slog.LevelWarn, "slow query"
	case g.level >= logger.Info:
		lvl, msg = slog.LevelDebug, "query"
	default:
		return
	}
	if !g.log.Enabled(ctx, lvl) {
		return
	}

	query, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", query),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	g.log.LogAttrs(ctx, lvl, msg, attrs...)
}
