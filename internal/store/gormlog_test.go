package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestGormLog_Trace(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT 1", 1 }

	g := newGormLogger("warn", log)
	g.Trace(ctx, time.Now(), query, nil)
	assert.Empty(t, buf.String(), "fast queries are quiet at warn")

	g.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	assert.Contains(t, buf.String(), `"msg":"slow query"`)
	buf.Reset()

	g.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "missing records are not errors")

	g.Trace(ctx, time.Now(), query, errors.New("disk I/O error"))
	assert.Contains(t, buf.String(), `"msg":"query failed"`)
	assert.Contains(t, buf.String(), `"error":"disk I/O error"`)
	buf.Reset()

	g.LogMode(logger.Silent).Trace(ctx, time.Now(), query, errors.New("ignored"))
	assert.Empty(t, buf.String())

	newGormLogger("info", log).Trace(ctx, time.Now(), query, nil)
	assert.Contains(t, buf.String(), `"sql":"SELECT 1"`)
}

func TestGormLog_Levels(t *testing.T) {
	assert.Equal(t, logger.Warn, newGormLogger("", nil).level)
	assert.Equal(t, logger.Silent, newGormLogger("silent", nil).level)
	assert.Equal(t, logger.Info, newGormLogger("info", nil).level)
}
