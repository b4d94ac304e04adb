package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/config"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      ":memory:",
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_SQLite(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())
	assert.True(t, db.Migrator().HasTable(&BandwidthSample{}))
	assert.True(t, db.Migrator().HasTable(&SessionRecord{}))
}

func TestOpen_InvalidDriver(t *testing.T) {
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "invalid", DSN: ":memory:"}, nil)
	assert.Nil(t, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{uri: "https://CDN.example.com/live/master.m3u8?token=x", want: "cdn.example.com"},
		{uri: "http://example.com:8080/a.mpd", want: "example.com:8080"},
		{uri: "data:application/dash+xml,abc", want: "data:application/dash+xml,abc"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.want, HostOf(tt.uri))
		})
	}
}

func TestBandwidthHistory_Estimate(t *testing.T) {
	ctx := context.Background()
	h := NewBandwidthHistory(setupTestDB(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	_, err := h.Estimate(ctx, "cdn.example.com", time.Hour)
	require.ErrorIs(t, err, ErrNotFound)

	// An old sample outside the age limit.
	require.NoError(t, h.Record(ctx, "cdn.example.com", 100_000, 1_000))
	now = now.Add(2 * time.Hour)
	require.NoError(t, h.Record(ctx, "cdn.example.com", 1_000_000, 1_000))
	now = now.Add(time.Minute)
	require.NoError(t, h.Record(ctx, "cdn.example.com", 4_000_000, 3_000))
	require.NoError(t, h.Record(ctx, "other.example.com", 9_000_000, 1_000))
	require.NoError(t, h.Record(ctx, "cdn.example.com", 0, 1_000), "zero estimates are ignored")

	est, err := h.Estimate(ctx, "cdn.example.com", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3_250_000), est)

	samples, err := h.Samples(ctx, "cdn.example.com", 0)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, int64(4_000_000), samples[0].Bandwidth)
	assert.False(t, samples[0].ID.IsZero())

	n, err := h.Prune(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSessions_SaveAndList(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(setupTestDB(t))
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &SessionRecord{SessionID: "a", ManifestURI: "https://example.com/a.m3u8", StartedAt: start}
	require.NoError(t, s.Save(ctx, first))
	second := &SessionRecord{SessionID: "b", ManifestURI: "https://example.com/b.mpd", StartedAt: start.Add(time.Minute)}
	require.NoError(t, s.Save(ctx, second))

	require.NoError(t, s.Save(ctx, &SessionRecord{
		SessionID:     "a",
		ManifestURI:   first.ManifestURI,
		Switches:      3,
		BufferingTime: 1500 * time.Millisecond,
		StartedAt:     start,
	}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 3, got.Switches)
	assert.Equal(t, 1500*time.Millisecond, got.BufferingTime)

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].SessionID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestULID_Scan(t *testing.T) {
	id := NewULID()
	var got ULID
	require.NoError(t, got.Scan(id.String()))
	assert.Equal(t, id, got)
	require.NoError(t, got.Scan(nil))
	assert.True(t, got.IsZero())
	assert.Error(t, got.Scan(42))

	_, err := ParseULID("not-a-ulid")
	assert.Error(t, err)
}
