package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/player"
	"github.com/jmylchreest/abrplay/internal/store"
)

// spanDemuxer reports each segment as one sample covering its reference.
type spanDemuxer struct{}

func (spanDemuxer) Demux(_ context.Context, in demux.Input) (*demux.Result, error) {
	return &demux.Result{
		Start: in.SegmentStart,
		End:   in.SegmentEnd,
		Bytes: len(in.Data),
		Samples: []demux.Sample{{
			Kind:     demux.TrackVideo,
			PTS:      in.SegmentStart,
			DTS:      in.SegmentStart,
			Duration: in.SegmentEnd - in.SegmentStart,
			Keyframe: true,
			Data:     in.Data,
		}},
	}, nil
}

func origin(t *testing.T) *httptest.Server {
	t.Helper()
	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n")
	for i := range 4 {
		fmt.Fprintf(&playlist, "#EXTINF:2.000,\nseg%d.ts\n", i)
	}
	playlist.WriteString("#EXT-X-ENDLIST\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/index.m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = w.Write([]byte(playlist.String()))
		case strings.HasSuffix(r.URL.Path, ".ts"):
			_, _ = w.Write(make([]byte, 512))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testPool(t *testing.T, history *store.BandwidthHistory, sessions *store.Sessions) *player.Pool {
	t.Helper()
	cfg := config.Default()
	cfg.Streaming.IdleInterval = 20 * time.Millisecond
	cfg.Streaming.BufferQuota = config.ByteSize(16 << 20)
	cfg.Manifest.Retry.BaseDelay = 10 * time.Millisecond
	demuxers := demux.NewRegistry()
	demuxers.Register("video/mp2t", func(*slog.Logger) demux.Demuxer { return spanDemuxer{} })
	pool := player.NewPool(player.Options{
		Config:   cfg,
		Demuxers: demuxers,
		History:  history,
		Sessions: sessions,
	})
	t.Cleanup(func() { _ = pool.CloseAll(context.Background()) })
	return pool
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func createSession(t *testing.T, h *SessionHandler, uri string) string {
	t.Helper()
	in := &CreateSessionInput{}
	in.Body.URI = uri
	out, err := h.Create(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, out.Body.ID)
	return out.Body.ID
}

func TestSessionHandler_Lifecycle(t *testing.T) {
	ctx := context.Background()
	srv := origin(t)
	h := NewSessionHandler(testPool(t, nil, nil))

	id := createSession(t, h, srv.URL+"/index.m3u8")

	got, err := h.Get(ctx, &SessionInput{ID: id})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/index.m3u8", got.Body.URI)
	assert.InDelta(t, 8.0, got.Body.SeekRangeEnd, 1e-9)

	list, err := h.List(ctx, &struct{}{})
	require.NoError(t, err)
	require.Len(t, list.Body.Sessions, 1)

	tracks, err := h.Tracks(ctx, &SessionInput{ID: id})
	require.NoError(t, err)
	require.Len(t, tracks.Body.Variants, 1)
	assert.True(t, tracks.Body.Variants[0].Active)
	assert.Equal(t, "video/mp2t", tracks.Body.Variants[0].Video.MimeType)
	assert.Empty(t, tracks.Body.TextStreams)

	seek := &SeekInput{ID: id}
	seek.Body.Time = 4
	_, err = h.Seek(ctx, seek)
	require.NoError(t, err)

	_, err = h.Pause(ctx, &SessionInput{ID: id})
	require.NoError(t, err)
	_, err = h.Resume(ctx, &SessionInput{ID: id})
	require.NoError(t, err)

	_, err = h.Delete(ctx, &SessionInput{ID: id})
	require.NoError(t, err)
	_, err = h.Get(ctx, &SessionInput{ID: id})
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestSessionHandler_Errors(t *testing.T) {
	ctx := context.Background()
	srv := origin(t)
	h := NewSessionHandler(testPool(t, nil, nil))
	id := createSession(t, h, srv.URL+"/index.m3u8")

	variant := &SelectVariantInput{ID: id}
	variant.Body.VariantID = 42
	_, err := h.SelectVariant(ctx, variant)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	variant.Body.VariantID = 0
	variant.Body.SafeMargin = "soon"
	_, err = h.SelectVariant(ctx, variant)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	trick := &TrickPlayInput{ID: id}
	_, err = h.TrickPlay(ctx, trick)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	text := &SelectTextInput{ID: id}
	text.Body.StreamID = 3
	_, err = h.SelectText(ctx, text)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	cfg := &ConfigureInput{ID: id}
	cfg.Body.Updates = map[string]any{"streaming.unknown": 1}
	_, err = h.Configure(ctx, cfg)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	cfg.Body.Updates = map[string]any{"streaming.buffering_goal": "12s"}
	out, err := h.Configure(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "12s", out.Body["streaming.buffering_goal"])

	create := &CreateSessionInput{}
	create.Body.URI = srv.URL + "/missing.m3u8"
	_, err = h.Create(ctx, create)
	assert.Equal(t, http.StatusBadGateway, statusOf(t, err))

	_, err = h.Seek(ctx, &SeekInput{ID: "nope"})
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestConfigHandler(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = "postgres://user:secret@db/abrplay"
	h := NewConfigHandler(cfg)

	out, err := h.GetConfig(context.Background(), &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, cfg.Streaming.BufferingGoal.String(), out.Body["streaming.buffering_goal"])
	assert.Equal(t, "[REDACTED]", out.Body["database.dsn"])

	keys, err := h.ListKeys(context.Background(), &struct{}{})
	require.NoError(t, err)
	assert.Contains(t, keys.Body.Keys, "abr.enabled")
}

func TestHealthHandler(t *testing.T) {
	ctx := context.Background()
	h := NewHealthHandler("1.0.0")

	live, err := h.GetLivez(ctx, &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "ok", live.Body.Status)

	ready, err := h.GetReadyz(ctx, &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "ready", ready.Body.Status)
	assert.Equal(t, "not_configured", ready.Body.Components["database"])

	db, err := store.Open(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	h.WithDB(db).WithPool(player.NewPool(player.Options{}))

	health, err := h.GetHealth(ctx, &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Body.Status)
	assert.Equal(t, "1.0.0", health.Body.Version)
	assert.Equal(t, "ok", health.Body.Database.Status)
	assert.Equal(t, "sqlite", health.Body.Database.Driver)
	assert.NotZero(t, health.Body.CPUInfo.Cores)
	assert.Zero(t, health.Body.ActiveSessions)
}

func TestHistoryHandler(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sessions := store.NewSessions(db)
	bandwidth := store.NewBandwidthHistory(db)
	h := NewHistoryHandler(sessions, bandwidth)

	srv := origin(t)
	pool := testPool(t, bandwidth, sessions)
	s, err := pool.Play(ctx, srv.URL+"/index.m3u8", 0)
	require.NoError(t, err)
	require.NoError(t, pool.Close(ctx, s.ID()))

	list, err := h.ListSessions(ctx, &ListSessionHistoryInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list.Body.Sessions, 1)
	assert.Equal(t, s.ID(), list.Body.Sessions[0].SessionID)

	rec, err := h.GetSession(ctx, &SessionInput{ID: s.ID()})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/index.m3u8", rec.Body.ManifestURI)

	_, err = h.GetSession(ctx, &SessionInput{ID: "missing"})
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	require.NoError(t, bandwidth.Record(ctx, "cdn.example", 2_000_000, 500_000))
	bw, err := h.GetBandwidth(ctx, &BandwidthInput{Host: "cdn.example", MaxAge: "1h"})
	require.NoError(t, err)
	require.Len(t, bw.Body.Samples, 1)
	assert.Equal(t, int64(2_000_000), bw.Body.Estimate)

	_, err = h.GetBandwidth(ctx, &BandwidthInput{Host: "cdn.example", MaxAge: "later"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}
