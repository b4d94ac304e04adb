package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/http/handlers"
	"github.com/jmylchreest/abrplay/internal/http/middleware"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, nil, "test")
	handlers.NewHealthHandler("test").Register(s.API())
	handlers.NewConfigHandler(config.Default()).Register(s.API())
	return s
}

func TestServer_Routes(t *testing.T) {
	s := testServer(t)

	tests := []struct {
		path   string
		status int
	}{
		{path: "/livez", status: http.StatusOK},
		{path: "/readyz", status: http.StatusOK},
		{path: "/api/v1/config/keys", status: http.StatusOK},
		{path: "/openapi.json", status: http.StatusOK},
		{path: "/api/v1/nothing", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestServer_RequestIDPassthrough(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(middleware.RequestIDHeader))
}

func TestServer_RecoversPanics(t *testing.T) {
	s := testServer(t)
	s.Router().Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-panic")
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "req-panic")
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	s := testServer(t)
	assert.NoError(t, s.Shutdown(t.Context()))
	assert.Equal(t, "127.0.0.1:0", s.Addr())
}

func TestServer_ListenAndServe(t *testing.T) {
	s := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "127.0.0.1:0" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/livez")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ListenError(t *testing.T) {
	s := NewServer(config.ServerConfig{Host: "256.0.0.1", Port: 1, ShutdownTimeout: time.Second}, nil, "test")
	assert.Error(t, s.ListenAndServe(context.Background()))
}
