package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/shavar/internal/shavar/config"
)

// TestApplication_Integration drives one full update cycle against a local
// server: config from the environment, the real bolt store, the real HTTP
// client, and a graceful shutdown.
func TestApplication_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	requests := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- r.URL.Path + "|" + string(body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("n:1800\n"))
	}))
	defer srv.Close()

	t.Setenv("SHAVAR_CLIENT_NAME", "unittest")
	t.Setenv("SHAVAR_URL_PREFIX", srv.URL)
	t.Setenv("SHAVAR_DB_PATH", filepath.Join(t.TempDir(), "chunks.db"))
	t.Setenv("SHAVAR_LOG_LEVEL", "debug")
	t.Setenv("SHAVAR_ENV", "dev")

	cfg, err := config.Load()
	require.NoError(t, err)

	app, err := buildApplication(cfg)
	require.NoError(t, err)
	assert.NotNil(t, app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appErr := make(chan error, 1)
	go func() {
		appErr <- app.Run(ctx)
	}()

	// The first cycle fires immediately and advertises the default lists.
	select {
	case got := <-requests:
		assert.Equal(t, "/downloads|goog-phish-shavar;\ngoog-malware-shavar;\n", got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first update request")
	}

	cancel()
	select {
	case err := <-appErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}

func TestBuildApplication_BadDatabasePath(t *testing.T) {
	t.Setenv("SHAVAR_URL_PREFIX", "https://prefix.com/foo")
	t.Setenv("SHAVAR_DB_PATH", filepath.Join(t.TempDir(), "missing", "nested", "chunks.db"))

	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = buildApplication(cfg)
	assert.Error(t, err)
}
