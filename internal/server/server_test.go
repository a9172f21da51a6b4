package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/api/router"
	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/database"
	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/internal/store"
	"github.com/grepiku/grepiku/pkg/logger"
)

func init() {
	logger.Init(logger.Config{
		Level:  "error",
		Format: "text",
	})
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)

	deps := router.Deps{
		Cfg:   cfg,
		Store: store.New(db),
		Forges: func(provider string) (forge.Client, error) {
			return forge.New(provider, &forge.Options{})
		},
	}
	return New(cfg, deps)
}

func TestServer_New(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
	srv := newTestServer(t, cfg)
	require.NotNil(t, srv)
	assert.Equal(t, cfg, srv.cfg)
	assert.NotNil(t, srv.router)
}

func TestServer_Routes(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
	srv := newTestServer(t, cfg)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestServer_StartAndStop(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 0, // automatic port assignment
		},
	}
	srv := newTestServer(t, cfg)

	// Stop without starting should not error
	require.NoError(t, srv.Stop())

	require.NoError(t, srv.Start())
	assert.NotNil(t, srv.httpServer)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, srv.Stop())
}

func TestServer_Stop_WithTimeout(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 0,
		},
	}
	srv := newTestServer(t, cfg)

	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error)
	go func() {
		done <- srv.Stop()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Stop() timed out")
	}
}

func TestServer_Router(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
	srv := newTestServer(t, cfg)
	router := srv.Router()

	assert.NotNil(t, router)
	assert.Equal(t, srv.router, router)
}

func TestServer_DebugMode(t *testing.T) {
	tests := []struct {
		name     string
		debug    bool
		expected string
	}{
		{name: "debug mode enabled", debug: true, expected: gin.DebugMode},
		{name: "debug mode disabled", debug: false, expected: gin.ReleaseMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Server: config.ServerConfig{
					Host:  "localhost",
					Port:  8080,
					Debug: tt.debug,
				},
			}
			_ = newTestServer(t, cfg)
			assert.Equal(t, tt.expected, gin.Mode())
		})
	}
}

func TestServer_HTTPTimeouts(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 0,
		},
	}
	srv := newTestServer(t, cfg)

	require.NoError(t, srv.Start())
	defer srv.Stop()

	assert.Equal(t, defaultReadTimeout, srv.httpServer.ReadTimeout)
	assert.Equal(t, defaultWriteTimeout, srv.httpServer.WriteTimeout)
	assert.Equal(t, defaultIdleTimeout, srv.httpServer.IdleTimeout)
}

func TestServer_RouterConfiguration(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
	srv := newTestServer(t, cfg)

	assert.False(t, srv.router.RedirectTrailingSlash)
	assert.False(t, srv.router.RedirectFixedPath)
}
