package engine

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/llm-web-search/models"
)

var discard = slog.New(slog.DiscardHandler)

func testConfig(t *testing.T) *models.Config {
	t.Helper()
	cfg := models.DefaultConfig()
	for name, p := range cfg.Providers {
		p.APIKeys = []string{"test-key"}
		cfg.Providers[name] = p
	}
	return cfg
}

func TestBuild(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive = models.ArchiveConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "history.db")}
	cfg.Cache = models.CacheConfig{Backend: "file", Dir: t.TempDir(), TTL: models.DefaultConfig().Cache.TTL}

	e, err := Build(cfg, discard, Options{Titles: true})
	require.NoError(t, err)
	assert.NotNil(t, e.Gateway)
	assert.NotNil(t, e.Controller)
	assert.NotNil(t, e.Store)
	require.NotNil(t, e.Archive)
	assert.Equal(t, cfg.Archive.Path, e.Archive.Path())

	sess := e.Store.CreateSession()
	assert.Equal(t, models.DefaultSessionTitle, sess.Title)
	require.NoError(t, e.Close())
}

func TestBuild_NoArchive(t *testing.T) {
	e, err := Build(testConfig(t), discard, Options{})
	require.NoError(t, err)
	assert.Nil(t, e.Archive)
	require.NoError(t, e.Close())
}

func TestBuild_MissingOptimizerKey(t *testing.T) {
	cfg := testConfig(t)
	p := cfg.Providers["cerebras"]
	p.APIKeys = nil
	cfg.Providers["cerebras"] = p

	_, err := Build(cfg, discard, Options{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestBuild_BadCacheBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "memcached"

	_, err := Build(cfg, discard, Options{})
	require.Error(t, err)
	assert.False(t, IsConfigurationError(err))
}
