package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8, cfg.Collector.MaxConcurrency)
	assert.Equal(t, 4, cfg.Collector.ConcurrencyUnit)
	assert.Equal(t, 200, cfg.Collector.MaxScrolls)
	assert.Equal(t, 4, cfg.Collector.StaggerEvery)
	assert.Equal(t, 1500*time.Millisecond, cfg.Collector.StaggerDelay)
	assert.Equal(t, "IL", cfg.Collector.DefaultRegion)
	assert.Equal(t, "dev/feedharvest/proxy", cfg.Secrets.ProxySecretName())
	assert.False(t, cfg.Storage.UseLocal)
	assert.Equal(t, "s3", cfg.Storage.Remote)
	assert.True(t, cfg.Browser.Headless)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FEEDHARVEST_MAX_CONCURRENCY", "6")
	t.Setenv("FEEDHARVEST_STAGGER_DELAY", "250ms")
	t.Setenv("USE_LOCAL_STORAGE", "true")
	t.Setenv("ENV", "prod")
	t.Setenv("FEEDHARVEST_API_KEYS", "a, b,,c")

	cfg := Load()

	assert.Equal(t, 6, cfg.Collector.MaxConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Collector.StaggerDelay)
	assert.True(t, cfg.Storage.UseLocal)
	assert.Equal(t, "prod/feedharvest/proxy", cfg.Secrets.ProxySecretName())
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("FEEDHARVEST_MAX_SCROLLS", "lots")
	t.Setenv("FEEDHARVEST_HEADLESS", "maybe")

	cfg := Load()

	assert.Equal(t, 200, cfg.Collector.MaxScrolls)
	assert.True(t, cfg.Browser.Headless)
}

func TestProxySecretName_ExplicitID(t *testing.T) {
	s := SecretsConfig{Env: "dev", ProxySecretID: "shared/proxy"}
	assert.Equal(t, "shared/proxy", s.ProxySecretName())
}
