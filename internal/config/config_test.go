package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.PersistenceTimeout)
	assert.Equal(t, 3, cfg.AllocatorMaxAttempts)
	assert.Equal(t, ":9090", cfg.Address())
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PERSISTENCE_TIMEOUT", "750ms")
	t.Setenv("ALLOCATOR_MAX_ATTEMPTS", "5")
	t.Setenv("PRODUCT_CACHE_TTL", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.PersistenceTimeout)
	assert.Equal(t, 5, cfg.AllocatorMaxAttempts)
	assert.Equal(t, time.Minute, cfg.ProductCacheTTL)
}

func TestLoadRejectsZeroAttempts(t *testing.T) {
	t.Setenv("ALLOCATOR_MAX_ATTEMPTS", "0")

	_, err := Load()
	assert.Error(t, err)
}
