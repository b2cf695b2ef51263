package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhis2/dhis2-core-sub010/internal/cache"
	"github.com/dhis2/dhis2-core-sub010/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Cache.Enabled = true
	cfg.Cache.CapPercent = 25
	cfg.Cache.HardCapPercentage = 90
	cfg.Cache.SoftCapPercentage = 75
	cfg.Cache.HeapBytes = 1 << 20
	return cfg
}

func TestBuildAdmin_StandaloneNodeStartsEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	admin, closeAdmin, err := buildAdmin(ctx, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(closeAdmin)
	require.NotNil(t, admin)

	info := admin.Info()
	assert.Empty(t, info.Regions)
	assert.Zero(t, info.Burden)
	assert.Empty(t, admin.Regions())
}

func TestBuildAdmin_EmbeddedProducerWritesShowUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	admin, closeAdmin, err := buildAdmin(ctx, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(closeAdmin)

	producer, ok := admin.(*cache.CappedLocalCache)
	require.True(t, ok, "without a cluster the admin is the local cache itself")
	producer.Put("users", "alice", []byte("profile"))

	assert.Equal(t, []string{"users"}, admin.Regions())
	region, err := admin.RegionInfo("users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), region.Entries)
	assert.Equal(t, region.Size, admin.Info().Burden)
}

func TestBuildAdmin_DisabledCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = false

	admin, closeAdmin, err := buildAdmin(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	closeAdmin()
	assert.Nil(t, admin)
}
