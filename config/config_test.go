package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStoreYAML(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Scanner.DelayMS)
	assert.Equal(t, 3, cfg.Scanner.MaxRetries)
	assert.Equal(t, 4, cfg.Scanner.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Scanner.Timeout)
	assert.Equal(t, "stockwatch.db", cfg.DBPath)
	assert.Equal(t, "stock.events", cfg.Notify.AMQPExchange)
	assert.Empty(t, cfg.Stores)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE_CONFIG_DIR", t.TempDir())
	t.Setenv("SCAN_DELAY_MS", "250")
	t.Setenv("SCAN_INTERVAL", "15m")
	t.Setenv("SCAN_TIMEOUT", "90s")
	t.Setenv("DB_PATH", "/tmp/other.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Scanner.DelayMS)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 90*time.Second, cfg.Scanner.Timeout)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
}

func TestLoadStoreConfigs(t *testing.T) {
	dir := t.TempDir()
	writeStoreYAML(t, dir, "novagames.yaml", `
id: novagames_nz
name: Nova Games
handler: shopify
base_url: https://www.novagames.co.nz
rate_limit_ms: 1500
endpoints:
  products: /products.json
`)
	writeStoreYAML(t, dir, "goblingames.yaml", `
id: goblingames_nz
name: Goblin Games
handler: collection
status: blocked
lists_available_only: true
stock_markers:
  in_stock:
    - add to cart
  out_of_stock:
    - sold out
`)
	writeStoreYAML(t, dir, "notes.txt", "not a store config")

	t.Setenv("STORE_CONFIG_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Stores, 2)

	nova := cfg.Stores["novagames_nz"]
	require.NotNil(t, nova)
	assert.Equal(t, "shopify", nova.Handler)
	assert.Equal(t, StoreActive, nova.Status, "status defaults to active")
	assert.Equal(t, "/products.json", nova.Endpoints["products"])
	assert.Equal(t, 1500*time.Millisecond, nova.RateLimit(1000))

	goblin := cfg.Stores["goblingames_nz"]
	require.NotNil(t, goblin)
	assert.Equal(t, StoreBlocked, goblin.Status)
	assert.True(t, goblin.ListsAvailableOnly)
	assert.Equal(t, []string{"add to cart"}, goblin.StockMarkers.InStock)
	assert.Equal(t, time.Second, goblin.RateLimit(1000), "fallback delay applies when unset")

	ids := cfg.StoreIDs()
	assert.ElementsMatch(t, []string{"novagames_nz", "goblingames_nz"}, ids)
}

func TestLoadStoreConfigMissingID(t *testing.T) {
	dir := t.TempDir()
	writeStoreYAML(t, dir, "broken.yaml", "name: No ID Store\n")
	t.Setenv("STORE_CONFIG_DIR", dir)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}
