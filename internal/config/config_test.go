package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPath_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"MetaTrader": {"server": "demo", "username": "u"}}`)
	cfg, err := LoadPath(path)
	require.NoError(t, err)
	assert.Equal(t, "1%", cfg.MetaTrader.Lot)
	assert.Equal(t, []int{25, 25, 25, 25}, cfg.MetaTrader.SaveProfits)
}

func TestLoadPath_RejectsMissingServer(t *testing.T) {
	path := writeConfig(t, `{"MetaTrader": {"username": "u"}}`)
	_, err := LoadPath(path)
	assert.Error(t, err)
}

func TestLoadPath_RejectsBadSaveProfits(t *testing.T) {
	path := writeConfig(t, `{"MetaTrader": {"server": "demo", "username": "u", "SaveProfits": [10, 20, 30]}}`)
	_, err := LoadPath(path)
	assert.Error(t, err)
}

func TestWithinTradingWindow_NoWindowAlwaysTrue(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.WithinTradingWindow(time.Now()))
}

func TestWithinTradingWindow_RegularWindow(t *testing.T) {
	cfg := &Config{Timer: TimerConfig{Start: "09:00", End: "17:00"}}
	inside := time.Date(0, 1, 1, 12, 0, 0, 0, time.UTC)
	outside := time.Date(0, 1, 1, 20, 0, 0, 0, time.UTC)
	assert.True(t, cfg.WithinTradingWindow(inside))
	assert.False(t, cfg.WithinTradingWindow(outside))
}

func TestWithinTradingWindow_WrapsMidnight(t *testing.T) {
	cfg := &Config{Timer: TimerConfig{Start: "22:00", End: "02:00"}}
	late := time.Date(0, 1, 1, 23, 0, 0, 0, time.UTC)
	early := time.Date(0, 1, 1, 1, 0, 0, 0, time.UTC)
	midday := time.Date(0, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, cfg.WithinTradingWindow(late))
	assert.True(t, cfg.WithinTradingWindow(early))
	assert.False(t, cfg.WithinTradingWindow(midday))
}
