// Package config provides configuration management for the signal
// bridge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Default SaveProfits percentages applied when MetaTrader.SaveProfits
// is absent from the config document.
var defaultSaveProfits = []int{25, 25, 25, 25}

// Config represents the complete application configuration.
type Config struct {
	Telegram     TelegramConfig     `json:"Telegram"`
	Notification NotificationConfig `json:"Notification"`
	MetaTrader   MetaTraderConfig   `json:"MetaTrader"`
	Timer        TimerConfig        `json:"Timer"`
	DisableCache bool               `json:"disableCache"`
}

// TelegramConfig defines the ingress chat-feed settings.
type TelegramConfig struct {
	APIID    int                   `json:"api_id"`
	APIHash  string                `json:"api_hash"`
	Channels TelegramChannelConfig `json:"channels"`
}

// TelegramChannelConfig is the per-channel allow/deny gate (§4.10
// step 2; whitelist wins when non-empty, then blacklist).
type TelegramChannelConfig struct {
	WhiteList []string `json:"whiteList"`
	BlackList []string `json:"blackList"`
}

// NotificationConfig addresses the operator-facing alert channel.
type NotificationConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chatId"`
}

// MetaTraderConfig defines broker connection and trading parameters.
type MetaTraderConfig struct {
	Server                     string            `json:"server"`
	Username                   string            `json:"username"`
	Password                   string            `json:"password"`
	Path                       string            `json:"path"`
	Lot                        string            `json:"lot"`
	HighRisk                   bool              `json:"HighRisk"`
	SaveProfits                []int             `json:"SaveProfits"`
	AccountSize                float64           `json:"AccountSize"`
	CloserPrice                float64           `json:"CloserPrice"`
	ExpirePendingOrderInMinutes int              `json:"expirePendinOrderInMinutes"`
	ClosePositionsOnTrail      bool              `json:"ClosePositionsOnTrail"`
	SymbolMappings             map[string]string `json:"SymbolMappings"`
	Symbols                    SymbolGateConfig  `json:"symbols"`
	// StrictSymbols resolves Open Question #3: when true, an
	// unresolvable symbol is rejected instead of defaulting to XAUUSD.
	StrictSymbols bool `json:"StrictSymbols"`
}

// SymbolGateConfig is the per-symbol allow/deny gate (§4.10 step 3).
type SymbolGateConfig struct {
	WhiteList []string `json:"whiteList"`
	BlackList []string `json:"blackList"`
}

// TimerConfig is the daily trading-hours gate (§4.10 step 4).
type TimerConfig struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
}

// pathForEnv implements the §6 selection rule: development/production
// pick a fixed path under config/, anything else falls back to the
// current directory's settings.json.
func pathForEnv(env string) string {
	switch env {
	case "development":
		return "config/development.json"
	case "production":
		return "config/production.json"
	default:
		return "settings.json"
	}
}

// Load reads and parses the configuration document selected by the
// ENV environment variable, falling back to "settings.json" when ENV
// is unset or unrecognized.
func Load() (*Config, error) {
	return LoadPath(pathForEnv(os.Getenv("ENV")))
}

// LoadPath reads and parses the configuration document at configPath.
func LoadPath(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Normalize sets default values for configuration fields left absent
// by the document.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.MetaTrader.Lot) == "" {
		c.MetaTrader.Lot = "1%"
	}
	if len(c.MetaTrader.SaveProfits) == 0 {
		c.MetaTrader.SaveProfits = append([]int(nil), defaultSaveProfits...)
	}
	if c.MetaTrader.SymbolMappings == nil {
		c.MetaTrader.SymbolMappings = map[string]string{}
	}
}

// Validate checks that configuration values are internally
// consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MetaTrader.Server) == "" {
		return fmt.Errorf("MetaTrader.server is required")
	}
	if strings.TrimSpace(c.MetaTrader.Username) == "" {
		return fmt.Errorf("MetaTrader.username is required")
	}
	if len(c.MetaTrader.SaveProfits) != 4 {
		return fmt.Errorf("MetaTrader.SaveProfits must have exactly 4 entries")
	}
	for _, p := range c.MetaTrader.SaveProfits {
		if p < 0 || p > 100 {
			return fmt.Errorf("MetaTrader.SaveProfits entries must be in [0,100], got %d", p)
		}
	}
	if c.MetaTrader.ExpirePendingOrderInMinutes < 0 {
		return fmt.Errorf("MetaTrader.expirePendinOrderInMinutes must be >= 0")
	}
	if c.MetaTrader.CloserPrice < 0 {
		return fmt.Errorf("MetaTrader.CloserPrice must be >= 0")
	}

	if c.Timer.Start != "" || c.Timer.End != "" {
		if _, err := time.Parse("15:04", c.Timer.Start); err != nil {
			return fmt.Errorf("Timer.start invalid: %w", err)
		}
		if _, err := time.Parse("15:04", c.Timer.End); err != nil {
			return fmt.Errorf("Timer.end invalid: %w", err)
		}
	}

	return nil
}

// WithinTradingWindow reports whether now falls inside the
// configured Timer window; an unconfigured window always passes
// (§4.10 step 4: "if a start/end time-of-day is configured").
func (c *Config) WithinTradingWindow(now time.Time) bool {
	if c.Timer.Start == "" && c.Timer.End == "" {
		return true
	}
	start, err1 := time.Parse("15:04", c.Timer.Start)
	end, err2 := time.Parse("15:04", c.Timer.End)
	if err1 != nil || err2 != nil {
		return true
	}
	clock := time.Date(0, 1, 1, now.Hour(), now.Minute(), 0, 0, time.UTC)
	startClock := time.Date(0, 1, 1, start.Hour(), start.Minute(), 0, 0, time.UTC)
	endClock := time.Date(0, 1, 1, end.Hour(), end.Minute(), 0, 0, time.UTC)
	if startClock.Before(endClock) {
		return !clock.Before(startClock) && clock.Before(endClock)
	}
	// Window wraps past midnight.
	return !clock.Before(startClock) || clock.Before(endClock)
}
