package store

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Session is an inclusive HH:MM range. End before Start never occurs; a
// session that crosses midnight is configured as two ranges.
type Session struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type Config struct {
	Mode     string `yaml:"mode"`
	Timezone string `yaml:"timezone"`
	LLM      struct {
		Provider       string  `yaml:"provider"`
		Model          string  `yaml:"model"`
		BaseURL        string  `yaml:"base_url"`
		APIKeyEnv      string  `yaml:"api_key_env"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float32 `yaml:"temperature"`
		System         string  `yaml:"system"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		// Script is the reply list used by the SCRIPTED provider.
		Script []string `yaml:"script"`
	} `yaml:"llm"`
	Dealer struct {
		Symbols                 []string          `yaml:"symbols"`
		MaxPosition             int               `yaml:"max_position"`
		MaxDailyBars            int               `yaml:"max_daily_bars"`
		MaxHourlyBars           int               `yaml:"max_hourly_bars"`
		MaxMinuteBars           int               `yaml:"max_minute_bars"`
		CompactMode             bool              `yaml:"compact_mode"`
		TradeRules              string            `yaml:"trade_rules"`
		Backtest                bool              `yaml:"backtest"`
		Sessions                []Session         `yaml:"sessions"`
		DayClose                string            `yaml:"day_close"`
		NightClose              map[string]string `yaml:"night_close"`
		ForceCloseWindowMinutes int               `yaml:"force_close_window_minutes"`
		NewsEnabled             bool              `yaml:"news_enabled"`
		WarmStart               bool              `yaml:"warm_start"`
	} `yaml:"dealer"`
	Query struct {
		TemplatePath       string `yaml:"template_path"`
		MaxRepairAttempts  int    `yaml:"max_repair_attempts"`
		ProgressIntervalMS int    `yaml:"progress_interval_ms"`
		ResultKey          string `yaml:"result_key"`
		Markdown           bool   `yaml:"markdown"`
	} `yaml:"query"`
	Gateway struct {
		Exchange       string  `yaml:"exchange"`
		Product        string  `yaml:"product"`
		UseMarketOrder bool    `yaml:"use_market_order"`
		PriceTolerance float64 `yaml:"price_tolerance"`
	} `yaml:"gateway"`
	Feed struct {
		Source    string `yaml:"source"`
		CSVPath   string `yaml:"csv_path"`
		StartTime string `yaml:"start_time"`
	} `yaml:"feed"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	EOD struct {
		Cron          string `yaml:"cron"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"eod"`
	Provider struct {
		CacheDir        string `yaml:"cache_dir"`
		CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
		RatePerSecond   int    `yaml:"rate_per_second"`
		ExpressNewsURL  string `yaml:"express_news_url"`
	} `yaml:"provider"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	switch c.LLM.Provider {
	case "OPENAI", "CLAUDE", "SCRIPTED":
	default:
		return fmt.Errorf("llm.provider must be 'OPENAI', 'CLAUDE', or 'SCRIPTED', got '%s'", c.LLM.Provider)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	if c.Dealer.MaxPosition <= 0 {
		return fmt.Errorf("dealer.max_position must be positive, got %d", c.Dealer.MaxPosition)
	}
	for _, s := range c.Dealer.Sessions {
		if _, err := ParseClock(s.Start); err != nil {
			return fmt.Errorf("dealer.sessions: %w", err)
		}
		if _, err := ParseClock(s.End); err != nil {
			return fmt.Errorf("dealer.sessions: %w", err)
		}
	}
	if _, err := ParseClock(c.Dealer.DayClose); err != nil {
		return fmt.Errorf("dealer.day_close: %w", err)
	}
	for sym, v := range c.Dealer.NightClose {
		if _, err := ParseClock(v); err != nil {
			return fmt.Errorf("dealer.night_close[%s]: %w", sym, err)
		}
	}
	if c.Query.MaxRepairAttempts <= 0 {
		return errors.New("query.max_repair_attempts must be positive")
	}
	if c.Gateway.PriceTolerance < 0 || c.Gateway.PriceTolerance >= 1 {
		return fmt.Errorf("gateway.price_tolerance must be in [0,1), got %.4f", c.Gateway.PriceTolerance)
	}
	if c.Feed.Source != "CSV" && c.Feed.Source != "KITE" {
		return fmt.Errorf("feed.source must be 'CSV' or 'KITE', got '%s'", c.Feed.Source)
	}
	return nil
}

// Location resolves Timezone; Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyDefaults fills every zero field that has a documented default.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "OPENAI"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	d := &c.Dealer
	if d.MaxPosition == 0 {
		d.MaxPosition = 1
	}
	if d.MaxDailyBars == 0 {
		d.MaxDailyBars = 60
	}
	if d.MaxHourlyBars == 0 {
		d.MaxHourlyBars = 30
	}
	if d.MaxMinuteBars == 0 {
		d.MaxMinuteBars = 240
	}
	if len(d.Sessions) == 0 {
		d.Sessions = DefaultSessions()
	}
	if d.DayClose == "" {
		d.DayClose = "14:55"
	}
	if d.ForceCloseWindowMinutes == 0 {
		d.ForceCloseWindowMinutes = 5
	}
	q := &c.Query
	if q.MaxRepairAttempts == 0 {
		q.MaxRepairAttempts = 8
	}
	if q.ProgressIntervalMS == 0 {
		q.ProgressIntervalMS = 100
	}
	if q.ResultKey == "" {
		q.ResultKey = "output_result"
	}
	if c.Gateway.PriceTolerance == 0 {
		c.Gateway.PriceTolerance = 0.002
	}
	if c.Gateway.Exchange == "" {
		c.Gateway.Exchange = "NSE"
	}
	if c.Gateway.Product == "" {
		c.Gateway.Product = "MIS"
	}
	if c.Feed.Source == "" {
		c.Feed.Source = "CSV"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.EOD.Cron == "" {
		c.EOD.Cron = "0 40 15 * * *"
	}
	if c.EOD.RetentionDays == 0 {
		c.EOD.RetentionDays = 7
	}
	if c.Provider.CacheDir == "" {
		c.Provider.CacheDir = ".cache/provider"
	}
	if c.Provider.CacheTTLMinutes == 0 {
		c.Provider.CacheTTLMinutes = 30
	}
	if c.Provider.RatePerSecond == 0 {
		c.Provider.RatePerSecond = 3
	}
}

func DefaultSessions() []Session {
	return []Session{
		{Start: "09:00", End: "11:30"},
		{Start: "13:00", End: "15:00"},
		{Start: "21:00", End: "23:59"},
		{Start: "00:00", End: "02:30"},
	}
}

// ParseClock parses HH:MM into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock '%s': want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
