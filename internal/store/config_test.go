package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	c, err := ParseConfig([]byte("llm:\n  provider: SCRIPTED\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode != "DRY_RUN" {
		t.Errorf("expected DRY_RUN, got %s", c.Mode)
	}
	if c.Dealer.MaxMinuteBars != 240 || c.Dealer.MaxHourlyBars != 30 || c.Dealer.MaxDailyBars != 60 {
		t.Errorf("unexpected history caps: %+v", c.Dealer)
	}
	if len(c.Dealer.Sessions) != 4 {
		t.Errorf("expected 4 default sessions, got %d", len(c.Dealer.Sessions))
	}
	if c.Query.MaxRepairAttempts != 8 || c.Query.ResultKey != "output_result" {
		t.Errorf("unexpected query defaults: %+v", c.Query)
	}
	if c.Location().String() != "Asia/Shanghai" {
		t.Errorf("expected Asia/Shanghai, got %s", c.Location())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"mode":     "mode: PAPER\n",
		"provider": "llm:\n  provider: LOCAL\n",
		"clock":    "dealer:\n  day_close: \"25:99\"\n",
		"feed":     "feed:\n  source: FTP\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), "config validation failed") {
				t.Errorf("expected wrapped validation error, got %v", err)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
mode: LIVE
llm:
  provider: CLAUDE
  model: claude-sonnet-4-5
dealer:
  symbols: [rb2501]
  max_position: 3
  night_close:
    rb2501: "23:00"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Dealer.MaxPosition != 3 || c.Dealer.NightClose["rb2501"] != "23:00" {
		t.Errorf("unexpected dealer section: %+v", c.Dealer)
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("14:55")
	if err != nil {
		t.Fatal(err)
	}
	if d != 14*time.Hour+55*time.Minute {
		t.Errorf("expected 14h55m, got %v", d)
	}
}
