package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %s, want 24h", cfg.CacheTTL)
	}
	if !cfg.ResolveUsers || cfg.IncludePrivate {
		t.Errorf("unexpected flags resolve=%v private=%v", cfg.ResolveUsers, cfg.IncludePrivate)
	}
	if cfg.ChannelPageSize != 200 || cfg.MessagePageSize != 200 || cfg.UserPageSize != 100 || cfg.MemberPageSize != 100 {
		t.Errorf("unexpected page sizes %+v", cfg)
	}

	want := map[ratelimit.Tier]int{ratelimit.Tier1: 1, ratelimit.Tier2: 4, ratelimit.Tier3: 8, ratelimit.Tier4: 20}
	for tier, max := range want {
		if got := cfg.Tiers[tier].MaxConcurrent; got != max {
			t.Errorf("%s max = %d, want %d", tier, got, max)
		}
	}

	if err := cfg.Validate(); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Validate without token = %v, want ErrMissingToken", err)
	}
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"SLACK_BOT_TOKEN":       "xoxb-1",
		"SLACK_CACHE_TTL":       "3600",
		"SLACK_INCLUDE_PRIVATE": "true",
		"SLACK_TIER3_MAX":       "2",
		"SLACK_FETCH_TIMEOUT":   "90s",
		"REDIS_ADDR":            "redis:6380",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.Token != "xoxb-1" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %s, want 1h", cfg.CacheTTL)
	}
	if !cfg.IncludePrivate {
		t.Error("IncludePrivate not applied")
	}
	if cfg.Tiers[ratelimit.Tier3].MaxConcurrent != 2 {
		t.Errorf("tier3 max = %d, want 2", cfg.Tiers[ratelimit.Tier3].MaxConcurrent)
	}
	if cfg.FetchTimeout != 90*time.Second {
		t.Errorf("FetchTimeout = %s", cfg.FetchTimeout)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFromEnv_ReportsBadValues(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"SLACK_MAX_RETRIES": "many",
		"SLACK_CACHE_TTL":   "forever",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"SLACK_MAX_RETRIES", "SLACK_CACHE_TTL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	base := Defaults()
	base.Token = "xoxp-1"

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "page size", mutate: func(c *Config) { c.MessagePageSize = 0 }, field: "MessagePageSize"},
		{name: "cache ttl", mutate: func(c *Config) { c.CacheTTL = 0 }, field: "CacheTTL"},
		{name: "retries", mutate: func(c *Config) { c.MaxRetries = -1 }, field: "MaxRetries"},
		{name: "timeout", mutate: func(c *Config) { c.FetchTimeout = -time.Second }, field: "FetchTimeout"},
		{name: "tier", mutate: func(c *Config) { c.Tiers[ratelimit.Tier2] = ratelimit.TierConfig{} }, field: "tier2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Tiers = ratelimit.DefaultTiers()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Fatalf("Validate = %v, want mention of %s", err, tt.field)
			}
		})
	}
}

func TestApplyPacing(t *testing.T) {
	cfg := Defaults()
	cfg.Pacing = true
	cfg.ApplyPacing()
	if got := cfg.Tiers[ratelimit.Tier2].PerMinute; got != 20 {
		t.Fatalf("tier2 pacing = %d, want 20", got)
	}

	cfg.Pacing = false
	cfg.ApplyPacing()
	if got := cfg.Tiers[ratelimit.Tier2].PerMinute; got != 0 {
		t.Fatalf("tier2 pacing = %d, want 0 when disabled", got)
	}
}
