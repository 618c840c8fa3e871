package config

import (
	"testing"
	"time"
)

// TestLoad_Defaults verifies the daemon starts from sane defaults with no file
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.Redis.Address != "localhost:6379" {
		t.Errorf("Redis address default wrong: %s", cfg.Redis.Address)
	}
	if cfg.Cache.L1MaxSize != 1000 || cfg.Cache.StoreMaxEntries != 5000 {
		t.Errorf("Cache sizing defaults wrong: %+v", cfg.Cache)
	}
	if cfg.Cache.StoreMaxAge != 168*time.Hour {
		t.Errorf("Store max age default wrong: %v", cfg.Cache.StoreMaxAge)
	}
	if cfg.Sync.PongTimeout != 1500*time.Millisecond || cfg.Sync.PingInterval != 10*time.Second {
		t.Errorf("Sync timing defaults wrong: %+v", cfg.Sync)
	}
	if cfg.Quota.TotalBytes != 52428800 || cfg.Quota.WarningPercent != 70 || cfg.Quota.CriticalPercent != 90 {
		t.Errorf("Quota defaults wrong: %+v", cfg.Quota)
	}
	if cfg.BusinessHours.StartHour != 8 || cfg.BusinessHours.EndHour != 18 {
		t.Errorf("Business hours defaults wrong: %+v", cfg.BusinessHours)
	}
	if cfg.Refresh.TickInterval != 30*time.Second || cfg.Refresh.MaxPerTick != 2 {
		t.Errorf("Refresh defaults wrong: %+v", cfg.Refresh)
	}
	if cfg.Origin.BaseURL != "" || cfg.Origin.Timeout != 10*time.Second {
		t.Errorf("Origin defaults wrong: %+v", cfg.Origin)
	}

	t.Log("✓ Defaults produce a valid runnable configuration")
}

// TestValidate_Rejections verifies bad configurations are refused
func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing redis address", func(c *Config) { c.Redis.Address = "" }},
		{"dynamo without table", func(c *Config) { c.Dynamo.Enabled = true; c.Dynamo.TableName = "" }},
		{"zero l1 size", func(c *Config) { c.Cache.L1MaxSize = 0 }},
		{"inverted quota thresholds", func(c *Config) { c.Quota.WarningPercent = 95 }},
		{"inverted business hours", func(c *Config) { c.BusinessHours.StartHour = 19 }},
		{"bad log level", func(c *Config) { c.Observability.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Observability.Logging.Format = "xml" }},
		{"negative policy duration", func(c *Config) {
			c.Policies = map[string]Policy{"orders": {StaleTime: -time.Second}}
		}},
		{"refresh entities without origin", func(c *Config) {
			c.Refresh.Entities = []string{"orders"}
			c.Origin.BaseURL = ""
		}},
		{"invalidation rule without entity", func(c *Config) {
			c.Invalidation.Rules = []InvalidationRule{{Interval: time.Hour}}
		}},
		{"invalidation rule without interval", func(c *Config) {
			c.Invalidation.Rules = []InvalidationRule{{Entity: "orders"}}
		}},
	}

	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	t.Log("✓ Validation rejects broken configurations")
}
