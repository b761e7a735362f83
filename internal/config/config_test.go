package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPPort != "8080" {
		t.Fatalf("unexpected default port %q", cfg.HTTPPort)
	}
	if cfg.CacheTTL != 45*time.Second {
		t.Fatalf("unexpected default cache ttl %s", cfg.CacheTTL)
	}
	if cfg.PortalTimezone != "Europe/Amsterdam" {
		t.Fatalf("unexpected default timezone %q", cfg.PortalTimezone)
	}
	if len(cfg.MonitorLocations) != 3 {
		t.Fatalf("unexpected default locations %v", cfg.MonitorLocations)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("MONITOR_LOCATIONS", "Fitness, X1")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "2.5")

	cfg := Load()
	if cfg.CacheTTL != 30*time.Second {
		t.Fatalf("cache ttl override not applied: %s", cfg.CacheTTL)
	}
	if len(cfg.MonitorLocations) != 2 || cfg.MonitorLocations[1] != "X1" {
		t.Fatalf("locations override not applied: %v", cfg.MonitorLocations)
	}
	if cfg.RateLimitRefill != 2.5 {
		t.Fatalf("refill override not applied: %v", cfg.RateLimitRefill)
	}
}

func TestAdvanceWindowMap(t *testing.T) {
	t.Setenv("ADVANCE_WINDOWS", "Fitness=72h, X1=168h")
	t.Setenv("ADVANCE_WINDOW_DEFAULT", "24h")

	cfg := Load()
	if got := cfg.AdvanceWindow("Fitness"); got != 72*time.Hour {
		t.Fatalf("Fitness window = %s", got)
	}
	if got := cfg.AdvanceWindow("X1"); got != 168*time.Hour {
		t.Fatalf("X1 window = %s", got)
	}
	if got := cfg.AdvanceWindow("X3"); got != 24*time.Hour {
		t.Fatalf("fallback window = %s", got)
	}
}

func TestBadValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_TTL", "not-a-duration")
	t.Setenv("MONITOR_DAYS_AHEAD", "seven")

	cfg := Load()
	if cfg.CacheTTL != 45*time.Second {
		t.Fatalf("bad duration should fall back, got %s", cfg.CacheTTL)
	}
	if cfg.MonitorDaysAhead != 7 {
		t.Fatalf("bad int should fall back, got %d", cfg.MonitorDaysAhead)
	}
}
