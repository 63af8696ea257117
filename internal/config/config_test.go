package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "REDIS_URL", "RABBITMQ_URL", "LINE_API_URL",
		"LINE_CHANNEL_ACCESS_TOKEN", "STAFF_GROUP_ID", "TIMEZONE",
		"DISPATCH_HOUR", "SWEEP_SPEC", "NO_RESPONSE_THRESHOLD_HOURS",
		"DISPATCH_MAX_ATTEMPTS", "CATALOG_FILE", "ESCALATION_KEYWORDS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
	if cfg.LineAPIURL != DefaultLineAPIURL {
		t.Errorf("LineAPIURL = %q", cfg.LineAPIURL)
	}
	if cfg.Timezone != "Asia/Bangkok" {
		t.Errorf("Timezone = %q, want Asia/Bangkok", cfg.Timezone)
	}
	if cfg.Location == nil {
		t.Fatal("Location is nil")
	}
	if cfg.DispatchHour != 9 {
		t.Errorf("DispatchHour = %d, want 9", cfg.DispatchHour)
	}
	if cfg.SweepSpec != "0 10 * * *" {
		t.Errorf("SweepSpec = %q", cfg.SweepSpec)
	}
	if got := cfg.NoResponseThreshold(); got != 24*time.Hour {
		t.Errorf("NoResponseThreshold() = %v, want 24h", got)
	}
	if cfg.DispatchMaxAttempts != 3 {
		t.Errorf("DispatchMaxAttempts = %d, want 3", cfg.DispatchMaxAttempts)
	}
	if kw := cfg.Keywords(); kw != nil {
		t.Errorf("Keywords() = %v, want nil", kw)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("DISPATCH_HOUR", "14")
	t.Setenv("NO_RESPONSE_THRESHOLD_HOURS", "48")
	t.Setenv("ESCALATION_KEYWORDS", "fever, bleeding ,pain")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location)
	}
	if cfg.DispatchHour != 14 {
		t.Errorf("DispatchHour = %d, want 14", cfg.DispatchHour)
	}
	if got := cfg.NoResponseThreshold(); got != 48*time.Hour {
		t.Errorf("NoResponseThreshold() = %v, want 48h", got)
	}

	want := []string{"fever", "bleeding", "pain"}
	got := cfg.Keywords()
	if len(got) != len(want) {
		t.Fatalf("Keywords() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keywords()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadInvalidTimezone(t *testing.T) {
	clearEnv(t)
	t.Setenv("TIMEZONE", "Not/AZone")

	if _, err := Load(); err == nil {
		t.Error("Load() succeeded with bad timezone, want error")
	}
}

func TestLoadInvalidDispatchHour(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISPATCH_HOUR", "25")

	if _, err := Load(); err == nil {
		t.Error("Load() succeeded with out-of-range dispatch hour, want error")
	}
}

func TestLoadBadIntFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISPATCH_HOUR", "noon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DispatchHour != 9 {
		t.Errorf("DispatchHour = %d, want default 9", cfg.DispatchHour)
	}
}
