package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnv(t *testing.T) {
	// LoadEnv returns nil when no .env file exists
	err := LoadEnv()
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidateEnvAllSet(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("DATABASE_URL", "test-db-url")
	defer os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("DATABASE_URL")

	err := ValidateEnv()
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidateEnvMissingJWTSecret(t *testing.T) {
	os.Unsetenv("JWT_SECRET")
	os.Setenv("DATABASE_URL", "test-db-url")
	defer os.Unsetenv("DATABASE_URL")

	err := ValidateEnv()
	if err == nil {
		t.Error("expected error for missing JWT_SECRET")
	}
}

func TestValidateEnvMissingDatabaseURL(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	os.Unsetenv("DATABASE_URL")
	defer os.Unsetenv("JWT_SECRET")

	err := ValidateEnv()
	if err == nil {
		t.Error("expected error for missing DATABASE_URL")
	}
}

func TestValidateEnvMissingBoth(t *testing.T) {
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("DATABASE_URL")

	err := ValidateEnv()
	if err == nil {
		t.Error("expected error for missing both")
	}
}

func TestGetEnvExisting(t *testing.T) {
	os.Setenv("TEST_GET_ENV_KEY", "test-value")
	defer os.Unsetenv("TEST_GET_ENV_KEY")

	result := GetEnv("TEST_GET_ENV_KEY", "default")
	if result != "test-value" {
		t.Errorf("expected 'test-value', got '%s'", result)
	}
}

func TestGetEnvMissing(t *testing.T) {
	os.Unsetenv("TEST_GET_ENV_MISSING")
	result := GetEnv("TEST_GET_ENV_MISSING", "fallback")
	if result != "fallback" {
		t.Errorf("expected 'fallback', got '%s'", result)
	}
}

func TestGetDurationFallsBackOnGarbage(t *testing.T) {
	os.Setenv("TEST_TX_TIMEOUT", "soon")
	defer os.Unsetenv("TEST_TX_TIMEOUT")

	if d := GetDuration("TEST_TX_TIMEOUT", 3*time.Second); d != 3*time.Second {
		t.Errorf("expected 3s, got %s", d)
	}

	os.Setenv("TEST_TX_TIMEOUT", "250ms")
	if d := GetDuration("TEST_TX_TIMEOUT", 3*time.Second); d != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", d)
	}
}

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("POINTS_RULES_FILE")
	os.Unsetenv("TX_TIMEOUT")
	os.Unsetenv("COUPON_SWEEP_SCHEDULE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if cfg.TxTimeout != 5*time.Second {
		t.Errorf("expected 5s tx timeout, got %s", cfg.TxTimeout)
	}
	if cfg.SweepSchedule != "*/15 * * * *" {
		t.Errorf("expected default sweep schedule, got %q", cfg.SweepSchedule)
	}
	if cfg.Rules.Features["job_search"] != 5 {
		t.Errorf("expected job_search limit 5, got %d", cfg.Rules.Features["job_search"])
	}
	ad, ok := cfg.Rules.Actions["ad_watch"]
	if !ok {
		t.Fatal("expected ad_watch rule in embedded defaults")
	}
	if ad.Cooldown != 30*time.Second || ad.DailyLimit != 5 || ad.Category != "ads" {
		t.Errorf("unexpected ad_watch rule: %+v", ad)
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "actions:\n  quiz:\n    category: game\n    daily_limit: 2\n    default_amount: 3\nfeatures:\n  job_search: 9\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if rules.Actions["quiz"].DailyLimit != 2 {
		t.Errorf("expected daily limit 2, got %d", rules.Actions["quiz"].DailyLimit)
	}
	if rules.Features["job_search"] != 9 {
		t.Errorf("expected 9, got %d", rules.Features["job_search"])
	}
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing category": "actions:\n  quiz:\n    daily_limit: 2\n",
		"negative limit":   "actions:\n  quiz:\n    category: game\n    daily_limit: -1\n",
		"default over max": "actions:\n  quiz:\n    category: game\n    default_amount: 50\n    max_amount: 10\n",
		"negative feature": "features:\n  job_search: -3\n",
		"not yaml":         "actions: [",
	}
	for name, doc := range cases {
		if _, err := ParseRules([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
