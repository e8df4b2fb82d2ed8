package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8088")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "keeper")
	t.Setenv("DB_NAME", "keeper")
	t.Setenv("REDIS_HOST", "localhost")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DB.Port != 5432 || c.Redis.Port != 6379 {
		t.Fatalf("expected default ports, got db=%d redis=%d", c.DB.Port, c.Redis.Port)
	}
	if c.HTTPAddr() != ":8088" {
		t.Fatalf("unexpected http addr %q", c.HTTPAddr())
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", c.RedisAddr())
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "keeper", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "keeper", JWTAudience: "keeperctl"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_ProductionRequiresDBAndSecret(t *testing.T) {
	c := Config{App: AppConfig{Env: "production", Port: 8080}}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_HOST and JWT_SECRET")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := Config{
		App: AppConfig{Env: "local", Port: 8080},
		DB:  DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "keeper", SSLMode: ""},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Auth.JWTSecret == "" {
		t.Fatalf("expected a local jwt secret default")
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected default access ttl, got %s", c.Auth.AccessTokenTTL)
	}
}

func TestValidate_NoStoresIsFineLocally(t *testing.T) {
	c := Config{App: AppConfig{Env: "dev", Port: 8080}}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.HasDB() || c.HasRedis() {
		t.Fatalf("expected no stores configured")
	}
}

func TestLoadPolicy_EmptyPathIsDefault(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Engine.StepInterval.Duration != 20*time.Millisecond || p.Engine.ToleratedDeltaMultiplier != 10 {
		t.Fatalf("unexpected engine defaults: %+v", p.Engine)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadPolicy_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.toml")
	body := `
[engine]
step_interval = "50ms"
tolerated_delta_multiplier = 4

[health]
interval = "1m"

[network]
probe_addr = "registrar.example.com:5060"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Engine.StepInterval.Duration != 50*time.Millisecond {
		t.Fatalf("step_interval not applied: %s", p.Engine.StepInterval)
	}
	if p.Engine.ToleratedDeltaMultiplier != 4 {
		t.Fatalf("multiplier not applied: %d", p.Engine.ToleratedDeltaMultiplier)
	}
	if p.Engine.MaxConsecutiveFailures != 5 {
		t.Fatalf("expected untouched default, got %d", p.Engine.MaxConsecutiveFailures)
	}
	if p.Health.Interval.Duration != time.Minute {
		t.Fatalf("health.interval not applied: %s", p.Health.Interval)
	}
	if p.Network.ProbeAddr != "registrar.example.com:5060" {
		t.Fatalf("probe_addr not applied: %q", p.Network.ProbeAddr)
	}
}

func TestParsePolicy_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad duration":  "[engine]\nstep_interval = \"fast\"\n",
		"unknown key":   "[engine]\nstep_intervall = \"20ms\"\n",
		"invalid":       "[engine]\ntolerated_delta_multiplier = 0\n",
		"retry>timeout": "[calls]\nresolution_timeout = \"1s\"\nresolution_retry = \"2s\"\n",
	}
	for name, body := range cases {
		if _, err := ParsePolicy([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
