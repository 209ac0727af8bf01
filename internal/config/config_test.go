package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if !cfg.Server.RateLimit.Enabled || cfg.Server.RateLimit.Burst != 20 {
		t.Errorf("Server.RateLimit = %+v", cfg.Server.RateLimit)
	}
	if cfg.Identity.Audience != "crudadmin" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if !cfg.Admin.Debug {
		t.Error("Admin.Debug = false, want true")
	}
	if cfg.Admin.PerPage != 25 {
		t.Errorf("Admin.PerPage = %d, want 25", cfg.Admin.PerPage)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSNEnv != "ADMIN_DB_URL" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Session.Driver != "redis" || cfg.Session.TTL != 12*time.Hour {
		t.Errorf("Session = %+v", cfg.Session)
	}
	// Unset keys keep their defaults.
	if cfg.Session.CookieName != "crudadmin_session" {
		t.Errorf("Session.CookieName = %q, want default", cfg.Session.CookieName)
	}
	if cfg.CSRF.TTL != 2*time.Hour {
		t.Errorf("CSRF.TTL = %v, want 2h", cfg.CSRF.TTL)
	}
}

func TestLoad_example(t *testing.T) {
	cfg, err := Load("../../config.example.yaml")
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}
	if cfg.Identity.Mode != IdentityModeHeader || cfg.Store.Driver != "memory" {
		t.Errorf("example config = identity %q, store %q", cfg.Identity.Mode, cfg.Store.Driver)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if _, err := Load("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
	if !strings.Contains(err.Error(), "identity.issuer is required") {
		t.Errorf("error = %v, want identity.issuer message", err)
	}
}

func TestLoad_header_mode_skips_jwt_fields(t *testing.T) {
	t.Setenv("CRUDADMIN_IDENTITY_MODE", "header")
	if _, err := Load("testdata/missing_identity.yaml"); err != nil {
		t.Fatalf("Load() in header mode error = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Capability.Cache.TTL != 5*time.Minute {
		t.Errorf("default Capability.Cache.TTL = %v, want 5m", cfg.Capability.Cache.TTL)
	}
	if cfg.Store.Driver != "memory" || cfg.Session.Driver != "memory" {
		t.Errorf("default drivers = %q/%q, want memory/memory", cfg.Store.Driver, cfg.Session.Driver)
	}
	if cfg.Admin.Debug {
		t.Error("default Admin.Debug = true, want false")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CRUDADMIN_SERVER_PORT", "3000")
	t.Setenv("CRUDADMIN_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("CRUDADMIN_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("CRUDADMIN_ADMIN_DEBUG", "false")
	t.Setenv("CRUDADMIN_STORE_DRIVER", "memory")
	t.Setenv("CRUDADMIN_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Admin.Debug {
		t.Error("Admin.Debug = true, want false (env override)")
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory (env override)", cfg.Store.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Identity.Mode = IdentityModeHeader
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown identity mode", func(c *Config) { c.Identity.Mode = "basic" }, "identity.mode"},
		{"no directories", func(c *Config) { c.Admin.Directories = nil }, "admin.directories"},
		{"zero per page", func(c *Config) { c.Admin.PerPage = 0 }, "admin.per_page"},
		{"unknown store", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"unknown session", func(c *Config) { c.Session.Driver = "file" }, "session.driver"},
		{"rate limit without rate", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.RequestsPerSecond = 0
		}, "rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should return error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("Validate() on valid config = %v", err)
	}
}
