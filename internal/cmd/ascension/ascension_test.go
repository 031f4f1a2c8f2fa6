package ascension

import (
	"flag"
	"testing"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("ascension", flag.ContinueOnError)
	t.Setenv("ASCENSION_HTTP_PORT", "9190")
	t.Setenv("ASCENSION_ADMIN_SECRET", "sekrit")

	cfg, err := ParseConfig(fs, []string{"-db-path", "tmp/advancement.db", "-sync-fan-out", "8"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPPort != 9190 {
		t.Fatalf("http port = %d, want 9190", cfg.HTTPPort)
	}
	if cfg.AdminSecret != "sekrit" {
		t.Fatalf("admin secret = %q, want %q", cfg.AdminSecret, "sekrit")
	}
	if cfg.DBPath != "tmp/advancement.db" {
		t.Fatalf("db path = %q, want flag override", cfg.DBPath)
	}
	if cfg.SyncFanOut != 8 {
		t.Fatalf("sync fan out = %d, want 8", cfg.SyncFanOut)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("ascension", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPPort != 8090 {
		t.Fatalf("http port = %d, want 8090", cfg.HTTPPort)
	}
	if cfg.HealthPort != 8091 {
		t.Fatalf("health port = %d, want 8091", cfg.HealthPort)
	}
	if cfg.DBPath != "data/advancement.db" {
		t.Fatalf("db path = %q, want default", cfg.DBPath)
	}
	if cfg.SyncFanOut != 4 {
		t.Fatalf("sync fan out = %d, want 4", cfg.SyncFanOut)
	}
}
