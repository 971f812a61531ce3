package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"clearinghouse/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
service:
  name: clearinghoused
postgres:
  dsn: postgres://localhost:5432/clearinghouse?sslmode=disable
nats:
  url: nats://localhost:4222
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.MetricsAddr != ":9090" {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Core.MaxOracleAgeTicks != 150 {
		t.Errorf("max oracle age: got %d, want 150", cfg.Core.MaxOracleAgeTicks)
	}
	if cfg.Persist.BatchSize != 100 || cfg.Persist.FlushTimeout != 50*time.Millisecond {
		t.Errorf("persist defaults: %+v", cfg.Persist)
	}
	if cfg.Channels.PriceBuffer != 256 {
		t.Errorf("price buffer default: got %d", cfg.Channels.PriceBuffer)
	}
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalConfig+`
server:
  listen_addr: ":9999"
  metrics_addr: ":9100"
core:
  max_oracle_age_ticks: 300
persist:
  batch_size: 25
  flush_timeout: 10ms
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("listen addr: got %s", cfg.Server.ListenAddr)
	}
	if cfg.Core.MaxOracleAgeTicks != 300 {
		t.Errorf("max oracle age: got %d", cfg.Core.MaxOracleAgeTicks)
	}
	if cfg.Persist.BatchSize != 25 || cfg.Persist.FlushTimeout != 10*time.Millisecond {
		t.Errorf("persist: %+v", cfg.Persist)
	}
}

func TestLoad_EnvOverridesDSN(t *testing.T) {
	t.Setenv("CLEARING_POSTGRES_DSN", "postgres://env-host:5432/override?sslmode=disable")
	t.Setenv("CLEARING_NATS_URL", "nats://env-host:4222")

	cfg, err := config.Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://env-host:5432/override?sslmode=disable" {
		t.Errorf("dsn: got %s", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://env-host:4222" {
		t.Errorf("nats url: got %s", cfg.NATS.URL)
	}
}

func TestLoad_MissingRequiredFieldsRejected(t *testing.T) {
	if _, err := config.Load(writeConfig(t, "service:\n  version: 0.1.0\n")); err == nil {
		t.Fatal("config without required fields must fail validation")
	}
}

func TestLoad_MissingFileRejected(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
}
