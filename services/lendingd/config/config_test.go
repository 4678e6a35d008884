package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
identity:
  app_id: app_staging_123
auth:
  jwt_secret: " s3cret "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Storage.Backend != "memory" || cfg.Indexer.Driver != "sqlite" || cfg.Indexer.DSN == "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Indexer.ExportDir != "exports" || cfg.LogFile != "" {
		t.Fatalf("unexpected indexer defaults: %+v", cfg.Indexer)
	}
	if cfg.Auth.Secret() != "s3cret" {
		t.Fatalf("secret not trimmed: %q", cfg.Auth.Secret())
	}
	if cfg.Auth.AdminSignatureTTL != 5*time.Minute || cfg.Keeper.Interval != time.Minute {
		t.Fatalf("unexpected durations: %+v / %+v", cfg.Auth, cfg.Keeper)
	}
}

func TestLoadConfigSecretFromEnv(t *testing.T) {
	t.Setenv("LENDINGD_TEST_SECRET", "from-env")
	path := writeConfig(t, `
identity:
  app_id: app
auth:
  jwt_secret_env: LENDINGD_TEST_SECRET
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Secret() != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.Auth.Secret())
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing secret": `
identity:
  app_id: app
`,
		"missing app id": `
auth:
  jwt_secret: x
`,
		"leveldb without path": `
identity: {app_id: app}
auth: {jwt_secret: x}
storage: {backend: leveldb}
`,
		"unknown backend": `
identity: {app_id: app}
auth: {jwt_secret: x}
storage: {backend: rocksdb, path: /tmp/x}
`,
		"postgres without dsn": `
identity: {app_id: app}
auth: {jwt_secret: x}
indexer: {driver: postgres}
`,
		"unknown field": `
identity: {app_id: app}
auth: {jwt_secret: x}
typo: true
`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
