package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stakepilot.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"web3": {"chain_config": "chains.yaml"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base := filepath.Dir(path)

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Storage.MessageStore.Driver != "file" || cfg.Followup.Driver != "memory" {
		t.Fatalf("unexpected drivers %+v %+v", cfg.Storage.MessageStore, cfg.Followup)
	}
	if cfg.Web3.ReceiptTimeout() != 180*time.Second {
		t.Fatalf("unexpected receipt timeout %s", cfg.Web3.ReceiptTimeout())
	}
	if cfg.Web3.ChainConfig != filepath.Join(base, "chains.yaml") {
		t.Fatalf("chain config should resolve relative to the config file, got %s", cfg.Web3.ChainConfig)
	}
	if cfg.Runtime.DataDir != filepath.Join(base, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
	if cfg.Followup.WebhookTimeout() != 10*time.Second || cfg.Followup.Workers != 2 {
		t.Fatalf("unexpected followup defaults %+v", cfg.Followup)
	}
	if cfg.Locking.Driver != "file" || cfg.Locking.Dir != filepath.Join(base, "data", "locks") || cfg.Locking.Redis.TTL() != 210*time.Second {
		t.Fatalf("unexpected locking defaults %+v", cfg.Locking)
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	cases := map[string]string{
		"store":  `{"storage": {"message_store": {"driver": "sqlite"}}}`,
		"mysql":  `{"storage": {"message_store": {"driver": "mysql"}}}`,
		"queue":  `{"followup": {"driver": "kafka"}}`,
		"lock":   `{"locking": {"driver": "etcd"}}`,
		"redis":  `{"locking": {"driver": "redis"}}`,
		"syntax": `{"server": `,
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestAuditPathFollowsDataDir(t *testing.T) {
	path := writeConfig(t, `{"logging": {"audit": {"enabled": true}}, "runtime": {"data_dir": "/var/lib/stakepilot"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Audit.Path != filepath.Join("/var/lib/stakepilot", "audit.log") {
		t.Fatalf("unexpected audit path %s", cfg.Logging.Audit.Path)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if Path() != DefaultPath {
		t.Fatalf("expected default path")
	}
	t.Setenv(EnvConfigPath, "/etc/stakepilot.json")
	if Path() != "/etc/stakepilot.json" {
		t.Fatalf("expected env path, got %s", Path())
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load or default: %v", err)
	}
	if cfg.Storage.MessageStore.Driver != "file" {
		t.Fatalf("expected defaults, got %+v", cfg.Storage)
	}
}
