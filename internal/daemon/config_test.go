package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/troupe/internal/infra/placement"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 7420 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 7420)
	}
	if cfg.System.Strategy != string(placement.Weighted) {
		t.Errorf("System.Strategy = %q", cfg.System.Strategy)
	}
	if !cfg.Journal.Enabled {
		t.Error("journal should be enabled by default")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("TROUPE_HOME", t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Node.Capacity != 64 {
		t.Errorf("Node.Capacity = %d, want 64", cfg.Node.Capacity)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	t.Setenv("TROUPE_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Node.ID = "alpha"
	cfg.System.Strategy = string(placement.ConsistentHash)
	cfg.Cluster.Peers = []PeerConfig{{ID: "beta", Capacity: 4}}

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if got.Node.ID != "alpha" || got.System.Strategy != "consistent-hash" {
		t.Errorf("loaded = %+v", got.Node)
	}
	if len(got.Cluster.Peers) != 1 || got.Cluster.Peers[0].Capacity != 4 {
		t.Errorf("peers = %+v", got.Cluster.Peers)
	}
}

func TestLoadConfigFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "troupe.yaml")
	data := []byte(`
node:
  id: yaml-node
system:
  strategy: affinity
  actor_memory: 2MiB
cluster:
  peers:
    - id: p1
    - id: p2
      capacity: 2
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	if cfg.Node.ID != "yaml-node" || len(cfg.Cluster.Peers) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	// Defaults survive fields the file leaves out.
	if cfg.API.Port != 7420 {
		t.Errorf("API.Port = %d", cfg.API.Port)
	}

	scfg, err := cfg.systemConfig("n", "", 8)
	if err != nil {
		t.Fatalf("systemConfig() error: %v", err)
	}
	if scfg.Strategy != placement.Affinity || scfg.ActorMemory != 2<<20 {
		t.Errorf("system config = %+v", scfg)
	}
}

func TestLoadConfigFile_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "troupe.toml")
	data := []byte("[system]\nstrategy = \"round-robin\"\nheartbeat_interval = \"250ms\"\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error: %v", err)
	}
	scfg, err := cfg.systemConfig("n", "", 8)
	if err != nil {
		t.Fatal(err)
	}
	if scfg.Strategy != placement.RoundRobin || scfg.HeartbeatInterval != 250*time.Millisecond {
		t.Errorf("system config = %+v", scfg)
	}
}

func TestLoadConfigFile_BadStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "troupe.toml")
	if err := os.WriteFile(path, []byte("[system]\nstrategy = \"random\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"2s", 2 * time.Second},
		{"150ms", 150 * time.Millisecond},
		{"", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, time.Minute); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1MiB", 1 << 20},
		{"512KB", 512_000},
		{"", 42},
		{"0", 42},
		{"lots", 42},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseBytes(tt.input, 42); got != tt.want {
				t.Errorf("parseBytes(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
