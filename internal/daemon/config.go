// Package daemon manages the troupe daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/tutu-network/troupe/internal/app/system"
	"github.com/tutu-network/troupe/internal/infra/network"
	"github.com/tutu-network/troupe/internal/infra/placement"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node" yaml:"node"`
	System    SystemConfig    `toml:"system" yaml:"system"`
	Cluster   ClusterConfig   `toml:"cluster" yaml:"cluster"`
	API       APIConfig       `toml:"api" yaml:"api"`
	Journal   JournalConfig   `toml:"journal" yaml:"journal"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

// NodeConfig identifies the primary node. An empty ID is generated once and
// kept in the journal.
type NodeConfig struct {
	ID       string `toml:"id" yaml:"id"`
	Address  string `toml:"address" yaml:"address"`
	Capacity int    `toml:"capacity" yaml:"capacity"`
}

// SystemConfig tunes the actor system of every node.
type SystemConfig struct {
	Strategy              string `toml:"strategy" yaml:"strategy"`
	HeartbeatInterval     string `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	LivenessTimeout       string `toml:"liveness_timeout" yaml:"liveness_timeout"`
	DefaultTTL            string `toml:"default_ttl" yaml:"default_ttl"`
	QueueDepth            int    `toml:"queue_depth" yaml:"queue_depth"`
	ActorMemory           string `toml:"actor_memory" yaml:"actor_memory"`
	MaxConcurrentSubtasks int    `toml:"max_concurrent_subtasks" yaml:"max_concurrent_subtasks"`
}

// ClusterConfig describes the in-process fabric and the peer nodes that share
// it with the primary node.
type ClusterConfig struct {
	Peers           []PeerConfig `toml:"peers" yaml:"peers"`
	SendTimeout     string       `toml:"send_timeout" yaml:"send_timeout"`
	BreakerFailures uint32       `toml:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown string       `toml:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// PeerConfig is one extra node.
type PeerConfig struct {
	ID       string `toml:"id" yaml:"id"`
	Capacity int    `toml:"capacity" yaml:"capacity"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Dir     string `toml:"dir" yaml:"dir"`
	Buffer  int    `toml:"buffer" yaml:"buffer"`
}

// LoggingConfig controls logging behavior. An empty File logs to stderr.
type LoggingConfig struct {
	File string `toml:"file" yaml:"file"`
}

// TelemetryConfig controls metrics and health checks.
type TelemetryConfig struct {
	Prometheus     bool   `toml:"prometheus" yaml:"prometheus"`
	HealthInterval string `toml:"health_interval" yaml:"health_interval"`
}

// DefaultConfig returns a single-node configuration listening on localhost.
func DefaultConfig() Config {
	homeDir := troupeHome()
	return Config{
		Node: NodeConfig{
			Capacity: 64,
		},
		System: SystemConfig{
			Strategy:              string(placement.Weighted),
			HeartbeatInterval:     "1s",
			LivenessTimeout:       "5s",
			DefaultTTL:            "30s",
			QueueDepth:            10_000,
			ActorMemory:           "1MiB",
			MaxConcurrentSubtasks: 8,
		},
		Cluster: ClusterConfig{
			SendTimeout:     "2s",
			BreakerFailures: 5,
			BreakerCooldown: "10s",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7420,
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     homeDir,
			Buffer:  1024,
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: "30s",
		},
	}
}

// LoadConfig reads config from ~/.troupe/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	path := filepath.Join(troupeHome(), "config.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil // No config file yet, use defaults
	}
	return LoadConfigFile(path)
}

// LoadConfigFile reads config from path over the defaults. Files ending in
// .yaml or .yml are decoded as YAML, everything else as TOML.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if _, err := placement.ParseKind(cfg.System.Strategy); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.troupe/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(troupeHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ConfigPath returns where SaveConfig writes.
func ConfigPath() string {
	return filepath.Join(troupeHome(), "config.toml")
}

// ─── Conversion ─────────────────────────────────────────────────────────────

// systemConfig builds the actor system config for one node.
func (c Config) systemConfig(nodeID, address string, capacity int) (system.Config, error) {
	def := system.DefaultConfig()
	strategy, err := placement.ParseKind(c.System.Strategy)
	if err != nil {
		return system.Config{}, err
	}
	return system.Config{
		NodeID:                nodeID,
		Address:               address,
		Capacity:              capacity,
		Strategy:              strategy,
		HeartbeatInterval:     parseDuration(c.System.HeartbeatInterval, def.HeartbeatInterval),
		LivenessTimeout:       parseDuration(c.System.LivenessTimeout, def.LivenessTimeout),
		DefaultTTL:            parseDuration(c.System.DefaultTTL, def.DefaultTTL),
		QueueDepth:            c.System.QueueDepth,
		SendTimeout:           parseDuration(c.Cluster.SendTimeout, def.SendTimeout),
		ActorMemory:           parseBytes(c.System.ActorMemory, def.ActorMemory),
		MaxConcurrentSubtasks: c.System.MaxConcurrentSubtasks,
	}, nil
}

// fabricConfig builds the in-process transport config.
func (c Config) fabricConfig() network.FabricConfig {
	def := network.DefaultFabricConfig()
	return network.FabricConfig{
		SendTimeout:     parseDuration(c.Cluster.SendTimeout, def.SendTimeout),
		BreakerFailures: c.Cluster.BreakerFailures,
		BreakerCooldown: parseDuration(c.Cluster.BreakerCooldown, def.BreakerCooldown),
	}
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// parseBytes parses a size like "1MiB" or "512KB", returning a fallback on
// error or a non-positive size.
func parseBytes(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := humanize.ParseBytes(s)
	if err != nil || n == 0 || n > 1<<40 {
		return fallback
	}
	return int64(n)
}

// troupeHome returns the troupe data directory.
func troupeHome() string {
	if env := os.Getenv("TROUPE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".troupe")
}

// TroupeHome is exported for use by other packages.
func TroupeHome() string {
	return troupeHome()
}
