package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/troupe/internal/daemon"
	"github.com/tutu-network/troupe/internal/infra/placement"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Config file (.toml, .yaml or .yml)")
	serveCmd.Flags().StringVar(&serveStrategy, "strategy", "", "Placement strategy: weighted, affinity, round-robin, consistent-hash")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost     string
	servePort     int
	serveConfig   string
	serveStrategy string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the troupe nodes and API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveConfig)
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveStrategy != "" {
		if _, err := placement.ParseKind(serveStrategy); err != nil {
			return err
		}
		cfg.System.Strategy = serveStrategy
	}

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}

func loadConfig(path string) (daemon.Config, error) {
	if path == "" {
		return daemon.LoadConfig()
	}
	cfg, err := daemon.LoadConfigFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}
