package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitolmirror/capitolmirror/internal/config"
	"github.com/capitolmirror/capitolmirror/internal/store"
	"github.com/capitolmirror/capitolmirror/internal/store/dynamo"
	"github.com/capitolmirror/capitolmirror/internal/store/memory"
	"github.com/capitolmirror/capitolmirror/internal/store/postgres"
)

const (
	appName = "capmirror"
	version = "v1.2.0"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "Mirror the Congress.gov legislative corpus into a wide-column store",
	Version: version,
	Long: `capmirror keeps a local mirror of the Congress.gov API corpus: bills,
amendments, committees, hearings, nominations, treaties and the rest of the
record families. Runs are incremental by default; refresh and bulk modes
rebuild explicit date windows.

The API key is read from CONGRESS_API_KEY. Store credentials come from the
AWS default chain (dynamo) or CAPMIRROR_POSTGRES_DSN (postgres).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
}

// Execute runs the CLI with the signal-scoped context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func buildStore(ctx context.Context, cfg config.Config, secrets config.Secrets) (store.Store, error) {
	switch cfg.Store.Backend {
	case "dynamo":
		return dynamo.New(ctx, cfg.Store.Region, cfg.Store.TableName)
	case "postgres":
		if secrets.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires CAPMIRROR_POSTGRES_DSN")
		}
		return postgres.New(secrets.PostgresDSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
