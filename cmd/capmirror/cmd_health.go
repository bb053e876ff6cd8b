package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/capitolmirror/capitolmirror/internal/config"
	"github.com/capitolmirror/capitolmirror/internal/upstream"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check upstream, store and dedup connectivity",
	Long: `Probe each dependency the mirror needs before a run:
- Congress.gov API reachability and key validity
- store table presence and credentials
- Redis, when deduplication is configured to use it

Examples:
  capmirror health
  capmirror health --json`,
	RunE: runHealth,
}

var (
	healthJSON    bool
	healthTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output health status as JSON")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 30*time.Second, "Health check timeout")
}

type healthStatus struct {
	Overall    string            `json:"overall"` // HEALTHY or UNHEALTHY
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	secrets := config.LoadSecrets()

	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	defer cancel()

	status := healthStatus{
		Overall:    "HEALTHY",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}
	report := func(name string, err error) {
		if err != nil {
			status.Components[name] = err.Error()
			status.Overall = "UNHEALTHY"
			return
		}
		status.Components[name] = "ok"
	}

	client, err := upstream.New(&cfg, secrets)
	if err != nil {
		report("upstream", err)
	} else {
		report("upstream", client.Ping(ctx))
	}

	st, err := buildStore(ctx, cfg, secrets)
	if err != nil {
		report("store", err)
	} else {
		report("store", st.DescribeTable(ctx))
	}

	if cfg.Store.Deduplication.Enabled && cfg.Store.Deduplication.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Deduplication.RedisAddr,
			Password: secrets.RedisPass,
			DB:       cfg.Store.Deduplication.RedisDB,
		})
		report("redis", rdb.Ping(ctx).Err())
		_ = rdb.Close()
	}

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status)
	} else {
		fmt.Printf("overall: %s\n", status.Overall)
		for name, state := range status.Components {
			fmt.Printf("  %-10s %s\n", name, state)
		}
	}

	if status.Overall != "HEALTHY" {
		return fmt.Errorf("one or more components unhealthy")
	}
	return nil
}
