package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/capitolmirror/capitolmirror/internal/config"
	httpapi "github.com/capitolmirror/capitolmirror/internal/interfaces/http"
	"github.com/capitolmirror/capitolmirror/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP API",
	Long: `Start the read surface over the configured store:
  GET /healthz          liveness plus store reachability
  GET /records/{id}     one record by canonical id
  GET /records          records by type, optionally bounded by update date
  GET /metrics          Prometheus metrics

Example:
  capmirror serve --listen :8600`,
	RunE: runServe,
}

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	secrets := config.LoadSecrets()

	st, err := buildStore(cmd.Context(), cfg, secrets)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics.New(registry)

	addr := serveListen
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}
	return httpapi.NewServer(st, registry).ListenAndServe(cmd.Context(), addr)
}
