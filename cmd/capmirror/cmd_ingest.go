package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/capitolmirror/capitolmirror/internal/config"
	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/ingest"
	"github.com/capitolmirror/capitolmirror/internal/ingest/dedup"
	"github.com/capitolmirror/capitolmirror/internal/metrics"
	"github.com/capitolmirror/capitolmirror/internal/upstream"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass",
	Long: `Run one ingestion pass over the configured record families.

Modes:
  incremental  mirror the last N days (default, --lookback)
  refresh      re-mirror an explicit --from/--to window
  bulk         mirror everything since the configured min date

Examples:
  capmirror ingest
  capmirror ingest --mode refresh --from 2025-01-01 --to 2025-03-31
  capmirror ingest --families bill,amendment --lookback 30`,
	RunE: runIngest,
}

var (
	ingestMode     string
	ingestFrom     string
	ingestTo       string
	ingestLookback int
	ingestFamilies string
	ingestJSON     bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestMode, "mode", "incremental", "Run mode (incremental|refresh|bulk)")
	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "Window start, YYYY-MM-DD (refresh mode)")
	ingestCmd.Flags().StringVar(&ingestTo, "to", "", "Window end inclusive, YYYY-MM-DD (refresh mode)")
	ingestCmd.Flags().IntVar(&ingestLookback, "lookback", 0, "Lookback days for incremental mode (0 = config default)")
	ingestCmd.Flags().StringVar(&ingestFamilies, "families", "", "Comma-separated family subset (empty = all)")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "Print the run report as JSON")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	secrets := config.LoadSecrets()

	req, err := buildRunRequest()
	if err != nil {
		return err
	}

	fetcher, err := upstream.New(&cfg, secrets)
	if err != nil {
		return err
	}
	st, err := buildStore(cmd.Context(), cfg, secrets)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	opts := []ingest.Option{}
	if addr := cfg.Store.Deduplication.RedisAddr; cfg.Store.Deduplication.Enabled && addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: secrets.RedisPass,
			DB:       cfg.Store.Deduplication.RedisDB,
		})
		opts = append(opts, ingest.WithDedupFactory(func(runID string) dedup.Set {
			return dedup.NewRedisSet(client, runID)
		}))
		log.Info().Str("addr", addr).Msg("deduplication backed by redis")
	}

	runner := ingest.NewRunner(&cfg, fetcher, st, m, opts...)
	report, err := runner.Run(cmd.Context(), req)
	printReport(report)
	if err != nil {
		return err
	}
	if report.State == ingest.StateFailed {
		return fmt.Errorf("run %s failed: %s", report.RunID, report.Error)
	}
	return nil
}

func buildRunRequest() (ingest.RunRequest, error) {
	req := ingest.RunRequest{
		Mode:     ingest.Mode(ingestMode),
		Lookback: ingestLookback,
	}

	switch req.Mode {
	case ingest.ModeIncremental, ingest.ModeBulk:
	case ingest.ModeRefresh:
		from, err := parseDay(ingestFrom, "--from")
		if err != nil {
			return req, err
		}
		to, err := parseDay(ingestTo, "--to")
		if err != nil {
			return req, err
		}
		req.From, req.To = from, to
	default:
		return req, fmt.Errorf("unknown mode %q", ingestMode)
	}

	if ingestFamilies != "" {
		for _, name := range strings.Split(ingestFamilies, ",") {
			f, ok := domain.ParseFamily(strings.TrimSpace(name))
			if !ok {
				return req, fmt.Errorf("unknown family %q", name)
			}
			req.Families = append(req.Families, f)
		}
	}
	return req, nil
}

func parseDay(v, flag string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("refresh mode requires %s", flag)
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", flag, err)
	}
	return t.UTC(), nil
}

func printReport(report *ingest.Report) {
	if report == nil {
		return
	}
	if ingestJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}

	fmt.Printf("run %s (%s): %s in %s\n",
		report.RunID, report.Mode, report.State,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Printf("  windows=%d received=%d validated=%d stored=%d dup=%d\n",
		report.Windows, report.Totals.Received, report.Totals.Validated,
		report.Totals.Stored, report.Totals.DuplicatesSkipped)
	fmt.Printf("  failed_validation=%d failed_store=%d retries=%d rate_limit_waits=%d\n",
		report.Totals.FailedValidation, report.Totals.FailedStore,
		report.Totals.Retries, report.Totals.RateLimitWaits)
	for _, f := range domain.Families() {
		c, ok := report.PerFamily[f]
		if !ok || (c.Received == 0 && c.Requested == 0) {
			continue
		}
		fmt.Printf("  %-28s received=%-6d stored=%-6d dup=%-5d failed=%d\n",
			f, c.Received, c.Stored, c.DuplicatesSkipped, c.FailedValidation+c.FailedStore)
	}
	if report.Error != "" {
		fmt.Printf("  error: %s\n", report.Error)
	}
}
