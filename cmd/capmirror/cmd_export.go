package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/capitolmirror/capitolmirror/internal/config"
	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump mirrored records for one family to CSV or JSON",
	Long: `Stream stored records for one family, optionally bounded by update
date, to a file or stdout.

Examples:
  capmirror export --family bill --format csv --out bills.csv
  capmirror export --family treaty --from 2025-01-01 --to 2025-06-30`,
	RunE: runExport,
}

var (
	exportFamily string
	exportFrom   string
	exportTo     string
	exportLimit  int
	exportFormat string
	exportOut    string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFamily, "family", "", "Record family to export (required)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Minimum update date, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Maximum update date, YYYY-MM-DD")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "Maximum records to export (0 = unlimited)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format (csv|json)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("family")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	secrets := config.LoadSecrets()

	family, ok := domain.ParseFamily(exportFamily)
	if !ok {
		return fmt.Errorf("unknown family %q", exportFamily)
	}
	for _, d := range []string{exportFrom, exportTo} {
		if d != "" && !domain.ValidDate(d) {
			return fmt.Errorf("dates must be YYYY-MM-DD, got %q", d)
		}
	}

	st, err := buildStore(cmd.Context(), cfg, secrets)
	if err != nil {
		return err
	}

	out := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	n, err := export.Run(cmd.Context(), st, export.Request{
		Family: family,
		From:   exportFrom,
		To:     exportTo,
		Limit:  exportLimit,
		Format: export.Format(exportFormat),
	}, out)
	if err != nil {
		return err
	}
	log.Info().Int("records", n).Str("family", string(family)).Msg("export complete")
	return nil
}
