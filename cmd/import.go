package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/fetcher"
	"github.com/sells-group/enrich-cli/internal/intake"
)

var (
	importFilePath string
	importOrgID    string
	importSheet    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a subscriber list and create enrichment jobs",
	Long:  "Reads a CSV or XLSX subscriber export, deduplicates by normalized email, classifies addresses, and creates enrichment jobs for personal emails.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rows, err := readRows(importFilePath)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		eng := initEngine(st)

		result, err := intake.Ingest(ctx, st, eng, importOrgID, rows)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("file", importFilePath),
			zap.String("org", importOrgID),
			zap.Int("imported", result.Imported),
			zap.Int("duplicates", result.Duplicates),
			zap.Int("personal", result.Personal),
			zap.Int("corporate", result.Corporate),
			zap.Int("jobs_created", result.JobsCreated),
		)
		return nil
	},
}

func readRows(path string) ([]intake.Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return fetcher.ReadCSV(path)
	case ".xlsx":
		return fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: importSheet})
	default:
		return nil, eris.Errorf("unsupported file type: %s", path)
	}
}

func init() {
	importCmd.Flags().StringVar(&importFilePath, "file", "", "path to CSV or XLSX file (required)")
	importCmd.Flags().StringVar(&importOrgID, "org", "", "organization ID (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(importCmd)
}
