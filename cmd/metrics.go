package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print dashboard metrics",
	Long:  "Computes the dark-funnel dashboard rollup from the store and prints it as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		orgID, _ := cmd.Flags().GetString("org")

		snapshot, err := metrics.NewAggregator(st).Collect(ctx, orgID)
		if err != nil {
			return eris.Wrap(err, "metrics")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	},
}

func init() {
	metricsCmd.Flags().String("org", "", "restrict to one organization")
	rootCmd.AddCommand(metricsCmd)
}
