package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/crm"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile enriched subscribers into Salesforce",
	Long:  "Finds enriched subscribers not yet synced and upserts them as Salesforce Contacts. Already-synced subscribers are skipped, so reruns are safe.",
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

		sfClient, err := initSalesforce()
		if err != nil {
			return err
		}

		orgID, _ := cmd.Flags().GetString("org")
		limit, _ := cmd.Flags().GetInt("limit")

		ids, _ := cmd.Flags().GetStringSlice("id")
		if len(ids) == 0 {
			subs, err := st.ListUnsyncedEnriched(ctx, orgID, limit)
			if err != nil {
				return eris.Wrap(err, "sync: list unsynced")
			}
			for _, sub := range subs {
				ids = append(ids, sub.ID)
			}
		}

		if len(ids) == 0 {
			zap.L().Info("nothing to sync", zap.String("org", orgID))
			return nil
		}

		rec := crm.NewReconciler(st, crm.NewSalesforceSyncer(sfClient))
		result, err := rec.BulkSync(ctx, ids)
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		zap.L().Info("sync complete",
			zap.Int("synced", result.Synced),
			zap.Int("already_synced", result.AlreadySynced),
			zap.Int("not_found", result.NotFound),
		)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("org", "", "restrict to one organization")
	syncCmd.Flags().Int("limit", 200, "max subscribers to sync")
	syncCmd.Flags().StringSlice("id", nil, "explicit subscriber IDs to sync (skips the unsynced scan)")
	rootCmd.AddCommand(syncCmd)
}
