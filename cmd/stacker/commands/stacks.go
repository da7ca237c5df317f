package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stacker/pkg/config"
)

func newStacksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stacks",
		Short: "List recorded stacks",
		Long: `List the stacks recorded in the configured store with their last action
and status. Requires store.driver sqlite to see stacks from earlier runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := cfg.Store.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.ListStacks(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tID\tSTATUS\tUPDATED")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s_%s\t%s\n",
					rec.Name, rec.ID, rec.Action, rec.Status, rec.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
