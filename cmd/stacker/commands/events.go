package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stacker/pkg/config"
)

func newEventsCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "events STACK",
		Short: "Show the event log of a stack",
		Example: `  # Last 20 events of web
  stacker events web --limit 20`,
		Args: cobra.ExactArgs(1),
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

			rec, err := store.GetStack(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := store.ListEvents(cmd.Context(), rec.ID, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tRESOURCE\tTYPE\tSTATUS\tREASON")
			for _, ev := range events {
				resource := ev.ResourceName
				if resource == "" {
					resource = args[0]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s_%s\t%s\n",
					ev.Timestamp.Format(time.RFC3339), resource, ev.ResourceType,
					ev.Action, ev.Status, ev.StatusReason)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of events to skip")

	return cmd
}
