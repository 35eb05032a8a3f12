package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/workqueue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the listing-page work queue",
	}
	cmd.AddCommand(
		newQueueStatsCmd(),
		newQueueListCmd(),
		newQueueRemoveCmd(),
		newQueueSetCmd(),
		newQueueReassignCmd(),
	)
	return cmd
}

func openQueue(cmd *cobra.Command) (*workqueue.Store, error) {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, err
	}
	return a.Queue(cmd.Context())
}

func newQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count queued URLs per city and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := openQueue(cmd)
			if err != nil {
				return err
			}
			counts, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}
			t := newTable(cmd, "City", "Status", "URLs")
			total := 0
			for _, c := range counts {
				t.AppendRow(table.Row{c.CityID, c.Status, c.Total})
				total += c.Total
			}
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d urls\n", total)
			return nil
		},
	}
}

func newQueueListCmd() *cobra.Command {
	var (
		cities []int64
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued URLs with a status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := workqueue.ParseStatus(status)
			if err != nil {
				return err
			}
			q, err := openQueue(cmd)
			if err != nil {
				return err
			}
			groups, err := q.ListByStatus(cmd.Context(), cities, st)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range slices.Sorted(maps.Keys(groups)) {
				for _, item := range groups[id] {
					fmt.Fprintf(out, "%d\t%s\n", id, item.URL)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&cities, "city", nil, "geoname ids to list (default all)")
	cmd.Flags().StringVar(&status, "status", string(workqueue.StatusPending), "pending, in_progress or completed")
	return cmd
}

func newQueueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <url>",
		Short: "Delete one URL from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(cmd)
			if err != nil {
				return err
			}
			removed, err := q.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s is not queued", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed", args[0])
			return nil
		},
	}
}

func newQueueSetCmd() *cobra.Command {
	var (
		status string
		city   int64
	)
	cmd := &cobra.Command{
		Use:   "set <url>",
		Short: "Change the status or city of one queued URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params workqueue.UpdateParams
			if cmd.Flags().Changed("status") {
				st, err := workqueue.ParseStatus(status)
				if err != nil {
					return err
				}
				params.Status = &st
			}
			if cmd.Flags().Changed("city") {
				params.CityID = &city
			}
			q, err := openQueue(cmd)
			if err != nil {
				return err
			}
			updated, err := q.Update(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			if !updated {
				return fmt.Errorf("%s is not queued", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "updated", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().Int64Var(&city, "city", 0, "new geoname id")
	return cmd
}

func newQueueReassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <from-city> <to-city>",
		Short: "Move every URL of one city to another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("from city: %w", err)
			}
			to, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("to city: %w", err)
			}
			q, err := openQueue(cmd)
			if err != nil {
				return err
			}
			moved, err := q.Reassign(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %d urls from %d to %d\n", moved, from, to)
			return nil
		},
	}
}
