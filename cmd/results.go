package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/resultcount"
)

func newResultsCmd() *cobra.Command {
	var p resultcount.Params
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Record how many restaurants each city lists upstream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := p.Validate(); err != nil {
				return err
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			scr, err := a.Scraper()
			if err != nil {
				return err
			}
			sum, err := resultcount.NewUpdater(a.Directory, scr,
				resultcount.WithConcurrency(a.Config.Results.Concurrency),
				resultcount.WithLogger(a.Logger.Named("results")),
			).Run(cmd.Context(), p)
			a.Logger.Info("result counts updated",
				zap.Int("processed", sum.Processed),
				zap.Int("updated", sum.Updated),
				zap.Int("failed", sum.Failed),
			)
			if interrupted(err) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&p.GeoID, "geo-id", "", "refresh a single city by its upstream geo id")
	cmd.Flags().StringVar(&p.Country, "country", "", "limit to one ISO country code")
	cmd.Flags().BoolVar(&p.ZeroResultsOnly, "zero-results-only", false, "only revisit cities whose recorded total is zero")
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "maximum number of cities (0 = all)")
	return cmd
}
