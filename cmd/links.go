package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/linkgen"
)

func newLinksCmd() *cobra.Command {
	var p linkgen.SeedParams
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Queue the listing page URLs of every city with a result total",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			q, err := a.Queue(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := linkgen.NewSeeder(linkgen.Default(), a.Directory, q, a.Logger.Named("links")).
				Seed(cmd.Context(), p)
			a.Logger.Info("links queued",
				zap.Int("cities", sum.Cities),
				zap.Int("skipped", sum.Skipped),
				zap.Int("generated", sum.Generated),
				zap.Int("inserted", sum.Inserted),
			)
			if interrupted(err) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&p.Country, "country", "", "limit to one ISO country code")
	cmd.Flags().StringSliceVar(&p.Exclude, "exclude", nil, "ISO country codes to skip")
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "maximum number of cities (0 = all)")
	return cmd
}
