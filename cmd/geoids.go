package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/geoid"
)

type geoidsOptions struct {
	check   bool
	apply   bool
	country string
	limit   int
}

func newGeoIDsCmd() *cobra.Command {
	opts := &geoidsOptions{}
	cmd := &cobra.Command{
		Use:   "geoids",
		Short: "Resolve upstream geo ids for cities that lack one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.apply && !opts.check {
				return fmt.Errorf("--apply requires --check")
			}
			if opts.country != "" && !opts.check {
				return fmt.Errorf("--country is only used with --check")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Config.GeoID.APIKey == "" {
				return fmt.Errorf("TRIPADVISOR_API_KEY (geoid.api_key) must be set")
			}
			searcher, err := geoid.NewSearchClient(a.Config.GeoID.Endpoint, a.Config.GeoID.APIKey,
				geoid.WithSearchLogger(a.Logger.Named("search")))
			if err != nil {
				return err
			}
			pause := time.Duration(a.Config.GeoID.PauseMs) * time.Millisecond
			resolver := geoid.NewResolver(a.Directory, searcher, pause, a.Logger.Named("geoids"))

			var sum geoid.Summary
			if opts.check {
				sum, err = resolver.Check(cmd.Context(), geoid.CheckParams{
					Country: opts.country,
					Limit:   opts.limit,
					Apply:   opts.apply,
				})
			} else {
				sum, err = resolver.Resolve(cmd.Context(), opts.limit)
			}
			a.Logger.Info("geo id pass finished",
				zap.Int("processed", sum.Processed),
				zap.Int("resolved", sum.Resolved),
				zap.Int("unmatched", sum.Unmatched),
				zap.Int("failed", sum.Failed),
				zap.Int("mismatches", len(sum.Mismatches)),
			)
			if opts.check {
				printMismatches(cmd, sum.Mismatches)
			}
			if interrupted(err) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.check, "check", false, "re-validate cities that already have a geo id")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "with --check, delete the restaurants of mismatching cities and store the new id")
	cmd.Flags().StringVar(&opts.country, "country", "", "with --check, limit to one ISO country code")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of cities (0 = all)")
	return cmd
}

func printMismatches(cmd *cobra.Command, ms []geoid.Mismatch) {
	if len(ms) == 0 {
		return
	}
	t := newTable(cmd, "City", "Name", "Current", "Found", "Restaurants", "Applied")
	for _, m := range ms {
		t.AppendRow(table.Row{m.City.GeonameID, m.City.Name, m.Current, m.Found, m.Restaurants, m.Applied})
	}
	t.Render()
}
