package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/audit"
)

func newAuditCmd() *cobra.Command {
	var (
		country   string
		limit     int
		tolerance float64
		invalid   bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare recorded result totals against ingested restaurants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := audit.New(a.Directory, tolerance, 0, a.Logger.Named("audit")).
				Run(cmd.Context(), country, limit)
			if err != nil {
				if interrupted(err) {
					return nil
				}
				return err
			}

			t := newTable(cmd, "City", "Name", "Country", "Expected", "Actual", "Diff", "Verdict")
			for _, r := range rep.Rows {
				if invalid && r.Verdict == audit.VerdictOK {
					continue
				}
				t.AppendRow(table.Row{
					r.CityID, r.City, r.Country, r.Expected, r.Actual, fmt.Sprintf("%+d", r.Diff()), r.Verdict,
				})
			}
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d valid, %d invalid; expected %d, actual %d\n",
				rep.Valid, rep.Invalid, rep.TotalExpected, rep.TotalActual)
			return nil
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "limit to one ISO country code")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of cities (0 = all)")
	cmd.Flags().Float64Var(&tolerance, "tolerance", audit.DefaultTolerance, "accepted relative difference")
	cmd.Flags().BoolVar(&invalid, "invalid-only", false, "only print cities outside the tolerance")
	return cmd
}
