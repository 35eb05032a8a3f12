package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/clock/system"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/id/uuid"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/listing"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/workqueue"
)

func newScrapeCmd() *cobra.Command {
	var p listing.RunParams
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Drain pending listing pages into the directory",
		Long: `scrape fetches every queued listing page of the selected cities (pending by
default, see --status), forwards the restaurants it finds to the directory API,
and removes the page from the queue once it is fully handled. Pages that look
blocked stay queued and are logged to the suspicious-responses file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-iterations") {
				p.MaxIterations = a.Config.Fetch.MaxIterations
			}
			if err := p.Validate(); err != nil {
				return err
			}
			q, err := a.Queue(cmd.Context())
			if err != nil {
				return err
			}
			scr, err := a.Scraper()
			if err != nil {
				return err
			}

			fetch := a.Config.Fetch
			opts := []listing.Option{
				listing.WithConcurrency(fetch.Concurrency),
				listing.WithAttempts(backoff.Linear{
					Attempts: fetch.MaxAttempts,
					Base:     time.Duration(fetch.BackoffBaseMs) * time.Millisecond,
				}),
				listing.WithClassifier(listing.NewClassifier(fetch.MinBytes, fetch.ChallengeMarkers)),
				listing.WithClock(system.New()),
				listing.WithIDGenerator(uuid.New()),
				listing.WithLogger(a.Logger.Named("scrape")),
			}
			if fetch.SuspiciousLog != "" {
				incidents, err := listing.OpenJSONLLog(fetch.SuspiciousLog)
				if err != nil {
					return err
				}
				defer func() { _ = incidents.Close() }()
				opts = append(opts, listing.WithIncidentLog(incidents))
			}

			sum, err := listing.New(q, a.Sink, scr, a.Directory, opts...).Run(cmd.Context(), p)
			fields := []zap.Field{
				zap.String("run_id", sum.RunID),
				zap.Int("iterations", sum.Iterations),
				zap.Int("processed", sum.Processed),
				zap.Int("removed", sum.Removed),
				zap.Int("kept", sum.Kept),
				zap.Int("records_ok", sum.RecordsOK),
				zap.Int("records_failed", sum.RecordsFailed),
			}
			for outcome, n := range sum.Outcomes {
				fields = append(fields, zap.Int("outcome_"+string(outcome), n))
			}
			a.Logger.Info("scrape finished", fields...)
			if interrupted(err) {
				a.Logger.Info("scrape interrupted; unfinished pages stay queued")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&p.GeoID, "geo-id", "", "only drain the city with this upstream geo id")
	cmd.Flags().StringVar(&p.Country, "country", "", "only drain cities of one ISO country code")
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "maximum number of cities per iteration (0 = all)")
	cmd.Flags().StringVar((*string)(&p.Status), "status", string(workqueue.StatusPending), "queue status to drain: pending, in_progress or completed")
	cmd.Flags().BoolVar(&p.Continuous, "continuous", false, "repeat until no pending pages remain")
	cmd.Flags().IntVar(&p.MaxIterations, "max-iterations", 10, "upper bound on --continuous passes (default fetch.max_iterations)")
	return cmd
}
