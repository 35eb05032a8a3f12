package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/clock/system"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/details"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/id/uuid"
)

// modalSettle is how long a dismissed overlay gets to animate away.
const modalSettle = 500 * time.Millisecond

func newDetailsCmd() *cobra.Command {
	var (
		country string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "details",
		Short: "Render restaurant detail pages and archive their structured data",
		Long: `details repeatedly picks a never-scraped restaurant of the country, renders
its detail page in headless Chrome, extracts the embedded structured data and
page fields, and archives the snapshot. Successful pages are announced on the
configured topic and stamped with last_scraped. Without --max it runs until
interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			blobs, err := a.Blobs(cmd.Context())
			if err != nil {
				return err
			}
			pub, err := a.Publisher(cmd.Context())
			if err != nil {
				return err
			}

			bcfg := a.Config.Browser
			browser, err := details.NewBrowser(details.BrowserConfig{
				Headless:          bcfg.Headless,
				MaxParallel:       bcfg.MaxParallel,
				UserAgent:         bcfg.UserAgent,
				NavigationTimeout: time.Duration(bcfg.NavTimeoutSec) * time.Second,
			},
				details.WithModalStrategy(details.NewSelectorChain(bcfg.ModalSelectors, modalSettle)),
				details.WithBrowserLogger(a.Logger.Named("browser")),
			)
			if err != nil {
				return err
			}
			defer browser.Close()

			sum, err := details.NewEnricher(a.Directory, browser, blobs,
				details.WithPublisher(pub, a.Config.PubSub.Topic),
				details.WithPathPrefix(a.Config.Storage.Prefix),
				details.WithDelays(
					time.Duration(bcfg.IdleDelaySec)*time.Second,
					time.Duration(bcfg.FailureDelaySec)*time.Second,
				),
				details.WithClock(system.New()),
				details.WithIDGenerator(uuid.New()),
				details.WithLogger(a.Logger.Named("details")),
			).Run(cmd.Context(), country, limit)

			fields := []zap.Field{zap.String("run_id", sum.RunID), zap.Int("processed", sum.Processed)}
			for status, n := range sum.Statuses {
				fields = append(fields, zap.Int(string(status), n))
			}
			a.Logger.Info("details finished", fields...)
			if interrupted(err) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&country, "country", "AT", "ISO country code of the restaurants to enrich")
	cmd.Flags().IntVar(&limit, "max", 0, "stop after this many restaurants (0 = run until interrupted)")
	return cmd
}
