package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the crawl with the REST and WebSocket APIs, and keeps serving the results afterwards.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		s, err := newSession(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer s.close()

		shutdown := s.servers()
		defer func() {
			shutdownCtx, shutdownCancel := shutdownTimeout()
			defer shutdownCancel()
			shutdown(shutdownCtx)
			logger.Info("flowscrape stopped")
		}()

		stopping, release := watchSignals(s.budget, cancel, logger)
		defer release()

		summary, err := s.crawl(ctx)
		s.summarize(summary)
		if err != nil {
			return err
		}

		logger.Info("✓ Crawl finished, still serving results (interrupt to exit)")
		select {
		case <-stopping:
		case <-ctx.Done():
		}
		return nil
	},
}
