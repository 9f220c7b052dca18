package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--events <file>] [--out <dir>]",
	Short: "Extracts participants of every event in the list, resuming saved progress.",
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

		_, release := watchSignals(s.budget, cancel, logger)
		defer release()

		summary, err := s.crawl(ctx)
		s.summarize(summary)
		return err
	},
}
