package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortuna/flowscrape/internal/config"
)

const (
	serviceName    = "flowscrape"
	serviceVersion = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "flowscrape extracts participant lists from FlowAgility events.",
	Version:       serviceVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// flags that override the environment when set
var (
	flagEvents   string
	flagOut      string
	flagLimit    int
	flagMaxPages int
	flagMode     string
	flagNoResume bool
	flagDebug    bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagEvents, "events", "", "event list JSON (default: newest 01events*.json in the output dir)")
	pf.StringVar(&flagOut, "out", "", "output directory")
	pf.IntVar(&flagLimit, "limit", 0, "process at most this many events")
	pf.IntVar(&flagMaxPages, "max-pages", 0, "stop after this many listing pages per event")
	pf.StringVar(&flagMode, "mode", "", "pagination mode: auto, paged, infinite or single")
	pf.BoolVar(&flagNoResume, "no-resume", false, "ignore saved state and start over")
	pf.BoolVar(&flagDebug, "debug", false, "keep raw panel markup and dump empty pages")
}

// ExecuteContext runs the CLI and exits non-zero on error.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("events") {
		cfg.EventsFile = flagEvents
	}
	if flags.Changed("out") {
		cfg.OutDir = flagOut
	}
	if flags.Changed("limit") {
		cfg.LimitEvents = flagLimit
	}
	if flags.Changed("max-pages") {
		cfg.MaxPages = flagMaxPages
	}
	if flags.Changed("mode") {
		if err := cfg.SetPaginationMode(flagMode); err != nil {
			return config.Config{}, nil, err
		}
	}
	if flagNoResume {
		cfg.Resume = false
	}
	if flagDebug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
