package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"vollahub/internal/config"
	"vollahub/internal/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	debug   bool
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "vollahub",
		Short:         "Volla content hub crawler",
		Long:          "Crawls volla.online and wiki.volla.online into normalised content lists.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults reproduce the Volla crawls)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newCrawlCommand(),
		newServeCommand(),
		newArticleCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "vollahub version %s\n", version)
			},
		},
	)
	return root
}

// Execute runs the root command until it returns or a termination signal
// arrives.
func Execute() error {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}

// loadDeps reads configuration and builds the logger and HTTP fetcher.
func loadDeps() (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return newDeps(cfg, log)
}
