package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/irodimus/plexporter/internal/config"
	"github.com/irodimus/plexporter/internal/controllers"
	"github.com/irodimus/plexporter/internal/services/plex"
	"github.com/irodimus/plexporter/internal/utils"
)

type options struct {
	limit   int
	verbose bool

	all      bool
	allMovie bool
	allShow  bool

	libraries      []string
	movies         []string
	series         []string
	seasonNumbers  []int
	episodeNumbers []int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "hdroptimizer",
		Short:         "Optimize HDR media when it isn't already available in SDR",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "L", -1, "Maximum amount of media to send to the queue in one run")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every checked item")

	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "Target every media item in every library (use with care!)")
	cmd.Flags().BoolVar(&opts.allMovie, "all-movie", false, "Target all movie libraries")
	cmd.Flags().BoolVar(&opts.allShow, "all-show", false, "Target all show libraries")
	cmd.Flags().StringArrayVarP(&opts.libraries, "library", "l", nil, "Target a specific library by name (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.movies, "movie", "m", nil, "Target a specific movie by name (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.series, "series", "s", nil, "Target a specific series by name (repeatable)")
	cmd.Flags().IntSliceVarP(&opts.seasonNumbers, "season", "S", nil, "Target a specific season by number; specials is 0 (repeatable)")
	cmd.Flags().IntSliceVarP(&opts.episodeNumbers, "episode", "e", nil, "Target a specific episode by number (repeatable)")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	filter := &controllers.Filter{
		All:            opts.all,
		AllMovie:       opts.allMovie,
		AllShow:        opts.allShow,
		Libraries:      opts.libraries,
		Movies:         opts.movies,
		Series:         opts.series,
		SeasonNumbers:  opts.seasonNumbers,
		EpisodeNumbers: opts.episodeNumbers,
	}
	if err := filter.Validate(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	logger := utils.NewLogger(cfg.LogLevel)

	plexClient, err := plex.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Plex client: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	optimizer := controllers.NewOptimizerController(plexClient, filter, opts.limit, logger)
	queued, err := optimizer.Run(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.WithField("queued", len(queued)).Info("Run finished")
	return nil
}
