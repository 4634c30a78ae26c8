package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/irodimus/plexporter/internal/config"
	"github.com/irodimus/plexporter/internal/controllers"
	"github.com/irodimus/plexporter/internal/markers"
	"github.com/irodimus/plexporter/internal/services/plex"
	"github.com/irodimus/plexporter/internal/snapshot"
	"github.com/irodimus/plexporter/internal/utils"
)

const defaultSnapshotName = "plexporter.db"

type options struct {
	mode     string
	process  []string
	location string
	verbose  bool

	all      bool
	allMovie bool
	allShow  bool
	allMusic bool

	libraries      []string
	movies         []string
	series         []string
	seasonNumbers  []int
	episodeNumbers []int
	artists        []string
	albums         []string
	tracks         []string
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
		Use:           "plexporter",
		Short:         "Export plex metadata to a database that can then be imported back later",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "type", "t", "", "Either export/import plex metadata or reset import (unlock all fields)")
	cmd.Flags().StringArrayVarP(&opts.process, "process", "p", nil, "What to process: metadata, watched_status, poster, episode_poster, art, episode_art, intro_marker (repeatable)")
	cmd.Flags().StringVarP(&opts.location, "location", "L", ".", "Folder or file for the snapshot database")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every processed item")

	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "Target every media item in every library (use with care!)")
	cmd.Flags().BoolVar(&opts.allMovie, "all-movie", false, "Target all movie libraries")
	cmd.Flags().BoolVar(&opts.allShow, "all-show", false, "Target all show libraries")
	cmd.Flags().BoolVar(&opts.allMusic, "all-music", false, "Target all music libraries")
	cmd.Flags().StringArrayVarP(&opts.libraries, "library", "l", nil, "Target a specific library by name (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.movies, "movie", "m", nil, "Target a specific movie by name (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.series, "series", "s", nil, "Target a specific series by name (repeatable)")
	cmd.Flags().IntSliceVarP(&opts.seasonNumbers, "season", "S", nil, "Target a specific season by number; specials is 0 (repeatable)")
	cmd.Flags().IntSliceVarP(&opts.episodeNumbers, "episode", "e", nil, "Target a specific episode by number (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.artists, "artist", "A", nil, "Target a specific artist by name (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.albums, "album", "d", nil, "Target a specific album by name (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.tracks, "track", "T", nil, "Target a specific track by name (repeatable)")

	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("process")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	start := time.Now()

	// 1. Resolve and validate configuration before any remote call
	mode, err := controllers.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	targets, err := controllers.ParseTargets(opts.process)
	if err != nil {
		return err
	}
	filter := &controllers.Filter{
		All:            opts.all,
		AllMovie:       opts.allMovie,
		AllShow:        opts.allShow,
		AllMusic:       opts.allMusic,
		Libraries:      opts.libraries,
		Movies:         opts.movies,
		Series:         opts.series,
		SeasonNumbers:  opts.seasonNumbers,
		EpisodeNumbers: opts.episodeNumbers,
		Artists:        opts.artists,
		Albums:         opts.albums,
		Tracks:         opts.tracks,
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

	snapshotPath, err := resolveSnapshotPath(mode, opts.location)
	if err != nil {
		return err
	}
	logger.WithField("snapshot", snapshotPath).Info("Using snapshot database")

	if mode == controllers.ModeImport && targets.IntroMarkers {
		if err := markers.RequireElevated(); err != nil {
			return err
		}
	}

	// 2. Initialize services
	plexClient, err := plex.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Plex client: %w", err)
	}

	var markerWriter markers.Writer
	if mode == controllers.ModeImport && targets.IntroMarkers {
		dbPath, err := markers.DatabasePath(ctx, plexClient, cfg.PlexDatabaseFolder)
		if err != nil {
			return err
		}
		writer, err := markers.Open(dbPath, logger)
		if err != nil {
			return err
		}
		defer writer.Close()
		markerWriter = writer
	}

	store, err := snapshot.Open(snapshotPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(); err != nil {
		return err
	}

	var users []plex.User
	if mode != controllers.ModeReset {
		users, err = plexClient.SharedUsers(ctx)
		if err != nil {
			return fmt.Errorf("failed to enumerate shared users: %w", err)
		}
		logger.WithField("count", len(users)).Debug("Shared users loaded")
	}

	// 3. Select the operation for this run
	var op controllers.Operation
	switch mode {
	case controllers.ModeExport:
		op = controllers.NewExportOperation(store, plexClient, targets, logger)
	case controllers.ModeImport:
		op = controllers.NewImportOperation(store, plexClient, targets, cfg.PlexToken, markerWriter, logger)
	case controllers.ModeReset:
		op = controllers.NewResetOperation(plexClient, targets, logger)
	}

	// 4. Run until done or interrupted
	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine := controllers.NewEngine(plexClient, store, op, mode, filter, targets, users, logger)
	processed, runErr := engine.Run(runCtx)

	// 5. Commit whatever completed, even on failure or interrupt
	if err := store.Commit(); err != nil {
		return err
	}
	if markerWriter != nil {
		if err := markerWriter.Commit(); err != nil {
			return err
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if runErr != nil {
		logger.Info("Interrupted; progress saved")
	}

	logger.WithField("processed", len(processed)).
		WithField("elapsed", time.Since(start).Round(time.Millisecond).String()).
		Info("Run finished")
	return nil
}

// resolveSnapshotPath turns the location flag into the snapshot file path.
// Export and reset accept a folder (the file is created inside it) or an
// existing file; import requires the file to exist already.
func resolveSnapshotPath(mode controllers.Mode, location string) (string, error) {
	info, err := os.Stat(location)
	if err != nil {
		return "", fmt.Errorf("location not found: %s", location)
	}

	if info.IsDir() {
		if mode == controllers.ModeImport {
			return "", fmt.Errorf("importing requires the path to an existing snapshot file, got a folder: %s", location)
		}
		return filepath.Join(location, defaultSnapshotName), nil
	}
	return location, nil
}
