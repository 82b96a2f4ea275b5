// Package main provides a CLI tool for database migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-recommender/internal/config"
	"github.com/helixir/paper-recommender/internal/database"
	"github.com/helixir/paper-recommender/internal/observability"
)

const connectTimeout = 30 * time.Second

type actionKind int

const (
	actionUp actionKind = iota + 1
	actionDown
	actionSteps
	actionVersion
	actionForce
)

// options is the parsed command line.
type options struct {
	kind    actionKind
	steps   int
	version int
	path    string
	yes     bool
}

var errNoAction = errors.New("no action specified")

// parseOptions reads exactly one action from args.
func parseOptions(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	up := fs.Bool("up", false, "Run all pending migrations")
	down := fs.Bool("down", false, "Roll back all migrations (drops every task, run and exclude; needs -yes)")
	steps := fs.Int("steps", 0, "Run N migration steps (positive=up, negative=down)")
	version := fs.Bool("version", false, "Print the current migration version")
	force := fs.Int("force", -1, "Force set migration version (use to recover from failed migrations)")
	path := fs.String("path", "", "Override the migrations directory path")
	yes := fs.Bool("yes", false, "Confirm a destructive rollback")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	var opts options
	count := 0
	set := func(k actionKind) {
		opts.kind = k
		count++
	}
	if *up {
		set(actionUp)
	}
	if *down {
		set(actionDown)
	}
	if *steps != 0 {
		set(actionSteps)
		opts.steps = *steps
	}
	if *version {
		set(actionVersion)
	}
	if *force >= 0 {
		set(actionForce)
		opts.version = *force
	}

	switch {
	case count == 0:
		fs.Usage()
		fmt.Fprintln(stderr, "\nPlease specify one of: -up, -down, -steps N, -version, -force V")
		return options{}, errNoAction
	case count > 1:
		return options{}, fmt.Errorf("specify only one action at a time")
	case opts.kind == actionDown && !*yes:
		return options{}, fmt.Errorf("-down drops all recommender tables; rerun with -yes to confirm")
	}

	opts.path = *path
	opts.yes = *yes
	return opts, nil
}

// migrationRunner is the subset of *database.Migrator the CLI drives.
type migrationRunner interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
}

// apply executes opts against m and logs the resulting version.
func apply(m migrationRunner, opts options, logger zerolog.Logger) error {
	switch opts.kind {
	case actionUp:
		logger.Info().Msg("running all pending migrations")
		if err := m.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case actionDown:
		logger.Warn().Msg("rolling back all migrations")
		if err := m.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case actionSteps:
		logger.Info().Int("steps", opts.steps).Msg("running migration steps")
		if err := m.Steps(opts.steps); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
	case actionForce:
		logger.Warn().Int("version", opts.version).Msg("forcing migration version")
		if err := m.Force(opts.version); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	case actionVersion:
	default:
		return errNoAction
	}
	logVersion(m, logger)
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseOptions(args, os.Stderr)
	if err != nil {
		return err
	}

	// Database settings only; the LLM and source keys are not needed here.
	cfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if opts.path != "" {
		migrationDir = opts.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	return apply(migrator, opts, logger)
}

func logVersion(m migrationRunner, logger zerolog.Logger) {
	v, dirty, err := m.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
