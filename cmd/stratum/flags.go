package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/stratum/internal/backend"
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/logger"
	"github.com/samcharles93/stratum/internal/scheduler"
)

var (
	backendName string
	capsFlag    string
	threads     int64
	logLevel    string
	logFormat   string
	debug       bool

	// fileConfig is the config file as loaded by setup.
	fileConfig Config
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, cpu, webgpu)",
			Value:       backend.CPU,
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "caps",
			Usage:       "restrict selection to these capabilities, e.g. base,vector",
			Destination: &capsFlag,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "worker threads (0 = one per hardware thread)",
			Destination: &threads,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setup merges the config file under the flags, sizes the shared worker
// pool and installs the logger in the command context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	fileConfig = cfg
	applyGlobalConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.ForFormat(logFormat, os.Stderr, level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if threads > 0 {
		scheduler.SetNumThreads(int(threads))
	}
	if cfg.MinGranularity != nil {
		scheduler.Default().SetMinGranularity(*cfg.MinGranularity)
	}
	return logger.WithContext(ctx, log), nil
}

// openBackend opens the selected backend and returns the capability set
// selection should use: the --caps override or the backend's own.
func openBackend() (backend.Backend, cpuinfo.Set, error) {
	b, err := backend.New(backendName)
	if err != nil {
		return nil, 0, err
	}
	caps := b.Capabilities()
	if capsFlag != "" {
		if caps, err = cpuinfo.ParseSet(capsFlag); err != nil {
			return nil, 0, err
		}
	}
	return b, caps, nil
}
