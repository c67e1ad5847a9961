// Package main is the entry point for the tabletop scene editor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"

	"github.com/dshills/tabletop/internal/app"
	"github.com/dshills/tabletop/internal/config"
	"github.com/dshills/tabletop/internal/engine/scene"
	"github.com/dshills/tabletop/internal/session"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "tabletop",
		Usage:     "collaborative scene editor",
		Version:   fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		ArgsUsage: "[scripts...]",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "scene", Usage: "scene document to load"},
			&cli.StringFlag{
				Name:      "log-level",
				Usage:     "log level (debug, info, warn, error)",
				Validator: validateLevel,
			},
			&cli.BoolFlag{Name: "watch", Usage: "reload the config file when it changes"},
			&cli.BoolFlag{Name: "emit", Usage: "print flushed scene messages as JSON lines"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runScripts(ctx, cmd, stdout)
		},
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "print the effective configuration as TOML",
				Flags: []cli.Flag{configFlag()},
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := config.Load(cmd.String("config"))
					if err != nil {
						return err
					}
					return toml.NewEncoder(stdout).Encode(cfg)
				},
			},
		},
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to configuration file (.toml or .yaml)",
		Sources: cli.EnvVars("TABLETOP_CONFIG"),
	}
}

func validateLevel(level string) error {
	switch level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", level)
	}
}

// runScripts loads the scene, runs each script in order and prints the
// resulting session state.
func runScripts(ctx context.Context, cmd *cli.Command, stdout io.Writer) error {
	opts := app.Options{
		ConfigPath: cmd.String("config"),
		ScenePath:  cmd.String("scene"),
		LogLevel:   cmd.String("log-level"),
		Watch:      cmd.Bool("watch"),
	}
	emit := cmd.Bool("emit")
	if emit {
		opts.Peers = append(opts.Peers, jsonPeer(stdout))
	}

	application, err := app.New(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Shutdown()

	for _, path := range cmd.Args().Slice() {
		if err := application.RunScript(ctx, path); err != nil {
			return err
		}
	}

	if emit {
		if err := application.Session().Flush(ctx); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(application.Report())
}

// jsonPeer writes every flushed message to w as one JSON line.
func jsonPeer(w io.Writer) session.Peer {
	enc := json.NewEncoder(w)
	return session.PeerFunc(func(_ context.Context, msg scene.Message) error {
		return enc.Encode(msg)
	})
}
