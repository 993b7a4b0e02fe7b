package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/railguard/internal"
	pkgconfig "github.com/starford/railguard/pkg/config"
)

// setup loads the configuration and the common options shared by every
// command.
func setup(cmd *cli.Command) ([]internal.Option, error) {
	root := cmd.Args().First()
	if root == "" {
		return nil, errors.New("project root argument is required")
	}

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithRoot(root),
		internal.WithOutput(cmd.String("out")),
	}, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	opts, err := setup(cmd)
	if err != nil {
		return err
	}
	opts = append(opts, internal.WithDryRun(cmd.Bool("dry-run")))

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	if !cmd.Bool("dry-run") {
		fmt.Println("Finished transforming")
	}
	return nil
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	opts, err := setup(cmd)
	if err != nil {
		return err
	}
	if cmd.String("out") == "" {
		return errors.New("watch requires --out")
	}
	if err := internal.RunWatch(ctx, opts...); err != nil {
		return fmt.Errorf("watch error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, opts...); err != nil {
		return fmt.Errorf("mcp error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:      "railguard",
		Usage:     "Inject access-control guards into a Rails project tree",
		ArgsUsage: "<project-root>",
		Action:    run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (defaults apply when it does not exist)",
				DefaultText: "config/railguard.yaml",
				Value:       "config/railguard.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write a transformed mirror of the project to this directory instead of editing it in place (required by watch)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Print the changes as a unified diff without writing anything",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "watch",
				Usage:     "Re-run into the --out directory whenever project sources change",
				ArgsUsage: "<project-root>",
				Action:    runWatch,
			},
			{
				Name:      "mcp",
				Usage:     "Serve analysis and run history as MCP tools on stdio",
				ArgsUsage: "<project-root>",
				Action:    runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
