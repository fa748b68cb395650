package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/krezek/linktrace/internal"
	"github.com/krezek/linktrace/internal/linkreg"
	"github.com/krezek/linktrace/internal/mcpserver"
	"github.com/krezek/linktrace/internal/store"
	pkgconfig "github.com/krezek/linktrace/pkg/config"
)

// loadConfig reads the config file over the programmatic defaults. The
// default path is allowed to be absent, in which case the defaults are
// validated as-is; an explicitly passed --config must exist.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	var err error
	if cmd.IsSet("config") {
		err = pkgconfig.Load(cmd.String("config"), cfg)
	} else {
		err = pkgconfig.LoadIfPresent(cmd.String("config"), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	registry := linkreg.New(db, cfg.App.PublicURL)
	return mcpserver.New(registry).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:   "linktrace",
		Usage:  "Tracking-link backend with visit logging, media capture relay, and geo/device enrichment",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "mcp",
				Usage:  "Serve link administration tools over MCP on stdin/stdout",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
