package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"site/internal/app"
	"site/internal/config"
	"site/internal/logger"
	"site/internal/web"
)

func setup(cmd *cli.Command) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load(cmd.String("env-file"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.Initialize(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	application, err := app.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return application, log, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	application, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := application.Serve(ctx); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func fetch(ctx context.Context, cmd *cli.Command) error {
	application, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	result, err := application.Fetcher().FetchPage(ctx, cmd.String("url"))
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(web.EnvelopeFromResult(result))
}

func main() {
	cmd := &cli.Command{
		Name:   "site",
		Usage:  "Serve Contentstack pages by URL through a keyed, deduplicated cache",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Optional .env file",
				Value:   ".env",
				Sources: cli.EnvVars("SITE_ENV_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server",
				Action: serve,
			},
			{
				Name:   "fetch",
				Usage:  "Fetch one page and print its envelope as JSON",
				Action: fetch,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Usage:    "Page URL path, for example /about",
						Required: true,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "site: %v\n", err)
		os.Exit(1)
	}
}
