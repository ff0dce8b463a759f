package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/suessflorian/gqlfetch"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"site/internal/config"
	"site/internal/contentstack"
	"site/internal/logger"
)

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env-file"))
	if err != nil {
		return err
	}

	log, err := logger.Initialize(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cs := cfg.Contentstack
	endpoint := contentstack.GraphQLEndpoint(cs.ParsedRegion(), cs.Host, cs.APIKey, cs.Environment)

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	log.Info("fetching schema", zap.String("region", string(cs.ParsedRegion())), zap.String("environment", cs.Environment))
	schema, err := gqlfetch.BuildClientSchemaWithHeaders(ctx, endpoint, cs.Credentials().GraphQLHeaders(), false)
	if err != nil {
		return fmt.Errorf("fetch schema: %w", err)
	}

	out := cmd.String("out")
	if out == "" || out == "-" {
		_, err = fmt.Fprintln(os.Stdout, schema)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(out, []byte(schema), 0o644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	log.Info("schema written", zap.String("path", out), zap.Int("bytes", len(schema)))
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "schemafetch",
		Usage:  "Download the Contentstack GraphQL schema for the configured stack",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write the schema to this file; - prints to stdout",
				Value:   "schema.graphql",
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Optional .env file",
				Value:   ".env",
				Sources: cli.EnvVars("SITE_ENV_FILE"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Introspection timeout",
				Value: 30 * time.Second,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "schemafetch: %v\n", err)
		os.Exit(1)
	}
}
