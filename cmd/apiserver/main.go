// Command apiserver runs the API service.
//
// Configuration comes from env/.env.<APP_ENV> and the process environment.
// Flags override the listen port and the location of the dotenv file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	bootstrap "github.com/sirhco/go-api-bootstrap"
	"github.com/sirhco/go-api-bootstrap/config"
	"github.com/sirhco/go-api-bootstrap/token"
)

// Version is set with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "apiserver",
		Usage:   "HTTP API server",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-dir",
				Usage: "directory holding .env.<APP_ENV> files",
				Value: "env",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file to load instead of <env-dir>/.env.<APP_ENV>",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "listen port, overrides API_PORT",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "print the effective configuration with secrets redacted",
				Action: printConfig,
			},
			{
				Name:  "token",
				Usage: "issue a signed JWT with JWT_SECRET_KEY",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "sub claim", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime; 0 never expires", Value: time.Hour},
				},
				Action: issueToken,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Dir:  cmd.String("env-dir"),
		File: cmd.String("env-file"),
	})
	if err != nil {
		return nil, err
	}
	if port := cmd.Int("port"); port != 0 {
		cfg.APIPort = port
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	srv, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close(context.Background()) }()
	defer srv.Supervisor().Recover(ctx, "main")

	return srv.Run(ctx)
}

func printConfig(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	redacted := *cfg
	redact(&redacted.JWTSecretKey)
	redact(&redacted.AWSCloudWatch.SecretKey)
	redact(&redacted.AWSS3.SecretAccessKey)
	redact(&redacted.AWSSQS.AccessKey)

	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(redacted)
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}

func issueToken(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tokens, err := token.NewManager(cfg.JWTSecretKey)
	if err != nil {
		return err
	}
	signed, err := tokens.Sign(cmd.String("subject"), nil, cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, signed)
	return err
}
