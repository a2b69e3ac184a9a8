package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/zarvd/jwks-authorizer/internal/config"
)

type CLI struct {
	Config string `short:"c" type:"path" env:"AUTHORIZER_CONFIG" help:"Path to config file. Defaults to ./config.yaml when present."`

	Keys  KeysCmd  `cmd:"" help:"Fetch the signing keys and print the cached key ids."`
	Check CheckCmd `cmd:"" help:"Authorize a token against a configured operation."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	cliCtx := kong.Parse(&cli,
		kong.Name("authorizer"),
		kong.Description("Authorize JWT bearer tokens against per-operation claim requirements."),
	)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(logger, cli.Config)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	cliCtx.BindTo(ctx, (*context.Context)(nil))
	cliCtx.Bind(logger)
	cliCtx.Bind(cfg)

	if err := cliCtx.Run(); err != nil {
		if errors.Is(err, errDenied) {
			os.Exit(exitDenied)
		}
		logger.Error("failed to run CLI", slog.Any("error", err))
		os.Exit(1)
	}
}
