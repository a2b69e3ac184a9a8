package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/zarvd/jwks-authorizer/internal/authorize"
	"github.com/zarvd/jwks-authorizer/internal/config"
	"github.com/zarvd/jwks-authorizer/internal/key"
)

const exitDenied = 3

var errDenied = errors.New("authorization denied")

type KeysCmd struct {
	stdout io.Writer
}

func (cmd *KeysCmd) Run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	resolver, closeFn, err := newResolver(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	return writeJSON(output(cmd.stdout), struct {
		KeyIDs    []string  `json:"key_ids"`
		RotatedAt time.Time `json:"rotated_at"`
	}{
		KeyIDs:    resolver.KeyIDs(),
		RotatedAt: resolver.LastRotatedAt(),
	})
}

type CheckCmd struct {
	Operation string   `arg:"" help:"Name of the configured operation."`
	Token     string   `arg:"" help:"JWT, optionally prefixed with 'Bearer '."`
	Args      []string `arg:"" optional:"" help:"Operation arguments. JSON values are decoded, anything else is taken as a string."`

	stdout io.Writer
}

func (cmd *CheckCmd) Run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	op, ok := cfg.Operation(cmd.Operation)
	if !ok {
		return fmt.Errorf("unknown operation %q", cmd.Operation)
	}
	req, err := op.Requirement()
	if err != nil {
		return fmt.Errorf("operation %q: %w", cmd.Operation, err)
	}

	resolver, closeFn, err := newResolver(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	opts := []authorize.Option{
		authorize.WithAlgorithms(cfg.Algorithms...),
		authorize.WithLeeway(cfg.Leeway),
	}
	if cfg.RequireExpiration {
		opts = append(opts, authorize.WithExpirationRequired())
	}
	authorizer := authorize.New(logger, resolver, opts...)

	decision, err := authorizer.Authorize(ctx, cmd.Token, req, parseArgs(cmd.Args))
	if err != nil {
		return fmt.Errorf("failed to authorize: %w", err)
	}
	if err := writeJSON(output(cmd.stdout), decision); err != nil {
		return err
	}
	if !decision.Allowed {
		return errDenied
	}
	return nil
}

func newResolver(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*key.Resolver, func() error, error) {
	noop := func() error { return nil }

	var (
		source  key.Source
		closeFn = noop
	)
	switch {
	case cfg.SignerSocket != "":
		conn, err := key.DialSigner(cfg.SignerSocket)
		if err != nil {
			return nil, nil, err
		}
		source = key.NewSignerSource(logger, conn)
		closeFn = conn.Close
	case len(cfg.StaticKeys) > 0:
		pems, err := cfg.ReadStaticKeys()
		if err != nil {
			return nil, nil, err
		}
		static, err := key.NewStaticSource(pems)
		if err != nil {
			return nil, nil, err
		}
		source = static
	default:
		var opts []key.JWKSOption
		if cfg.JWKSAuthorization != "" {
			opts = append(opts, key.WithAuthorization(cfg.JWKSAuthorization))
		}
		source = key.NewJWKSSource(logger, cfg.JWKSURL, &http.Client{Timeout: cfg.RequestTimeout}, opts...)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	resolver, err := key.NewResolver(fetchCtx, logger, source, key.WithRotationCooldown(cfg.RotationCooldown))
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return resolver, closeFn, nil
}

// parseArgs decodes each argument as a JSON value, keeping it as a plain
// string when it is not valid JSON.
func parseArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, s := range raw {
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.UseNumber()

		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			args[i] = s
			continue
		}
		args[i] = v
	}
	return args
}

func output(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
