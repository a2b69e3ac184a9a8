// Package authorize verifies bearer tokens and enforces an operation's
// claims requirement against them.
package authorize

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zarvd/jwks-authorizer/internal/claims"
	"github.com/zarvd/jwks-authorizer/internal/key"
	"github.com/zarvd/jwks-authorizer/internal/metrics"
)

const (
	ReasonUnparsable = "unable to parse JWT"
	ReasonUnknownKey = ReasonUnparsable + ": unknown key id"

	bearerPrefix = "bearer "
)

// DefaultAlgorithms are the accepted token signing algorithms.
var DefaultAlgorithms = []string{"RS256", "RS384", "RS512"}

var errMissingKeyID = errors.New("token has no kid header")

// tokenErrors are the verification failures that deny rather than fail.
var tokenErrors = []error{
	jwt.ErrTokenMalformed,
	jwt.ErrTokenUnverifiable,
	jwt.ErrTokenSignatureInvalid,
	jwt.ErrTokenInvalidClaims,
	jwt.ErrTokenExpired,
	jwt.ErrTokenNotValidYet,
	jwt.ErrTokenUsedBeforeIssued,
	jwt.ErrTokenRequiredClaimMissing,
	jwt.ErrSignatureInvalid,
	jwt.ErrInvalidKeyType,
}

// KeyResolver supplies the verification key for a key id.
type KeyResolver interface {
	Resolve(ctx context.Context, keyID string) (crypto.PublicKey, error)
}

var _ KeyResolver = (*key.Resolver)(nil)

type Option func(*options)

type options struct {
	algorithms        []string
	leeway            time.Duration
	requireExpiration bool
}

func WithAlgorithms(algs ...string) Option {
	return func(o *options) {
		o.algorithms = algs
	}
}

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(o *options) {
		o.leeway = d
	}
}

// WithExpirationRequired denies tokens without an exp claim.
func WithExpirationRequired() Option {
	return func(o *options) {
		o.requireExpiration = true
	}
}

// Authorizer is the entry point for authorization checks. It is safe for
// concurrent use.
type Authorizer struct {
	logger   *slog.Logger
	resolver KeyResolver
	parser   *jwt.Parser
}

func New(logger *slog.Logger, resolver KeyResolver, opts ...Option) *Authorizer {
	o := &options{algorithms: DefaultAlgorithms}
	for _, opt := range opts {
		opt(o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(o.algorithms),
		jwt.WithLeeway(o.leeway),
		jwt.WithJSONNumber(),
	}
	if o.requireExpiration {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}

	return &Authorizer{
		logger:   logger.With(slog.String("component", "authorizer")),
		resolver: resolver,
		parser:   jwt.NewParser(parserOpts...),
	}
}

// Authorize verifies token and evaluates req against its claims and args.
//
// A token that cannot be verified yields a denial. The returned error is
// reserved for failures unrelated to the token itself, such as an unreachable
// key source.
func (a *Authorizer) Authorize(ctx context.Context, token string, req claims.Requirement, args []any) (claims.Decision, error) {
	c, deny, err := a.verify(ctx, stripBearer(token))
	if err != nil {
		metrics.DecisionsTotal.WithLabelValues(metrics.DecisionError).Inc()
		a.logger.Error("Failed to verify token", slog.Any("error", err))
		return claims.Decision{}, err
	}
	if deny != nil {
		a.record(*deny)
		return *deny, nil
	}

	d := claims.Evaluate(c, req, args)
	a.record(d)
	return d, nil
}

func (a *Authorizer) verify(ctx context.Context, token string) (claims.Claims, *claims.Decision, error) {
	var keyErr error
	mc := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(token, mc, func(t *jwt.Token) (any, error) {
		keyID, _ := t.Header["kid"].(string)
		if keyID == "" {
			keyErr = errMissingKeyID
			return nil, keyErr
		}
		k, err := a.resolver.Resolve(ctx, keyID)
		if err != nil {
			keyErr = err
			return nil, err
		}
		return k, nil
	})

	switch {
	case err == nil:
		return claims.Normalize(mc), nil, nil
	case keyErr != nil:
		if errors.Is(keyErr, key.ErrUnknownKey) || errors.Is(keyErr, errMissingKeyID) {
			a.logger.Debug("Token key id not resolvable", slog.Any("error", keyErr))
			d := claims.Deny(ReasonUnknownKey)
			return nil, &d, nil
		}
		return nil, nil, fmt.Errorf("failed to resolve signing key: %w", keyErr)
	case isTokenError(err):
		a.logger.Debug("Token rejected", slog.Any("error", err))
		d := claims.Deny(ReasonUnparsable)
		return nil, &d, nil
	default:
		return nil, nil, fmt.Errorf("failed to verify token: %w", err)
	}
}

func (a *Authorizer) record(d claims.Decision) {
	if d.Allowed {
		metrics.DecisionsTotal.WithLabelValues(metrics.DecisionAllow).Inc()
		a.logger.Debug("Authorized")
		return
	}
	metrics.DecisionsTotal.WithLabelValues(metrics.DecisionDeny).Inc()
	a.logger.Info("Denied", slog.String("reason", d.Reason))
}

func isTokenError(err error) bool {
	for _, target := range tokenErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func stripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= len(bearerPrefix) && strings.EqualFold(token[:len(bearerPrefix)], bearerPrefix) {
		token = strings.TrimSpace(token[len(bearerPrefix):])
	}
	return token
}
