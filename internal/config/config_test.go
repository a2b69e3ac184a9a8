package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zarvd/jwks-authorizer/internal/claims"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("file with defaults", func(t *testing.T) {
		path := writeConfig(t, `
jwks_url: https://issuer.example.com/oauth2/v1/keys
jwks_authorization: Bearer s3cr3t
operations:
  greet:
    scopes: [greeting.read, greeting.write]
    match:
      "1": age
    bind:
      "0": full-name
`)

		cfg, err := Load(slog.Default(), path)
		require.NoError(t, err)
		require.Equal(t, "https://issuer.example.com/oauth2/v1/keys", cfg.JWKSURL)
		require.Equal(t, 5*time.Minute, cfg.RotationCooldown)
		require.Equal(t, 10*time.Second, cfg.RequestTimeout)
		require.Zero(t, cfg.Leeway)
		require.Equal(t, []string{"RS256", "RS384", "RS512"}, cfg.Algorithms)
		require.Equal(t, "INFO", cfg.LogLevel)
		require.Equal(t, slog.LevelInfo, cfg.SlogLevel())

		op, ok := cfg.Operation("GREET")
		require.True(t, ok)
		req, err := op.Requirement()
		require.NoError(t, err)
		require.Equal(t, claims.Requirement{
			Scopes: []string{"greeting.read", "greeting.write"},
			Match:  map[int]string{1: "age"},
			Bind:   map[int]string{0: "full-name"},
		}, req)

		require.NotContains(t, cfg.String(), "s3cr3t")
		require.Contains(t, cfg.String(), "***REDACTED***")
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := writeConfig(t, `
jwks_url: https://issuer.example.com/keys
rotation_cooldown: 1m
`)
		t.Setenv("AUTHORIZER_ROTATION_COOLDOWN", "30s")
		t.Setenv("AUTHORIZER_LOG_LEVEL", "DEBUG")

		cfg, err := Load(slog.Default(), path)
		require.NoError(t, err)
		require.Equal(t, 30*time.Second, cfg.RotationCooldown)
		require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	})

	t.Run("environment only", func(t *testing.T) {
		t.Setenv("AUTHORIZER_JWKS_URL", "https://issuer.example.com/keys")
		t.Setenv("AUTHORIZER_JWKS_AUTHORIZATION", "Bearer s3cr3t")
		t.Setenv("AUTHORIZER_REQUIRE_EXPIRATION", "true")

		cfg, err := Load(slog.Default(), "")
		require.NoError(t, err)
		require.Equal(t, "https://issuer.example.com/keys", cfg.JWKSURL)
		require.Equal(t, "Bearer s3cr3t", cfg.JWKSAuthorization)
		require.True(t, cfg.RequireExpiration)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(slog.Default(), filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("no key source", func(t *testing.T) {
		_, err := Load(slog.Default(), writeConfig(t, "log_level: INFO\n"))
		require.ErrorContains(t, err, "one_key_source")
	})

	t.Run("two key sources", func(t *testing.T) {
		_, err := Load(slog.Default(), writeConfig(t, `
jwks_url: https://issuer.example.com/keys
signer_socket: /run/signer.sock
`))
		require.ErrorContains(t, err, "one_key_source")
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		_, err := Load(slog.Default(), writeConfig(t, `
signer_socket: /run/signer.sock
algorithms: [HS256]
`))
		require.Error(t, err)
	})

	t.Run("non-numeric argument index", func(t *testing.T) {
		_, err := Load(slog.Default(), writeConfig(t, `
signer_socket: /run/signer.sock
operations:
  greet:
    match:
      name: full-name
`))
		require.Error(t, err)
	})
}

func TestConfig_ReadStaticKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "k1.pem")
	require.NoError(t, os.WriteFile(path, []byte("pem"), 0o600))

	cfg := &Config{StaticKeys: map[string]string{"k1": path}}
	pems, err := cfg.ReadStaticKeys()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"k1": "pem"}, pems)

	cfg.StaticKeys["k2"] = filepath.Join(dir, "missing.pem")
	_, err = cfg.ReadStaticKeys()
	require.Error(t, err)
}

func TestOperationConfig_Requirement(t *testing.T) {
	t.Parallel()

	req, err := OperationConfig{Scopes: []string{"a"}}.Requirement()
	require.NoError(t, err)
	require.Equal(t, claims.Requirement{Scopes: []string{"a"}}, req)

	_, err = OperationConfig{Bind: map[string]string{"-1": "sub"}}.Requirement()
	require.Error(t, err)
}

func TestConfig_FieldsHaveKeys(t *testing.T) {
	t.Parallel()

	typeOfCfg := reflect.TypeOf(Config{})
	for i := 0; i < typeOfCfg.NumField(); i++ {
		field := typeOfCfg.Field(i)
		require.NotEmpty(t, field.Tag.Get("mapstructure"), field.Name)
	}
}

func TestConfig_Operation(t *testing.T) {
	t.Parallel()

	cfg := &Config{Operations: map[string]OperationConfig{
		"ReadGreeting": {Scopes: []string{"greeting.read"}},
	}}

	for _, name := range []string{"ReadGreeting", "readgreeting", "READGREETING"} {
		op, ok := cfg.Operation(name)
		require.True(t, ok, name)
		require.Equal(t, []string{"greeting.read"}, op.Scopes)
	}

	_, ok := cfg.Operation("WriteGreeting")
	require.False(t, ok)
}
