package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/zarvd/jwks-authorizer/internal/claims"
)

const EnvPrefix = "AUTHORIZER"

// Config holds the authorizer configuration loaded from a config file and
// AUTHORIZER_* environment variables.
type Config struct {
	// Key source. Exactly one of these is set.
	JWKSURL      string            `mapstructure:"jwks_url" validate:"omitempty,url"`
	SignerSocket string            `mapstructure:"signer_socket"`
	StaticKeys   map[string]string `mapstructure:"static_keys" validate:"dive,required"`

	JWKSAuthorization string `mapstructure:"jwks_authorization" secret:"true"`

	RotationCooldown  time.Duration `mapstructure:"rotation_cooldown" default:"5m" validate:"gte=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" default:"10s" validate:"gt=0"`
	Leeway            time.Duration `mapstructure:"leeway" default:"0s" validate:"gte=0"`
	RequireExpiration bool          `mapstructure:"require_expiration"`
	Algorithms        []string      `mapstructure:"algorithms" default:"[\"RS256\",\"RS384\",\"RS512\"]" validate:"min=1,dive,oneof=RS256 RS384 RS512"`

	LogLevel string `mapstructure:"log_level" default:"INFO" validate:"oneof=DEBUG INFO WARN ERROR"`

	Operations map[string]OperationConfig `mapstructure:"operations" validate:"dive"`
}

// OperationConfig declares the requirement of one protected operation. Match
// and Bind are keyed by the zero-based argument index.
type OperationConfig struct {
	Scopes []string          `mapstructure:"scopes"`
	Match  map[string]string `mapstructure:"match" validate:"dive,keys,numeric,endkeys,required"`
	Bind   map[string]string `mapstructure:"bind" validate:"dive,keys,numeric,endkeys,required"`
}

// Load reads path, or ./config.yaml and ./config/config.yaml when path is
// empty, then applies environment overrides and validates the result.
func Load(logger *slog.Logger, path string) (*Config, error) {
	cfg := Config{}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__", "-", "__"))
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to set struct defaults: %w", err)
	}

	typeOfCfg := reflect.TypeOf(cfg)
	for i := 0; i < typeOfCfg.NumField(); i++ {
		key := typeOfCfg.Field(i).Tag.Get("mapstructure")
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Debug("No config file found, using environment variables")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Debug("Loaded config", slog.String("config", cfg.String()))
	return &cfg, nil
}

func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(validateKeySource, Config{})
	return validate.Struct(cfg)
}

func validateKeySource(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)

	n := 0
	for _, set := range []bool{c.JWKSURL != "", c.SignerSocket != "", len(c.StaticKeys) > 0} {
		if set {
			n++
		}
	}
	if n != 1 {
		sl.ReportError(c.JWKSURL, "JWKSURL", "jwks_url", "one_key_source", "")
	}
}

// Requirement converts the declaration into an evaluator requirement.
func (o OperationConfig) Requirement() (claims.Requirement, error) {
	match, err := indexMap(o.Match)
	if err != nil {
		return claims.Requirement{}, fmt.Errorf("match: %w", err)
	}
	bind, err := indexMap(o.Bind)
	if err != nil {
		return claims.Requirement{}, fmt.Errorf("bind: %w", err)
	}
	return claims.Requirement{
		Scopes: o.Scopes,
		Match:  match,
		Bind:   bind,
	}, nil
}

func indexMap(m map[string]string) (map[int]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[int]string, len(m))
	for k, name := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("argument index %q is not a non-negative integer", k)
		}
		out[i] = name
	}
	return out, nil
}

// Operation looks up an operation by name. Names are case-insensitive; viper
// lowercases them on load but a Config built in code may not.
func (c *Config) Operation(name string) (OperationConfig, bool) {
	if op, ok := c.Operations[name]; ok {
		return op, true
	}
	for k, op := range c.Operations {
		if strings.EqualFold(k, name) {
			return op, true
		}
	}
	return OperationConfig{}, false
}

// ReadStaticKeys loads the PEM files named by StaticKeys.
func (c *Config) ReadStaticKeys() (map[string]string, error) {
	pems := make(map[string]string, len(c.StaticKeys))
	for kid, path := range c.StaticKeys {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read static key %q: %w", kid, err)
		}
		pems[kid] = string(b)
	}
	return pems, nil
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// String returns a string representation of the config with secret fields redacted.
func (c *Config) String() string {
	v := reflect.ValueOf(*c)
	t := reflect.TypeOf(*c)
	var sb strings.Builder
	sb.WriteString("Config{")
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i).Interface()
		if field.Tag.Get("secret") == "true" && !v.Field(i).IsZero() {
			value = "***REDACTED***"
		}
		sb.WriteString(field.Name + ": " + toString(value))
		if i < t.NumField()-1 {
			sb.WriteString(", ")
		}
	}
	sb.WriteString("}")
	return sb.String()
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]OperationConfig:
		names := make([]string, 0, len(val))
		for name := range val {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Sprintf("%v", names)
	default:
		return fmt.Sprintf("%v", val)
	}
}
