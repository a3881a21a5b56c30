// Package config loads the host settings of an odigraph application from .env
// files and ODIGRAPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sghaida/odigraph/di"
)

// Environment variables read by Load.
const (
	EnvEnvironment        = "ODIGRAPH_ENV"
	EnvLogLevel           = "ODIGRAPH_LOG_LEVEL"
	EnvMaxResolutionDepth = "ODIGRAPH_MAX_RESOLUTION_DEPTH"
	EnvMetricsNamespace   = "ODIGRAPH_METRICS_NAMESPACE"
	EnvDiagnosticsAddr    = "ODIGRAPH_DIAGNOSTICS_ADDR"
	EnvManifest           = "ODIGRAPH_MANIFEST"
)

// Config is the validated host configuration.
type Config struct {
	Env                string `validate:"required,oneof=development production test"`
	LogLevel           string `validate:"omitempty,oneof=debug info warn error"`
	MaxResolutionDepth int    `validate:"gte=0"`
	MetricsNamespace   string `validate:"required,metric_name"`
	DiagnosticsAddr    string `validate:"omitempty,hostname_port"`
	Manifest           string
}

var (
	metricName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	validate   = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("metric_name", func(fl validator.FieldLevel) bool {
		return metricName.MatchString(fl.Field().String())
	})
	return v
}

// Load reads the given .env files (".env" when none are given), then the
// environment. Missing files are skipped; variables already set in the
// environment are never overridden by a file.
func Load(envFiles ...string) (*Config, error) {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: loading %s: %w", f, err)
		}
	}

	cfg := &Config{
		Env:                env(EnvEnvironment, "development"),
		LogLevel:           strings.ToLower(env(EnvLogLevel, "")),
		MaxResolutionDepth: di.DefaultMaxResolutionDepth,
		MetricsNamespace:   env(EnvMetricsNamespace, "odigraph"),
		DiagnosticsAddr:    env(EnvDiagnosticsAddr, ""),
		Manifest:           env(EnvManifest, ""),
	}
	if v := os.Getenv(EnvMaxResolutionDepth); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", EnvMaxResolutionDepth, err)
		}
		cfg.MaxResolutionDepth = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags. Every invalid field is reported.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config: %w", err)
	}
	var out error
	for _, fe := range fieldErrs {
		out = multierr.Append(out, fmt.Errorf("config: %s", describe(fe)))
	}
	return out
}

// BuilderOptions turns the configuration into di builder options.
func (c *Config) BuilderOptions(logger *zap.Logger, observer di.Observer) []di.Option {
	opts := []di.Option{di.WithMaxResolutionDepth(c.MaxResolutionDepth)}
	if logger != nil {
		opts = append(opts, di.WithLogger(logger))
	}
	if observer != nil {
		opts = append(opts, di.WithObserver(observer))
	}
	return opts
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %q)", field, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "metric_name":
		return fmt.Sprintf("%s must be a valid metric name (got %q)", field, fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port (got %q)", field, fe.Value())
	default:
		return field + " is invalid"
	}
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}
