// Package config loads service configuration from an optional codetrace.yaml,
// CODETRACE_* environment variables and built-in defaults, in that order of
// precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"

	"github.com/sakif/codetrace/internal/executor/docker"
	"github.com/sakif/codetrace/internal/executor/javascript"
	"github.com/sakif/codetrace/internal/executor/python"
	"github.com/sakif/codetrace/internal/middleware"
)

const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"` // empty disables the journal
}

type JavaScriptConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxEvents    int           `mapstructure:"max_events"`
	MaxCallStack int           `mapstructure:"max_call_stack"`
}

type PythonConfig struct {
	Backend    string        `mapstructure:"backend"` // "local" or "docker"
	Candidates []string      `mapstructure:"candidates"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ScratchDir string        `mapstructure:"scratch_dir"`
	HelperPath string        `mapstructure:"helper_path"`
	ProbeTTL   time.Duration `mapstructure:"probe_ttl"`
}

type DockerConfig struct {
	Image       string  `mapstructure:"image"`
	MemoryLimit string  `mapstructure:"memory_limit"` // e.g. "128MiB"
	CPULimit    float64 `mapstructure:"cpu_limit"`
	PoolSize    int     `mapstructure:"pool_size"`
	ScratchSize string  `mapstructure:"scratch_size"`
}

type LimitsConfig struct {
	MaxSourceBytes int `mapstructure:"max_source_bytes"`
}

type RateLimitConfig struct {
	RPS           float64 `mapstructure:"rps"`
	Burst         int     `mapstructure:"burst"`
	PerIPRPS      float64 `mapstructure:"per_ip_rps"`
	PerIPBurst    int     `mapstructure:"per_ip_burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	JavaScript JavaScriptConfig `mapstructure:"javascript"`
	Python     PythonConfig     `mapstructure:"python"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Log        LogConfig        `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("storage.db_path", "data/codetrace.db")

	v.SetDefault("javascript.timeout", "1s")
	v.SetDefault("javascript.max_events", 10000)
	v.SetDefault("javascript.max_call_stack", 1024)

	v.SetDefault("python.backend", BackendLocal)
	v.SetDefault("python.candidates", []string{"python3", "python"})
	v.SetDefault("python.timeout", "5s")
	v.SetDefault("python.scratch_dir", "temp")
	v.SetDefault("python.helper_path", "")
	v.SetDefault("python.probe_ttl", "30s")

	v.SetDefault("docker.image", "python:3.12-alpine")
	v.SetDefault("docker.memory_limit", "128MiB")
	v.SetDefault("docker.cpu_limit", 0.5)
	v.SetDefault("docker.pool_size", 3)
	v.SetDefault("docker.scratch_size", "16m")

	v.SetDefault("limits.max_source_bytes", 100000)

	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("ratelimit.per_ip_rps", 5)
	v.SetDefault("ratelimit.per_ip_burst", 10)
	v.SetDefault("ratelimit.max_concurrent", 16)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An explicit path must exist; with no path,
// codetrace.yaml is looked up in the working directory and $HOME/.codetrace
// and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODETRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codetrace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.codetrace")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.JavaScript.Timeout <= 0 {
		errs = append(errs, errors.New("javascript.timeout must be positive"))
	}
	if c.JavaScript.MaxEvents <= 0 {
		errs = append(errs, errors.New("javascript.max_events must be positive"))
	}
	if c.Python.Timeout <= 0 {
		errs = append(errs, errors.New("python.timeout must be positive"))
	}
	switch c.Python.Backend {
	case BackendLocal:
		if len(c.Python.Candidates) == 0 {
			errs = append(errs, errors.New("python.candidates must name at least one interpreter"))
		}
	case BackendDocker:
		if _, err := units.RAMInBytes(c.Docker.MemoryLimit); err != nil {
			errs = append(errs, fmt.Errorf("docker.memory_limit: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("python.backend must be %q or %q, got %q", BackendLocal, BackendDocker, c.Python.Backend))
	}
	if c.Limits.MaxSourceBytes <= 0 {
		errs = append(errs, errors.New("limits.max_source_bytes must be positive"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// JavaScriptRunner returns the in-process runner settings.
func (c *Config) JavaScriptRunner() javascript.Config {
	return javascript.Config{
		Timeout:      c.JavaScript.Timeout,
		MaxEvents:    c.JavaScript.MaxEvents,
		MaxCallStack: c.JavaScript.MaxCallStack,
	}
}

// PythonBridge returns the tracer bridge settings.
func (c *Config) PythonBridge() python.Config {
	return python.Config{
		Timeout:    c.Python.Timeout,
		ScratchDir: c.Python.ScratchDir,
		HelperPath: c.Python.HelperPath,
	}
}

// DockerRunner returns the container backend settings. Validate has already
// checked the memory limit.
func (c *Config) DockerRunner() docker.Config {
	mem, _ := units.RAMInBytes(c.Docker.MemoryLimit)
	return docker.Config{
		Image:       c.Docker.Image,
		MemoryLimit: mem,
		CPULimit:    c.Docker.CPULimit,
		PoolSize:    c.Docker.PoolSize,
		ScratchSize: c.Docker.ScratchSize,
	}
}

// RateLimiter returns the admission limits for the execute endpoints.
func (c *Config) RateLimiter() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		RPS:           c.RateLimit.RPS,
		Burst:         c.RateLimit.Burst,
		PerIPRPS:      c.RateLimit.PerIPRPS,
		PerIPBurst:    c.RateLimit.PerIPBurst,
		MaxConcurrent: c.RateLimit.MaxConcurrent,
	}
}

// NewLogger builds the process logger: slog text by default, JSON on request.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
	return level, nil
}
