package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "STEPFLOW_"

// Config is the runtime configuration shared by every command
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Executor ExecutorConfig `yaml:"executor"`
	Log      LogConfig      `yaml:"log"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Server   ServerConfig   `yaml:"server"`
}

// HTTPConfig describes the API the plans are run against
type HTTPConfig struct {
	BaseURL       string            `yaml:"baseURL"`
	Headers       map[string]string `yaml:"headers"`
	Timeout       string            `yaml:"timeout"`
	FailureStatus int               `yaml:"failureStatus"`
	MaxBodyBytes  int64             `yaml:"maxBodyBytes"`
}

// ExecutorConfig tunes plan execution
type ExecutorConfig struct {
	MaxParallel int  `yaml:"maxParallel"`
	StripMarkup bool `yaml:"stripMarkup"`
}

// LogConfig mirrors logger.Config
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`
}

// ArchiveConfig points at the sqlite report archive; empty disables it
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures `stepflow serve`
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Headers:       map[string]string{},
			Timeout:       "30s",
			FailureStatus: 400,
			MaxBodyBytes:  10 << 20,
		},
		Executor: ExecutorConfig{MaxParallel: 1},
		Log:      LogConfig{Level: "info", Format: "text"},
		Server:   ServerConfig{Addr: ":8080"},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// an optional .env file and STEPFLOW_* environment variables, in that order
// of precedence (last wins). A missing .env file is not an error.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if cfg.HTTP.Headers == nil {
			cfg.HTTP.Headers = map[string]string{}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays STEPFLOW_* variables. STEPFLOW_HEADER_<NAME> sets a
// request header, with underscores in NAME turned into dashes.
func applyEnv(cfg *Config, environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, envPrefix)

		if header, ok := strings.CutPrefix(name, "HEADER_"); ok && header != "" {
			cfg.HTTP.Headers[strings.ReplaceAll(header, "_", "-")] = value
			continue
		}

		var err error
		switch name {
		case "BASE_URL":
			cfg.HTTP.BaseURL = value
		case "HTTP_TIMEOUT":
			cfg.HTTP.Timeout = value
		case "FAILURE_STATUS":
			cfg.HTTP.FailureStatus, err = strconv.Atoi(value)
		case "MAX_BODY_BYTES":
			cfg.HTTP.MaxBodyBytes, err = strconv.ParseInt(value, 10, 64)
		case "MAX_PARALLEL":
			cfg.Executor.MaxParallel, err = strconv.Atoi(value)
		case "STRIP_MARKUP":
			cfg.Executor.StripMarkup, err = strconv.ParseBool(value)
		case "LOG_LEVEL":
			cfg.Log.Level = value
		case "LOG_FORMAT":
			cfg.Log.Format = value
		case "LOG_FILE":
			cfg.Log.File = value
		case "ARCHIVE":
			cfg.Archive.Path = value
		case "SERVER_ADDR":
			cfg.Server.Addr = value
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var problems []string

	if c.HTTP.BaseURL != "" {
		u, err := url.Parse(c.HTTP.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("http.baseURL must be an absolute http(s) URL, got %q", c.HTTP.BaseURL))
		}
	}
	if d, err := time.ParseDuration(c.HTTP.Timeout); err != nil || d <= 0 {
		problems = append(problems, fmt.Sprintf("http.timeout must be a positive duration, got %q", c.HTTP.Timeout))
	}
	if c.HTTP.FailureStatus < 100 || c.HTTP.FailureStatus > 599 {
		problems = append(problems, fmt.Sprintf("http.failureStatus must be between 100 and 599, got %d", c.HTTP.FailureStatus))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		problems = append(problems, "http.maxBodyBytes must be greater than 0")
	}
	if c.Executor.MaxParallel < 1 {
		problems = append(problems, "executor.maxParallel must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		problems = append(problems, fmt.Sprintf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"text": true, "console": true, "json": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		problems = append(problems, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr cannot be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d problem(s):\n  - %s", len(problems), strings.Join(problems, "\n  - "))
	}
	return nil
}

// TimeoutDuration returns the parsed default step timeout
func (c HTTPConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
