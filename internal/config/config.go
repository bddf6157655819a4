// Package config provides configuration types, defaults and loading for vimpilot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zjrosen/vimpilot/internal/log"
	"github.com/zjrosen/vimpilot/internal/remote"
	"github.com/zjrosen/vimpilot/internal/tracing"
)

// EnvPrefix is prepended to environment overrides, e.g. VIMPILOT_BINARY.
const EnvPrefix = "VIMPILOT"

// Config holds all configuration options for vimpilot.
type Config struct {
	// Binary is an explicit editor executable. Empty probes vim, mvim, gvim.
	Binary string `mapstructure:"binary" yaml:"binary"`
	// Candidates overrides the probe order when Binary is empty.
	Candidates []string `mapstructure:"candidates" yaml:"candidates"`
	// Vimrc and Gvimrc default to a bundled empty script.
	Vimrc  string `mapstructure:"vimrc" yaml:"vimrc"`
	Gvimrc string `mapstructure:"gvimrc" yaml:"gvimrc"`

	// ServerPrefix starts every generated server name.
	ServerPrefix string        `mapstructure:"server_prefix" yaml:"server_prefix"`
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	ProbeTTL     time.Duration `mapstructure:"probe_ttl" yaml:"probe_ttl"`

	Log     LogConfig      `mapstructure:"log" yaml:"log"`
	Tracing tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

// LogConfig controls the debug log file.
type LogConfig struct {
	// Path enables file logging when set.
	Path  string `mapstructure:"path" yaml:"path"`
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultTracesFilePath returns ~/.config/vimpilot/traces/traces.jsonl, or
// an empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "vimpilot", "traces", "traces.jsonl")
}

// DefaultConfigPath returns ~/.config/vimpilot/config.yaml, or an empty
// string if the home directory is unavailable.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "vimpilot", "config.yaml")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Candidates:   append([]string(nil), remote.DefaultCandidates...),
		ServerPrefix: "VIMPILOT",
		StartTimeout: remote.DefaultStartTimeout,
		PollInterval: remote.DefaultPollInterval,
		StopTimeout:  remote.DefaultStopTimeout,
		ProbeTTL:     remote.DefaultProbeTTL,
		Log:          LogConfig{Level: "debug"},
		Tracing:      tc,
	}
}

// SetDefaults registers Defaults on v so unset keys fall back to them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("binary", d.Binary)
	v.SetDefault("candidates", d.Candidates)
	v.SetDefault("vimrc", d.Vimrc)
	v.SetDefault("gvimrc", d.Gvimrc)
	v.SetDefault("server_prefix", d.ServerPrefix)
	v.SetDefault("start_timeout", d.StartTimeout)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("stop_timeout", d.StopTimeout)
	v.SetDefault("probe_ttl", d.ProbeTTL)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads configuration into v and decodes it. When configFile is empty
// it looks for .vimpilot/config.yaml, then ~/.config/vimpilot/config.yaml.
// A missing config file is not an error. Environment variables prefixed
// with VIMPILOT_ override file values.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case configFile != "":
		v.SetConfigFile(configFile)
	case fileExists(filepath.Join(".vimpilot", "config.yaml")):
		v.SetConfigFile(filepath.Join(".vimpilot", "config.yaml"))
	default:
		if path := DefaultConfigPath(); path != "" {
			v.AddConfigPath(filepath.Dir(path))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "no config file found, using defaults")
	} else {
		log.Debug(log.CatConfig, "loaded config", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Log.Path = expandHome(cfg.Log.Path)
	cfg.Tracing.FilePath = expandHome(cfg.Tracing.FilePath)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.StartTimeout <= 0 {
		return fmt.Errorf("start_timeout must be positive, got %s", c.StartTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.PollInterval > c.StartTimeout {
		return fmt.Errorf("poll_interval (%s) must not exceed start_timeout (%s)", c.PollInterval, c.StartTimeout)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout)
	}
	if strings.TrimSpace(c.ServerPrefix) == "" {
		return fmt.Errorf("server_prefix must not be empty")
	}
	if strings.ContainsAny(c.ServerPrefix, " \t\n") {
		return fmt.Errorf("server_prefix must not contain whitespace, got %q", c.ServerPrefix)
	}
	if c.Binary == "" && len(c.Candidates) == 0 {
		return fmt.Errorf("candidates must not be empty when binary is unset")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	return nil
}

// ServerOptions builds the options for remote.New. The resolver shares the
// probe cache and uses the configured candidates. A nil factory runs the
// editor directly.
func (c Config) ServerOptions(registry *remote.Registry, factory remote.CommandFactoryFunc) remote.Options {
	resolverOpts := []remote.ResolverOption{
		remote.WithProbeTTL(c.ProbeTTL),
		remote.WithResolverCommandFactory(factory),
	}
	if len(c.Candidates) > 0 {
		resolverOpts = append(resolverOpts, remote.WithCandidates(c.Candidates...))
	}
	return remote.Options{
		Binary:         c.Binary,
		Vimrc:          expandHome(c.Vimrc),
		Gvimrc:         expandHome(c.Gvimrc),
		Registry:       registry,
		StartTimeout:   c.StartTimeout,
		PollInterval:   c.PollInterval,
		StopTimeout:    c.StopTimeout,
		CommandFactory: factory,
		Resolver:       remote.NewResolver(resolverOpts...),
	}
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# vimpilot configuration

# Editor binary with client/server support. Empty probes the candidates in order.
# binary: /usr/local/bin/vim
candidates: [vim, mvim, gvim]

# Config scripts loaded by spawned editors (-u / -U). Empty uses a bundled
# empty script so your own vimrc never leaks into a run.
# vimrc: ~/.vim/test.vim
# gvimrc: ~/.vim/test.gvim

# Generated server names look like VIMPILOT_1A2B3C4D_1
server_prefix: VIMPILOT

# How long to wait for a new editor to register, and how often to check.
start_timeout: 10s
poll_interval: 250ms
# How long to wait for a graceful quit before killing the editor.
stop_timeout: 5s
# How long binary capability probes are reused.
probe_ttl: 10m

log:
  # path: /tmp/vimpilot.log
  level: debug

# Distributed tracing (OpenTelemetry)
tracing:
  enabled: false
  exporter: file          # none, file, stdout, otlp
  # file_path: ~/.config/vimpilot/traces/traces.jsonl
  # otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
