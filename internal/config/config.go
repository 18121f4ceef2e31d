package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/mdspull/internal/match"
	"github.com/ppiankov/mdspull/internal/privacy"
	"github.com/ppiankov/mdspull/internal/provider"
)

const (
	DefaultConfigFile      = "config.yaml"
	DefaultStoragePath     = ".mdspull/mdspull.db"
	DefaultRetainDays      = 30
	DefaultOutputDir       = ".mdspull/out"
	DefaultAuditDir        = ".mdspull/audit"
	DefaultHTTPTimeout     = 60 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultSigningVersion  = "0.2"
	DefaultMaxTripDuration = 24 * time.Hour
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
	Output    OutputConfig     `yaml:"output"`
	Audit     AuditConfig      `yaml:"audit"`
	Storage   StorageConfig    `yaml:"storage"`
	HTTP      HTTPConfig       `yaml:"http"`
	Matcher   MatcherConfig    `yaml:"matcher"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Privacy   PrivacyConfig    `yaml:"privacy"`
}

type ProviderConfig struct {
	Name          string `yaml:"name"`
	Trips         string `yaml:"trips"`
	StatusChanges string `yaml:"status_changes"`
	TokenEnv      string `yaml:"token_env"`
	Token         string `yaml:"token"`
	Version       string `yaml:"version"`
}

// Descriptor converts the provider entry to what the request builder needs.
func (p ProviderConfig) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:          p.Name,
		Trips:         p.Trips,
		StatusChanges: p.StatusChanges,
		Token:         p.Token,
		Version:       p.Version,
	}
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type AuditConfig struct {
	Dir            string `yaml:"dir"`
	SigningVersion string `yaml:"signing_version"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type HTTPConfig struct {
	Timeout Duration `yaml:"timeout"`
}

type MatcherConfig struct {
	MaxTripDuration   Duration `yaml:"max_trip_duration"`
	MaxTripDistance   float64  `yaml:"max_trip_distance"`
	AllowedEventTypes []string `yaml:"allowed_event_types"`
}

// For returns the matcher settings for one provider.
func (m MatcherConfig) For(name string) match.Config {
	return match.Config{
		Provider:          name,
		MaxTripDuration:   m.MaxTripDuration.Duration,
		MaxTripDistance:   m.MaxTripDistance,
		AllowedEventTypes: m.AllowedEventTypes,
	}
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type PrivacyConfig struct {
	Redact []string `yaml:"redact"`
}

// Provider returns the provider entry with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// SigningVersion returns the HMAC key used for p's audit signatures.
func (c *Config) SigningVersion(p ProviderConfig) string {
	if c.Audit.SigningVersion != "" {
		return c.Audit.SigningVersion
	}
	if p.Version != "" {
		return p.Version
	}
	return DefaultSigningVersion
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = DefaultOutputDir
	}
	if cfg.Audit.Dir == "" {
		cfg.Audit.Dir = DefaultAuditDir
	}
	if cfg.HTTP.Timeout.Duration == 0 {
		cfg.HTTP.Timeout.Duration = DefaultHTTPTimeout
	}
	if cfg.Matcher.MaxTripDuration.Duration == 0 {
		cfg.Matcher.MaxTripDuration.Duration = DefaultMaxTripDuration
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

// resolveEnv fills Token from TokenEnv. An explicit token wins.
func resolveEnv(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Token == "" && p.TokenEnv != "" {
			p.Token = os.Getenv(p.TokenEnv)
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return errors.New("providers: at least one provider must be configured")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			return fmt.Errorf("providers[%d]: name %q must not contain path separators or \"..\"", i, name)
		}
		p.Name = name
		if seen[name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if p.Trips == "" && p.StatusChanges == "" {
			return fmt.Errorf("providers[%d] %s: at least one of trips or status_changes is required", i, name)
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level: unknown level %q (want debug, info, warn or error)", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("logging.format: unknown format %q (want text or json)", cfg.Logging.Format)
	}

	if cfg.Storage.RetainDays < 0 {
		return fmt.Errorf("storage.retain_days: must not be negative, got %d", cfg.Storage.RetainDays)
	}

	if _, err := privacy.Compile(cfg.Privacy.Redact); err != nil {
		return fmt.Errorf("privacy.redact: %w", err)
	}

	return nil
}
