package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/boorupan/internal/privacy"
	"github.com/ppiankov/boorupan/internal/source"
)

const (
	DefaultConfigFile        = "config.yaml"
	DefaultBackend           = BackendSQLite
	DefaultSQLitePath        = ".boorupan/boorupan.db"
	DefaultBadgerPath        = ".boorupan/badger"
	DefaultPageSize          = source.DefaultLimit
	MaxPageSize              = 320
	DefaultPrefetchThreshold = 10
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultRequestsPerSecond = 2.0
	DefaultTokenEnv          = "BOORUPAN_TOKEN"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultDevAddr           = "127.0.0.1:8787"
	DefaultDevSecretEnv      = "BOORUPAN_DEV_SECRET"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"

	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s".
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
	Sites     []SiteConfig    `yaml:"sites"`
	Storage   StorageConfig   `yaml:"storage"`
	Feed      FeedConfig      `yaml:"feed"`
	Sync      SyncConfig      `yaml:"sync"`
	DevServer DevServerConfig `yaml:"dev_server"`
	Log       LogConfig       `yaml:"log"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
}

// SiteConfig is a seed site. Credentials are read from the named env vars.
type SiteConfig struct {
	source.Site    `yaml:",inline"`
	CredentialsEnv map[string]string `yaml:"credentials_env"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type FeedConfig struct {
	PageSize          int      `yaml:"page_size"`
	PrefetchThreshold int      `yaml:"prefetch_threshold"`
	HTTPTimeout       Duration `yaml:"http_timeout"`
	// RequestsPerSecond is per host. Negative disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type SyncConfig struct {
	Server         string   `yaml:"server"`
	TokenEnv       string   `yaml:"token_env"`
	ReconnectDelay Duration `yaml:"reconnect_delay"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

type DevServerConfig struct {
	Addr      string `yaml:"addr"`
	SecretEnv string `yaml:"secret_env"`

	// Resolved from env var at load time.
	Secret string `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// Overrides carries flag and environment values that win over the file.
type Overrides struct {
	Server         string
	Token          string
	LogLevel       string
	StorageBackend string
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	return LoadWith(dir, Overrides{})
}

// LoadWith is Load with overrides applied before validation.
func LoadWith(dir string, o Overrides) (*Config, error) {
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

	applyOverrides(&cfg, o)
	applyDefaults(&cfg)
	resolveEnv(&cfg)
	if o.Token != "" {
		cfg.Sync.Token = o.Token
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// SeedSites returns the configured sites with credentials resolved.
func (c *Config) SeedSites() []source.Site {
	out := make([]source.Site, 0, len(c.Sites))
	for i, sc := range c.Sites {
		s := sc.Site
		s.BaseURL = source.NormalizeBaseURL(s.BaseURL)
		s.OrderIndex = i
		out = append(out, s)
	}
	return out
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Server != "" {
		cfg.Sync.Server = o.Server
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.StorageBackend != "" {
		cfg.Storage.Backend = o.StorageBackend
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultBackend
	}
	if cfg.Storage.Path == "" {
		if cfg.Storage.Backend == BackendBadger {
			cfg.Storage.Path = DefaultBadgerPath
		} else {
			cfg.Storage.Path = DefaultSQLitePath
		}
	}
	if cfg.Feed.PageSize == 0 {
		cfg.Feed.PageSize = DefaultPageSize
	}
	if cfg.Feed.PrefetchThreshold == 0 {
		cfg.Feed.PrefetchThreshold = DefaultPrefetchThreshold
	}
	if cfg.Feed.HTTPTimeout.Duration == 0 {
		cfg.Feed.HTTPTimeout.Duration = DefaultHTTPTimeout
	}
	if cfg.Feed.RequestsPerSecond == 0 {
		cfg.Feed.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Sync.TokenEnv == "" {
		cfg.Sync.TokenEnv = DefaultTokenEnv
	}
	if cfg.Sync.ReconnectDelay.Duration == 0 {
		cfg.Sync.ReconnectDelay.Duration = DefaultReconnectDelay
	}
	cfg.Sync.Server = strings.TrimRight(strings.TrimSpace(cfg.Sync.Server), "/")
	if cfg.DevServer.Addr == "" {
		cfg.DevServer.Addr = DefaultDevAddr
	}
	if cfg.DevServer.SecretEnv == "" {
		cfg.DevServer.SecretEnv = DefaultDevSecretEnv
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) {
	for i := range cfg.Sites {
		sc := &cfg.Sites[i]
		if len(sc.CredentialsEnv) == 0 {
			continue
		}
		creds := make(map[string]string, len(sc.CredentialsEnv))
		for field, env := range sc.CredentialsEnv {
			if v := os.Getenv(env); v != "" {
				creds[field] = v
			}
		}
		if len(creds) > 0 {
			sc.Credentials = creds
		}
	}
	if cfg.Sync.TokenEnv != "" {
		cfg.Sync.Token = os.Getenv(cfg.Sync.TokenEnv)
	}
	if cfg.DevServer.SecretEnv != "" {
		cfg.DevServer.Secret = os.Getenv(cfg.DevServer.SecretEnv)
	}
}

func validate(cfg *Config) error {
	seen := make(map[string]string, len(cfg.Sites))
	for i, sc := range cfg.Sites {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("sites[%d]: %w", i, err)
		}
		id := sc.Identity()
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("sites[%d]: %s duplicates %s", i, sc.Name, prev)
		}
		seen[id] = sc.Name
	}

	switch cfg.Storage.Backend {
	case BackendSQLite, BackendBadger:
		// valid
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want sqlite or badger)", cfg.Storage.Backend)
	}

	if cfg.Feed.PageSize < 1 || cfg.Feed.PageSize > MaxPageSize {
		return fmt.Errorf("feed.page_size: %d out of range 1..%d", cfg.Feed.PageSize, MaxPageSize)
	}
	if cfg.Feed.PrefetchThreshold < 0 {
		return fmt.Errorf("feed.prefetch_threshold: must not be negative")
	}
	if cfg.Feed.HTTPTimeout.Duration < 0 {
		return fmt.Errorf("feed.http_timeout: must not be negative")
	}
	if cfg.Sync.ReconnectDelay.Duration < 0 {
		return fmt.Errorf("sync.reconnect_delay: must not be negative")
	}
	if cfg.Sync.Server != "" && !strings.HasPrefix(cfg.Sync.Server, "http://") && !strings.HasPrefix(cfg.Sync.Server, "https://") {
		return fmt.Errorf("sync.server: %q must be an http(s) url", cfg.Sync.Server)
	}

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", cfg.Log.Format)
	}

	if cfg.Privacy.Redact.Enabled {
		if _, err := privacy.Compile(cfg.Privacy.Redact.Patterns); err != nil {
			return fmt.Errorf("privacy.redact: %w", err)
		}
	}

	return nil
}
