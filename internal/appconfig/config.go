// Package appconfig loads the host configuration of the queryloader command.
//
// Values come from, in increasing precedence: defaults, an optional YAML file,
// and QUERYLOADER_* environment variables (nested keys joined by "_", e.g. QUERYLOADER_CACHE_TTL).
package appconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
	"github.com/AntonStoeckl/live-query-loader-go/loader/contentclient"
)

// ErrInvalidConfig is joined with every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the complete host configuration.
type Config struct {
	ProjectID        string `mapstructure:"project_id"`
	Dataset          string `mapstructure:"dataset"`
	APIVersion       string `mapstructure:"api_version"`
	UseCDN           bool   `mapstructure:"use_cdn"`
	Token            string `mapstructure:"token"`
	APIHost          string `mapstructure:"api_host"`
	StudioURL        string `mapstructure:"studio_url"`
	RequestTagPrefix string `mapstructure:"request_tag_prefix"`
	Perspective      string `mapstructure:"perspective"`
	ResultSourceMap  bool   `mapstructure:"result_source_map"`

	Cache CacheConfig `mapstructure:"cache"`
	Log   LogConfig   `mapstructure:"log"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	// TTL of cached results in memory and in PostgreSQL; zero keeps them until invalidated.
	TTL time.Duration `mapstructure:"ttl"`

	// PostgresDSN enables the persistent PostgreSQL backend when set.
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Table       string `mapstructure:"table"`
}

// LogConfig configures the slog handler of the command.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() Config {
	return Config{
		Dataset:          "production",
		APIVersion:       contentclient.DefaultAPIVersion,
		RequestTagPrefix: "queryloader",
		Perspective:      loader.PerspectivePublished,
		ResultSourceMap:  true,
		Cache: CacheConfig{
			Table: "query_cache",
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// Validate checks every field that the content client does not check itself.
func (c Config) Validate() error {
	var errs []error

	switch c.Perspective {
	case loader.PerspectiveRaw, loader.PerspectivePublished, loader.PerspectivePreviewDrafts:
	default:
		errs = append(errs, fmt.Errorf("perspective %q must be one of raw, published, previewDrafts", c.Perspective))
	}

	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL))
	}

	if c.Cache.PostgresDSN != "" && c.Cache.Table == "" {
		errs = append(errs, errors.New("cache.table is required when cache.postgres_dsn is set"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}

	return nil
}

// ContentConfig returns the validated content client configuration.
func (c Config) ContentConfig() (contentclient.Config, error) {
	cfg := contentclient.Config{
		ProjectID:        c.ProjectID,
		Dataset:          c.Dataset,
		APIVersion:       c.APIVersion,
		UseCDN:           c.UseCDN,
		Token:            c.Token,
		APIHost:          c.APIHost,
		StudioURL:        c.StudioURL,
		RequestTagPrefix: c.RequestTagPrefix,
	}

	if err := cfg.Validate(); err != nil {
		return contentclient.Config{}, errors.Join(ErrInvalidConfig, err)
	}

	return cfg, nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q must be debug, info, warn or error", l.Level)
	}

	return level, nil
}
