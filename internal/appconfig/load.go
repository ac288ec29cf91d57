package appconfig

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "QUERYLOADER"

// Load builds the configuration from defaults, the YAML file at path (skipped when path is empty)
// and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees environment values for keys viper knows about.
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("dataset", cfg.Dataset)
	v.SetDefault("api_version", cfg.APIVersion)
	v.SetDefault("use_cdn", cfg.UseCDN)
	v.SetDefault("token", cfg.Token)
	v.SetDefault("api_host", cfg.APIHost)
	v.SetDefault("studio_url", cfg.StudioURL)
	v.SetDefault("request_tag_prefix", cfg.RequestTagPrefix)
	v.SetDefault("perspective", cfg.Perspective)
	v.SetDefault("result_source_map", cfg.ResultSourceMap)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.postgres_dsn", cfg.Cache.PostgresDSN)
	v.SetDefault("cache.table", cfg.Cache.Table)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Join(ErrInvalidConfig, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
