package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type (
	Config struct {
		DBPath   string `mapstructure:"db_path"`
		InMemory bool   `mapstructure:"in_memory"`
		HTTPPort string `mapstructure:"http_port"`

		// BatchSize is the number of rows per record when the caller does not ask for one.
		BatchSize        int `mapstructure:"batch_size"`
		OrdinalCacheSize int `mapstructure:"ordinal_cache_size"`

		// MetaStore is one of kv, crdb or redis.
		MetaStore     string `mapstructure:"metastore"`
		CRDBDSN       string `mapstructure:"crdb_dsn"`
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`

		AWSRegion  string `mapstructure:"aws_region"`
		S3Bucket   string `mapstructure:"s3_bucket"`
		S3Endpoint string `mapstructure:"s3_endpoint"`
		// ExportDir is where exports go when no S3 bucket is set.
		ExportDir string `mapstructure:"export_dir"`

		ExportWorkers    int `mapstructure:"export_workers"`
		ShutdownSleepSec int `mapstructure:"shutdown_sleep_sec"`
	}
)

const EnvPrefix = "KVSQL"

var (
	ErrInvalidMetaStore = errors.New("invalid metastore, must be one of kv, crdb, redis")
	ErrInvalidBatchSize = errors.New("batch size must be positive")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "/tmp/kvsql")
	v.SetDefault("in_memory", false)
	v.SetDefault("http_port", "8080")
	v.SetDefault("batch_size", 1024)
	v.SetDefault("ordinal_cache_size", 4096)
	v.SetDefault("metastore", "kv")
	v.SetDefault("crdb_dsn", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("export_dir", "/tmp/kvsql-export")
	v.SetDefault("export_workers", 4)
	v.SetDefault("shutdown_sleep_sec", 0)
}

// Load reads defaults, then the optional config file, then KVSQL_* env vars.
// An empty configFile looks for kvsql.yaml in the working directory.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("kvsql")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// an explicitly named file has to exist
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("error in v.ReadInConfig: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("error in v.Unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.MetaStore {
	case "kv", "crdb", "redis":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidMetaStore, c.MetaStore)
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.OrdinalCacheSize <= 0 {
		c.OrdinalCacheSize = 4096
	}
	if c.ExportWorkers <= 0 {
		c.ExportWorkers = 1
	}
	return nil
}
