// Package config loads settings for the server and the client from an optional .env file,
// an optional astroglossary.yaml, and ASTRO_ environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hypergopher/astroglossary"
)

const (
	EnvPrefix  = "ASTRO"
	ConfigName = "astroglossary"

	StoreMemory   = "memory"
	StoreBBolt    = "bbolt"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

var Stores = []string{StoreMemory, StoreBBolt, StoreSQLite, StorePostgres}

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Server   ServerConfig `mapstructure:"server"`
	Client   ClientConfig `mapstructure:"client"`
	Import   ImportConfig `mapstructure:"import"`
}

type ServerConfig struct {
	Addr           string               `mapstructure:"addr"`
	Store          string               `mapstructure:"store"`
	DataDir        string               `mapstructure:"data_dir"`
	PostgresDSN    string               `mapstructure:"postgres_dsn"`
	AllowedOrigins []string             `mapstructure:"allowed_origins"`
	Types          []string             `mapstructure:"types"`
	Users          []astroglossary.User `mapstructure:"users"`
	Seed           string               `mapstructure:"seed"`
}

type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	CachePath      string        `mapstructure:"cache_path"`
	PageSize       int           `mapstructure:"page_size"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
}

type ImportConfig struct {
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"`
	Watch   bool   `mapstructure:"watch"`
}

// LoadOptions selects the files Load reads.
type LoadOptions struct {
	ConfigFile string // ConfigFile is an explicit config file. It must exist when set.
	EnvFile    string // EnvFile is the dotenv file. Default is .env; a missing file is ignored.
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.store", StoreMemory)
	v.SetDefault("server.data_dir", "data")
	v.SetDefault("server.postgres_dsn", "")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.types", []string(astroglossary.DefaultTypes()))
	v.SetDefault("server.seed", "")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.cache_path", defaultCachePath())
	v.SetDefault("client.page_size", astroglossary.DefaultPageSize)
	v.SetDefault("client.health_interval", 5*time.Second)
	v.SetDefault("client.timeout", 10*time.Second)
	v.SetDefault("client.max_retries", 0)

	v.SetDefault("import.dir", "")
	v.SetDefault("import.pattern", "**/*.md")
	v.SetDefault("import.watch", false)
}

// Load reads the configuration.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
		}

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if !slices.Contains(Stores, c.Server.Store) {
		errs = append(errs, fmt.Errorf("server.store must be one of %s, got %q", strings.Join(Stores, ", "), c.Server.Store))
	}
	if c.Server.Store == StorePostgres && c.Server.PostgresDSN == "" {
		errs = append(errs, errors.New("server.postgres_dsn is required for the postgres store"))
	}
	if (c.Server.Store == StoreBBolt || c.Server.Store == StoreSQLite) && c.Server.DataDir == "" {
		errs = append(errs, fmt.Errorf("server.data_dir is required for the %s store", c.Server.Store))
	}
	if len(c.Server.Types) == 0 {
		errs = append(errs, errors.New("server.types must not be empty"))
	}
	if c.Client.BaseURL == "" {
		errs = append(errs, errors.New("client.base_url is required"))
	}
	if c.Client.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("client.page_size must be positive, got %d", c.Client.PageSize))
	}
	if c.Client.HealthInterval < time.Second {
		errs = append(errs, fmt.Errorf("client.health_interval must be at least 1s, got %s", c.Client.HealthInterval))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, errors.New("client.timeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", ConfigName+".db")
	}
	return filepath.Join(dir, ConfigName, "client.db")
}
