package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. KSG_SERVER_PORT
const EnvPrefix = "KSG"

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	Version   string          `mapstructure:"-"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	PortAttempts int           `mapstructure:"port_attempts"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ArtifactsConfig locates the model and the two feature pipelines
type ArtifactsConfig struct {
	Dir           string `mapstructure:"dir"`
	Model         string `mapstructure:"model"`
	TextPipeline  string `mapstructure:"text_pipeline"`
	QuantPipeline string `mapstructure:"quant_pipeline"`
	Expose        bool   `mapstructure:"expose"`
	MountPath     string `mapstructure:"mount_path"`
}

// CacheConfig sizes the prediction cache; zero disables it
type CacheConfig struct {
	Size int `mapstructure:"size"`
}

// LogConfig selects slog level and handler format
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every known key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.port_attempts", 10)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("artifacts.dir", "./modeling_files")
	v.SetDefault("artifacts.model", "model.json")
	v.SetDefault("artifacts.text_pipeline", "text_pipeline.json")
	v.SetDefault("artifacts.quant_pipeline", "quant_pipeline.json")
	v.SetDefault("artifacts.expose", true)
	v.SetDefault("artifacts.mount_path", "/model.sav")

	v.SetDefault("cache.size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, an optional YAML file and KSG_*
// environment variables. Flags should already be bound to v by the caller.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.Artifacts.MountPath = "/" + strings.Trim(cfg.Artifacts.MountPath, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.PortAttempts < 1 {
		errs = append(errs, fmt.Errorf("server.port_attempts must be at least 1, got %d", c.Server.PortAttempts))
	}
	if strings.TrimSpace(c.Artifacts.Dir) == "" {
		errs = append(errs, errors.New("artifacts.dir is required"))
	}
	if c.Artifacts.Expose && c.Artifacts.MountPath == "/" {
		errs = append(errs, errors.New("artifacts.mount_path cannot be the site root"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("cache.size cannot be negative, got %d", c.Cache.Size))
	}
	return errors.Join(errs...)
}
