// Package config loads node configuration from defaults, an optional TOML
// file and MUSIPHONE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// turned into underscores: MUSIPHONE_MUSIC_SIMILARITY=0.8
const EnvPrefix = "MUSIPHONE"

// Config represents the complete node configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	File     FileConfig     `mapstructure:"file"`
	Music    MusicConfig    `mapstructure:"music"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Network  NetworkConfig  `mapstructure:"network"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	// Listen is the local listen address
	Listen string `mapstructure:"listen"`
	// Address is the public host:port peers know this node by
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// FileConfig controls payload responses and uploads
type FileConfig struct {
	// ResponseCacheLifetime feeds Cache-Control max-age; 0 disables caching
	ResponseCacheLifetime time.Duration `mapstructure:"response_cache_lifetime"`
	// MaxSize is the largest accepted upload in bytes
	MaxSize int64 `mapstructure:"max_size"`
}

// MusicConfig controls song matching
type MusicConfig struct {
	// Similarity is the score at which two titles count as the same song
	Similarity float64 `mapstructure:"similarity"`
}

// QueueConfig controls how duplicate submissions wait
type QueueConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxWaiting int           `mapstructure:"max_waiting"`
}

// ApprovalConfig controls pending approvals
type ApprovalConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// NetworkConfig controls per-client access
type NetworkConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// TrustFile lists trusted peers, one per line; empty trusts nobody
	TrustFile string `mapstructure:"trust_file"`
}

// StorageConfig locates on-disk state
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheMaxAge returns the Cache-Control max-age in whole seconds, rounded up
func (c FileConfig) CacheMaxAge() int64 {
	if c.ResponseCacheLifetime <= 0 {
		return 0
	}
	return int64(math.Ceil(c.ResponseCacheLifetime.Seconds()))
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":8080",
			Address:           "127.0.0.1:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		File: FileConfig{
			ResponseCacheLifetime: 7 * 24 * time.Hour,
			MaxSize:               30 << 20,
		},
		Music:    MusicConfig{Similarity: 0.91},
		Queue:    QueueConfig{Timeout: 30 * time.Second},
		Approval: ApprovalConfig{Timeout: 10 * time.Minute},
		Network: NetworkConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Storage: StorageConfig{DataDir: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// New returns a viper instance with defaults and environment overrides
// registered
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("file.response_cache_lifetime", d.File.ResponseCacheLifetime)
	v.SetDefault("file.max_size", d.File.MaxSize)

	v.SetDefault("music.similarity", d.Music.Similarity)

	v.SetDefault("queue.timeout", d.Queue.Timeout)
	v.SetDefault("queue.max_waiting", d.Queue.MaxWaiting)

	v.SetDefault("approval.timeout", d.Approval.Timeout)

	v.SetDefault("network.requests_per_second", d.Network.RequestsPerSecond)
	v.SetDefault("network.burst", d.Network.Burst)
	v.SetDefault("network.trust_file", d.Network.TrustFile)

	v.SetDefault("storage.data_dir", d.Storage.DataDir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Load reads an optional TOML file into v and decodes the result.
// An empty path skips the file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Music.Similarity <= 0 || c.Music.Similarity > 1 {
		errs = append(errs, fmt.Errorf("music.similarity must be in (0, 1], got %v", c.Music.Similarity))
	}
	if c.File.ResponseCacheLifetime < 0 {
		errs = append(errs, errors.New("file.response_cache_lifetime must not be negative"))
	}
	if c.File.MaxSize <= 0 {
		errs = append(errs, errors.New("file.max_size must be positive"))
	}
	if c.Queue.Timeout < 0 || c.Queue.MaxWaiting < 0 {
		errs = append(errs, errors.New("queue settings must not be negative"))
	}
	if c.Approval.Timeout <= 0 {
		errs = append(errs, errors.New("approval.timeout must be positive"))
	}
	if c.Network.RequestsPerSecond < 0 || c.Network.Burst < 0 {
		errs = append(errs, errors.New("network rate limits must not be negative"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must not be empty"))
	}
	return errors.Join(errs...)
}

// EncodeTOML renders the effective settings of v as TOML. Durations are
// written in their string form so the output can be read back.
func EncodeTOML(v *viper.Viper) ([]byte, error) {
	return toml.Marshal(stringifyDurations(v.AllSettings()))
}

func stringifyDurations(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		switch x := val.(type) {
		case map[string]any:
			out[k] = stringifyDurations(x)
		case time.Duration:
			out[k] = x.String()
		default:
			out[k] = val
		}
	}
	return out
}
