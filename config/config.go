// Package config provides configuration handling
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"atelier/util"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Database   DatabaseConfig   `json:"database" mapstructure:"database"`
	Redis      RedisConfig      `json:"redis" mapstructure:"redis"`
	Rabbitmq   RabbitmqConfig   `json:"rabbitmq" mapstructure:"rabbitmq"`
	Auth       AuthConfig       `json:"auth" mapstructure:"auth"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`
	Adapter    AdapterConfig    `json:"adapter" mapstructure:"adapter"`
	LogLevel   string           `json:"logLevel" mapstructure:"log_level"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	BaseURL string `json:"baseUrl" mapstructure:"base_url"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	DBName   string `json:"dbname" mapstructure:"dbname"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

// RedisConfig contains redis configuration
type RedisConfig struct {
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"`
	Password       string `json:"password" mapstructure:"password"`
	DB             int    `json:"db" mapstructure:"db"`
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	PredictionTTL  string `json:"predictionTtl" mapstructure:"prediction_ttl"`
	PoolSize       int    `json:"poolSize" mapstructure:"pool_size"`
	MinIdleConns   int    `json:"minIdleConnections" mapstructure:"min_idle_connections"`
	ConnectTimeout string `json:"connectTimeout" mapstructure:"connect_timeout"`
}

// RabbitmqConfig contains the message queue configuration
type RabbitmqConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	Enabled   bool     `json:"enabled" mapstructure:"enabled"`
	JWKSUri   string   `json:"jwksUri" mapstructure:"jwks_uri"`
	Audience  string   `json:"audience" mapstructure:"audience"`
	APITokens []string `json:"apiTokens" mapstructure:"api_tokens"`
}

// WorkerConfig describes the diffusion worker the service fronts
type WorkerConfig struct {
	BaseURL        string `json:"baseUrl" mapstructure:"base_url"`
	RequestTimeout string `json:"requestTimeout" mapstructure:"request_timeout"`
}

// GenerationConfig carries the generation parameter defaults and limits
type GenerationConfig struct {
	DefaultWidth     int     `json:"defaultWidth" mapstructure:"default_width"`
	DefaultHeight    int     `json:"defaultHeight" mapstructure:"default_height"`
	DefaultScheduler string  `json:"defaultScheduler" mapstructure:"default_scheduler"`
	DefaultSteps     int     `json:"defaultSteps" mapstructure:"default_steps"`
	DefaultGuidance  float32 `json:"defaultGuidance" mapstructure:"default_guidance"`
	DefaultStrength  float32 `json:"defaultStrength" mapstructure:"default_strength"`
	DefaultLoraScale float32 `json:"defaultLoraScale" mapstructure:"default_lora_scale"`
	MaxOutputs       int     `json:"maxOutputs" mapstructure:"max_outputs"`
	OutputDirectory  string  `json:"outputDirectory" mapstructure:"output_directory"`
}

// AdapterConfig controls fine-tuned adapter archive handling
type AdapterConfig struct {
	CacheDirectory  string `json:"cacheDirectory" mapstructure:"cache_directory"`
	DownloadTimeout string `json:"downloadTimeout" mapstructure:"download_timeout"`
	MaxArchiveBytes int64  `json:"maxArchiveBytes" mapstructure:"max_archive_bytes"`
}

var (
	config     Config
	configOnce sync.Once
)

// GetConfig loads configuration from config.yaml with environment variable overrides
func GetConfig(configFile *string) Config {
	configOnce.Do(func() {
		var filePath string
		if configFile != nil {
			filePath = *configFile
		} else if os.Getenv("LOCAL") == "true" {
			filePath = ".config.local.yaml"
		} else {
			filePath = ".config.yaml"
		}
		v := viper.New()
		v.SetConfigFile(filePath)

		setDefaults(v)

		// Enable env var overrides (e.g. SERVER_HOST, WORKER_BASE_URL, etc)
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		// Config file is optional, defaults cover a local setup
		_ = v.ReadInConfig()

		if err := v.Unmarshal(&config); err != nil {
			util.LogWarning("Warning: could not unmarshal config", logrus.Fields{"error": err})
		}
	})
	return config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.base_url", "http://localhost:5000")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "atelier")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.prediction_ttl", "24h")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_connections", 3)
	v.SetDefault("redis.connect_timeout", "5s")

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.enabled", false)

	v.SetDefault("auth.enabled", false)

	v.SetDefault("worker.base_url", "http://localhost:8500")
	v.SetDefault("worker.request_timeout", "10m")

	v.SetDefault("generation.default_width", 1024)
	v.SetDefault("generation.default_height", 1024)
	v.SetDefault("generation.default_scheduler", "DPMSolverMultistep")
	v.SetDefault("generation.default_steps", 50)
	v.SetDefault("generation.default_guidance", 7.5)
	v.SetDefault("generation.default_strength", 0.8)
	v.SetDefault("generation.default_lora_scale", 0.6)
	v.SetDefault("generation.max_outputs", 4)
	v.SetDefault("generation.output_directory", "outputs")

	v.SetDefault("adapter.cache_directory", "trained-models")
	v.SetDefault("adapter.download_timeout", "5m")
	v.SetDefault("adapter.max_archive_bytes", 10*1024*1024*1024)
}

// WorkerRequestTimeout returns the worker timeout converted from its string form
func (c *Config) WorkerRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Worker.RequestTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// AdapterDownloadTimeout returns the adapter download timeout
func (c *Config) AdapterDownloadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Adapter.DownloadTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// PredictionTTL returns the redis prediction cache TTL
func (c *Config) PredictionTTL() time.Duration {
	d, err := time.ParseDuration(c.Redis.PredictionTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}
