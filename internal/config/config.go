// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvFile is read when no explicit env file is given.
const DefaultEnvFile = ".env"

type Config struct {
	Probe    ProbeConfig
	Storage  StorageConfig
	History  HistoryConfig
	Server   ServerConfig
	Mock     MockConfig
	Database DatabaseConfig
	LogLevel string
}

type ProbeConfig struct {
	AuthToken   string
	BaseURL     string
	HTTPTimeout time.Duration
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	KeyPrefix string
	KeySuffix string
}

type HistoryConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	MaxEntries    int
	TTLSeconds    int
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
	PublicURL      string
}

type MockConfig struct {
	Storage               string
	SigningSecret         string
	PresignExpiresSeconds int
	SweepIntervalSeconds  int
}

type DatabaseConfig struct {
	Enabled  bool
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Load builds the configuration from defaults, the given env file and the
// process environment, in increasing order of precedence. A missing env file
// is ignored; the process environment is never modified.
func Load(envFile string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("AUTH_TOKEN", "")
	v.SetDefault("API_BASE_URL", "http://127.0.0.1:8081")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 60)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_BUCKET", "")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_USE_SSL", false)
	v.SetDefault("STORAGE_KEY_PREFIX", "uploads/")
	v.SetDefault("STORAGE_KEY_SUFFIX", ".bin")

	v.SetDefault("HISTORY_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("HISTORY_MAX_ENTRIES", 100)
	v.SetDefault("HISTORY_TTL_SECONDS", 7*24*60*60)

	v.SetDefault("SERVER_PORT", "8081")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 30)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER_PUBLIC_URL", "http://127.0.0.1:8081")

	v.SetDefault("MOCK_STORAGE", "memory")
	v.SetDefault("MOCK_SIGNING_SECRET", "uploadprobe-mock")
	v.SetDefault("PRESIGN_EXPIRES_SECONDS", 900)
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 60)

	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "uploadprobe")
	v.SetDefault("DB_SSLMODE", "disable")

	// Values from the env file override the defaults above, but never a
	// variable present in the process environment, even an empty one
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		for key, value := range values {
			if _, ok := os.LookupEnv(key); ok {
				continue
			}
			v.SetDefault(key, value)
		}
	}

	// Read from environment variables
	v.AutomaticEnv()

	return &Config{
		Probe: ProbeConfig{
			AuthToken:   v.GetString("AUTH_TOKEN"),
			BaseURL:     v.GetString("API_BASE_URL"),
			HTTPTimeout: time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			Region:    v.GetString("STORAGE_REGION"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			KeyPrefix: v.GetString("STORAGE_KEY_PREFIX"),
			KeySuffix: v.GetString("STORAGE_KEY_SUFFIX"),
		},
		History: HistoryConfig{
			Enabled:       v.GetBool("HISTORY_ENABLED"),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			MaxEntries:    v.GetInt("HISTORY_MAX_ENTRIES"),
			TTLSeconds:    v.GetInt("HISTORY_TTL_SECONDS"),
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			PublicURL:      v.GetString("SERVER_PUBLIC_URL"),
		},
		Mock: MockConfig{
			Storage:               v.GetString("MOCK_STORAGE"),
			SigningSecret:         v.GetString("MOCK_SIGNING_SECRET"),
			PresignExpiresSeconds: v.GetInt("PRESIGN_EXPIRES_SECONDS"),
			SweepIntervalSeconds:  v.GetInt("SWEEP_INTERVAL_SECONDS"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			Driver:   v.GetString("DB_DRIVER"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}, nil
}

// Timeout returns the HTTP client timeout. Zero means no timeout.
func (c ProbeConfig) Timeout() time.Duration {
	if c.HTTPTimeout <= 0 {
		return 0
	}
	return c.HTTPTimeout
}

// Configured reports whether enough settings exist to talk to a bucket.
func (c StorageConfig) Configured() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

func (c MockConfig) PresignExpiry() time.Duration {
	return time.Duration(c.PresignExpiresSeconds) * time.Second
}

func (c MockConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
