package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the explicit configuration passed down to every component
type Config struct {
	// Media output
	BasePath          string // YT_DOWNLOADER_PATH
	MaxProcessWorkers int
	FFmpegGlobalFlags []string
	FFmpegPath        string
	YtDlpPath         string
	CleanupDelay      time.Duration
	RetryBaseDelay    time.Duration

	// Provider
	ProviderRateLimit float64 // requests per second, 0 disables
	MetadataCacheTTL  time.Duration

	// Queue / worker runtime
	RedisURL        string
	QueueName       string
	WorkerCount     int
	JobTimeout      time.Duration
	QueueMaxRetries int

	// HTTP surface
	ServerAddr   string
	JWTSecret    string
	AuthRequired bool // bearer token on /api/v1
	CORSOrigins  []string

	// Logging
	LogLevel    string
	Environment string

	// MinIO/S3 publishing
	StorageEnabled bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	S3Region       string
	S3Bucket       string
	S3Endpoint     string
	S3Prefix       string
}

// FileConfig mirrors Config for the optional YAML file. Pointer fields
// distinguish "unset" from zero values.
type FileConfig struct {
	BasePath          *string  `yaml:"basePath"`
	MaxProcessWorkers *int     `yaml:"maxProcessWorkers"`
	FFmpegGlobalFlags *string  `yaml:"ffmpegGlobalFlags"`
	FFmpegPath        *string  `yaml:"ffmpegPath"`
	YtDlpPath         *string  `yaml:"ytdlpPath"`
	CleanupDelay      *string  `yaml:"cleanupDelay"`
	RetryBaseDelay    *string  `yaml:"retryBaseDelay"`
	ProviderRateLimit *float64 `yaml:"providerRateLimit"`
	MetadataCacheTTL  *string  `yaml:"metadataCacheTTL"`

	Queue struct {
		RedisURL   *string `yaml:"redisURL"`
		Name       *string `yaml:"name"`
		Workers    *int    `yaml:"workers"`
		JobTimeout *string `yaml:"jobTimeout"`
		MaxRetries *int    `yaml:"maxRetries"`
	} `yaml:"queue"`

	Server struct {
		Addr         *string  `yaml:"addr"`
		AuthRequired *bool    `yaml:"authRequired"`
		CORSOrigins  []string `yaml:"corsOrigins"`
	} `yaml:"server"`

	Log struct {
		Level       *string `yaml:"level"`
		Environment *string `yaml:"environment"`
	} `yaml:"log"`

	Storage struct {
		Enabled  *bool   `yaml:"enabled"`
		Endpoint *string `yaml:"endpoint"`
		Bucket   *string `yaml:"bucket"`
		UseSSL   *bool   `yaml:"useSSL"`
		S3Region *string `yaml:"s3Region"`
		S3Bucket *string `yaml:"s3Bucket"`
		S3Prefix *string `yaml:"s3Prefix"`
	} `yaml:"storage"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		BasePath:          "./downloads",
		MaxProcessWorkers: 4,
		FFmpegPath:        "ffmpeg",
		YtDlpPath:         "yt-dlp",
		CleanupDelay:      2 * time.Second,
		RetryBaseDelay:    10 * time.Second,
		MetadataCacheTTL:  10 * time.Minute,
		RedisURL:          "redis://localhost:6379",
		QueueName:         "downloads",
		WorkerCount:       1,
		JobTimeout:        96 * time.Hour,
		ServerAddr:        ":8080",
		LogLevel:          "info",
		Environment:       "production",
		MinioEndpoint:     "localhost:9000",
		MinioBucket:       "media",
		S3Region:          "us-east-1",
	}
}

// Load reads configuration with precedence ENV > file > defaults.
// The file is taken from MEDIAFETCH_CONFIG when set.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("MEDIAFETCH_CONFIG"); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if err := applyFile(cfg, fc); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	// A generated secret cannot verify tokens issued elsewhere, so it is
	// only acceptable while tokens are not required.
	if cfg.JWTSecret == "" && !cfg.AuthRequired {
		cfg.JWTSecret = generateDefaultSecret()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func applyFile(cfg *Config, fc *FileConfig) error {
	setString(&cfg.BasePath, fc.BasePath)
	setInt(&cfg.MaxProcessWorkers, fc.MaxProcessWorkers)
	if fc.FFmpegGlobalFlags != nil {
		cfg.FFmpegGlobalFlags = strings.Fields(*fc.FFmpegGlobalFlags)
	}
	setString(&cfg.FFmpegPath, fc.FFmpegPath)
	setString(&cfg.YtDlpPath, fc.YtDlpPath)
	if fc.ProviderRateLimit != nil {
		cfg.ProviderRateLimit = *fc.ProviderRateLimit
	}

	durations := []struct {
		dst *time.Duration
		src *string
		key string
	}{
		{&cfg.CleanupDelay, fc.CleanupDelay, "cleanupDelay"},
		{&cfg.RetryBaseDelay, fc.RetryBaseDelay, "retryBaseDelay"},
		{&cfg.MetadataCacheTTL, fc.MetadataCacheTTL, "metadataCacheTTL"},
		{&cfg.JobTimeout, fc.Queue.JobTimeout, "queue.jobTimeout"},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	setString(&cfg.RedisURL, fc.Queue.RedisURL)
	setString(&cfg.QueueName, fc.Queue.Name)
	setInt(&cfg.WorkerCount, fc.Queue.Workers)
	setInt(&cfg.QueueMaxRetries, fc.Queue.MaxRetries)
	setString(&cfg.ServerAddr, fc.Server.Addr)
	if fc.Server.AuthRequired != nil {
		cfg.AuthRequired = *fc.Server.AuthRequired
	}
	if fc.Server.CORSOrigins != nil {
		cfg.CORSOrigins = fc.Server.CORSOrigins
	}
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.Environment, fc.Log.Environment)

	if fc.Storage.Enabled != nil {
		cfg.StorageEnabled = *fc.Storage.Enabled
	}
	if fc.Storage.UseSSL != nil {
		cfg.MinioUseSSL = *fc.Storage.UseSSL
	}
	setString(&cfg.MinioEndpoint, fc.Storage.Endpoint)
	setString(&cfg.MinioBucket, fc.Storage.Bucket)
	setString(&cfg.S3Region, fc.Storage.S3Region)
	setString(&cfg.S3Bucket, fc.Storage.S3Bucket)
	setString(&cfg.S3Prefix, fc.Storage.S3Prefix)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.BasePath = getEnvOrDefault("YT_DOWNLOADER_PATH", cfg.BasePath)
	cfg.MaxProcessWorkers = getEnvInt("MAX_PROCESS_WORKERS", cfg.MaxProcessWorkers)
	if flags, ok := os.LookupEnv("FFMPEG_GLOBAL_FLAGS"); ok {
		cfg.FFmpegGlobalFlags = strings.Fields(flags)
	}
	cfg.FFmpegPath = getEnvOrDefault("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.YtDlpPath = getEnvOrDefault("YTDLP_PATH", cfg.YtDlpPath)
	cfg.CleanupDelay = getEnvDuration("WORKSPACE_CLEANUP_DELAY", cfg.CleanupDelay)
	cfg.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.ProviderRateLimit = getEnvFloat("PROVIDER_RATE_LIMIT", cfg.ProviderRateLimit)
	cfg.MetadataCacheTTL = getEnvDuration("METADATA_CACHE_TTL", cfg.MetadataCacheTTL)

	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.QueueName = getEnvOrDefault("QUEUE_NAME", cfg.QueueName)
	cfg.WorkerCount = getEnvInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.JobTimeout = getEnvDuration("JOB_TIMEOUT", cfg.JobTimeout)
	cfg.QueueMaxRetries = getEnvInt("QUEUE_MAX_RETRIES", cfg.QueueMaxRetries)

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", cfg.ServerAddr)
	cfg.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.AuthRequired = getEnvBool("AUTH_REQUIRED", cfg.AuthRequired)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = strings.Split(origins, ",")
	}
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.Environment = getEnvOrDefault("ENVIRONMENT", cfg.Environment)

	cfg.StorageEnabled = getEnvBool("STORAGE_ENABLED", cfg.StorageEnabled)
	cfg.MinioEndpoint = getEnvOrDefault("MINIO_ENDPOINT", cfg.MinioEndpoint)
	cfg.MinioAccessKey = getEnvOrDefault("MINIO_ACCESS_KEY", cfg.MinioAccessKey)
	cfg.MinioSecretKey = getEnvOrDefault("MINIO_SECRET_KEY", cfg.MinioSecretKey)
	cfg.MinioBucket = getEnvOrDefault("MINIO_BUCKET", cfg.MinioBucket)
	cfg.MinioUseSSL = getEnvBool("MINIO_USE_SSL", cfg.MinioUseSSL)
	cfg.S3Region = getEnvOrDefault("S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnvOrDefault("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Endpoint = getEnvOrDefault("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Prefix = getEnvOrDefault("S3_PREFIX", cfg.S3Prefix)
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BasePath) == "" {
		errs = append(errs, errors.New("YT_DOWNLOADER_PATH must not be empty"))
	}
	if c.MaxProcessWorkers <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PROCESS_WORKERS must be positive, got %d", c.MaxProcessWorkers))
	}
	if c.WorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount))
	}
	if c.QueueMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_RETRIES must not be negative, got %d", c.QueueMaxRetries))
	}
	if c.ProviderRateLimit < 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_RATE_LIMIT must not be negative, got %v", c.ProviderRateLimit))
	}
	if c.QueueName == "" {
		errs = append(errs, errors.New("QUEUE_NAME must not be empty"))
	}
	if c.AuthRequired && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when AUTH_REQUIRED is set"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
