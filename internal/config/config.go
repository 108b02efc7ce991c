// Package config loads process-wide settings once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
)

// Model backends.
const (
	BackendOpenCV = "opencv"
	BackendGRPC   = "grpc"
	BackendNone   = "none"
)

// Database drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every tunable of the service. Values are read-only after Load.
type Config struct {
	Host     string `toml:"host" default:"0.0.0.0"`
	Port     int    `toml:"port" default:"8000"`
	Debug    bool   `toml:"debug"`
	LogLevel string `toml:"log_level" default:"info"`
	LogFile  string `toml:"log_file"`

	MinDetectionConfidence  float64 `toml:"min_detection_confidence" default:"0.5"`
	FaceConfidenceThreshold float64 `toml:"face_confidence_threshold" default:"0.5"`
	MaxImageSize            int     `toml:"max_image_size" default:"1024"`

	ModelBackend        string        `toml:"model_backend" default:"opencv"`
	DetectorModelPath   string        `toml:"detector_model_path" default:"./models/yunet/face_detection_yunet_2023mar.onnx"`
	RecognizerModelPath string        `toml:"recognizer_model_path" default:"./models/arcface/arcface.onnx"`
	InferenceAddr       string        `toml:"inference_addr" default:"localhost:50051"`
	InferenceTimeout    time.Duration `toml:"inference_timeout" default:"30s"`

	DatabaseDriver string `toml:"database_driver" default:"none"`
	DatabaseDSN    string `toml:"database_dsn"`
	RedisAddr      string `toml:"redis_addr"`

	JWTSecret   string `toml:"jwt_secret"`
	JWTAudience string `toml:"jwt_audience"`

	CORSOrigins        string        `toml:"cors_origins" default:"*"`
	TrustedProxies     string        `toml:"trusted_proxies"`
	RateLimitPerSecond float64       `toml:"rate_limit_per_second" default:"25"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout" default:"15s"`
}

// Load reads .env (if present), applies defaults, the optional TOML file named by
// CONFIG_FILE and finally environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	defaults.SetDefaults(cfg)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AllowedOrigins splits CORSOrigins on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// TrustedProxyList splits TrustedProxies on commas. Empty means no proxy is
// trusted and clients are identified by their peer address.
func (c *Config) TrustedProxyList() []string {
	var proxies []string
	for _, proxy := range strings.Split(c.TrustedProxies, ",") {
		if proxy = strings.TrimSpace(proxy); proxy != "" {
			proxies = append(proxies, proxy)
		}
	}
	return proxies
}

// Validate rejects out of range thresholds and unknown backend names.
func (c *Config) Validate() error {
	var errs []error
	if c.MinDetectionConfidence < 0 || c.MinDetectionConfidence > 1 {
		errs = append(errs, fmt.Errorf("MIN_DETECTION_CONFIDENCE must be within [0,1], got %v", c.MinDetectionConfidence))
	}
	if c.FaceConfidenceThreshold < -1 || c.FaceConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("FACE_CONFIDENCE_THRESHOLD must be within [-1,1], got %v", c.FaceConfidenceThreshold))
	}
	if c.MaxImageSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_IMAGE_SIZE must be positive, got %d", c.MaxImageSize))
	}
	switch c.ModelBackend {
	case BackendOpenCV, BackendGRPC, BackendNone:
	default:
		errs = append(errs, fmt.Errorf("unknown MODEL_BACKEND %q", c.ModelBackend))
	}
	switch c.DatabaseDriver {
	case DriverNone:
	case DriverSQLite, DriverPostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, fmt.Errorf("DATABASE_DSN is required for driver %q", c.DatabaseDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.ModelBackend = strings.ToLower(getEnv("MODEL_BACKEND", cfg.ModelBackend))
	cfg.DetectorModelPath = getEnv("DETECTOR_MODEL_PATH", cfg.DetectorModelPath)
	cfg.RecognizerModelPath = getEnv("RECOGNIZER_MODEL_PATH", cfg.RecognizerModelPath)
	cfg.InferenceAddr = getEnv("INFERENCE_ADDR", cfg.InferenceAddr)
	cfg.DatabaseDriver = strings.ToLower(getEnv("DATABASE_DRIVER", cfg.DatabaseDriver))
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTAudience = getEnv("JWT_AUDIENCE", cfg.JWTAudience)
	cfg.CORSOrigins = getEnv("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.TrustedProxies = getEnv("TRUSTED_PROXIES", cfg.TrustedProxies)

	var err error
	if cfg.Port, err = getEnvInt("PORT", cfg.Port); err != nil {
		return err
	}
	if cfg.Debug, err = getEnvBool("DEBUG", cfg.Debug); err != nil {
		return err
	}
	if cfg.MinDetectionConfidence, err = getEnvFloat("MIN_DETECTION_CONFIDENCE", cfg.MinDetectionConfidence); err != nil {
		return err
	}
	if cfg.FaceConfidenceThreshold, err = getEnvFloat("FACE_CONFIDENCE_THRESHOLD", cfg.FaceConfidenceThreshold); err != nil {
		return err
	}
	if cfg.MaxImageSize, err = getEnvInt("MAX_IMAGE_SIZE", cfg.MaxImageSize); err != nil {
		return err
	}
	if cfg.RateLimitPerSecond, err = getEnvFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond); err != nil {
		return err
	}
	if cfg.InferenceTimeout, err = getEnvDuration("INFERENCE_TIMEOUT", cfg.InferenceTimeout); err != nil {
		return err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
