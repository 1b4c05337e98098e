package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort                 = 8080
	defaultDataDir              = "data"
	defaultLogLevel             = "info"
	defaultMaxConcurrentUploads = 3
	defaultAutoClearAfter       = 5 * time.Second
	defaultEstimatorWindow      = 5 * time.Second
	defaultEstimatorSamples     = 32
	defaultHTTPTimeout          = 30 * time.Minute
	defaultWatchSettle          = 2 * time.Second

	TransportHTTP  = "http"
	TransportMinIO = "minio"

	StoreNone  = "none"
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                 int             `yaml:"port"`
	DataDir              string          `yaml:"data_dir"`
	LogLevel             string          `yaml:"log_level"`
	MaxConcurrentUploads int             `yaml:"max_concurrent_uploads"`
	AutoClearAfter       time.Duration   `yaml:"auto_clear_after"`
	Estimator            EstimatorConfig `yaml:"estimator"`
	Transport            TransportConfig `yaml:"transport"`
	Store                StoreConfig     `yaml:"store"`
	Watch                WatchConfig     `yaml:"watch"`
}

type EstimatorConfig struct {
	Window  time.Duration `yaml:"window"`
	Samples int           `yaml:"samples"`
}

type TransportConfig struct {
	Kind  string      `yaml:"kind"`
	HTTP  HTTPConfig  `yaml:"http"`
	MinIO MinIOConfig `yaml:"minio"`
}

type HTTPConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

type StoreConfig struct {
	Kind  string      `yaml:"kind"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WatchConfig enables the watch folder when Dir is set.
type WatchConfig struct {
	Dir         string        `yaml:"dir"`
	Destination string        `yaml:"destination"`
	Settle      time.Duration `yaml:"settle"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:                 defaultPort,
		DataDir:              defaultDataDir,
		LogLevel:             defaultLogLevel,
		MaxConcurrentUploads: defaultMaxConcurrentUploads,
		AutoClearAfter:       defaultAutoClearAfter,
		Estimator: EstimatorConfig{
			Window:  defaultEstimatorWindow,
			Samples: defaultEstimatorSamples,
		},
		Transport: TransportConfig{
			Kind: TransportHTTP,
			HTTP: HTTPConfig{Endpoint: "http://localhost:5000/api/files", Timeout: defaultHTTPTimeout},
			MinIO: MinIOConfig{
				Endpoint: "localhost:9000",
				Bucket:   "nas",
			},
		},
		Store: StoreConfig{
			Kind:  StoreFile,
			Redis: RedisConfig{Addr: "localhost:6379"},
		},
		Watch: WatchConfig{Destination: "/", Settle: defaultWatchSettle},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

// LoadEnv applies variables from envFile (when it exists) and the process
// environment on top of cfg.
func LoadEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	setString(&cfg.LogLevel, "NASUPLOAD_LOG_LEVEL")
	setString(&cfg.DataDir, "NASUPLOAD_DATA_DIR")
	setString(&cfg.Transport.Kind, "NASUPLOAD_TRANSPORT")
	setString(&cfg.Transport.HTTP.Endpoint, "NASUPLOAD_HTTP_ENDPOINT")
	setString(&cfg.Store.Kind, "NASUPLOAD_STORE")
	setString(&cfg.Watch.Dir, "NASUPLOAD_WATCH_DIR")
	setString(&cfg.Transport.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Transport.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Transport.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Transport.MinIO.Bucket, "MINIO_BUCKET")
	setString(&cfg.Store.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Store.Redis.Password, "REDIS_PASSWORD")

	if err := setInt(&cfg.Port, "NASUPLOAD_PORT"); err != nil {
		return err
	}
	if err := setInt(&cfg.MaxConcurrentUploads, "NASUPLOAD_MAX_CONCURRENT_UPLOADS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Store.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.Transport.MinIO.UseSSL = strings.EqualFold(v, "true")
	}
	cfg.normalize()
	return cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	// values < 1 are not allowed
	if c.MaxConcurrentUploads < 1 {
		return fmt.Errorf("invalid max_concurrent_uploads: %d (must be >= 1)", c.MaxConcurrentUploads)
	}
	if c.Estimator.Window < 0 {
		return fmt.Errorf("invalid estimator.window: %s", c.Estimator.Window)
	}
	if c.Estimator.Samples < 2 {
		return fmt.Errorf("invalid estimator.samples: %d (must be >= 2)", c.Estimator.Samples)
	}
	switch c.Transport.Kind {
	case TransportHTTP:
		if c.Transport.HTTP.Endpoint == "" {
			return errors.New("transport.http.endpoint is required")
		}
	case TransportMinIO:
		if c.Transport.MinIO.Bucket == "" {
			return errors.New("transport.minio.bucket is required")
		}
	default:
		return fmt.Errorf("unknown transport kind: %q", c.Transport.Kind)
	}
	switch c.Store.Kind {
	case StoreNone, StoreFile, StoreRedis:
	default:
		return fmt.Errorf("unknown store kind: %q", c.Store.Kind)
	}
	return nil
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Estimator.Window == 0 {
		c.Estimator.Window = defaultEstimatorWindow
	}
	if c.Estimator.Samples == 0 {
		c.Estimator.Samples = defaultEstimatorSamples
	}
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportHTTP
	}
	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
	if c.Store.Kind == "" {
		c.Store.Kind = StoreNone
	}
	if c.Watch.Settle <= 0 {
		c.Watch.Settle = defaultWatchSettle
	}
	if c.Watch.Destination == "" {
		c.Watch.Destination = "/"
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s is not a valid integer: %w", key, err)
	}
	*dst = n
	return nil
}
