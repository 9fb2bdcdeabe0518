// Package config resolves runtime settings: built-in defaults, then an
// optional YAML file, then ERPCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the YAML file loaded by FromEnvironment.
const EnvConfigFile = "ERPCORE_CONFIG"

// Storage selects the CRUD backend.
type Storage struct {
	Driver      string `yaml:"driver"` // memory|sqlite|postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// S3 configures the S3 blob driver.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Blob selects the attachment store.
type Blob struct {
	Driver string `yaml:"driver"` // memory|fs|s3
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// HTTP configures the API listener.
type HTTP struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Storage     Storage       `yaml:"storage"`
	Blob        Blob          `yaml:"blob"`
	HTTP        HTTP          `yaml:"http"`
	LogLevel    string        `yaml:"log_level"`
	BRNDebounce time.Duration `yaml:"brn_debounce"`
	ExportQueue int           `yaml:"export_queue"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage:     Storage{Driver: "sqlite", SQLitePath: "erpcore.db"},
		Blob:        Blob{Driver: "fs", FSRoot: "./blobdata"},
		HTTP:        HTTP{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		LogLevel:    "info",
		BRNDebounce: 500 * time.Millisecond,
		ExportQueue: 16,
	}
}

// FromEnvironment loads the file named by ERPCORE_CONFIG (if any) and applies
// environment overrides.
func FromEnvironment() (Config, error) {
	return Load(os.Getenv(EnvConfigFile), os.Getenv)
}

// Load resolves configuration from path (optional) and getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv != nil {
		if err := applyEnv(&cfg, getenv); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("ERPCORE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("ERPCORE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("ERPCORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("ERPCORE_BLOB_DRIVER", &cfg.Blob.Driver)
	str("ERPCORE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("ERPCORE_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("ERPCORE_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("ERPCORE_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("ERPCORE_BLOB_S3_ACCESS_KEY_ID", &cfg.Blob.S3.AccessKeyID)
	str("ERPCORE_BLOB_S3_SECRET_ACCESS_KEY", &cfg.Blob.S3.SecretAccessKey)
	str("ERPCORE_HTTP_ADDR", &cfg.HTTP.Addr)
	str("ERPCORE_LOG_LEVEL", &cfg.LogLevel)

	var errs []error
	if v := getenv("ERPCORE_BLOB_S3_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ERPCORE_BLOB_S3_PATH_STYLE: %w", err))
		}
		cfg.Blob.S3.PathStyle = b
	}
	if v := getenv("ERPCORE_BRN_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ERPCORE_BRN_DEBOUNCE: %w", err))
		}
		cfg.BRNDebounce = d
	}
	if v := getenv("ERPCORE_EXPORT_QUEUE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ERPCORE_EXPORT_QUEUE: %w", err))
		}
		cfg.ExportQueue = n
	}
	return errors.Join(errs...)
}

// Validate reports settings no component can start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "memory", "fs":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob driver s3 requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.BRNDebounce < 0 {
		errs = append(errs, errors.New("brn_debounce must not be negative"))
	}
	if c.ExportQueue < 1 {
		errs = append(errs, errors.New("export_queue must be positive"))
	}
	return errors.Join(errs...)
}
