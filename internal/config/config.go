// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MaxBatchOpsLimit is the hard ceiling on operations per atomic store batch.
const MaxBatchOpsLimit = 500

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Data      DataConfig
	Server    ServerConfig
	Store     StoreConfig
	Migration MigrationConfig
	Objects   ObjectsConfig
	RateLimit RateLimitConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds on-disk locations.
type DataConfig struct {
	BasePath string
}

// DBPath is the Badger directory.
func (d DataConfig) DBPath() string { return filepath.Join(d.BasePath, "db") }

// LedgerPath is the SQLite job ledger file.
func (d DataConfig) LedgerPath() string { return filepath.Join(d.BasePath, "jobs.db") }

// ObjectsPath is the root of the filesystem object store.
func (d DataConfig) ObjectsPath() string { return filepath.Join(d.BasePath, "objects") }

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port           string        // Server port (default: 8080)
	ReadTimeout    time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout   time.Duration // HTTP write timeout (default: 60s, jobs can be slow)
	IdleTimeout    time.Duration // HTTP idle timeout (default: 60s)
	AllowedOrigins []string      // CORS origins (default: *)
}

// StoreConfig holds document store tuning.
type StoreConfig struct {
	// MaxBatchOps bounds the number of mutations applied in one atomic batch.
	MaxBatchOps int
}

// MigrationConfig holds encoding migration settings.
type MigrationConfig struct {
	// Quality is the JPEG quality factor used by live migrations.
	Quality int
}

// ObjectsConfig selects the object storage backend.
type ObjectsConfig struct {
	Backend  string // fs or s3
	BaseURL  string // public URL prefix for the fs backend
	Bucket   string
	Region   string
	Endpoint string // optional, for S3-compatible services
	Prefix   string

	// Static credentials, read from the environment only. Empty means the
	// AWS default credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// RateLimitConfig throttles the job trigger surface.
type RateLimitConfig struct {
	JobsPerMinute int
}

// Flags holds the command-line flags understood by LoadConfig.
// Register them on any FlagSet (cobra can adopt it through AddGoFlagSet).
type Flags struct {
	env          *string
	logLevel     *string
	dataPath     *string
	envFile      *string
	port         *string
	readTimeout  *string
	writeTimeout *string
	idleTimeout  *string
	origins      *string
	maxBatchOps  *string
	quality      *string
	objects      *string
	objectsURL   *string
	s3Bucket     *string
	s3Region     *string
	s3Endpoint   *string
	s3Prefix     *string
	jobsPerMin   *string
}

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		env:          fs.String("env", "", "Environment (development, staging, production)"),
		logLevel:     fs.String("log-level", "", "Log level (debug, info, warn, error)"),
		dataPath:     fs.String("data-path", "", "Base path for database, job ledger and objects"),
		envFile:      fs.String("env-file", ".env", "Path to .env file"),
		port:         fs.String("port", "", "Server port (default: 8080)"),
		readTimeout:  fs.String("read-timeout", "", "HTTP read timeout (default: 15s)"),
		writeTimeout: fs.String("write-timeout", "", "HTTP write timeout (default: 60s)"),
		idleTimeout:  fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)"),
		origins:      fs.String("cors-origins", "", "Comma separated CORS origins (default: *)"),
		maxBatchOps:  fs.String("max-batch-ops", "", "Maximum operations per atomic batch (default: 500)"),
		quality:      fs.String("jpeg-quality", "", "JPEG quality for encoding migration (default: 80)"),
		objects:      fs.String("objects-backend", "", "Object storage backend: fs or s3 (default: fs)"),
		objectsURL:   fs.String("objects-base-url", "", "Public URL prefix for fs objects"),
		s3Bucket:     fs.String("s3-bucket", "", "S3 bucket for objects"),
		s3Region:     fs.String("s3-region", "", "S3 region"),
		s3Endpoint:   fs.String("s3-endpoint", "", "Custom S3 endpoint"),
		s3Prefix:     fs.String("s3-prefix", "", "Key prefix inside the S3 bucket"),
		jobsPerMin:   fs.String("jobs-per-minute", "", "Job trigger rate limit per client (default: 30)"),
	}
}

// LoadConfig parses args and loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("promptshelf", flag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	return flags.Load()
}

// Load builds the configuration from already parsed flags.
func (f *Flags) Load() (*Config, error) {
	// Silently ignore a missing .env file.
	_ = loadEnvFile(*f.envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*f.env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*f.logLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*f.dataPath, "DATA_PATH", ""),
		},
		Server: ServerConfig{
			Port:           getConfigValue(*f.port, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*f.origins, "CORS_ORIGINS", "*")),
		},
		Store: StoreConfig{
			MaxBatchOps: getIntConfigValue(*f.maxBatchOps, "MAX_BATCH_OPS", MaxBatchOpsLimit),
		},
		Migration: MigrationConfig{
			Quality: getIntConfigValue(*f.quality, "JPEG_QUALITY", 80),
		},
		Objects: ObjectsConfig{
			Backend:  getConfigValue(*f.objects, "OBJECTS_BACKEND", "fs"),
			BaseURL:  getConfigValue(*f.objectsURL, "OBJECTS_BASE_URL", "/objects"),
			Bucket:   getConfigValue(*f.s3Bucket, "S3_BUCKET", ""),
			Region:   getConfigValue(*f.s3Region, "S3_REGION", "us-east-1"),
			Endpoint: getConfigValue(*f.s3Endpoint, "S3_ENDPOINT", ""),
			Prefix:   getConfigValue(*f.s3Prefix, "S3_PREFIX", ""),

			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		RateLimit: RateLimitConfig{
			JobsPerMinute: getIntConfigValue(*f.jobsPerMin, "JOBS_PER_MINUTE", 30),
		},
	}

	var err error
	if cfg.Server.ReadTimeout, err = parseDuration(*f.readTimeout, "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = parseDuration(*f.writeTimeout, "SERVER_WRITE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = parseDuration(*f.idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if c.Store.MaxBatchOps < 1 || c.Store.MaxBatchOps > MaxBatchOpsLimit {
		return fmt.Errorf("invalid max batch ops: %d (must be 1..%d)", c.Store.MaxBatchOps, MaxBatchOpsLimit)
	}

	if c.Migration.Quality < 1 || c.Migration.Quality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d (must be 1..100)", c.Migration.Quality)
	}

	switch c.Objects.Backend {
	case "fs":
	case "s3":
		if c.Objects.Bucket == "" {
			return errors.New("S3_BUCKET is required when OBJECTS_BACKEND=s3")
		}
	default:
		return fmt.Errorf("invalid objects backend: %s (must be fs or s3)", c.Objects.Backend)
	}

	if c.RateLimit.JobsPerMinute < 0 {
		return fmt.Errorf("invalid jobs per minute: %d", c.RateLimit.JobsPerMinute)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "PromptShelf", "data")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
// Unparseable values are kept as -1 so Validate reports them.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return -1
	}
	return n
}

func parseDuration(flagValue, envKey, defaultValue string) (time.Duration, error) {
	s := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(envKey), s, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
