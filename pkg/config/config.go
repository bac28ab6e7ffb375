package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for snsgrab
type Config struct {
	// Browser session used for harvesting
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Media download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Request throttling for downloads
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Resume pass settings
	Resume ResumeConfig `yaml:"resume" json:"resume"`

	// Document store settings
	Store StoreConfig `yaml:"store" json:"store"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Snapshot storage
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BrowserConfig holds headless browser options
type BrowserConfig struct {
	Headless    bool          `yaml:"headless" json:"headless"`
	ExecPath    string        `yaml:"exec_path" json:"exec_path"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	Pause       time.Duration `yaml:"pause" json:"pause"`
	Settle      time.Duration `yaml:"settle" json:"settle"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	BlockImages bool          `yaml:"block_images" json:"block_images"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	MaxRetries          int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay" json:"retry_delay"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	VideoTool           string        `yaml:"video_tool" json:"video_tool"`
	VideoMaxRetries     int           `yaml:"video_max_retries" json:"video_max_retries"`
	VideoRetryDelay     time.Duration `yaml:"video_retry_delay" json:"video_retry_delay"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// ResumeConfig holds resume pass configuration
type ResumeConfig struct {
	FetchLimit int `yaml:"fetch_limit" json:"fetch_limit"`
}

// StoreConfig selects and configures the document store sink
type StoreConfig struct {
	Driver          string `yaml:"driver" json:"driver"`
	MongoURI        string `yaml:"mongo_uri" json:"mongo_uri"`
	DSN             string `yaml:"dsn" json:"dsn"`
	SkipOnDuplicate bool   `yaml:"skip_on_duplicate" json:"skip_on_duplicate"`
	VerifyOnDisk    bool   `yaml:"verify_on_disk" json:"verify_on_disk"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// CheckpointConfig holds snapshot storage configuration
type CheckpointConfig struct {
	// BucketURL is a gocloud blob URL; empty means the local data directory
	BucketURL string `yaml:"bucket_url" json:"bucket_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Store drivers
const (
	DriverNone     = "none"
	DriverFile     = "file"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:    true,
			Pause:       5 * time.Second,
			Settle:      2 * time.Second,
			Timeout:     60 * time.Second,
			BlockImages: true,
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 3,
			MaxRetries:          10,
			RetryDelay:          5 * time.Second,
			Timeout:             60 * time.Second,
			VideoTool:           "yt-dlp",
			VideoMaxRetries:     5,
			VideoRetryDelay:     5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 0, // 0 disables throttling
			BurstSize:         10,
		},
		Resume: ResumeConfig{
			FetchLimit: 10,
		},
		Store: StoreConfig{
			Driver:          DriverFile,
			MongoURI:        "mongodb://localhost:27017",
			SkipOnDuplicate: true,
			VerifyOnDisk:    true,
		},
		Output: OutputConfig{
			BaseDirectory: ".",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("SNSGRAB_HEADLESS"); v != "" {
		c.Browser.Headless = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("SNSGRAB_CHROME_PATH"); v != "" {
		c.Browser.ExecPath = v
	}
	if v := os.Getenv("SNSGRAB_USER_AGENT"); v != "" {
		c.Browser.UserAgent = v
	}
	if v := os.Getenv("SNSGRAB_PAUSE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SNSGRAB_PAUSE: %w", err))
		} else {
			c.Browser.Pause = d
		}
	}

	if v := os.Getenv("SNSGRAB_CONCURRENT_DOWNLOADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Download.ConcurrentDownloads = n
		}
	}
	if v := os.Getenv("SNSGRAB_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Download.MaxRetries = n
		}
	}
	if v := os.Getenv("SNSGRAB_VIDEO_TOOL"); v != "" {
		c.Download.VideoTool = v
	}
	if v := os.Getenv("SNSGRAB_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("SNSGRAB_FETCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Resume.FetchLimit = n
		}
	}

	if v := os.Getenv("SNSGRAB_STORE"); v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("SNSGRAB_MONGO_URI"); v != "" {
		c.Store.MongoURI = v
	}
	if v := os.Getenv("SNSGRAB_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("SNSGRAB_VERIFY_ON_DISK"); v != "" {
		c.Store.VerifyOnDisk = strings.ToLower(v) == "true"
	}

	if v := os.Getenv("SNSGRAB_OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := os.Getenv("SNSGRAB_CHECKPOINT_URL"); v != "" {
		c.Checkpoint.BucketURL = v
	}
	if v := os.Getenv("SNSGRAB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SNSGRAB_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".snsgrab.yaml",
		".snsgrab.yml",
		filepath.Join(home, ".config", "snsgrab", "config.yaml"),
		filepath.Join(home, ".config", "snsgrab", "config.yml"),
		filepath.Join(home, ".snsgrab.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.Pause < 0 {
		errs = append(errs, errors.New("browser pause cannot be negative"))
	}
	if c.Browser.Timeout <= 0 {
		errs = append(errs, errors.New("browser timeout must be positive"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 16 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 16"))
	}
	if c.Download.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Download.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.VideoMaxRetries < 0 {
		errs = append(errs, errors.New("video max retries cannot be negative"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive when rate limiting is enabled"))
	}

	if c.Resume.FetchLimit < 0 {
		errs = append(errs, errors.New("fetch limit cannot be negative"))
	}

	switch strings.ToLower(c.Store.Driver) {
	case DriverNone, DriverFile:
	case DriverMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("mongo store requires a connection URI"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("postgres store requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in the map are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = v
	}
	if v, ok := flags["pause"].(time.Duration); ok && v >= 0 {
		c.Browser.Pause = v
	}
	if v, ok := flags["chrome-path"].(string); ok && v != "" {
		c.Browser.ExecPath = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["concurrent"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["max-retries"].(int); ok && v >= 0 {
		c.Download.MaxRetries = v
	}
	if v, ok := flags["fetch-limit"].(int); ok && v >= 0 {
		c.Resume.FetchLimit = v
	}
	if v, ok := flags["store"].(string); ok && v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v, ok := flags["mongo-uri"].(string); ok && v != "" {
		c.Store.MongoURI = v
	}
	if v, ok := flags["dsn"].(string); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := flags["skip-on-duplicate"].(bool); ok {
		c.Store.SkipOnDuplicate = v
	}
	if v, ok := flags["verify-on-disk"].(bool); ok {
		c.Store.VerifyOnDisk = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".snsgrab.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
