package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradedeck/models"
)

type Config struct {
	Tradedeck TradedeckConfig          `yaml:"tradedeck"`
	Venues    map[string]VenueSettings `yaml:"venues"`
	Stream    StreamConfig             `yaml:"stream"`
	REST      RESTConfig               `yaml:"rest"`
	Recorder  RecorderConfig           `yaml:"recorder"`
	Storage   StorageConfig            `yaml:"storage"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Logging   LoggingConfig            `yaml:"logging"`
}

type TradedeckConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// VenueSettings is one venue block from the config file: the credentials and
// connection parameters handed to the adapter plus per-venue wiring that only
// the daemon cares about.
type VenueSettings struct {
	models.VenueConfig `yaml:",inline"`

	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`
}

type StreamConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
}

type RESTConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	DashboardName  string        `yaml:"dashboard_name"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// envPaths maps application environments to their dedicated config files.
var envPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

const defaultConfigPath = "config/config.yml"

// ResolveConfigPath picks the environment specific config file when the
// caller did not override the path explicitly.
func ResolveConfigPath(path string) string {
	return resolveEnvSpecificPath(path, defaultConfigPath, envPaths)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Stream: StreamConfig{PingInterval: 20 * time.Second},
		REST: RESTConfig{
			Timeout:           10 * time.Second,
			RequestsPerSecond: 8,
			BurstSize:         16,
		},
		Metrics: MetricsConfig{ReportInterval: time.Minute},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets credentials come from the environment instead of the
// config file. Venue variables follow the <VENUE>_API_KEY convention.
func applyEnvOverrides(cfg *Config) {
	for name, vs := range cfg.Venues {
		prefix := strings.ToUpper(name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			vs.APIKey = strings.TrimSpace(v)
		}
		if v := os.Getenv(prefix + "_API_SECRET"); v != "" {
			vs.APISecret = strings.TrimSpace(v)
		}
		if v := os.Getenv(prefix + "_PASSPHRASE"); v != "" {
			vs.Passphrase = strings.TrimSpace(v)
		}
		if v := os.Getenv(prefix + "_USERNAME"); v != "" {
			vs.Username = strings.TrimSpace(v)
		}
		if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
			vs.Password = strings.TrimSpace(v)
		}
		vs.Venue = name
		cfg.Venues[name] = vs
	}

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.S3.Region = strings.TrimSpace(v)
		if cfg.Metrics.Region == "" {
			cfg.Metrics.Region = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = strings.TrimSpace(v)
	}

	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)
}

// EnabledVenues returns the names of all enabled venue blocks in stable
// order-independent form; callers sort when ordering matters.
func (c *Config) EnabledVenues() []string {
	names := make([]string, 0, len(c.Venues))
	for name, vs := range c.Venues {
		if vs.Enabled {
			names = append(names, name)
		}
	}
	return names
}

func validateConfig(cfg *Config) error {
	if cfg.Tradedeck.Name == "" {
		return fmt.Errorf("tradedeck.name is required")
	}
	if cfg.Tradedeck.Version == "" {
		return fmt.Errorf("tradedeck.version is required")
	}

	if len(cfg.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}

	enabled := 0
	for name, vs := range cfg.Venues {
		if !vs.Enabled {
			continue
		}
		enabled++
		if len(vs.Symbols) == 0 {
			return fmt.Errorf("venues.%s.symbols must not be empty", name)
		}
		if err := validateCredentials(name, vs); err != nil {
			return err
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one venue must be enabled")
	}

	if cfg.REST.Timeout <= 0 {
		return fmt.Errorf("rest.timeout must be greater than 0")
	}
	if cfg.REST.RequestsPerSecond <= 0 {
		return fmt.Errorf("rest.requests_per_second must be greater than 0")
	}
	if cfg.Stream.PingInterval <= 0 {
		return fmt.Errorf("stream.ping_interval must be greater than 0")
	}

	if cfg.Recorder.Enabled {
		if cfg.Recorder.BatchSize <= 0 {
			return fmt.Errorf("recorder.batch_size must be greater than 0")
		}
		if cfg.Recorder.FlushInterval <= 0 {
			return fmt.Errorf("recorder.flush_interval must be greater than 0")
		}
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when the recorder is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when the recorder is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

// validateCredentials enforces per-venue credential shapes: session venues
// authenticate with username/password, coinbase needs the key passphrase, and
// everything else needs a key/secret pair.
func validateCredentials(name string, vs VenueSettings) error {
	switch name {
	case "tradovate":
		if vs.Username == "" || vs.Password == "" {
			return fmt.Errorf("venues.%s requires username and password", name)
		}
	case "coinbase":
		if vs.APIKey == "" || vs.APISecret == "" || vs.Passphrase == "" {
			return fmt.Errorf("venues.%s requires api_key, api_secret and passphrase", name)
		}
	default:
		if vs.APIKey == "" || vs.APISecret == "" {
			return fmt.Errorf("venues.%s requires api_key and api_secret", name)
		}
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
