package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"checkpoint-capture/internal/models"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Variant string        `yaml:"variant"` // vehicle or email
	Records RecordsConfig `yaml:"records"`
	Storage StorageConfig `yaml:"storage"`
	Camera  CameraConfig  `yaml:"camera"`
	Relay   RelayConfig   `yaml:"relay"`
	APNS    APNSConfig    `yaml:"apns"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port      int    `yaml:"port"`
	Host      string `yaml:"host"`
	PublicURL string `yaml:"public_url"`
}

// RecordsConfig selects the record store
type RecordsConfig struct {
	Driver   string         `yaml:"driver"` // memory or postgres
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// StorageConfig selects the blob store
type StorageConfig struct {
	Driver string      `yaml:"driver"` // memory, local or s3
	Local  LocalConfig `yaml:"local"`
	AWS    AWSConfig   `yaml:"aws"`
}

// LocalConfig holds filesystem blob store configuration
type LocalConfig struct {
	Dir    string `yaml:"dir"`
	Secret string `yaml:"secret"`
}

// AWSConfig holds AWS configuration
type AWSConfig struct {
	Region        string        `yaml:"region"`
	S3Bucket      string        `yaml:"s3_bucket"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Endpoint      string        `yaml:"endpoint"`
	PublicBaseURL string        `yaml:"public_base_url"`
	URLExpiry     time.Duration `yaml:"url_expiry"`
}

// CameraConfig holds the capture camera configuration
type CameraConfig struct {
	SnapshotURL string        `yaml:"snapshot_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RelayConfig holds the AMQP signal relay configuration
type RelayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// APNSConfig holds push notification configuration for admin devices
type APNSConfig struct {
	Enabled      bool     `yaml:"enabled"`
	KeyPath      string   `yaml:"key_path"`
	KeyID        string   `yaml:"key_id"`
	TeamID       string   `yaml:"team_id"`
	BundleID     string   `yaml:"bundle_id"`
	Production   bool     `yaml:"production"`
	DeviceTokens []string `yaml:"device_tokens"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file, then applies defaults and environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a validated configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration that runs fully in memory
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Variant: models.VehicleScheme.Name,
		Records: RecordsConfig{
			Driver:   "memory",
			Database: DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable"},
		},
		Storage: StorageConfig{
			Driver: "memory",
			Local:  LocalConfig{Dir: "data/blobs"},
		},
		Camera: CameraConfig{Timeout: 10 * time.Second},
		Relay:  RelayConfig{Exchange: "signals", RoutingKey: "led"},
		Log:    LogConfig{Level: "info"},
	}
}

// Validate checks the configuration for unusable combinations
func (c *Config) Validate() error {
	if _, ok := models.SchemeByName(c.Variant); !ok {
		return fmt.Errorf("unknown variant %q", c.Variant)
	}
	switch c.Records.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown records driver %q", c.Records.Driver)
	}
	switch c.Storage.Driver {
	case "memory":
	case "local":
		if c.Storage.Local.Secret == "" {
			return fmt.Errorf("storage.local.secret is required for local storage")
		}
	case "s3":
		if c.Storage.AWS.S3Bucket == "" {
			return fmt.Errorf("storage.aws.s3_bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Relay.Enabled && c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required when the relay is enabled")
	}
	if c.APNS.Enabled && (c.APNS.KeyPath == "" || c.APNS.KeyID == "" || c.APNS.TeamID == "" || c.APNS.BundleID == "") {
		return fmt.Errorf("apns key_path, key_id, team_id and bundle_id are required when apns is enabled")
	}
	return nil
}

// Scheme returns the identifier scheme of the configured variant
func (c *Config) Scheme() models.IdentifierScheme {
	scheme, _ := models.SchemeByName(c.Variant)
	return scheme
}

// BaseURL returns the externally reachable URL of the server
func (c *Config) BaseURL() string {
	if c.Server.PublicURL != "" {
		return c.Server.PublicURL
	}
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// applyEnv overrides deploy-time settings and secrets from the environment
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("CHECKPOINT_VARIANT", &c.Variant)
	setString("CHECKPOINT_LOG_LEVEL", &c.Log.Level)
	setString("CHECKPOINT_PUBLIC_URL", &c.Server.PublicURL)
	setString("CHECKPOINT_DB_PASSWORD", &c.Records.Database.Password)
	setString("CHECKPOINT_STORAGE_SECRET", &c.Storage.Local.Secret)
	setString("CHECKPOINT_AWS_ACCESS_KEY", &c.Storage.AWS.AccessKey)
	setString("CHECKPOINT_AWS_SECRET_KEY", &c.Storage.AWS.SecretKey)
	setString("CHECKPOINT_RELAY_URL", &c.Relay.URL)
	setString("CHECKPOINT_CAMERA_URL", &c.Camera.SnapshotURL)

	if v := os.Getenv("CHECKPOINT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}
