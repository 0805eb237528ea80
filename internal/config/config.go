// Package config loads the application configuration from a YAML file and
// the environment, with sane defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where LoadOrDefault looks when no path is given.
const DefaultConfigPath = "patientapp.yaml"

// MQTT configures the push-delivery broker connection.
type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the full application configuration.
type Config struct {
	// APIBaseURL is the patient API host.
	APIBaseURL string `yaml:"api_base_url"`

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the number of retries after the first attempt on
	// transport failures.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay is multiplied by the attempt number to produce the
	// linear backoff schedule.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// MaxNotificationHistory bounds the locally retained notifications.
	MaxNotificationHistory int `yaml:"max_notification_history"`

	// CredentialBackend selects where credentials persist:
	// "memory", "file", or "keyring".
	CredentialBackend string `yaml:"credential_backend"`

	// CredentialFile is the storage path for the file backend.
	CredentialFile string `yaml:"credential_file"`

	// DeviceID identifies this installation to the push transport.
	DeviceID string `yaml:"device_id"`

	LogLevel string `yaml:"log_level"`

	MQTT MQTT `yaml:"mqtt"`
}

// Default returns the local-development configuration.
func Default() *Config {
	return &Config{
		APIBaseURL:             "https://dev.api.doctorondial.com",
		RequestTimeout:         30 * time.Second,
		MaxRetries:             3,
		RetryBaseDelay:         time.Second,
		MaxNotificationHistory: 50,
		CredentialBackend:      "file",
		CredentialFile:         ".patientapp-credentials.json",
		DeviceID:               defaultDeviceID(),
		LogLevel:               "info",
		MQTT: MQTT{
			Broker: "tcp://localhost:1883",
		},
	}
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "patient-device"
	}
	return host
}

// Load reads the configuration from a YAML file and applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration from path, falling back to defaults
// (plus environment overrides) when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// applyEnv overrides fields from PATIENTAPP_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PATIENTAPP_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("PATIENTAPP_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := os.Getenv("PATIENTAPP_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("PATIENTAPP_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RetryBaseDelay = d
		}
	}
	if v := os.Getenv("PATIENTAPP_MAX_NOTIFICATION_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxNotificationHistory = n
		}
	}
	if v := os.Getenv("PATIENTAPP_CREDENTIAL_BACKEND"); v != "" {
		c.CredentialBackend = v
	}
	if v := os.Getenv("PATIENTAPP_CREDENTIAL_FILE"); v != "" {
		c.CredentialFile = v
	}
	if v := os.Getenv("PATIENTAPP_DEVICE_ID"); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv("PATIENTAPP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PATIENTAPP_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("PATIENTAPP_MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("PATIENTAPP_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("PATIENTAPP_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("config: api_base_url is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be non-negative")
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("config: retry_base_delay must be non-negative")
	}
	if c.MaxNotificationHistory <= 0 {
		return fmt.Errorf("config: max_notification_history must be positive")
	}
	switch c.CredentialBackend {
	case "memory", "keyring":
	case "file":
		if c.CredentialFile == "" {
			return fmt.Errorf("config: credential_file is required for the file backend")
		}
	default:
		return fmt.Errorf("config: unknown credential_backend %q", c.CredentialBackend)
	}
	return nil
}
