package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/homesafe/config.yaml"
	PathEnvVar                 = "HOMESAFE_CONFIG"
	DefaultGRPCAddr            = "0.0.0.0:9000"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultKiddeBaseURL        = "https://api.homesafe.kidde.com/api/v4"
	DefaultPollInterval        = 5 * time.Second
	DefaultRequestTimeout      = 15 * time.Second
	DefaultRequestsPerMinute   = 240
	DefaultSessionStatePath    = "/var/lib/homesafe/kidde-session.json"
	DefaultMQTTTopicPrefix     = "homesafe"
	DefaultMQTTDiscoveryPrefix = "homeassistant"
	DefaultBlobPrefix          = "homesafe/session"

	envPrefix = "HOMESAFE_"
)

// Config is the root configuration document.
type Config struct {
	SchemaVersion int          `koanf:"schema_version"`
	Core          CoreConfig   `koanf:"core"`
	Log           LogConfig    `koanf:"log"`
	Kidde         *KiddeConfig `koanf:"kidde"`
	MQTT          *MQTTConfig  `koanf:"mqtt"`
	SessionBlob   *BlobConfig  `koanf:"session_blob"`
}

type CoreConfig struct {
	GRPCAddr     string `koanf:"grpc_addr"`
	HTTPAddr     string `koanf:"http_addr"`
	DashboardDir string `koanf:"dashboard_dir"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// KiddeConfig configures the HomeSafe cloud poller.
type KiddeConfig struct {
	BaseURL           string            `koanf:"base_url"`
	Email             string            `koanf:"email"`
	Password          string            `koanf:"password"`
	PasswordFile      string            `koanf:"password_file"`
	Cookies           map[string]string `koanf:"cookies"`
	PollInterval      time.Duration     `koanf:"poll_interval"`
	RequestTimeout    time.Duration     `koanf:"request_timeout"`
	FetchEvents       *bool             `koanf:"fetch_events"`
	RequestsPerMinute *int              `koanf:"requests_per_minute"`
	StatePath         string            `koanf:"state_path"`
}

// MQTTConfig enables the state publisher when present.
type MQTTConfig struct {
	Broker          string `koanf:"broker"`
	Username        string `koanf:"username"`
	PasswordFile    string `koanf:"password_file"`
	ClientID        string `koanf:"client_id"`
	TopicPrefix     string `koanf:"topic_prefix"`
	DiscoveryPrefix string `koanf:"discovery_prefix"`
	QoS             byte   `koanf:"qos"`
}

// BlobConfig mirrors the persisted session to S3-compatible storage.
type BlobConfig struct {
	Endpoint      string `koanf:"endpoint"`
	Bucket        string `koanf:"bucket"`
	Prefix        string `koanf:"prefix"`
	Region        string `koanf:"region"`
	AccessKeyFile string `koanf:"access_key_file"`
	SecretKeyFile string `koanf:"secret_key_file"`
}

var envMappings = map[string]string{
	"grpc_addr":                 "core.grpc_addr",
	"http_addr":                 "core.http_addr",
	"dashboard_dir":             "core.dashboard_dir",
	"log_level":                 "log.level",
	"log_format":                "log.format",
	"kidde_base_url":            "kidde.base_url",
	"kidde_email":               "kidde.email",
	"kidde_password":            "kidde.password",
	"kidde_password_file":       "kidde.password_file",
	"kidde_poll_interval":       "kidde.poll_interval",
	"kidde_request_timeout":     "kidde.request_timeout",
	"kidde_fetch_events":        "kidde.fetch_events",
	"kidde_requests_per_minute": "kidde.requests_per_minute",
	"kidde_state_path":          "kidde.state_path",
	"mqtt_broker":               "mqtt.broker",
	"mqtt_username":             "mqtt.username",
	"mqtt_password_file":        "mqtt.password_file",
	"mqtt_topic_prefix":         "mqtt.topic_prefix",
}

// Load reads the YAML file at path, layers HOMESAFE_* environment overrides,
// applies defaults, and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath picks the config path from the flag value, the environment, or the default.
func ResolvePath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if value := os.Getenv(PathEnvVar); value != "" {
		return value
	}
	return DefaultPath
}

func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if key == "config" {
		return ""
	}
	return envMappings[key]
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}

	if k := cfg.Kidde; k != nil {
		if k.BaseURL == "" {
			k.BaseURL = DefaultKiddeBaseURL
		}
		if k.PollInterval == 0 {
			k.PollInterval = DefaultPollInterval
		}
		if k.RequestTimeout == 0 {
			k.RequestTimeout = DefaultRequestTimeout
		}
		if k.FetchEvents == nil {
			enabled := true
			k.FetchEvents = &enabled
		}
		if k.RequestsPerMinute == nil {
			limit := DefaultRequestsPerMinute
			k.RequestsPerMinute = &limit
		}
		if k.StatePath == "" {
			k.StatePath = DefaultSessionStatePath
		}
	}

	if m := cfg.MQTT; m != nil {
		if m.TopicPrefix == "" {
			m.TopicPrefix = DefaultMQTTTopicPrefix
		}
		if m.DiscoveryPrefix == "" {
			m.DiscoveryPrefix = DefaultMQTTDiscoveryPrefix
		}
	}

	if b := cfg.SessionBlob; b != nil && b.Prefix == "" {
		b.Prefix = DefaultBlobPrefix
	}
}

// Validate enforces invariants the loader cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if k := cfg.Kidde; k != nil {
		if k.PollInterval < time.Second {
			return fmt.Errorf("kidde.poll_interval must be at least 1s")
		}
		if k.RequestsPerMinute != nil && *k.RequestsPerMinute < 0 {
			return fmt.Errorf("kidde.requests_per_minute must not be negative")
		}
		if len(k.Cookies) == 0 && k.Email == "" {
			return fmt.Errorf("kidde requires cookies or email")
		}
		if k.Email != "" && k.Password == "" && k.PasswordFile == "" {
			return fmt.Errorf("kidde.password or kidde.password_file is required with kidde.email")
		}
	}

	if m := cfg.MQTT; m != nil {
		if m.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if m.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1, or 2")
		}
	}

	if b := cfg.SessionBlob; b != nil {
		if b.Endpoint == "" {
			return fmt.Errorf("session_blob.endpoint is required")
		}
		if b.Bucket == "" {
			return fmt.Errorf("session_blob.bucket is required")
		}
		if b.AccessKeyFile == "" || b.SecretKeyFile == "" {
			return fmt.Errorf("session_blob access_key_file and secret_key_file are required")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Kidde != nil {
		enabled["kidde"] = true
	}
	return enabled
}

// ResolvePassword returns the inline password or the trimmed contents of password_file.
func (k *KiddeConfig) ResolvePassword() (string, error) {
	if k.Password != "" {
		return k.Password, nil
	}
	if k.PasswordFile == "" {
		return "", errors.New("kidde password is not configured")
	}
	return ReadSecretFile(k.PasswordFile)
}

// ReadSecretFile reads a secret from disk, trimming surrounding whitespace.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
