package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure shared by the fleet hub and the
// device agent. Each binary reads the sections it needs; both load the same
// YAML format so a single file can describe a whole deployment.
type Config struct {
	Fleet    FleetConfig    `yaml:"fleet"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	Agent    AgentConfig    `yaml:"agent"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// FleetConfig contains hub-side fleet tracking settings.
type FleetConfig struct {
	// TopicPrefix is the root of all fleet topics.
	// Default: "infinity-portal/devices"
	TopicPrefix string `yaml:"topic_prefix"`

	// OfflineTimeout is how long a device may stay silent before the
	// liveness sweep marks it offline (seconds). Default: 300.
	OfflineTimeout int `yaml:"offline_timeout"`

	// LivenessInterval is the cadence of the liveness sweep (seconds).
	// Independent from OfflineTimeout. Default: 300.
	LivenessInterval int `yaml:"liveness_interval"`
}

// DatabaseConfig contains SQLite settings for the best-effort registry
// persistence side channel.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the hub's HTTP façade settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APIAuthConfig contains façade authentication settings. The façade issues
// short-lived JWTs in exchange for the configured admin credentials.
type APIAuthConfig struct {
	// JWTSecret signs issued tokens. Required for the hub; at least 32 characters.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is the issued token lifetime in minutes. Default: 60.
	TokenTTL int `yaml:"token_ttl"`

	// AdminUser and AdminPassword are the credentials accepted by /auth/login.
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
}

// AgentConfig contains device-agent settings.
type AgentConfig struct {
	// DeviceID identifies this device on the fleet bus. When empty, the
	// agent derives one from its first hardware MAC address.
	DeviceID string `yaml:"device_id"`

	// Theme is the persisted display theme. The agent writes this field
	// back to the config file when a theme push is applied.
	Theme string `yaml:"theme"`

	// SyncInterval is the periodic status publish cadence (seconds).
	// Default: 60.
	SyncInterval int `yaml:"sync_interval"`

	// HeartbeatInterval is the local heartbeat log cadence (seconds).
	// Default: 10.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// AppName is reported in registration metadata.
	AppName string `yaml:"app_name"`

	// FirmwareVersion is reported in registration metadata and telemetry.
	FirmwareVersion string `yaml:"firmware_version"`

	// Console configures the local debug RPC listener.
	Console ConsoleConfig `yaml:"console"`
}

// ConsoleConfig contains the agent's loopback debug console settings.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// Loading order:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern FLEET_SECTION_KEY, for example
// FLEET_MQTT_HOST or FLEET_API_JWT_SECRET.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration back to a YAML file. The agent uses this to
// persist theme changes so they survive a restart, the way device firmware
// writes applied settings to its local flash config.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			TopicPrefix:      "infinity-portal/devices",
			OfflineTimeout:   300,
			LivenessInterval: 300,
		},
		Database: DatabaseConfig{
			Path:        "./data/fleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fleet-hub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 60,
			},
		},
		Agent: AgentConfig{
			Theme:             "mario",
			SyncInterval:      60,
			HeartbeatInterval: 10,
			AppName:           "infinity-gateway",
			FirmwareVersion:   "1.0.0",
			Console: ConsoleConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8089,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Variables follow the pattern FLEET_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	// Fleet
	if v := os.Getenv("FLEET_TOPIC_PREFIX"); v != "" {
		cfg.Fleet.TopicPrefix = v
	}

	// Database
	if v := os.Getenv("FLEET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FLEET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FLEET_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("FLEET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLEET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FLEET_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FLEET_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}
	if v := os.Getenv("FLEET_API_ADMIN_PASSWORD"); v != "" {
		cfg.API.Auth.AdminPassword = v
	}

	// Agent
	if v := os.Getenv("FLEET_AGENT_DEVICE_ID"); v != "" {
		cfg.Agent.DeviceID = v
	}
}

// Validate checks the configuration for errors common to both binaries.
// ValidateForHub extends this with hub-only requirements.
func (c *Config) Validate() error {
	var errs []string

	if c.Fleet.TopicPrefix == "" {
		errs = append(errs, "fleet.topic_prefix is required")
	}
	if c.Fleet.OfflineTimeout <= 0 {
		errs = append(errs, "fleet.offline_timeout must be positive")
	}
	if c.Fleet.LivenessInterval <= 0 {
		errs = append(errs, "fleet.liveness_interval must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Agent.SyncInterval <= 0 {
		errs = append(errs, "agent.sync_interval must be positive")
	}
	if c.Agent.Theme != "" && !isKnownTheme(c.Agent.Theme) {
		errs = append(errs, fmt.Sprintf("agent.theme %q is not a known theme", c.Agent.Theme))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateForHub performs hub-only validation on top of Validate.
// The JWT secret is only required when the HTTP façade is served.
func (c *Config) ValidateForHub() error {
	if err := c.Validate(); err != nil {
		return err
	}

	const minJWTSecretLength = 32
	if c.API.Auth.JWTSecret == "" {
		return fmt.Errorf("api.auth.jwt_secret is required (set FLEET_API_JWT_SECRET)")
	}
	if len(c.API.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("api.auth.jwt_secret must be at least %d characters", minJWTSecretLength)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// isKnownTheme mirrors the protocol theme enumeration without importing it,
// keeping config free of domain dependencies.
func isKnownTheme(s string) bool {
	switch s {
	case "mario", "rock", "electronics", "chemistry", "robotics",
		"math", "physics", "biology", "art", "music", "space":
		return true
	default:
		return false
	}
}

// GetOfflineTimeout returns the liveness offline threshold as a Duration.
func (c *Config) GetOfflineTimeout() time.Duration {
	return time.Duration(c.Fleet.OfflineTimeout) * time.Second
}

// GetLivenessInterval returns the liveness sweep cadence as a Duration.
func (c *Config) GetLivenessInterval() time.Duration {
	return time.Duration(c.Fleet.LivenessInterval) * time.Second
}

// GetSyncInterval returns the agent's status publish cadence as a Duration.
func (c *Config) GetSyncInterval() time.Duration {
	return time.Duration(c.Agent.SyncInterval) * time.Second
}

// GetHeartbeatInterval returns the agent's heartbeat log cadence as a Duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Agent.HeartbeatInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetTokenTTL returns the issued JWT lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.API.Auth.TokenTTL) * time.Minute
}
