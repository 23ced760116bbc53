package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Relay hardware limits. 2N intercoms expose at most four switch outputs.
const (
	MinRelayIndex = 1
	MaxRelayIndex = 4
)

// Relay kinds describing how a relay output is modelled.
const (
	RelayKindDoor = "door" // momentary switch, self-resetting pulse
	RelayKindGate = "gate" // timed cover with open/close transitions
)

// Supported device schemes.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// Config is the root configuration structure for intercomd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Devices   []DeviceConfig  `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DeviceConfig describes one intercom device.
//
// A DeviceConfig is immutable after load: changing any field requires a
// restart, which replaces the whole engine instance for that device.
type DeviceConfig struct {
	// ID is the unique identifier used in API paths and MQTT topics.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Connection details for the vendor HTTP API.
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Scheme    string `yaml:"scheme"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	VerifyTLS bool   `yaml:"verify_tls"`

	// PollInterval is the call-status polling period in seconds.
	PollInterval int `yaml:"poll_interval"`

	// RingTimeout is how long (seconds) a ring episode stays open without a
	// fresh ringing snapshot before it is closed implicitly.
	RingTimeout int `yaml:"ring_timeout"`

	// Relays lists the relay outputs wired on this device.
	Relays []RelayConfig `yaml:"relays"`
}

// RelayConfig describes one relay output on a device.
type RelayConfig struct {
	// Index is the hardware switch number (1..4, unique per device).
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`

	// Kind is "door" (momentary switch) or "gate" (timed cover).
	Kind string `yaml:"kind"`

	// Duration is the pulse length (door) or open/close travel time (gate)
	// in milliseconds. Must be positive.
	Duration int `yaml:"duration"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker is the boundary to host automation bridges; it is optional.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Operator OperatorConfig `yaml:"operator"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// OperatorConfig contains the provisioned API operator credentials.
// Real user management is a host concern; the engine only needs one
// operator identity for its own API surface.
type OperatorConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Polling and actuation defaults, matching 2N firmware behaviour.
const (
	DefaultPollInterval  = 5     // seconds
	DefaultRingTimeout   = 30    // seconds
	DefaultPulseDuration = 2000  // milliseconds (door)
	DefaultGateDuration  = 15000 // milliseconds (gate)
	DefaultDevicePort    = 443
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INTERCOMD_SECTION_KEY
// For example: INTERCOMD_DATABASE_PATH, INTERCOMD_API_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Fill per-device defaults before validation
	for i := range cfg.Devices {
		applyDeviceDefaults(&cfg.Devices[i])
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/intercomd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "intercomd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
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
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
			Operator: OperatorConfig{
				Username: "operator",
			},
		},
	}
}

// applyDeviceDefaults fills unset device and relay fields with defaults.
func applyDeviceDefaults(d *DeviceConfig) {
	if d.Scheme == "" {
		d.Scheme = SchemeHTTPS
	}
	if d.Port == 0 {
		d.Port = DefaultDevicePort
	}
	if d.PollInterval == 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.RingTimeout == 0 {
		d.RingTimeout = DefaultRingTimeout
	}
	for i := range d.Relays {
		r := &d.Relays[i]
		if r.Kind == "" {
			r.Kind = RelayKindDoor
		}
		if r.Duration == 0 {
			switch r.Kind {
			case RelayKindGate:
				r.Duration = DefaultGateDuration
			default:
				r.Duration = DefaultPulseDuration
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INTERCOMD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("INTERCOMD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("INTERCOMD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INTERCOMD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INTERCOMD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("INTERCOMD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("INTERCOMD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret and operator password (always override in production)
	if v := os.Getenv("INTERCOMD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("INTERCOMD_OPERATOR_PASSWORD"); v != "" {
		cfg.Security.Operator.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if len(c.Devices) == 0 {
		errs = append(errs, "at least one device must be configured")
	}
	seenIDs := make(map[string]bool)
	for i := range c.Devices {
		d := &c.Devices[i]
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if seenIDs[d.ID] {
			errs = append(errs, prefix+".id duplicates "+d.ID)
		}
		seenIDs[d.ID] = true

		if d.Host == "" {
			errs = append(errs, prefix+".host is required")
		}
		if d.Scheme != SchemeHTTP && d.Scheme != SchemeHTTPS {
			errs = append(errs, prefix+".scheme must be http or https")
		}
		if d.Port < 1 || d.Port > 65535 {
			errs = append(errs, prefix+".port must be between 1 and 65535")
		}
		if d.PollInterval < 1 {
			errs = append(errs, prefix+".poll_interval must be at least 1 second")
		}
		if d.RingTimeout < 1 {
			errs = append(errs, prefix+".ring_timeout must be at least 1 second")
		}
		errs = append(errs, validateRelays(prefix, d.Relays)...)
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED.
	// The API opens physical doors and gates; a forged token is a forged key.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set INTERCOMD_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.Operator.Password == "" {
		errs = append(errs, "security.operator.password is required (set INTERCOMD_OPERATOR_PASSWORD environment variable)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateRelays checks relay index range, uniqueness, kind, and duration.
func validateRelays(prefix string, relays []RelayConfig) []string {
	var errs []string
	seen := make(map[int]bool)
	for j, r := range relays {
		rp := fmt.Sprintf("%s.relays[%d]", prefix, j)
		if r.Index < MinRelayIndex || r.Index > MaxRelayIndex {
			errs = append(errs, fmt.Sprintf("%s.index must be between %d and %d", rp, MinRelayIndex, MaxRelayIndex))
		} else if seen[r.Index] {
			errs = append(errs, fmt.Sprintf("%s.index %d is already in use", rp, r.Index))
		}
		seen[r.Index] = true

		if r.Kind != RelayKindDoor && r.Kind != RelayKindGate {
			errs = append(errs, rp+".kind must be door or gate")
		}
		if r.Duration <= 0 {
			errs = append(errs, rp+".duration must be a positive number of milliseconds")
		}
	}
	return errs
}

// Device returns the device config with the given ID, or nil if not configured.
func (c *Config) Device(id string) *DeviceConfig {
	for i := range c.Devices {
		if c.Devices[i].ID == id {
			return &c.Devices[i]
		}
	}
	return nil
}

// BaseURL returns the device's HTTP base URL (scheme://host:port).
func (d *DeviceConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", d.Scheme, d.Host, d.Port)
}

// GetPollInterval returns the polling period as a Duration.
func (d *DeviceConfig) GetPollInterval() time.Duration {
	return time.Duration(d.PollInterval) * time.Second
}

// GetRingTimeout returns the ring timeout as a Duration.
func (d *DeviceConfig) GetRingTimeout() time.Duration {
	return time.Duration(d.RingTimeout) * time.Second
}

// Relay returns the relay config with the given index, or nil if not configured.
func (d *DeviceConfig) Relay(index int) *RelayConfig {
	for i := range d.Relays {
		if d.Relays[i].Index == index {
			return &d.Relays[i]
		}
	}
	return nil
}

// GetDuration returns the relay pulse/travel duration as a Duration.
func (r *RelayConfig) GetDuration() time.Duration {
	return time.Duration(r.Duration) * time.Millisecond
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
