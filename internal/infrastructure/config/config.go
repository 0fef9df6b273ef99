package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for graycast.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cast      CastConfig      `yaml:"cast"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
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

// CastConfig contains the Chromecast discovery, connection and receiver
// application settings.
type CastConfig struct {
	Discovery DiscoveryConfig `yaml:"discovery"`

	// PairingWarmup delays the first device listing after start so that
	// discovery has a chance to populate the registry.
	PairingWarmup time.Duration `yaml:"pairing_warmup"`

	// StatusPollInterval is how often an open connection polls receiver
	// status to keep volume and mute values fresh.
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`

	// SpeakerPollInterval is how often an active speaker session polls
	// media status.
	SpeakerPollInterval time.Duration `yaml:"speaker_poll_interval"`

	DialTimeout    time.Duration `yaml:"dial_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`

	Apps    AppsConfig    `yaml:"apps"`
	Classes []ClassConfig `yaml:"classes"`

	// YouTubeAPIKey enables the YouTube search endpoint when set.
	YouTubeAPIKey string `yaml:"youtube_api_key"`
}

// DiscoveryConfig contains mDNS browse settings.
type DiscoveryConfig struct {
	Service       string        `yaml:"service"`
	Domain        string        `yaml:"domain"`
	Interval      time.Duration `yaml:"interval"`
	MaxInterval   time.Duration `yaml:"max_interval"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	DisableIPv6   bool          `yaml:"disable_ipv6"`
}

// AppsConfig contains the receiver application IDs launched on devices.
type AppsConfig struct {
	DefaultMediaReceiver string `yaml:"default_media_receiver"`
	YouTube              string `yaml:"youtube"`
	Browser              string `yaml:"browser"`
	Media                string `yaml:"media"`
}

// ClassConfig maps advertised model names onto a device class.
// Exactly one of Allow or Deny is used; Deny also requires Service to match.
type ClassConfig struct {
	Name    string   `yaml:"name"`
	Allow   []string `yaml:"allow,omitempty"`
	Deny    []string `yaml:"deny,omitempty"`
	Service string   `yaml:"service,omitempty"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYCAST_SECTION_KEY
// For example: GRAYCAST_DATABASE_PATH, GRAYCAST_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// Default returns the built-in configuration. It does not pass Validate
// until a JWT secret is supplied.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graycast.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graycast",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8091,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cast: CastConfig{
			Discovery: DiscoveryConfig{
				Service:       "_googlecast._tcp",
				Domain:        "local",
				Interval:      10 * time.Second,
				MaxInterval:   5 * time.Minute,
				QueryTimeout:  3 * time.Second,
				BackoffFactor: 1.5,
			},
			PairingWarmup:       20 * time.Second,
			StatusPollInterval:  5 * time.Second,
			SpeakerPollInterval: 5 * time.Second,
			DialTimeout:         10 * time.Second,
			CommandTimeout:      15 * time.Second,
			ResolveTimeout:      10 * time.Second,
			ProbeTimeout:        2 * time.Second,
			Apps: AppsConfig{
				DefaultMediaReceiver: "CC1AD845",
				YouTube:              "0A938E83",
				Browser:              "57F7BD22",
				Media:                "00F5709C",
			},
			Classes: DefaultClasses(),
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "graycast",
			},
		},
	}
}

// DefaultClasses returns the model-name filters for the four device classes.
func DefaultClasses() []ClassConfig {
	return []ClassConfig{
		{Name: "chromecast", Allow: []string{"Chromecast"}},
		{Name: "chromecast_audio", Allow: []string{"Chromecast Audio"}},
		{Name: "chromecast_group", Allow: []string{"Google Cast Group"}},
		{
			Name:    "cast_enabled",
			Deny:    []string{"Google Cast Group", "Chromecast Audio", "Chromecast", "Chromecast Ultra"},
			Service: "_googlecast._tcp",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYCAST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYCAST_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYCAST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYCAST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYCAST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYCAST_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYCAST_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYCAST_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYCAST_YOUTUBE_API_KEY"); v != "" {
		cfg.Cast.YouTubeAPIKey = v
	}

	// Always override in production.
	if v := os.Getenv("GRAYCAST_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.Cast.validate()...)

	// Forged tokens would let anyone drive every receiver in the building.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYCAST_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *CastConfig) validate() []string {
	var errs []string

	d := c.Discovery
	if d.Service == "" {
		errs = append(errs, "cast.discovery.service is required")
	}
	if d.Interval <= 0 {
		errs = append(errs, "cast.discovery.interval must be positive")
	}
	if d.MaxInterval < d.Interval {
		errs = append(errs, "cast.discovery.max_interval must not be less than interval")
	}
	if d.BackoffFactor < 1 {
		errs = append(errs, "cast.discovery.backoff_factor must be at least 1")
	}

	if c.StatusPollInterval <= 0 {
		errs = append(errs, "cast.status_poll_interval must be positive")
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, "cast.probe_timeout must be positive")
	}

	apps := map[string]string{
		"default_media_receiver": c.Apps.DefaultMediaReceiver,
		"youtube":                c.Apps.YouTube,
		"browser":                c.Apps.Browser,
		"media":                  c.Apps.Media,
	}
	for name, id := range apps {
		if id == "" {
			errs = append(errs, fmt.Sprintf("cast.apps.%s is required", name))
		}
	}

	if len(c.Classes) == 0 {
		errs = append(errs, "cast.classes must define at least one class")
	}
	for i, cl := range c.Classes {
		if cl.Name == "" {
			errs = append(errs, fmt.Sprintf("cast.classes[%d].name is required", i))
		}
		if len(cl.Allow) > 0 && len(cl.Deny) > 0 {
			errs = append(errs, fmt.Sprintf("cast.classes[%d] cannot set both allow and deny", i))
		}
	}

	return errs
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
