package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the RFM gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Radio    RadioConfig    `yaml:"radio"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Board    BoardConfig    `yaml:"board"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig contains the gateway's own identity and loop settings.
type GatewayConfig struct {
	// NodeID is the gateway's radio node id (1-99). Southbound topics
	// addressed to this node are handled locally.
	NodeID int `yaml:"node_id"`

	// Version is the software version string returned for self-device 3.
	// Empty means the build version is used.
	Version string `yaml:"version"`

	// LoopInterval is the control loop tick period.
	LoopInterval time.Duration `yaml:"loop_interval"`

	// InboundQueue bounds the number of bus messages buffered between
	// MQTT callbacks and the control loop.
	InboundQueue int `yaml:"inbound_queue"`
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
	// Interval is the fixed wait between reconnect attempts.
	Interval time.Duration `yaml:"interval"`
}

// RadioConfig contains the radio daemon connection and link settings.
type RadioConfig struct {
	// Connection is the radio daemon URL ("tcp://host:port" or "unix:///path").
	Connection string `yaml:"connection"`

	// NetworkID is the radio network (group) id shared by all nodes.
	NetworkID int `yaml:"network_id"`

	// Frequency is the carrier band in MHz (433, 868 or 915).
	Frequency int `yaml:"frequency"`

	// EncryptKey is the pre-shared 16 byte AES key. Empty disables encryption.
	EncryptKey string `yaml:"encrypt_key"`

	// SendRetries is the transport-level retry count for each send attempt.
	SendRetries int `yaml:"send_retries"`

	// ReconnectInterval is the initial backoff when the daemon connection drops.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	// Daemon lets the gateway start and supervise the radio daemon itself.
	Daemon RadioDaemonConfig `yaml:"daemon"`
}

// RadioDaemonConfig describes a radio daemon owned by the gateway.
type RadioDaemonConfig struct {
	Managed      bool          `yaml:"managed"`
	Binary       string        `yaml:"binary"`
	Args         []string      `yaml:"args"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	MaxRestarts  int           `yaml:"max_restarts"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// MonitorConfig contains power monitor settings.
type MonitorConfig struct {
	// PowerThreshold is the analog reading below which mains power is out.
	PowerThreshold int `yaml:"power_threshold"`

	// PowerInterval is the sampling period of the power monitor.
	PowerInterval time.Duration `yaml:"power_interval"`
}

// BoardConfig locates the board's hardware through sysfs-style files.
// Every path is optional; an empty path disables that feature.
type BoardConfig struct {
	// PowerSensor is the IIO file holding the raw mains-sense ADC reading,
	// e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
	PowerSensor string `yaml:"power_sensor"`

	// ActivityLED and StatusLED are LED brightness files,
	// e.g. /sys/class/leds/rfm:activity/brightness.
	ActivityLED string `yaml:"activity_led"`
	StatusLED   string `yaml:"status_led"`

	// Watchdog is the hardware watchdog device used for a forced restart.
	Watchdog string `yaml:"watchdog"`
}

// InfluxDBConfig contains InfluxDB connection settings for uplink telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains the node registry database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
	QueueSize   int    `yaml:"queue_size"`
}

// HTTPConfig contains status server settings.
type HTTPConfig struct {
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

// Radio key length for AES-128.
const encryptKeyLength = 16

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RFMGW_SECTION_KEY
// For example: RFMGW_MQTT_HOST, RFMGW_RADIO_KEY
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			NodeID:       1,
			LoopInterval: 10 * time.Millisecond,
			InboundQueue: 32,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				Interval: 2 * time.Second,
			},
		},
		Radio: RadioConfig{
			Connection:        "tcp://localhost:6790",
			NetworkID:         100,
			Frequency:         868,
			SendRetries:       2,
			ReconnectInterval: 5 * time.Second,
			Daemon: RadioDaemonConfig{
				RestartDelay: 2 * time.Second,
				ReadyTimeout: 10 * time.Second,
			},
		},
		Monitor: MonitorConfig{
			PowerThreshold: 620,
			PowerInterval:  100 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Path:        "/var/lib/rfmgw/nodes.db",
			WALMode:     true,
			BusyTimeout: 5,
			QueueSize:   256,
		},
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 9105,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RFMGW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("RFMGW_NODE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.NodeID = id
		}
	}

	// MQTT
	if v := os.Getenv("RFMGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RFMGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RFMGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Radio
	if v := os.Getenv("RFMGW_RADIO_CONNECTION"); v != "" {
		cfg.Radio.Connection = v
	}
	if v := os.Getenv("RFMGW_RADIO_KEY"); v != "" {
		cfg.Radio.EncryptKey = v
	}

	// InfluxDB
	if v := os.Getenv("RFMGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("RFMGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway identity must fit the two-digit topic fields.
	if c.Gateway.NodeID < 1 || c.Gateway.NodeID > 99 {
		errs = append(errs, "gateway.node_id must be between 1 and 99")
	}
	if c.Gateway.LoopInterval <= 0 {
		errs = append(errs, "gateway.loop_interval must be positive")
	}
	if c.Gateway.InboundQueue < 1 {
		errs = append(errs, "gateway.inbound_queue must be at least 1")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.Interval <= 0 {
		errs = append(errs, "mqtt.reconnect.interval must be positive")
	}

	// Radio validation
	if c.Radio.Connection == "" {
		errs = append(errs, "radio.connection is required")
	}
	if c.Radio.NetworkID < 0 || c.Radio.NetworkID > 255 {
		errs = append(errs, "radio.network_id must be between 0 and 255")
	}
	switch c.Radio.Frequency {
	case 433, 868, 915:
	default:
		errs = append(errs, "radio.frequency must be 433, 868 or 915")
	}
	if c.Radio.EncryptKey != "" && len(c.Radio.EncryptKey) != encryptKeyLength {
		errs = append(errs, "radio.encrypt_key must be exactly 16 bytes (set RFMGW_RADIO_KEY environment variable)")
	}
	if c.Radio.SendRetries < 0 {
		errs = append(errs, "radio.send_retries must not be negative")
	}
	if c.Radio.Daemon.Managed && c.Radio.Daemon.Binary == "" {
		errs = append(errs, "radio.daemon.binary is required when radio.daemon.managed is true")
	}

	// Monitor validation
	if c.Monitor.PowerInterval <= 0 {
		errs = append(errs, "monitor.power_interval must be positive")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Database validation (only when enabled)
	if c.Database.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when database is enabled")
		}
		if c.Database.BusyTimeout < 0 {
			errs = append(errs, "database.busy_timeout must not be negative")
		}
	}

	// HTTP validation
	if c.HTTP.Enabled && (c.HTTP.Port < 1 || c.HTTP.Port > 65535) {
		errs = append(errs, "http.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HTTPAddr returns the status server listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
