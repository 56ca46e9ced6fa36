package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
gateway:
  node_id: 3
  loop_interval: 20ms
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  reconnect:
    interval: 2s
radio:
  connection: "tcp://127.0.0.1:6790"
  network_id: 100
  frequency: 868
  encrypt_key: "sampleEncryptKey"
  daemon:
    managed: true
    binary: "/usr/sbin/rfmd"
    args: ["--listen", "tcp://127.0.0.1:6790"]
monitor:
  power_threshold: 600
database:
  enabled: true
  path: "/tmp/rfmgw/nodes.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.NodeID != 3 {
		t.Errorf("Gateway.NodeID = %d, want 3", cfg.Gateway.NodeID)
	}
	if cfg.Gateway.LoopInterval != 20*time.Millisecond {
		t.Errorf("Gateway.LoopInterval = %v, want 20ms", cfg.Gateway.LoopInterval)
	}
	if cfg.MQTT.Broker.ClientID != "test-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "test-client")
	}
	if cfg.Radio.EncryptKey != "sampleEncryptKey" {
		t.Errorf("Radio.EncryptKey = %q, want %q", cfg.Radio.EncryptKey, "sampleEncryptKey")
	}
	if !cfg.Radio.Daemon.Managed || len(cfg.Radio.Daemon.Args) != 2 {
		t.Errorf("Radio.Daemon = %+v, want managed with 2 args", cfg.Radio.Daemon)
	}
	// Unset daemon fields keep their defaults
	if cfg.Radio.Daemon.RestartDelay != 2*time.Second {
		t.Errorf("Radio.Daemon.RestartDelay = %v, want 2s", cfg.Radio.Daemon.RestartDelay)
	}
	if !cfg.Database.Enabled || cfg.Database.Path != "/tmp/rfmgw/nodes.db" {
		t.Errorf("Database = %+v, want enabled at /tmp/rfmgw/nodes.db", cfg.Database)
	}
	if !cfg.Database.WALMode || cfg.Database.BusyTimeout != 5 {
		t.Errorf("Database defaults lost: %+v", cfg.Database)
	}
	if cfg.Monitor.PowerThreshold != 600 {
		t.Errorf("Monitor.PowerThreshold = %d, want 600", cfg.Monitor.PowerThreshold)
	}
	// Unset values keep their defaults
	if cfg.Monitor.PowerInterval != 100*time.Millisecond {
		t.Errorf("Monitor.PowerInterval = %v, want 100ms", cfg.Monitor.PowerInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
gateway:
  node_id: 100
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for node_id 100, got nil")
	}
	if !strings.Contains(err.Error(), "gateway.node_id") {
		t.Errorf("Load() error = %v, want mention of gateway.node_id", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "node id zero",
			mutate:  func(c *Config) { c.Gateway.NodeID = 0 },
			wantErr: true,
		},
		{
			name:    "node id three digits",
			mutate:  func(c *Config) { c.Gateway.NodeID = 100 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid broker port",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing radio connection",
			mutate:  func(c *Config) { c.Radio.Connection = "" },
			wantErr: true,
		},
		{
			name:    "unsupported frequency",
			mutate:  func(c *Config) { c.Radio.Frequency = 2400 },
			wantErr: true,
		},
		{
			name:    "short encrypt key",
			mutate:  func(c *Config) { c.Radio.EncryptKey = "short" },
			wantErr: true,
		},
		{
			name:    "16 byte encrypt key",
			mutate:  func(c *Config) { c.Radio.EncryptKey = "0123456789abcdef" },
			wantErr: false,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "rfm" },
			wantErr: true,
		},
		{
			name:    "http enabled with bad port",
			mutate:  func(c *Config) { c.HTTP.Enabled = true; c.HTTP.Port = 0 },
			wantErr: true,
		},
		{
			name:    "managed daemon without binary",
			mutate:  func(c *Config) { c.Radio.Daemon.Managed = true },
			wantErr: true,
		},
		{
			name:    "managed daemon with binary",
			mutate:  func(c *Config) { c.Radio.Daemon.Managed = true; c.Radio.Daemon.Binary = "/usr/sbin/rfmd" },
			wantErr: false,
		},
		{
			name:    "database enabled without path",
			mutate:  func(c *Config) { c.Database.Enabled = true; c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "database enabled with default path",
			mutate:  func(c *Config) { c.Database.Enabled = true },
			wantErr: false,
		},
		{
			name:    "zero reconnect interval",
			mutate:  func(c *Config) { c.MQTT.Reconnect.Interval = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("RFMGW_NODE_ID", "7")
	t.Setenv("RFMGW_MQTT_HOST", "mqtt.example.com")
	t.Setenv("RFMGW_MQTT_USERNAME", "testuser")
	t.Setenv("RFMGW_MQTT_PASSWORD", "testpass")
	t.Setenv("RFMGW_RADIO_CONNECTION", "unix:///run/rfmd.sock")
	t.Setenv("RFMGW_RADIO_KEY", "0123456789abcdef")
	t.Setenv("RFMGW_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("RFMGW_DATABASE_PATH", "/data/nodes.db")

	applyEnvOverrides(cfg)

	if cfg.Gateway.NodeID != 7 {
		t.Errorf("Gateway.NodeID = %d, want 7", cfg.Gateway.NodeID)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.Radio.Connection != "unix:///run/rfmd.sock" {
		t.Errorf("Radio.Connection = %q, want %q", cfg.Radio.Connection, "unix:///run/rfmd.sock")
	}
	if cfg.Radio.EncryptKey != "0123456789abcdef" {
		t.Errorf("Radio.EncryptKey = %q, want %q", cfg.Radio.EncryptKey, "0123456789abcdef")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Database.Path != "/data/nodes.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/data/nodes.db")
	}
}

func TestApplyEnvOverrides_BadNodeID(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("RFMGW_NODE_ID", "not-a-number")

	applyEnvOverrides(cfg)

	if cfg.Gateway.NodeID != 1 {
		t.Errorf("Gateway.NodeID = %d, want default 1", cfg.Gateway.NodeID)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Gateway.NodeID != 1 {
		t.Errorf("defaultConfig Gateway.NodeID = %d, want 1", cfg.Gateway.NodeID)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Reconnect.Interval != 2*time.Second {
		t.Errorf("defaultConfig MQTT.Reconnect.Interval = %v, want 2s", cfg.MQTT.Reconnect.Interval)
	}
	if cfg.Monitor.PowerThreshold != 620 {
		t.Errorf("defaultConfig Monitor.PowerThreshold = %d, want 620", cfg.Monitor.PowerThreshold)
	}
}

func TestConfig_HTTPAddr(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.HTTPAddr(); got != "127.0.0.1:9105" {
		t.Errorf("HTTPAddr() = %q, want %q", got, "127.0.0.1:9105")
	}
}
