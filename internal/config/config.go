// Package config loads the vdc host's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the vdc host's top-level configuration.
type Config struct {
	Host         HostConfig         `yaml:"host"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	DNSSD        DNSSDConfig        `yaml:"dnssd"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Audit        AuditConfig        `yaml:"audit"`
	AdminAPI     AdminAPIConfig     `yaml:"adminAPI"`
	Log          LogConfig          `yaml:"log"`
}

// HostConfig identifies the vdc host process on the network.
type HostConfig struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model"`
	ModelUID    string `yaml:"modelUID"`
	Mac         string `yaml:"mac"`
	BindAddress string `yaml:"bindAddress"`
	Port        int    `yaml:"port"`
}

// PersistenceConfig controls where the property tree is written to
// disk and whether it is written at all. AutoSave is only printed by
// -show-config: the auto-save debounce is the fixed
// entity.AutoSaveDelay, and this value does not change it.
type PersistenceConfig struct {
	StateFile string        `yaml:"stateFile"`
	AutoSave  time.Duration `yaml:"autoSaveDelay"`
	Disabled  bool          `yaml:"disabled"`
}

// DNSSDConfig controls DNS-SD advertisement of the host.
type DNSSDConfig struct {
	Enabled      bool   `yaml:"enabled"`
	InstanceName string `yaml:"instanceName"`
}

// IntegrationsConfig configures optional lifecycle-event forwarding.
type IntegrationsConfig struct {
	NATS NATSConfig `yaml:"nats"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// NATSConfig configures the internal event bus's NATS publisher.
type NATSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	SubjectPrefix     string        `yaml:"subjectPrefix"`
	MaxReconnects     int           `yaml:"maxReconnects"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
}

// MQTTConfig configures the optional MQTT bridge for lifecycle events.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"brokerURL"`
	TopicPrefix string `yaml:"topicPrefix"`
	ClientID    string `yaml:"clientID"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// AuditConfig configures the Postgres audit log. Disabled when DSN is
// empty.
type AuditConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// AdminAPIConfig configures the read-only admin HTTP surface.
type AdminAPIConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ListenAddress     string        `yaml:"listenAddress"`
	JWTSecret         string        `yaml:"jwtSecret"`
	AdminUser         string        `yaml:"adminUser"`
	AdminPasswordHash string        `yaml:"adminPasswordHash"`
	TokenTTL          time.Duration `yaml:"tokenTTL"`
}

// LogConfig controls the global zerolog setup.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file at filename, applies
// environment overrides, and fills in defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if mac := os.Getenv("VDCHOST_MAC"); mac != "" {
		c.Host.Mac = mac
	}
	if dsn := os.Getenv("VDCHOST_AUDIT_DSN"); dsn != "" {
		c.Audit.DSN = dsn
	}
	if natsURL := os.Getenv("VDCHOST_NATS_URL"); natsURL != "" {
		c.Integrations.NATS.URL = natsURL
	}
	if secret := os.Getenv("VDCHOST_JWT_SECRET"); secret != "" {
		c.AdminAPI.JWTSecret = secret
	}
	if level := os.Getenv("VDCHOST_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

func (c *Config) setDefaults() {
	if c.Host.Name == "" {
		c.Host.Name = "vdc host"
	}
	if c.Host.Model == "" {
		c.Host.Model = "generic vdc host"
	}
	if c.Host.BindAddress == "" {
		c.Host.BindAddress = "0.0.0.0"
	}
	if c.Host.Port == 0 {
		c.Host.Port = 8440
	}

	if c.Persistence.StateFile == "" {
		c.Persistence.StateFile = "vdchost-state.yaml"
	}
	if c.Persistence.AutoSave == 0 {
		c.Persistence.AutoSave = time.Second
	}

	if c.DNSSD.InstanceName == "" {
		c.DNSSD.InstanceName = c.Host.Name
	}

	if c.Integrations.NATS.SubjectPrefix == "" {
		c.Integrations.NATS.SubjectPrefix = "vdchost"
	}
	if c.Integrations.NATS.MaxReconnects == 0 {
		c.Integrations.NATS.MaxReconnects = 10
	}
	if c.Integrations.NATS.ReconnectInterval == 0 {
		c.Integrations.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.Integrations.MQTT.TopicPrefix == "" {
		c.Integrations.MQTT.TopicPrefix = "vdchost"
	}
	if c.Integrations.MQTT.ClientID == "" {
		c.Integrations.MQTT.ClientID = "vdchost"
	}

	if c.Audit.MaxOpenConns == 0 {
		c.Audit.MaxOpenConns = 4
	}
	if c.Audit.MaxIdleConns == 0 {
		c.Audit.MaxIdleConns = 2
	}
	if c.Audit.ConnMaxLifetime == 0 {
		c.Audit.ConnMaxLifetime = 30 * time.Minute
	}

	if c.AdminAPI.ListenAddress == "" {
		c.AdminAPI.ListenAddress = "127.0.0.1:8441"
	}
	if c.AdminAPI.AdminUser == "" {
		c.AdminAPI.AdminUser = "admin"
	}
	if c.AdminAPI.TokenTTL == 0 {
		c.AdminAPI.TokenTTL = time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func (c *Config) validate() error {
	if c.Host.Mac == "" {
		return fmt.Errorf("host.mac is required")
	}
	if c.Host.Port <= 0 || c.Host.Port > 65535 {
		return fmt.Errorf("host.port out of range: %d", c.Host.Port)
	}
	if c.AdminAPI.Enabled && c.AdminAPI.JWTSecret == "" {
		return fmt.Errorf("adminAPI.jwtSecret is required when adminAPI.enabled is true")
	}
	return nil
}

// PrintConfigSummary prints a short human-readable summary of the
// resolved configuration, used by -show-config.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== vdc host configuration ===\n")
	fmt.Printf("Host: %s (%s) mac=%s\n", c.Host.Name, c.Host.Model, c.Host.Mac)
	fmt.Printf("Listening: %s:%d\n", c.Host.BindAddress, c.Host.Port)
	fmt.Printf("State file: %s (autosave %s, disabled=%v)\n", c.Persistence.StateFile, c.Persistence.AutoSave, c.Persistence.Disabled)
	fmt.Printf("DNS-SD: enabled=%v instance=%q\n", c.DNSSD.Enabled, c.DNSSD.InstanceName)
	fmt.Printf("NATS: enabled=%v url=%s prefix=%s\n", c.Integrations.NATS.Enabled, c.Integrations.NATS.URL, c.Integrations.NATS.SubjectPrefix)
	fmt.Printf("MQTT: enabled=%v broker=%s prefix=%s\n", c.Integrations.MQTT.Enabled, c.Integrations.MQTT.BrokerURL, c.Integrations.MQTT.TopicPrefix)
	fmt.Printf("Audit: enabled=%v\n", c.Audit.DSN != "")
	fmt.Printf("Admin API: enabled=%v addr=%s\n", c.AdminAPI.Enabled, c.AdminAPI.ListenAddress)
	fmt.Printf("Log: level=%s format=%s\n", c.Log.Level, c.Log.Format)
	fmt.Printf("===============================\n")
}
