package server

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/fleetwarden.db")

	// Auth defaults. The JWT secret has no default on purpose.
	v.SetDefault("auth.token_ttl", "24h")

	// Module defaults
	v.SetDefault("plugins.fleet.enabled", true)
	v.SetDefault("plugins.fleet.offline_after", "5m")
	v.SetDefault("plugins.fleet.sweep_interval", "1m")
	v.SetDefault("plugins.fleet.require_approval", false)
	v.SetDefault("plugins.rollout.enabled", true)
	v.SetDefault("plugins.shadow.enabled", true)
	v.SetDefault("plugins.health.enabled", true)
	v.SetDefault("plugins.health.interval", "5m")
	v.SetDefault("plugins.health.failure_window", "24h")
	v.SetDefault("plugins.health.failure_threshold", 0.05)
	v.SetDefault("plugins.health.battery_window", "48h")
	v.SetDefault("plugins.health.battery_drop", 0.10)
	v.SetDefault("plugins.webhook.enabled", true)
	v.SetDefault("plugins.webhook.timeout", "10s")
	v.SetDefault("plugins.mqtt.enabled", true)
	v.SetDefault("plugins.mqtt.topic_prefix", "fleetwarden")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fleetwarden")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/fleetwarden")
	}

	// Environment variable support: FW_SERVER_PORT=9090
	v.SetEnvPrefix("FW")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
