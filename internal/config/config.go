package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Replication ReplicationConfig `mapstructure:"replication"`
	Node        NodeConfig        `mapstructure:"node"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
}

type ReplicationConfig struct {
	DB DBConfig `mapstructure:"db"`
}

type DBConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Slot        string `mapstructure:"slot"`
	Publication string `mapstructure:"publication"`
}

type NodeConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type AlertsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Replication.DB.URL == "" {
		return fmt.Errorf("replication.db.url is required")
	}
	if c.Replication.DB.Username == "" {
		return fmt.Errorf("replication.db.username is required")
	}
	if c.Replication.DB.Slot == "" {
		return fmt.Errorf("replication.db.slot is required")
	}
	if c.Replication.DB.Publication == "" {
		return fmt.Errorf("replication.db.publication is required")
	}

	if c.Node.DataDir == "" {
		c.Node.DataDir = "data"
	}

	return nil
}
