// Package config loads tool configuration from the environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all tool configuration.
type Config struct {
	AWS       AWSConfig       `mapstructure:"aws"`
	Log       LogConfig       `mapstructure:"log"`
	Templates TemplatesConfig `mapstructure:"templates"`
}

// AWSConfig holds region and credentials. Empty credentials mean the SDK's
// default chain (shared credentials file, instance profile) is used.
type AWSConfig struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// TemplatesConfig holds the launch template store location.
type TemplatesConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration. Precedence: standard AWS_* environment
// variables, then EC2NODE_* environment variables, then the config file (if
// configPath is non-empty), then defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("templates.path", defaultTemplatePath())

	v.SetEnvPrefix("EC2NODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The standard AWS variables apply without the EC2NODE prefix.
	if region := os.Getenv("AWS_REGION"); region != "" {
		v.Set("aws.region", region)
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		v.Set("aws.access_key", key)
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		v.Set("aws.secret_key", secret)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.AWS.Region == "" {
		return errors.New("aws region is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds a logrus logger from the log configuration. Unknown
// levels fall back to info.
func (c LogConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return logger
}

func defaultTemplatePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/ec2node-templates.json"
	}
	return filepath.Join(homeDir, ".ec2node", "templates.json")
}
