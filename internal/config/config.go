// Package config manages gateway configuration from environment variables and
// an optional JSON config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
)

// Application constants
const (
	appName = "copilot-provider"

	AppVersion     = "1.0.0"
	AppDescription = "OpenAI and Anthropic compatible gateway backed by GitHub Copilot"

	defaultHost = "0.0.0.0"
	defaultPort = 8080
)

// Config is the gateway configuration.
type Config struct {
	Host  string `json:"host,omitempty"`
	Port  int    `json:"port,omitempty"`
	Debug bool   `json:"debug,omitempty"`

	// CredentialsFile is this gateway's own OAuth credential file.
	CredentialsFile string `json:"credentialsFile,omitempty"`
	// ForeignCredentialsFile is the read-only fallback written by a
	// co-installed Copilot tool.
	ForeignCredentialsFile string `json:"foreignCredentialsFile,omitempty"`
}

// Global configuration instance
var (
	cfg      *Config
	cfgMutex sync.RWMutex
)

// Load initializes the configuration. It is safe to call more than once; the
// first successful load wins.
func Load(debug bool) (*Config, error) {
	cfgMutex.Lock()
	defer cfgMutex.Unlock()

	if cfg != nil {
		return cfg, nil
	}

	configureViper()
	if err := setDefaults(debug); err != nil {
		return nil, err
	}

	if err := readConfig(viper.ReadInConfig()); err != nil {
		return nil, err
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if loaded.Port <= 0 || loaded.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", loaded.Port)
	}

	cfg = loaded
	logging.Setup(cfg.Debug)
	return cfg, nil
}

// configureViper sets up viper's configuration paths and environment variables.
func configureViper() {
	viper.SetConfigName(fmt.Sprintf(".%s", appName))
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	viper.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(appName, "-", "_")))
	viper.AutomaticEnv()

	// The documented knobs are bare environment variables.
	_ = viper.BindEnv("port", "PORT")
	_ = viper.BindEnv("host", "HOST")
	_ = viper.BindEnv("debug", "DEBUG")
}

// setDefaults configures default values.
func setDefaults(debug bool) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	viper.SetDefault("host", defaultHost)
	viper.SetDefault("port", defaultPort)
	viper.SetDefault("credentialsFile", filepath.Join(home, ".config", "app.json"))
	viper.SetDefault("foreignCredentialsFile", filepath.Join(home, ".config", "github-copilot", "apps.json"))

	if debug {
		viper.Set("debug", true)
	} else {
		viper.SetDefault("debug", false)
	}
	return nil
}

// readConfig handles the result of reading a configuration file.
func readConfig(err error) error {
	if err == nil {
		return nil
	}

	// It's okay if the config file doesn't exist
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}

	return fmt.Errorf("failed to read config: %w", err)
}

// Get returns the current configuration.
func Get() *Config {
	cfgMutex.RLock()
	defer cfgMutex.RUnlock()
	return cfg
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
