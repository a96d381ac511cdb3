package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is the config file looked up next to the executable
	DefaultFileName = "modupdaterconfig.json"
	// DefaultModsDirName is the mods directory created next to the config file
	DefaultModsDirName = "mods"
	// DefaultForceUpdateLogName is the force-update log written next to the config file
	DefaultForceUpdateLogName = "cloud_forced_update_log.json"

	envPrefix = "MODUPDATER"
)

// ErrMissingURL is returned when the remote catalog base URL is not configured.
var ErrMissingURL = errors.New("url is required")

// Config represents the complete modupdater configuration
type Config struct {
	URL                string     `mapstructure:"url" json:"url" yaml:"url"`
	UpdateAll          bool       `mapstructure:"updateAll" json:"updateAll" yaml:"updateAll"`
	OptionalMods       bool       `mapstructure:"optionalMods" json:"optionalMods" yaml:"optionalMods"`
	UseVersionChecking bool       `mapstructure:"useVersionChecking" json:"useVersionChecking" yaml:"useVersionChecking"`
	ModsDir            string     `mapstructure:"modsDir" json:"modsDir,omitempty" yaml:"modsDir,omitempty"`
	ForceUpdateLog     string     `mapstructure:"forceUpdateLog" json:"forceUpdateLog,omitempty" yaml:"forceUpdateLog,omitempty"`
	HTTP               HTTPConfig `mapstructure:"http" json:"-" yaml:"-"`
}

// HTTPConfig configures the transport used for catalog and archive downloads
type HTTPConfig struct {
	Retries int           `mapstructure:"retries" json:"retries" yaml:"retries"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// Default returns the configuration written for new installs.
func Default() Config {
	return Config{
		URL:                "",
		UpdateAll:          false,
		OptionalMods:       true,
		UseVersionChecking: true,
		HTTP: HTTPConfig{
			Retries: 3,
			Timeout: 5 * time.Minute,
		},
	}
}

// Load reads and parses the configuration file. JSON and YAML are accepted,
// selected by file extension; MODUPDATER_* environment variables override
// file values.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if !isYAML(path) {
		v.SetConfigType("json")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("url", def.URL)
	v.SetDefault("updateAll", def.UpdateAll)
	v.SetDefault("optionalMods", def.OptionalMods)
	v.SetDefault("useVersionChecking", def.UseVersionChecking)
	v.SetDefault("modsDir", "")
	v.SetDefault("forceUpdateLog", "")
	v.SetDefault("http.retries", def.HTTP.Retries)
	v.SetDefault("http.timeout", def.HTTP.Timeout)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// WriteDefault writes cfg to path, creating parent directories. The encoding
// follows the file extension like Load does.
func WriteDefault(path string, cfg Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.URL = os.ExpandEnv(c.URL)
	c.ModsDir = os.ExpandEnv(c.ModsDir)
	c.ForceUpdateLog = os.ExpandEnv(c.ForceUpdateLog)
}

// applyDefaults resolves local paths against baseDir, the directory holding
// the config file.
func (c *Config) applyDefaults(baseDir string) {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")

	if c.ModsDir == "" {
		c.ModsDir = DefaultModsDirName
	}
	if !filepath.IsAbs(c.ModsDir) {
		c.ModsDir = filepath.Join(baseDir, c.ModsDir)
	}

	if c.ForceUpdateLog == "" {
		c.ForceUpdateLog = DefaultForceUpdateLogName
	}
	if !filepath.IsAbs(c.ForceUpdateLog) {
		c.ForceUpdateLog = filepath.Join(baseDir, c.ForceUpdateLog)
	}

	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = Default().HTTP.Timeout
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must use http or https: %s", c.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host: %s", c.URL)
	}

	if c.ModsDir == "" {
		return fmt.Errorf("modsDir is required")
	}
	if c.ForceUpdateLog == "" {
		return fmt.Errorf("forceUpdateLog is required")
	}

	if c.HTTP.Retries < 0 {
		return fmt.Errorf("http.retries must not be negative: %d", c.HTTP.Retries)
	}

	return nil
}

// VersionChecking reports whether local archives are compared by version.
// Update-all mode always falls back to filename comparison.
func (c *Config) VersionChecking() bool {
	return c.UseVersionChecking && !c.UpdateAll
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
