// Package config manages repodeploy configuration and the .repodeploy site directory.
// It handles loading, saving, and initializing the site configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

const (
	SiteDir       = ".repodeploy"
	ConfigFile    = "config"
	DatabaseFile  = "registry.db"
	StateFile     = "state.db"
	EnvFile       = ".env"
	TokenEnvVar   = "REPODEPLOY_TOKEN"
	DefaultAPIURL = "https://api.github.com"
)

// Config represents the repodeploy configuration
type Config struct {
	ThemeRoot       string   `toml:"theme_root"`
	PluginRoot      string   `toml:"plugin_root"`
	GitHubAPIURL    string   `toml:"github_api_url"`
	OAuthServiceURL string   `toml:"oauth_service_url"`
	BotName         string   `toml:"bot_name"`
	BotAppID        int64    `toml:"bot_app_id"`
	ForceMode       string   `toml:"force_mode"`
	DisableExec     bool     `toml:"disable_exec"`
	DownloadTimeout string   `toml:"download_timeout"`
	RequestTimeout  string   `toml:"request_timeout"`
	LogLevel        string   `toml:"log_level"`
	LogFormat       string   `toml:"log_format"`
	Listen          string   `toml:"listen"`
	APIToken        string   `toml:"api_token"`
	WebhookURLs     []string `toml:"webhook_urls"`
	path            string   // path to .repodeploy directory
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		ThemeRoot:       "wp-content/themes",
		PluginRoot:      "wp-content/plugins",
		GitHubAPIURL:    DefaultAPIURL,
		BotName:         "repodeploy",
		ForceMode:       string(models.ForceAuto),
		DownloadTimeout: "300s",
		RequestTimeout:  "30s",
		LogLevel:        "info",
		LogFormat:       "console",
		Listen:          "127.0.0.1:8730",
	}
}

// FindRoot finds the .repodeploy directory by walking up from current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		sitePath := filepath.Join(dir, SiteDir)
		if info, err := os.Stat(sitePath); err == nil && info.IsDir() {
			return sitePath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a repodeploy site (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .repodeploy directory and the
// optional .env file next to it.
func Load() (*Config, error) {
	sitePath, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(sitePath)
}

// LoadFrom loads the configuration stored in sitePath.
func LoadFrom(sitePath string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(sitePath, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.path = sitePath

	if _, ok := models.ParseForceMode(cfg.ForceMode); !ok {
		return nil, fmt.Errorf("invalid force_mode %q (must be auto, cli or api)", cfg.ForceMode)
	}

	// Variables already set in the environment win over the file.
	_ = godotenv.Load(filepath.Join(sitePath, EnvFile))

	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// SitePath returns the path to the .repodeploy directory
func (c *Config) SitePath() string {
	return c.path
}

// SiteRoot returns the directory containing .repodeploy.
func (c *Config) SiteRoot() string {
	return filepath.Dir(c.path)
}

// DatabasePath returns the path to the SQLite registry
func (c *Config) DatabasePath() string {
	return filepath.Join(c.path, DatabaseFile)
}

// StatePath returns the path to the bbolt state database
func (c *Config) StatePath() string {
	return filepath.Join(c.path, StateFile)
}

// ThemeDir returns the absolute theme root.
func (c *Config) ThemeDir() string {
	return c.resolve(c.ThemeRoot)
}

// PluginDir returns the absolute plugin root.
func (c *Config) PluginDir() string {
	return c.resolve(c.PluginRoot)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.SiteRoot(), p)
}

// Override returns the configured mode override.
func (c *Config) Override() models.ForceMode {
	m, ok := models.ParseForceMode(c.ForceMode)
	if !ok {
		return models.ForceAuto
	}
	return m
}

// DownloadTimeoutDuration returns the zipball download timeout.
func (c *Config) DownloadTimeoutDuration() time.Duration {
	return parseDuration(c.DownloadTimeout, 300*time.Second)
}

// RequestTimeoutDuration returns the timeout for short HTTP and git calls.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return parseDuration(c.RequestTimeout, 30*time.Second)
}

// EnvToken returns the access token supplied through the environment.
func EnvToken() string {
	return os.Getenv(TokenEnvVar)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Initialize creates a new .repodeploy directory in dir with initial configuration
func Initialize(dir string, cfg *Config) (*Config, error) {
	sitePath := filepath.Join(dir, SiteDir)

	// Check if already initialized
	if _, err := os.Stat(sitePath); err == nil {
		return nil, fmt.Errorf("repodeploy site already exists")
	}

	if err := os.MkdirAll(sitePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", SiteDir, err)
	}

	if cfg == nil {
		cfg = Default()
	}
	cfg.path = sitePath

	for _, root := range []string{cfg.ThemeDir(), cfg.PluginDir()} {
		if err := os.MkdirAll(root, 0755); err != nil {
			os.RemoveAll(sitePath)
			return nil, fmt.Errorf("failed to create content root: %w", err)
		}
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(sitePath)
		return nil, err
	}

	return cfg, nil
}
