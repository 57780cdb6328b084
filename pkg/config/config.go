// Package config loads the yumsync configuration: global settings and the
// list of mirrored repositories with their sync policy. Configuration is
// read from a YAML file; a missing file yields the defaults.
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/fsutil"
	"github.com/cperrin88/yumsync/pkg/model"
)

// Config represents the application configuration.
type Config struct {
	Settings     Settings            `yaml:"settings"`
	Repositories []*RepositoryConfig `yaml:"repositories"`
}

// Settings represents general application settings.
type Settings struct {
	// Store is a DSN of the form "sqlite:<path>" or "json:<path>".
	Store   string `yaml:"store"`
	PoolDir string `yaml:"pool_dir"`

	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	UserAgent     string        `yaml:"user_agent,omitempty"`

	LogLevel    string `yaml:"log_level"` // error, warn, info, debug, trace
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

// RepositoryConfig is one mirrored repository.
type RepositoryConfig struct {
	Name    string `yaml:"name"`
	FeedDir string `yaml:"feed_dir"`
	BaseURL string `yaml:"base_url,omitempty"`

	// RetainOldCount keeps that many older versions per package. Nil keeps all.
	RetainOldCount *int                `yaml:"retain_old_count,omitempty"`
	RemoveMissing  bool                `yaml:"remove_missing,omitempty"`
	Skip           []model.ContentType `yaml:"skip,omitempty"`

	Auth  *AuthConfig `yaml:"auth,omitempty"`
	Hooks HookConfig  `yaml:"hooks,omitempty"`
}

// HookConfig names tengo scripts run around a sync.
type HookConfig struct {
	PreSync  string `yaml:"pre_sync,omitempty"`
	PostSync string `yaml:"post_sync,omitempty"`
}

// Default configuration values.
const (
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultMaxConcurrent = 5
	DefaultLogLevel      = "info"
	DefaultUserAgent     = "yumsync/1.0"

	// YAMLIndent is the number of spaces to use for YAML indentation.
	YAMLIndent = 2
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
)

var validLogLevels = map[string]bool{"error": true, "warn": true, "info": true, "debug": true, "trace": true}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Settings: Settings{
			Store:         StoreSQLite + ":" + filepath.Join(dataDir, "store.db"),
			PoolDir:       filepath.Join(dataDir, "pool"),
			HTTPTimeout:   DefaultHTTPTimeout,
			MaxConcurrent: DefaultMaxConcurrent,
			UserAgent:     DefaultUserAgent,
			LogLevel:      DefaultLogLevel,
		},
		Repositories: []*RepositoryConfig{},
	}
}

// LoadConfig loads configuration from a file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfigParse, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig writes the configuration atomically.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	return fsutil.WriteAtomic(absPath, fsutil.FileModeDefault, func(w io.Writer) error {
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(YAMLIndent)
		if err := encoder.Encode(c); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrConfigEncode, err)
		}
		return encoder.Close()
	})
}

// ToYAML converts the config to YAML bytes.
func (c *Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfigEncode, err)
	}
	return data, nil
}

// Validate checks if the configuration is valid. Every failure wraps
// errors.ErrConfigValidation.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfigValidation
	}
	if err := validateSettings(c.Settings); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfigValidation, err)
	}
	if err := validateRepositories(c.Repositories); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfigValidation, err)
	}
	return nil
}

func validateSettings(s Settings) error {
	if _, _, err := ParseStoreDSN(s.Store); err != nil {
		return err
	}
	if s.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout cannot be negative: %s", s.HTTPTimeout)
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}
	if !validLogLevels[strings.ToLower(s.LogLevel)] {
		return fmt.Errorf("invalid log level %q", s.LogLevel)
	}
	return nil
}

func validateRepositories(repos []*RepositoryConfig) error {
	names := make(map[string]bool, len(repos))
	for i, repo := range repos {
		if repo == nil || repo.Name == "" {
			return fmt.Errorf("repository %d has no name", i)
		}
		if names[repo.Name] {
			return fmt.Errorf("repository %q is defined twice", repo.Name)
		}
		names[repo.Name] = true

		if repo.FeedDir == "" {
			return fmt.Errorf("repository %q has no feed_dir", repo.Name)
		}
		if repo.RetainOldCount != nil && *repo.RetainOldCount < 0 {
			return fmt.Errorf("repository %q: retain_old_count cannot be negative", repo.Name)
		}
		if repo.BaseURL != "" {
			if u, err := url.Parse(repo.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("repository %q: invalid base_url %q", repo.Name, repo.BaseURL)
			}
		}
		for _, ct := range repo.Skip {
			if _, err := model.ParseContentType(string(ct)); err != nil {
				return fmt.Errorf("repository %q: %w", repo.Name, err)
			}
		}
		if err := repo.Auth.validate(); err != nil {
			return fmt.Errorf("repository %q: %w", repo.Name, err)
		}
	}
	return nil
}

// ParseStoreDSN splits a store DSN into backend and path.
func ParseStoreDSN(dsn string) (backend, path string, err error) {
	backend, path, ok := strings.Cut(dsn, ":")
	if !ok || path == "" {
		return "", "", fmt.Errorf("%w: %q", errors.ErrInvalidStoreDSN, dsn)
	}
	switch backend {
	case StoreSQLite, StoreJSON:
		return backend, path, nil
	default:
		return "", "", fmt.Errorf("%w: unknown backend %q", errors.ErrInvalidStoreDSN, backend)
	}
}

// GetRepository returns the named repository.
func (c *Config) GetRepository(name string) (*RepositoryConfig, error) {
	for _, repo := range c.Repositories {
		if repo.Name == name {
			return repo, nil
		}
	}
	return nil, errors.RepositoryNotFound(name)
}

// AddRepository appends a repository; the name must be unused.
func (c *Config) AddRepository(repo *RepositoryConfig) error {
	if _, err := c.GetRepository(repo.Name); err == nil {
		return fmt.Errorf("%w: repository %q already exists", errors.ErrConfigValidation, repo.Name)
	}
	c.Repositories = append(c.Repositories, repo)
	return nil
}

// RemoveRepository removes the named repository and reports whether it existed.
func (c *Config) RemoveRepository(name string) bool {
	for i, repo := range c.Repositories {
		if repo.Name == name {
			c.Repositories = append(c.Repositories[:i], c.Repositories[i+1:]...)
			return true
		}
	}
	return false
}

// GetBaseURL parses the repository base URL. Nil when unset.
func (rc *RepositoryConfig) GetBaseURL() *url.URL {
	if rc.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(rc.BaseURL)
	if err != nil {
		return nil
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u
}

// Synced returns the content types to process, in processing order.
func (rc *RepositoryConfig) Synced() []model.ContentType {
	out := make([]model.ContentType, 0, len(model.AllContentTypes))
	for _, ct := range model.AllContentTypes {
		if !slices.Contains(rc.Skip, ct) {
			out = append(out, ct)
		}
	}
	return out
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "yumsync", "config.yaml"), nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Settings.Store == "" {
		c.Settings.Store = defaults.Settings.Store
	}
	if c.Settings.PoolDir == "" {
		c.Settings.PoolDir = defaults.Settings.PoolDir
	}
	if c.Settings.HTTPTimeout == 0 {
		c.Settings.HTTPTimeout = defaults.Settings.HTTPTimeout
	}
	if c.Settings.MaxConcurrent == 0 {
		c.Settings.MaxConcurrent = defaults.Settings.MaxConcurrent
	}
	if c.Settings.UserAgent == "" {
		c.Settings.UserAgent = defaults.Settings.UserAgent
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = defaults.Settings.LogLevel
	}
	if c.Repositories == nil {
		c.Repositories = []*RepositoryConfig{}
	}
}

// defaultDataDir follows XDG_DATA_HOME, falling back to ~/.local/share.
func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "yumsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "yumsync")
	}
	return filepath.Join(home, ".local", "share", "yumsync")
}
