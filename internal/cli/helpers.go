package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/cperrin88/yumsync/pkg/config"
	"github.com/cperrin88/yumsync/pkg/download"
	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/feed"
	"github.com/cperrin88/yumsync/pkg/fsutil"
	"github.com/cperrin88/yumsync/pkg/hooks"
	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/metrics"
	"github.com/cperrin88/yumsync/pkg/orchestrator"
	"github.com/cperrin88/yumsync/pkg/store"
	"github.com/cperrin88/yumsync/pkg/store/jsonstore"
	"github.com/cperrin88/yumsync/pkg/store/sqlstore"
)

// These variables will be set by the main package
var (
	ConfigPath   *string
	Verbose      *bool
	NoColor      *bool
	OutputFormat *string
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

func getConfigPath() string {
	if ConfigPath != nil && *ConfigPath != "" {
		return *ConfigPath
	}

	defaultPath, err := config.GetDefaultConfigPath()
	if err != nil {
		// an empty path fails later with ErrEmptyConfigPath
		logger.Warn("Failed to get default config path, using empty path", logger.Fields{"error": err})
		return ""
	}
	return defaultPath
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Settings.LogLevel
	if Verbose != nil && *Verbose {
		level = "debug"
	}
	logger.InitLogger(level, NoColor != nil && *NoColor)
	return cfg, nil
}

func outputFormat() string {
	if OutputFormat == nil || *OutputFormat == "" {
		return FormatTable
	}
	return *OutputFormat
}

// printStructured writes v as JSON or YAML and reports whether the output
// format asked for it.
func printStructured(w io.Writer, v any) (bool, error) {
	switch outputFormat() {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(config.YAMLIndent)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case FormatTable:
		return false, nil
	default:
		return false, fmt.Errorf("unknown output format %q (json, yaml, table)", outputFormat())
	}
}

// openStore opens the store named by the configured DSN.
func openStore(cfg *config.Config) (store.Store, error) {
	backend, path, err := config.ParseStoreDSN(cfg.Settings.Store)
	if err != nil {
		return nil, err
	}
	if err := fsutil.EnsureFileDir(path, fsutil.DirModeSecure); err != nil {
		return nil, errors.Wrap(err, "failed to create store directory")
	}

	logger.Debug("Opening store", logger.Fields{"backend": backend, "path": path})
	if backend == config.StoreJSON {
		st, err := jsonstore.Open(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := sqlstore.Open(path)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func closeStore(st store.Store) {
	if err := st.Close(); err != nil {
		logger.Error("Failed to close store", logger.Fields{"error": err})
	}
}

func loadDownloadManager(cfg *config.Config) *download.ManagerImpl {
	return download.NewManager(cfg.Settings.HTTPTimeout, cfg.Settings.UserAgent)
}

func loadHookManager(rc *config.RepositoryConfig) (*hooks.TengoExecutor, error) {
	exec := hooks.NewTengoExecutor()
	err := hooks.LoadFiles(exec, map[hooks.HookType]string{
		hooks.PreSync:  rc.Hooks.PreSync,
		hooks.PostSync: rc.Hooks.PostSync,
	})
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", rc.Name, err)
	}
	return exec, nil
}

// loadRepository turns a configured repository into what the orchestrator syncs.
func loadRepository(rc *config.RepositoryConfig) (orchestrator.Repository, error) {
	src, err := feed.NewSource(rc.FeedDir)
	if err != nil {
		return orchestrator.Repository{}, fmt.Errorf("repository %s: %w", rc.Name, err)
	}
	return orchestrator.Repository{
		Name:           rc.Name,
		Feed:           src,
		BaseURL:        rc.GetBaseURL(),
		Auth:           rc.Authenticator(),
		RetainOldCount: rc.RetainOldCount,
		RemoveMissing:  rc.RemoveMissing,
		Types:          rc.Synced(),
	}, nil
}

// selectRepositories returns the named repositories, or all of them when
// names is empty.
func selectRepositories(cfg *config.Config, names []string) ([]*config.RepositoryConfig, error) {
	if len(names) == 0 {
		return cfg.Repositories, nil
	}
	out := make([]*config.RepositoryConfig, 0, len(names))
	for _, name := range names {
		rc, err := cfg.GetRepository(name)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func writeMetrics(cfg *config.Config, rec *metrics.Recorder) {
	path := cfg.Settings.MetricsFile
	if path == "" {
		return
	}
	if err := fsutil.EnsureFileDir(path, fsutil.DirModeDefault); err != nil {
		logger.Warn("Failed to create metrics directory", logger.Fields{"path": path, "error": err})
		return
	}
	if err := rec.WriteTextfile(path); err != nil {
		logger.Warn("Failed to write metrics", logger.Fields{"path": path, "error": err})
	}
}
