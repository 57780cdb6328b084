package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cperrin88/yumsync/pkg/auth"
	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/fsutil"
	"github.com/cperrin88/yumsync/pkg/model"
)

const sampleConfig = `settings:
  store: json:/var/lib/yumsync/store.json
  pool_dir: /var/lib/yumsync/pool
  http_timeout: 45s
  log_level: debug
repositories:
  - name: fedora
    feed_dir: /srv/feeds/fedora
    base_url: https://mirror.example/fedora
    retain_old_count: 1
    remove_missing: true
    skip: [drpm]
    auth:
      bearer:
        token: s3cret
    hooks:
      post_sync: /etc/yumsync/hooks/notify.tengo
  - name: epel
    feed_dir: /srv/feeds/epel
`

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Settings.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Settings.HTTPTimeout)
	assert.Equal(t, 5, cfg.Settings.MaxConcurrent)
	assert.Equal(t, "sqlite:"+filepath.Join("/data", "yumsync", "store.db"), cfg.Settings.Store)
	assert.Equal(t, filepath.Join("/data", "yumsync", "pool"), cfg.Settings.PoolDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(sampleConfig), fsutil.FileModeDefault))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "json:/var/lib/yumsync/store.json", cfg.Settings.Store)
	assert.Equal(t, 45*time.Second, cfg.Settings.HTTPTimeout)
	assert.Equal(t, DefaultMaxConcurrent, cfg.Settings.MaxConcurrent, "defaults fill gaps")
	assert.Equal(t, DefaultUserAgent, cfg.Settings.UserAgent)
	require.Len(t, cfg.Repositories, 2)

	fedora, err := cfg.GetRepository("fedora")
	require.NoError(t, err)
	require.NotNil(t, fedora.RetainOldCount)
	assert.Equal(t, 1, *fedora.RetainOldCount)
	assert.True(t, fedora.RemoveMissing)
	assert.NotContains(t, fedora.Synced(), model.ContentTypeDRPM)
	assert.Equal(t, model.ContentTypeRPM, fedora.Synced()[0])
	assert.Equal(t, "/etc/yumsync/hooks/notify.tengo", fedora.Hooks.PostSync)
	assert.Equal(t, "https://mirror.example/fedora/", fedora.GetBaseURL().String())

	epel, err := cfg.GetRepository("epel")
	require.NoError(t, err)
	assert.Nil(t, epel.RetainOldCount, "absent retain count keeps everything")
	assert.Nil(t, epel.GetBaseURL())
	assert.Len(t, epel.Synced(), len(model.AllContentTypes))

	_, err = cfg.GetRepository("centos")
	assert.ErrorIs(t, err, errors.ErrRepositoryNotFound)
}

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Settings.LogLevel, cfg.Settings.LogLevel)

	_, err = LoadConfig("")
	assert.ErrorIs(t, err, errors.ErrEmptyConfigPath)
}

func TestLoadConfigParseError(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("settings: [unclosed"))
	assert.ErrorIs(t, err, errors.ErrConfigParse)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	assert.ErrorIs(t, cfg.SaveConfig(""), errors.ErrEmptyConfigPath)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfigFromReader(strings.NewReader(sampleConfig))
		require.NoError(t, err)
		return cfg
	}
	negative := -1

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad store backend", func(c *Config) { c.Settings.Store = "postgres:db" }, "unknown backend"},
		{"store without path", func(c *Config) { c.Settings.Store = "sqlite:" }, "invalid store DSN"},
		{"negative timeout", func(c *Config) { c.Settings.HTTPTimeout = -time.Second }, "http_timeout"},
		{"no concurrency", func(c *Config) { c.Settings.MaxConcurrent = 0 }, "max_concurrent"},
		{"log level", func(c *Config) { c.Settings.LogLevel = "chatty" }, "invalid log level"},
		{"unnamed repo", func(c *Config) { c.Repositories[1].Name = "" }, "has no name"},
		{"duplicate repo", func(c *Config) { c.Repositories[1].Name = "fedora" }, "defined twice"},
		{"no feed dir", func(c *Config) { c.Repositories[1].FeedDir = "" }, "feed_dir"},
		{"negative retain", func(c *Config) { c.Repositories[0].RetainOldCount = &negative }, "retain_old_count"},
		{"relative base url", func(c *Config) { c.Repositories[0].BaseURL = "mirror/fedora" }, "invalid base_url"},
		{"unknown skip", func(c *Config) { c.Repositories[0].Skip = []model.ContentType{"iso"} }, "unknown content type"},
		{"two auth schemes", func(c *Config) {
			c.Repositories[0].Auth.BasicAuth = &BasicAuth{Username: "u"}
		}, "single scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errors.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseStoreDSN(t *testing.T) {
	backend, path, err := ParseStoreDSN("sqlite:/var/lib/yumsync/store.db")
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, backend)
	assert.Equal(t, "/var/lib/yumsync/store.db", path)

	_, _, err = ParseStoreDSN("store.db")
	assert.ErrorIs(t, err, errors.ErrInvalidStoreDSN)
}

func TestRepositoryManagement(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.AddRepository(&RepositoryConfig{Name: "fedora", FeedDir: "/srv/fedora"}))
	assert.ErrorIs(t, cfg.AddRepository(&RepositoryConfig{Name: "fedora", FeedDir: "/other"}), errors.ErrConfigValidation)
	assert.Len(t, cfg.Repositories, 1)

	assert.True(t, cfg.RemoveRepository("fedora"))
	assert.False(t, cfg.RemoveRepository("fedora"))
	assert.Empty(t, cfg.Repositories)
}

func TestAuthenticator(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	fedora, _ := cfg.GetRepository("fedora")
	a := fedora.Authenticator()
	require.NotNil(t, a)
	assert.Equal(t, auth.BearerAuthType, a.Type())
	scoped, ok := a.(auth.Scoped)
	require.True(t, ok)
	assert.Equal(t, auth.BearerAuth{Token: "s3cret"}, scoped.Inner)

	epel, _ := cfg.GetRepository("epel")
	assert.Nil(t, epel.Authenticator())

	noBase := &RepositoryConfig{Name: "x", Auth: &AuthConfig{BasicAuth: &BasicAuth{Username: "u", Password: "p"}}}
	assert.Nil(t, noBase.Authenticator(), "credentials need a base URL to be scoped to")
	assert.Equal(t, auth.BasicAuth{Username: "u", Password: "p"}, noBase.Auth.ToAuthenticator())
	assert.Equal(t, auth.HeaderAuth{Headers: map[string]string{"X-Key": "k"}},
		(&AuthConfig{HeaderAuth: &HeaderAuth{Headers: map[string]string{"X-Key": "k"}}}).ToAuthenticator())
}

func TestSettingValues(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.SetValue("http_timeout", "1m"))
	require.NoError(t, cfg.SetValue("max_concurrent", "8"))
	require.NoError(t, cfg.SetValue("metrics_file", "/var/lib/node_exporter/yumsync.prom"))

	v, err := cfg.GetValue("http_timeout")
	require.NoError(t, err)
	assert.Equal(t, "1m0s", v)
	v, err = cfg.GetValue("max_concurrent")
	require.NoError(t, err)
	assert.Equal(t, "8", v)

	assert.Error(t, cfg.SetValue("max_concurrent", "many"))
	assert.ErrorIs(t, cfg.SetValue("max_concurrent", "0"), errors.ErrConfigValidation)
	assert.Error(t, cfg.SetValue("color", "true"))
	_, err = cfg.GetValue("color")
	assert.Error(t, err)

	m := cfg.ToMap()
	assert.Contains(t, m, "store")
	assert.Contains(t, m, "pool_dir")
	assert.Equal(t, "/var/lib/node_exporter/yumsync.prom", m["metrics_file"])
}

func TestRepositoryValues(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.AddRepository(&RepositoryConfig{Name: "fedora.19", FeedDir: "/srv/fedora"}))

	v, err := cfg.GetValue("fedora.19.retain_old_count")
	require.NoError(t, err)
	assert.Equal(t, RetainAll, v)

	require.NoError(t, cfg.SetValue("fedora.19.retain_old_count", "2"))
	require.NoError(t, cfg.SetValue("fedora.19.remove_missing", "true"))
	require.NoError(t, cfg.SetValue("fedora.19.skip", "drpm, erratum,drpm"))

	rc, err := cfg.GetRepository("fedora.19")
	require.NoError(t, err)
	require.NotNil(t, rc.RetainOldCount)
	assert.Equal(t, 2, *rc.RetainOldCount)
	assert.True(t, rc.RemoveMissing)
	assert.Equal(t, []model.ContentType{model.ContentTypeDRPM, model.ContentTypeErratum}, rc.Skip)

	v, err = cfg.GetValue("fedora.19.skip")
	require.NoError(t, err)
	assert.Equal(t, "drpm,erratum", v)

	require.NoError(t, cfg.SetValue("fedora.19.retain_old_count", RetainAll))
	assert.Nil(t, rc.RetainOldCount)

	for key, value := range map[string]string{
		"fedora.19.retain_old_count": "some",
		"fedora.19.remove_missing":   "maybe",
		"fedora.19.skip":             "drpm,rpms",
	} {
		assert.ErrorIs(t, cfg.SetValue(key, value), errors.ErrConfigValidation, key)
	}
	assert.ErrorIs(t, cfg.SetValue("fedora.19.retain_old_count", "-1"), errors.ErrConfigValidation)
	assert.ErrorIs(t, cfg.SetValue("rawhide.skip", "drpm"), errors.ErrRepositoryNotFound)
	assert.Error(t, cfg.SetValue("fedora.19.hooks", "x"))

	assert.Contains(t, cfg.Keys(), "fedora.19.skip")
	assert.Contains(t, cfg.Keys(), "max_concurrent")

	assert.ErrorIs(t, cfg.SetValue("fedora.19.base_url", "not a url"), errors.ErrConfigValidation)
}
