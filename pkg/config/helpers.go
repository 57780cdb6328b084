package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// SetValue sets a setting by its YAML key. Supported keys:
//   - store: string - store DSN
//   - pool_dir: string - downloaded package pool
//   - http_timeout: duration - e.g. 45s
//   - max_concurrent: int - parallel downloads
//   - user_agent: string
//   - log_level: string - error, warn, info, debug, trace
//   - metrics_file: string - prometheus textfile output, empty disables it
//
// Repository sync policy is addressed as "<repository>.<field>":
//   - feed_dir, base_url: string
//   - retain_old_count: int, or "all" to keep every version
//   - remove_missing: bool
//   - skip: comma separated content types, e.g. drpm,erratum
//
// The result is validated as a whole; on error the configuration must not be saved.
func (c *Config) SetValue(key, value string) error {
	if name, field, ok := splitRepositoryKey(key); ok {
		if err := c.setRepositoryValue(name, field, value); err != nil {
			return err
		}
		return c.Validate()
	}

	switch key {
	case "store":
		c.Settings.Store = value
	case "pool_dir":
		c.Settings.PoolDir = value
	case "http_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %s", key, value)
		}
		c.Settings.HTTPTimeout = d
	case "max_concurrent":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %s", key, value)
		}
		c.Settings.MaxConcurrent = n
	case "user_agent":
		c.Settings.UserAgent = value
	case "log_level":
		c.Settings.LogLevel = value
	case "metrics_file":
		c.Settings.MetricsFile = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return c.Validate()
}

// GetValue returns a setting or a "<repository>.<field>" policy value.
func (c *Config) GetValue(key string) (string, error) {
	if name, field, ok := splitRepositoryKey(key); ok {
		return c.getRepositoryValue(name, field)
	}
	v, ok := c.ToMap()[key]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return v, nil
}

// ToMap renders the settings keyed by their YAML names, for display.
func (c *Config) ToMap() map[string]string {
	result := make(map[string]string)

	settingsValue := reflect.ValueOf(c.Settings)
	settingsType := settingsValue.Type()
	for i := 0; i < settingsValue.NumField(); i++ {
		field := settingsType.Field(i)
		yamlKey, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if yamlKey == "" || yamlKey == "-" {
			continue
		}

		fieldValue := settingsValue.Field(i)
		switch v := fieldValue.Interface().(type) {
		case time.Duration:
			result[yamlKey] = v.String()
		case string:
			result[yamlKey] = v
		case int:
			result[yamlKey] = strconv.Itoa(v)
		default:
			result[yamlKey] = fmt.Sprintf("%v", v)
		}
	}
	return result
}
