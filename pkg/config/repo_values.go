package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/model"
)

// RetainAll is how an unlimited retain_old_count is written and shown.
const RetainAll = "all"

// Sync policy fields addressable as "<repository>.<field>".
var repositoryFields = []string{"base_url", "feed_dir", "remove_missing", "retain_old_count", "skip"}

// splitRepositoryKey splits "<repository>.<field>". Repository names may
// contain dots, the field never does.
func splitRepositoryKey(key string) (name, field string, ok bool) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

func (c *Config) setRepositoryValue(name, field, value string) error {
	rc, err := c.GetRepository(name)
	if err != nil {
		return err
	}

	switch field {
	case "feed_dir":
		rc.FeedDir = value
	case "base_url":
		rc.BaseURL = value
	case "retain_old_count":
		if value == "" || value == RetainAll {
			rc.RetainOldCount = nil
			break
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: retain_old_count takes a count or %q, got %q", errors.ErrConfigValidation, RetainAll, value)
		}
		rc.RetainOldCount = &n
	case "remove_missing":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: remove_missing takes true or false, got %q", errors.ErrConfigValidation, value)
		}
		rc.RemoveMissing = b
	case "skip":
		types, err := ParseContentTypes(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errors.ErrConfigValidation, err)
		}
		rc.Skip = types
	default:
		return fmt.Errorf("unknown repository key %q, expected one of %s", field, strings.Join(repositoryFields, ", "))
	}
	return nil
}

func (c *Config) getRepositoryValue(name, field string) (string, error) {
	rc, err := c.GetRepository(name)
	if err != nil {
		return "", err
	}

	switch field {
	case "feed_dir":
		return rc.FeedDir, nil
	case "base_url":
		return rc.BaseURL, nil
	case "retain_old_count":
		if rc.RetainOldCount == nil {
			return RetainAll, nil
		}
		return strconv.Itoa(*rc.RetainOldCount), nil
	case "remove_missing":
		return strconv.FormatBool(rc.RemoveMissing), nil
	case "skip":
		return FormatContentTypes(rc.Skip), nil
	default:
		return "", fmt.Errorf("unknown repository key %q, expected one of %s", field, strings.Join(repositoryFields, ", "))
	}
}

// Keys lists every key SetValue and GetValue accept for this configuration,
// sorted.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.ToMap())+len(c.Repositories)*len(repositoryFields))
	for k := range c.ToMap() {
		keys = append(keys, k)
	}
	for _, rc := range c.Repositories {
		for _, f := range repositoryFields {
			keys = append(keys, rc.Name+"."+f)
		}
	}
	slices.Sort(keys)
	return keys
}

// ParseContentTypes parses a comma separated content type list. Blank
// entries are ignored and duplicates collapse.
func ParseContentTypes(s string) ([]model.ContentType, error) {
	var out []model.ContentType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ct, err := model.ParseContentType(part)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, ct) {
			out = append(out, ct)
		}
	}
	return out, nil
}

// FormatContentTypes is the inverse of ParseContentTypes.
func FormatContentTypes(types []model.ContentType) string {
	parts := make([]string, len(types))
	for i, ct := range types {
		parts[i] = string(ct)
	}
	return strings.Join(parts, ",")
}
