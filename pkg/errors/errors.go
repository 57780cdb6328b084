// Package errors holds the sentinel errors shared across yumsync and small helpers
// for adding context to them.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Common error types.
var (
	// Config errors.
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath = fmt.Errorf("invalid config file path")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")
	ErrConfigEncode      = fmt.Errorf("failed to encode config")
	ErrConfigFileExists  = fmt.Errorf("config file already exists")

	// Repository and content errors.
	ErrRepositoryNotFound  = fmt.Errorf("repository not found")
	ErrUnitNotFound        = fmt.Errorf("unit not found")
	ErrUnknownContentType  = fmt.Errorf("unknown content type")
	ErrCategoryUnavailable = fmt.Errorf("content category unavailable upstream")

	// ErrNameMismatch is returned when two requirements or packages with different
	// names are compared. Callers treat it as a logic error, never as inequality.
	ErrNameMismatch = fmt.Errorf("cannot compare entries with different names")

	// Requirement parsing errors.
	ErrInvalidRequirement = fmt.Errorf("invalid requirement")

	// Feed errors.
	ErrInvalidFeed           = fmt.Errorf("invalid feed")
	ErrUnsupportedFeedFormat = fmt.Errorf("unsupported feed format version")

	// Store errors.
	ErrInvalidStoreDSN = fmt.Errorf("invalid store DSN")

	// Download errors.
	ErrInvalidPath      = fmt.Errorf("invalid path")
	ErrDownloadFailed   = fmt.Errorf("download failed")
	ErrChecksumMismatch = fmt.Errorf("checksum mismatch")
	ErrUpstreamDown     = fmt.Errorf("upstream unavailable")

	// Hook errors.
	ErrHookExecution = fmt.Errorf("error executing hook")
	ErrHookScript    = fmt.Errorf("hook script error")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// RepositoryNotFound returns ErrRepositoryNotFound annotated with the repository name.
func RepositoryNotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
}

// NameMismatch returns ErrNameMismatch annotated with both names.
func NameMismatch(a, b string) error {
	return fmt.Errorf("%w: %q != %q", ErrNameMismatch, a, b)
}

// CategoryUnavailable returns ErrCategoryUnavailable annotated with the category.
func CategoryUnavailable(category string) error {
	return fmt.Errorf("%w: %s", ErrCategoryUnavailable, category)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
