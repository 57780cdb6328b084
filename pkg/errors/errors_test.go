package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		msg      string
		expected string
	}{
		{
			name:     "wrap nil error",
			err:      nil,
			msg:      "additional context",
			expected: "",
		},
		{
			name:     "wrap sentinel",
			err:      ErrUnitNotFound,
			msg:      "lookup rpm",
			expected: "lookup rpm: unit not found",
		},
		{
			name:     "wrap with empty message",
			err:      errors.New("original error"),
			msg:      "",
			expected: ": original error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Wrap(tt.err, tt.msg)
			if tt.err == nil {
				assert.NoError(t, result)
				return
			}
			require.Error(t, result)
			assert.Equal(t, tt.expected, result.Error())
			assert.ErrorIs(t, result, tt.err)
		})
	}
}

func TestWrapf(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "formatted: %s", "x"))

	err := Wrapf(ErrInvalidFeed, "feed %s line %d", "rpm.jsonl", 3)
	assert.Equal(t, "feed rpm.jsonl line 3: invalid feed", err.Error())
	assert.ErrorIs(t, err, ErrInvalidFeed)
}

func TestAnnotatedSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{"repository", RepositoryNotFound("fedora"), ErrRepositoryNotFound, "fedora"},
		{"names", NameMismatch("firefox", "xulrunner"), ErrNameMismatch, `"firefox" != "xulrunner"`},
		{"category", CategoryUnavailable("erratum"), ErrCategoryUnavailable, "erratum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Contains(t, tt.err.Error(), tt.contains)
		})
	}
}

func TestIsAndAs(t *testing.T) {
	err := Wrap(CategoryUnavailable("erratum"), "purge fedora")
	assert.True(t, Is(err, ErrCategoryUnavailable))
	assert.False(t, Is(err, ErrUnitNotFound))

	var target interface{ Unwrap() error }
	assert.True(t, As(err, &target))
}
