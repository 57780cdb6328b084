// Package hooks runs user supplied tengo scripts before and after a
// repository sync.
//
// Scripts see the variables repo, dryRun, state and stats (a map of the
// sync counters) plus any custom Vars. A script reports failure by
// declaring err as a non-empty string or an error value; a failing pre-sync
// hook aborts the sync.
package hooks

import "context"

// HookType represents the point in a sync a hook runs at.
type HookType string

// Supported hook types.
const (
	PreSync  HookType = "pre-sync"
	PostSync HookType = "post-sync"
)

// Hook is a script bound to a hook type.
type Hook struct {
	Type HookType
	// Name identifies the script in errors, usually its path.
	Name    string
	Content string
}

// HookContext contains information passed to hooks.
type HookContext struct {
	Repo   string
	DryRun bool
	// State is empty before a sync and "completed" or "cancelled" after it.
	State string
	Stats map[string]int64
	Vars  map[string]interface{}
}

// HookManager defines the interface for managing hooks.
type HookManager interface {
	Execute(ctx context.Context, hookType HookType, hctx HookContext) error
	AddHook(hook Hook) error
	RemoveHook(hookType HookType) error
	HasHook(hookType HookType) bool
}
