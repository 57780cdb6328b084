package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/parser"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/logger"
)

// scriptModules are the tengo standard modules hook scripts may import.
var scriptModules = []string{"fmt", "os", "strings", "text", "times", "json"}

// TengoExecutor handles the execution of Tengo scripts.
type TengoExecutor struct {
	hooks map[HookType]Hook
	mutex sync.RWMutex
}

var _ HookManager = (*TengoExecutor)(nil)

// NewTengoExecutor creates a new Tengo script executor.
func NewTengoExecutor() *TengoExecutor {
	return &TengoExecutor{hooks: make(map[HookType]Hook)}
}

// AddHook parses hook to catch syntax errors early and stores it,
// replacing any previous hook of the same type.
func (e *TengoExecutor) AddHook(hook Hook) error {
	if hook.Type == "" {
		return fmt.Errorf("%w: hook type cannot be empty", errors.ErrHookScript)
	}

	src := []byte(hook.Content)
	file := parser.NewFileSet().AddFile(hook.Name, -1, len(src))
	if _, err := parser.NewParser(file, src, nil).ParseFile(); err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrHookScript, hook.Name, err)
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.hooks[hook.Type] = hook
	return nil
}

// RemoveHook removes the hook of the given type.
func (e *TengoExecutor) RemoveHook(hookType HookType) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.hooks, hookType)
	return nil
}

// HasHook reports whether a hook of the given type is set.
func (e *TengoExecutor) HasHook(hookType HookType) bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	_, exists := e.hooks[hookType]
	return exists
}

// Execute runs the hook of the given type, if any.
func (e *TengoExecutor) Execute(ctx context.Context, hookType HookType, hctx HookContext) error {
	e.mutex.RLock()
	hook, exists := e.hooks[hookType]
	e.mutex.RUnlock()
	if !exists {
		return nil
	}

	logger.Debug("Running hook", logger.Fields{"hook": hookType, "script": hook.Name, "repo": hctx.Repo})

	script := tengo.NewScript([]byte(hook.Content))
	script.SetImports(stdlib.GetModuleMap(scriptModules...))
	if err := addVariables(script, hctx); err != nil {
		return fmt.Errorf("%s: %w: %w", hookType, errors.ErrHookExecution, err)
	}

	compiled, err := script.RunContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", hookType, errors.ErrHookExecution, err)
	}

	errVar := compiled.Get("err")
	switch v := errVar.Value().(type) {
	case error:
		return fmt.Errorf("%s: %w: %w", hookType, errors.ErrHookScript, v)
	case string:
		if v != "" {
			return fmt.Errorf("%s: %w: %s", hookType, errors.ErrHookScript, v)
		}
	}
	return nil
}

func addVariables(script *tengo.Script, hctx HookContext) error {
	stats := make(map[string]interface{}, len(hctx.Stats))
	for k, v := range hctx.Stats {
		stats[k] = v
	}

	vars := map[string]interface{}{
		"repo":   hctx.Repo,
		"dryRun": hctx.DryRun,
		"state":  hctx.State,
		"stats":  stats,
	}
	for k, v := range hctx.Vars {
		vars[k] = v
	}
	for k, v := range vars {
		if err := script.Add(k, v); err != nil {
			return fmt.Errorf("failed to add variable '%s' to script: %w", k, err)
		}
	}
	return nil
}
