package hooks

import (
	"os"
	"path/filepath"

	"github.com/cperrin88/yumsync/pkg/errors"
)

// ScriptExtension is the expected extension of hook files.
const ScriptExtension = ".tengo"

// LoadFiles reads the script files configured for each hook type and adds
// them to manager. Empty paths are skipped.
func LoadFiles(manager HookManager, files map[HookType]string) error {
	for hookType, path := range files {
		if path == "" {
			continue
		}
		if filepath.Ext(path) != ScriptExtension {
			return errors.Wrapf(errors.ErrHookScript, "%s: %s is not a %s file", hookType, path, ScriptExtension)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "error reading hook file %s", path)
		}
		if err := manager.AddHook(Hook{Type: hookType, Name: path, Content: string(content)}); err != nil {
			return errors.Wrapf(err, "error adding %s hook", hookType)
		}
	}
	return nil
}
