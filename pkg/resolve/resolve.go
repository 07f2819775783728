// Package resolve picks the directory of an extracted archive that holds the
// package's build script.
//
// Source distributions conventionally wrap their content in a single
// "name-version/" directory. When the workspace root holds exactly one entry
// and it is a directory, that directory is used; otherwise the root itself.
package resolve

import (
	"os"
	"path/filepath"

	"github.com/matzehuels/metaextract/pkg/workdir"
)

// Dir returns the single subdirectory of root if root contains exactly one
// entry and that entry is a directory, and root otherwise. An unreadable root
// resolves to itself.
func Dir(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) != 1 {
		return root
	}
	only := filepath.Join(root, entries[0].Name())
	// Stat follows symlinks, so a link to a directory counts as one.
	info, err := os.Stat(only)
	if err != nil || !info.IsDir() {
		return root
	}
	return only
}

// Enter resolves root with Dir and makes the result the working directory.
// The returned restore function switches back to the previous directory.
func Enter(root string) (dir string, restore func() error, err error) {
	dir = Dir(root)
	restore, err = workdir.Enter(dir)
	if err != nil {
		return "", nil, err
	}
	return dir, restore, nil
}
