package buildscript

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// The all: prefix keeps __init__.py, which embed would otherwise skip.
//
//go:embed all:plugin
var pluginFS embed.FS

// pluginRoot is the directory inside pluginFS that goes onto PYTHONPATH.
const pluginRoot = "plugin"

// StagePlugin writes the embedded inspection command package below dir and
// returns the directory to put on PYTHONPATH.
func StagePlugin(dir string) (string, error) {
	err := fs.WalkDir(pluginFS, pluginRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, pluginRoot), "/")
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := pluginFS.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		return "", fmt.Errorf("stage inspection command: %w", err)
	}
	return dir, nil
}

// pythonEnv returns env with pythonPath prepended to PYTHONPATH.
func pythonEnv(env []string, pythonPath string) []string {
	out := make([]string, 0, len(env)+2)
	existing := ""
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PYTHONPATH="); ok {
			existing = v
			continue
		}
		if strings.HasPrefix(kv, "PYTHONDONTWRITEBYTECODE=") {
			continue
		}
		out = append(out, kv)
	}
	if existing != "" {
		pythonPath += string(os.PathListSeparator) + existing
	}
	return append(out, "PYTHONPATH="+pythonPath, "PYTHONDONTWRITEBYTECODE=1")
}
