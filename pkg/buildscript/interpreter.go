package buildscript

import (
	"os/exec"

	"github.com/matzehuels/metaextract/pkg/errors"
)

// DefaultInterpreters are looked up on PATH, in order, when no interpreter
// is configured.
var DefaultInterpreters = []string{"python3", "python"}

// ResolveInterpreter returns the executable used to run build scripts.
// An explicit value may be a path or a command name on PATH; when empty the
// first of DefaultInterpreters found on PATH is used.
func ResolveInterpreter(explicit string) (string, error) {
	if explicit != "" {
		p, err := exec.LookPath(explicit)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeInvalidConfig, err, "python interpreter %q is not executable", explicit)
		}
		return p, nil
	}
	for _, name := range DefaultInterpreters {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.New(errors.ErrCodeInvalidConfig, "no python interpreter found on PATH (tried %v); set --interpreter", DefaultInterpreters)
}
