// Package workdir scopes changes to the process working directory.
//
// The working directory is process-wide state. Enter records the current
// directory before switching, and the returned restore function switches back
// no matter how the caller's scope ends:
//
//	restore, err := workdir.Enter(dir)
//	if err != nil {
//	    return err
//	}
//	defer restore()
//
// Nothing here serializes concurrent callers; pipeline.Runner does that.
package workdir

import (
	"fmt"
	"os"
)

// Enter changes the working directory to dir and returns a function that
// restores the previous one. The restore function is safe to call more than
// once; only the first call has an effect.
func Enter(dir string) (restore func() error, err error) {
	prev, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return nil, fmt.Errorf("enter %s: %w", dir, err)
	}

	done := false
	return func() error {
		if done {
			return nil
		}
		done = true
		if err := os.Chdir(prev); err != nil {
			return fmt.Errorf("restore working directory %s: %w", prev, err)
		}
		return nil
	}, nil
}
