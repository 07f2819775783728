package buildscript

import (
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"mvdan.cc/sh/v3/syntax"

	"github.com/matzehuels/metaextract/pkg/errors"
	"github.com/matzehuels/metaextract/pkg/metadata"
	"github.com/matzehuels/metaextract/pkg/observability"
)

// Defaults for the Runner fields.
const (
	DefaultScriptName      = "setup.py"
	DefaultCommandPackages = "metaextract"
	DefaultCommand         = "metaextract"
	DefaultTimeout         = 5 * time.Minute
)

// MaxAttempts is the number of times a build script is spawned: the first
// attempt plus one retry with an encoding header.
const MaxAttempts = 2

// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
// after the build script itself was killed.
const waitDelay = 2 * time.Second

// Result describes a successful build script run.
type Result struct {
	RunID         string        // Random identifier used in log lines
	Output        string        // Combined stdout and stderr of the last attempt
	ExitCode      int           // Exit status of the last attempt
	EncodingRetry bool          // Whether the retry path was taken
	Attempts      int           // Number of subprocess spawns
	Duration      time.Duration // Wall time of all attempts
	Raw           *metadata.Raw // Parsed inspection output
}

// Runner spawns build scripts. The zero value is usable: empty fields take
// the Default* values and the interpreter is resolved from PATH.
type Runner struct {
	Interpreter     string        // Interpreter path or name (see ResolveInterpreter)
	ScriptName      string        // Build script file name inside the source directory
	CommandPackages string        // Value for --command-packages
	Command         string        // Inspection command name
	PluginDir       string        // Directory holding an installed inspection package; empty stages the embedded one
	Timeout         time.Duration // Per-attempt limit
	Logger          *log.Logger
}

func (r *Runner) withDefaults() Runner {
	c := *r
	if c.ScriptName == "" {
		c.ScriptName = DefaultScriptName
	}
	if c.CommandPackages == "" {
		c.CommandPackages = DefaultCommandPackages
	}
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Args returns the argument vector passed to the interpreter.
func (r *Runner) Args(output string) []string {
	c := r.withDefaults()
	return []string{c.ScriptName, "-q", "--command-packages", c.CommandPackages, c.Command, "-o", output}
}

// Run executes the build script in dir and parses what the inspection
// command wrote. No partial result is returned on failure.
func (r *Runner) Run(ctx context.Context, dir string) (res *Result, err error) {
	c := r.withDefaults()

	if err := errors.ValidateScriptName(c.ScriptName); err != nil {
		return nil, err
	}
	script := filepath.Join(dir, c.ScriptName)
	if info, statErr := os.Stat(script); statErr != nil || info.IsDir() {
		return nil, errors.New(errors.ErrCodeMissingBuildScript, "%q does not exist in %q", c.ScriptName, dir)
	}

	interp, err := ResolveInterpreter(c.Interpreter)
	if err != nil {
		return nil, err
	}

	private, err := os.MkdirTemp("", "metaextract-run-")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create output directory")
	}
	defer os.RemoveAll(private)

	pythonPath := c.PluginDir
	if pythonPath == "" {
		if pythonPath, err = StagePlugin(filepath.Join(private, "site")); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "prepare inspection command")
		}
	}
	output := filepath.Join(private, "metadata.json")

	res = &Result{RunID: uuid.NewString()}
	logger := c.Logger.With("run", res.RunID[:8])
	hooks := observability.Pipeline()
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		hooks.OnRunComplete(ctx, res.Attempts, res.EncodingRetry, res.Duration, err)
		if err != nil {
			res = nil
		}
	}()

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt > 1 {
			injected, injErr := InjectEncodingHeader(script)
			if injErr != nil {
				return res, errors.Wrap(errors.ErrCodeInternal, injErr, "prepare retry of %s", c.ScriptName)
			}
			res.EncodingRetry = true
			logger.Warn("build script failed, retrying with encoding header",
				"script", c.ScriptName, "header_added", injected)
		}
		_ = os.Remove(output)

		res.Attempts = attempt
		attemptStart := time.Now()
		out, code, runErr := c.spawn(ctx, logger, interp, dir, output, pythonPath, attempt)
		res.Output, res.ExitCode = out, code
		hooks.OnRunAttempt(ctx, attempt, time.Since(attemptStart), runErr)

		switch {
		case runErr == nil:
			logger.Debug("build script finished", "attempt", attempt, "duration", time.Since(attemptStart))
			return res, c.collect(res, output)
		case ctx.Err() != nil:
			return res, ctx.Err()
		case stderrors.Is(runErr, context.DeadlineExceeded):
			return res, errors.Wrap(errors.ErrCodeSubprocessTimeout, &errors.ExitError{
				ExitCode: code, Output: out, Attempts: attempt,
			}, "%s in %q did not finish within %s", c.ScriptName, dir, c.Timeout)
		case !isExitError(runErr):
			// The interpreter never ran; retrying cannot help.
			return res, errors.Wrap(errors.ErrCodeSubprocessFailure, runErr, "start %s", interp)
		}
		logger.Debug("build script attempt failed", "attempt", attempt, "exit_code", code)
	}

	return res, errors.Wrap(errors.ErrCodeSubprocessFailure, &errors.ExitError{
		ExitCode: res.ExitCode, Output: res.Output, Attempts: res.Attempts,
	}, "%s failed in %q", c.ScriptName, dir)
}

// spawn runs one attempt. A non-zero exit yields the exit code and an
// *exec.ExitError; a failure to start yields code -1. A timeout returns
// context.DeadlineExceeded.
func (r *Runner) spawn(ctx context.Context, logger *log.Logger, interp, dir, output, pythonPath string, attempt int) (string, int, error) {
	actx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := r.Args(output)
	cmd := exec.CommandContext(actx, interp, args...)
	cmd.Dir = dir
	cmd.Env = pythonEnv(os.Environ(), pythonPath)
	cmd.WaitDelay = waitDelay

	logger.Debug("spawning build script", "attempt", attempt, "dir", dir, "cmd", quoteArgv(interp, args))

	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0, nil
	}
	if stderrors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return string(out), -1, context.DeadlineExceeded
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode(), err
	}
	return string(out), -1, err
}

// collect reads and parses the output file of a successful attempt.
func (r *Runner) collect(res *Result, output string) error {
	b, err := os.ReadFile(output)
	if err != nil {
		return errors.Wrap(errors.ErrCodeMalformedOutput, err, "%s %s wrote no output", r.ScriptName, r.Command)
	}
	raw, err := metadata.Parse(b)
	if err != nil {
		return err
	}
	res.Raw = raw
	return nil
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return stderrors.As(err, &exitErr)
}

// quoteArgv renders argv as a shell command line for log output.
func quoteArgv(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{name}, args...) {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			q = a
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, " ")
}
