// Package pipeline composes the extraction stages into one call that the
// CLI and the HTTP API share.
//
// # Architecture
//
// An extraction runs these stages in order:
//
//  1. Extract: unpack the archive into a private workspace ([archive])
//  2. Resolve: descend into the single top-level directory, if any ([resolve])
//  3. Run: execute the build script under the inspection command ([buildscript])
//  4. Normalize: sort list fields and stamp the schema version ([metadata])
//
// Results are cached by archive content hash, so re-running over the same
// sdist is a cache lookup.
//
// # Concurrency
//
// Extraction and resolution change the process working directory, which is
// shared by every goroutine. Runner therefore lets one extraction proceed at a
// time, process-wide. Identical concurrent requests (same archive bytes and
// options) share one execution.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, nil, logger)
//	result, err := runner.Execute(ctx, pipeline.Options{Archive: "requests-2.31.0.tar.gz"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = result.Document.Encode(os.Stdout, metadata.FormatJSON, metadata.ConsoleIndent)
package pipeline

import (
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/metaextract/pkg/archive"
	"github.com/matzehuels/metaextract/pkg/buildscript"
	"github.com/matzehuels/metaextract/pkg/errors"
	"github.com/matzehuels/metaextract/pkg/metadata"
)

// Options configures a single extraction.
type Options struct {
	Archive         string        // Path to the sdist archive
	Interpreter     string        // Python interpreter; empty resolves from PATH
	ScriptName      string        // Build script name (default setup.py)
	Timeout         time.Duration // Per-attempt build script limit
	MaxArchiveBytes int64         // Cap on extracted bytes
	PluginDir       string        // Installed inspection command package, if any
	Refresh         bool          // Ignore cached results (still writes the new one)

	Logger *log.Logger
}

// ValidateAndSetDefaults checks required fields and fills defaults.
// A relative Archive is made absolute against the current working directory.
func (o *Options) ValidateAndSetDefaults() error {
	if o.Archive == "" {
		return errors.New(errors.ErrCodeInvalidInput, "archive path is required")
	}
	if abs, err := filepath.Abs(o.Archive); err == nil {
		o.Archive = abs
	}
	if o.ScriptName == "" {
		o.ScriptName = buildscript.DefaultScriptName
	}
	if err := errors.ValidateScriptName(o.ScriptName); err != nil {
		return err
	}
	if o.Timeout <= 0 {
		o.Timeout = buildscript.DefaultTimeout
	}
	if o.MaxArchiveBytes <= 0 {
		o.MaxArchiveBytes = archive.DefaultMaxBytes
	}
	return nil
}

// Result is the outcome of a successful extraction.
type Result struct {
	Document    *metadata.Document
	ArchiveHash string         // SHA-256 of the archive bytes
	Format      archive.Format // Detected archive format
	SourceDir   string         // Resolved directory relative to the workspace root ("." for none)
	CacheHit    bool
	Retried     bool // The build script needed the encoding header retry
	Attempts    int
	Stats       Stats
}

// Stats records stage timings.
type Stats struct {
	ExtractTime time.Duration
	RunTime     time.Duration
	TotalTime   time.Duration
}
