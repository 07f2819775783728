package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/metaextract/pkg/archive"
	"github.com/matzehuels/metaextract/pkg/buildscript"
	"github.com/matzehuels/metaextract/pkg/cache"
	"github.com/matzehuels/metaextract/pkg/errors"
	"github.com/matzehuels/metaextract/pkg/metadata"
	"github.com/matzehuels/metaextract/pkg/observability"
	"github.com/matzehuels/metaextract/pkg/resolve"
)

// cacheKeyType labels cache events for metrics.
const cacheKeyType = "metadata"

// workdirSlot serializes extractions process-wide: the working directory
// they change is global.
var workdirSlot = make(chan struct{}, 1)

// Runner encapsulates pipeline execution with caching.
// Both CLI and API use it so caching and serialization live in one place.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
	TTL    time.Duration // Cache entry lifetime (default cache.TTLMetadata)

	group singleflight.Group
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cache:  c,
		Keyer:  keyer,
		Logger: logger,
		TTL:    cache.TTLMetadata,
	}
}

// Execute extracts metadata from opts.Archive, consulting the cache first.
func (r *Runner) Execute(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	r.applyLogger(&opts)

	handle, err := archive.Detect(opts.Archive)
	if err != nil {
		return nil, err
	}
	if handle.Format == archive.FormatUnknown {
		return nil, errors.New(errors.ErrCodeUnsupportedArchive, "cannot extract %q: not a tar or zip file", handle.Path)
	}
	hash, err := cache.HashFile(handle.Path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeArchiveNotFound, err, "read archive %q", handle.Path)
	}

	interp, err := buildscript.ResolveInterpreter(opts.Interpreter)
	if err != nil {
		return nil, err
	}
	opts.Interpreter = interp

	key := r.Keyer.MetadataKey(hash, cache.MetadataKeyOpts{
		Interpreter:   interp,
		ScriptName:    opts.ScriptName,
		SchemaVersion: metadata.SchemaVersion,
	})

	if !opts.Refresh {
		if doc, ok := r.lookup(ctx, key, opts.Logger); ok {
			opts.Logger.Info("using cached metadata", "archive", handle.Path, "sha256", hash[:12])
			return &Result{
				Document:    doc,
				ArchiveHash: hash,
				Format:      handle.Format,
				CacheHit:    true,
				Stats:       Stats{TotalTime: time.Since(start)},
			}, nil
		}
	}

	v, err, shared := r.group.Do(flightKey(key, opts), func() (any, error) {
		res, err := r.extract(ctx, opts)
		if err != nil {
			return nil, err
		}
		res.ArchiveHash = hash
		r.store(ctx, key, res.Document, opts.Logger)
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	res := *v.(*Result)
	if shared {
		opts.Logger.Debug("joined in-flight extraction", "sha256", hash[:12])
	}
	res.Stats.TotalTime = time.Since(start)
	return &res, nil
}

// flightKey extends the cache key with the limits a run is executed under,
// so callers with different limits never share a result.
func flightKey(key string, opts Options) string {
	return fmt.Sprintf("%s|%s|%d|%s", key, opts.Timeout, opts.MaxArchiveBytes, opts.PluginDir)
}

// extract runs the four stages while holding the working directory slot.
func (r *Runner) extract(ctx context.Context, opts Options) (*Result, error) {
	select {
	case workdirSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-workdirSlot }()

	logger := opts.Logger
	hooks := observability.Pipeline()
	res := &Result{}

	extractStart := time.Now()
	extracted := false
	hooks.OnExtractStart(ctx, opts.Archive)

	err := archive.With(opts.Archive, func(ws *archive.Workspace) error {
		extracted = true
		res.Format = ws.Archive.Format
		res.Stats.ExtractTime = time.Since(extractStart)
		hooks.OnExtractComplete(ctx, opts.Archive, string(ws.Archive.Format), res.Stats.ExtractTime, nil)
		logger.Info("extracted archive",
			"archive", opts.Archive,
			"format", ws.Archive.Format,
			"compression", ws.Archive.Compression,
			"duration", res.Stats.ExtractTime)

		dir, restore, err := resolve.Enter(ws.Root)
		if err != nil {
			return err
		}
		defer func() {
			if err := restore(); err != nil {
				logger.Warn("restore working directory", "error", err)
			}
		}()
		if rel, err := filepath.Rel(ws.Root, dir); err == nil {
			res.SourceDir = rel
		}
		logger.Debug("resolved source directory", "dir", res.SourceDir)

		runner := &buildscript.Runner{
			Interpreter: opts.Interpreter,
			ScriptName:  opts.ScriptName,
			PluginDir:   opts.PluginDir,
			Timeout:     opts.Timeout,
			Logger:      logger,
		}
		runStart := time.Now()
		out, err := runner.Run(ctx, dir)
		if err != nil {
			return err
		}
		res.Stats.RunTime = time.Since(runStart)
		res.Retried = out.EncodingRetry
		res.Attempts = out.Attempts
		logger.Info("ran build script",
			"attempts", out.Attempts,
			"encoding_retry", out.EncodingRetry,
			"duration", res.Stats.RunTime)

		if out.Raw.Version != metadata.SchemaVersion {
			logger.Warn("inspection output has unexpected version",
				"got", out.Raw.Version, "want", metadata.SchemaVersion)
		}
		res.Document = metadata.Normalize(out.Raw)
		return nil
	}, archive.WithMaxBytes(opts.MaxArchiveBytes))

	if !extracted {
		hooks.OnExtractComplete(ctx, opts.Archive, "", time.Since(extractStart), err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// lookup returns a cached document for key. Undecodable entries count as
// misses.
func (r *Runner) lookup(ctx context.Context, key string, logger *log.Logger) (*metadata.Document, bool) {
	data, hit, err := r.Cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache read failed", "error", err)
	}
	if err != nil || !hit {
		observability.Cache().OnCacheMiss(ctx, cacheKeyType)
		return nil, false
	}
	doc, err := metadata.Unmarshal(data)
	if err != nil {
		logger.Debug("discarding undecodable cache entry", "error", err)
		observability.Cache().OnCacheMiss(ctx, cacheKeyType)
		return nil, false
	}
	observability.Cache().OnCacheHit(ctx, cacheKeyType)
	return doc, true
}

// store writes doc to the cache. Failures are logged, never returned.
func (r *Runner) store(ctx context.Context, key string, doc *metadata.Document, logger *log.Logger) {
	data, err := doc.Marshal(metadata.FileIndent)
	if err != nil {
		logger.Warn("cache encode failed", "error", fmt.Errorf("marshal document: %w", err))
		return
	}
	if err := r.Cache.Set(ctx, key, data, r.TTL); err != nil {
		logger.Warn("cache write failed", "error", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, cacheKeyType, len(data))
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
