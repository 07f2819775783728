// Package cli implements the metaextract command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/metaextract/pkg/buildinfo"
	"github.com/matzehuels/metaextract/pkg/cache"
	"github.com/matzehuels/metaextract/pkg/config"
	"github.com/matzehuels/metaextract/pkg/metadata"
	"github.com/matzehuels/metaextract/pkg/pipeline"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "metaextract"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Config config.Config

	configPath string
	getenv     func(string) string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		Config: config.Default(),
		getenv: os.Getenv,
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// extractFlags holds the flags of the root command.
type extractFlags struct {
	interpreter string
	scriptName  string
	timeout     time.Duration
	format      string
	output      string
	noCache     bool
	refresh     bool
}

// RootCommand creates the root cobra command with all subcommands registered.
// The root command itself extracts metadata from one archive.
func (c *CLI) RootCommand() *cobra.Command {
	var flags extractFlags

	root := &cobra.Command{
		Use:   "metaextract [flags] <archive>",
		Short: "Extract packaging metadata from Python source distributions",
		Long: `metaextract unpacks a Python sdist (tar or zip), runs its setup.py under an
inspection command and prints the package metadata as JSON, without
installing anything.`,
		Example: `  metaextract requests-2.31.0.tar.gz
  metaextract --format yaml -o meta.yaml pkg-1.0.zip
  metaextract --interpreter python3.12 --no-cache pkg-1.0.tar.bz2`,
		Version:      buildinfo.Version,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.loadConfig(); err != nil {
				return err
			}
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c.applyExtractFlags(cmd, flags)
			return c.runExtract(cmd, args[0], flags)
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/metaextract/config.toml)")
	root.PersistentFlags().StringVarP(&flags.interpreter, "interpreter", "p", "", "python interpreter used to run setup.py (default python3 from PATH)")
	root.PersistentFlags().BoolVar(&flags.noCache, "no-cache", false, "disable the result cache")

	root.Flags().StringVar(&flags.scriptName, "script", "", "build script file name (default setup.py)")
	root.Flags().DurationVar(&flags.timeout, "timeout", 0, "time limit for each build script attempt (default 5m)")
	root.Flags().StringVarP(&flags.format, "format", "f", "json", "output format: json or yaml")
	root.Flags().StringVarP(&flags.output, "output", "o", "", "write the document to a file instead of stdout")
	root.Flags().BoolVar(&flags.refresh, "refresh", false, "ignore cached results and run the build script again")

	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.serveCommand(&flags))
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads the config file and environment into c.Config.
func (c *CLI) loadConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(c.getenv); err != nil {
		return err
	}
	c.Config = cfg
	c.Logger.Debug("loaded configuration", "interpreter", cfg.Interpreter, "cache", cfg.Cache.Backend)
	return nil
}

// applyExtractFlags overrides configuration with explicitly set flags.
func (c *CLI) applyExtractFlags(cmd *cobra.Command, flags extractFlags) {
	if cmd.Flags().Changed("interpreter") {
		c.Config.Interpreter = flags.interpreter
	}
	if cmd.Flags().Changed("script") {
		c.Config.ScriptName = flags.scriptName
	}
	if cmd.Flags().Changed("timeout") {
		c.Config.Timeout = config.Duration{Duration: flags.timeout}
	}
	if flags.noCache {
		c.Config.Cache.Backend = cache.BackendNone
	}
}

// =============================================================================
// Extraction
// =============================================================================

func (c *CLI) runExtract(cmd *cobra.Command, archivePath string, flags extractFlags) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	format, err := metadata.ParseFormat(flags.format)
	if err != nil {
		return err
	}

	runner, closeRunner, err := c.newRunner(ctx)
	if err != nil {
		return err
	}
	defer closeRunner()

	prog := newProgress(logger)
	res, err := runner.Execute(ctx, c.pipelineOptions(archivePath, flags.refresh))
	if err != nil {
		return err
	}
	status := "extracted"
	if res.CacheHit {
		status = "cached"
	}
	prog.done(fmt.Sprintf("Metadata for %s %s", archivePath, status))

	if flags.output == "" {
		return res.Document.Encode(cmd.OutOrStdout(), format, metadata.ConsoleIndent)
	}
	return writeDocument(flags.output, res.Document, format)
}

// pipelineOptions builds extraction options from the effective configuration.
func (c *CLI) pipelineOptions(archivePath string, refresh bool) pipeline.Options {
	return pipeline.Options{
		Archive:         archivePath,
		Interpreter:     c.Config.Interpreter,
		ScriptName:      c.Config.ScriptName,
		Timeout:         c.Config.Timeout.Duration,
		MaxArchiveBytes: c.Config.MaxArchiveBytes,
		Refresh:         refresh,
	}
}

// writeDocument writes doc to path using the file indentation.
func writeDocument(path string, doc *metadata.Document, format metadata.Format) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close output file: %w", cerr)
		}
	}()
	return doc.Encode(f, format, metadata.FileIndent)
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner for CLI use. The returned function
// closes the cache.
func (c *CLI) newRunner(ctx context.Context) (*pipeline.Runner, func(), error) {
	store, err := c.openCache(ctx)
	if err != nil {
		return nil, nil, err
	}
	r := pipeline.NewRunner(store, c.keyer(), c.Logger)
	if c.Config.Cache.TTL.Duration > 0 {
		r.TTL = c.Config.Cache.TTL.Duration
	}
	return r, func() { _ = store.Close() }, nil
}

// keyer returns the cache keyer, scoped by the configured namespace.
func (c *CLI) keyer() cache.Keyer {
	if ns := c.Config.Cache.Namespace; ns != "" {
		return cache.NewScopedKeyer(nil, ns+":")
	}
	return cache.NewDefaultKeyer()
}

// openCache opens the configured cache. A local cache that cannot be
// created degrades to no caching; a configured Redis that is unreachable is
// an error.
func (c *CLI) openCache(ctx context.Context) (cache.Cache, error) {
	opts := c.Config.CacheOptions()
	if opts.Backend == cache.BackendFile || opts.Backend == "" {
		dir, err := cacheDir(c.Config)
		if err != nil {
			c.Logger.Warn("cache disabled", "error", err)
			return cache.NewNullCache(), nil
		}
		opts.Dir = dir
	}
	store, err := cache.Open(ctx, opts)
	if err != nil {
		if opts.Backend == cache.BackendRedis {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		c.Logger.Warn("cache disabled", "error", err)
		return cache.NewNullCache(), nil
	}
	return store, nil
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the configured cache directory or the XDG default
// (~/.cache/metaextract/).
func cacheDir(cfg config.Config) (string, error) {
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	return cache.DefaultDir()
}
