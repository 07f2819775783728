package archive

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matzehuels/metaextract/pkg/errors"
	"github.com/matzehuels/metaextract/pkg/workdir"
)

// WorkspacePrefix prefixes every workspace directory name.
const WorkspacePrefix = "metaextract_"

// DefaultMaxBytes caps the total size of extracted file content.
const DefaultMaxBytes int64 = 1 << 30

// Option configures Extract.
type Option func(*options)

type options struct {
	maxBytes int64
	tempDir  string
}

// WithMaxBytes sets the extracted-content budget. Values <= 0 keep the default.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// WithTempDir sets the parent directory for workspaces (default os.TempDir()).
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// Workspace is an extracted archive owned by exactly one caller.
// While open, the process working directory is Root.
type Workspace struct {
	Root    string // Absolute, symlink-free path of the workspace directory
	Archive Handle // The archive the workspace was populated from

	restore func() error
	closed  bool
}

// Extract detects the format of the archive at path, unpacks it into a new
// workspace and changes the working directory to it. The caller must Close
// the workspace.
func Extract(path string, opts ...Option) (*Workspace, error) {
	o := options{maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(&o)
	}

	h, err := Detect(path)
	if err != nil {
		return nil, err
	}
	if h.Format == FormatUnknown {
		return nil, errors.New(errors.ErrCodeUnsupportedArchive, "cannot extract %q: not a tar or zip file", path)
	}

	root, err := os.MkdirTemp(o.tempDir, WorkspacePrefix)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create workspace")
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	lim := &limiter{remaining: o.maxBytes, max: o.maxBytes}
	switch h.Format {
	case FormatTar:
		err = extractTar(h, root, lim)
	case FormatZip:
		err = extractZip(h, root, lim)
	}
	if err == nil {
		err = checkLinks(root)
	}
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	restore, err := workdir.Enter(root)
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "enter workspace")
	}

	return &Workspace{Root: root, Archive: h, restore: restore}, nil
}

// Close restores the working directory that was current before Extract and
// deletes the workspace tree. Both steps always run; Close is idempotent.
func (w *Workspace) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if w.restore != nil {
		errs = append(errs, w.restore())
	}
	if err := os.RemoveAll(w.Root); err != nil {
		errs = append(errs, fmt.Errorf("remove workspace %s: %w", w.Root, err))
	}
	return stderrors.Join(errs...)
}

// With extracts the archive at path, runs fn inside the workspace and closes
// the workspace on every exit path, including panics in fn.
func With(path string, fn func(*Workspace) error, opts ...Option) (err error) {
	ws, err := Extract(path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ws)
}
