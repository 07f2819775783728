package archive

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/matzehuels/metaextract/pkg/errors"
)

const dirPerm = 0o755

// limiter enforces the extracted-bytes budget across all members.
type limiter struct {
	remaining int64
	max       int64
}

func (l *limiter) copy(dst io.Writer, src io.Reader, name string) error {
	n, err := io.Copy(dst, io.LimitReader(src, l.remaining+1))
	l.remaining -= n
	if l.remaining < 0 {
		return errors.New(errors.ErrCodeArchiveTooLarge, "archive content exceeds %d bytes (at %s)", l.max, name)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeCorruptArchive, err, "extract %s", name)
	}
	return nil
}

func mkdir(path string) error {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create directory %s", path)
	}
	return nil
}

// writeFile creates path with the member's permission bits. Owner read and
// write are always granted: the build script runner may rewrite files.
func writeFile(path string, r io.Reader, mode os.FileMode, lim *limiter) (err error) {
	if err := mkdir(filepath.Dir(path)); err != nil {
		return err
	}
	_ = os.Remove(path)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0o600)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create %s", path)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.Wrap(errors.ErrCodeInternal, cerr, "close %s", path)
		}
	}()

	return lim.copy(out, r, filepath.Base(path))
}

// maxLinkHops bounds symlink resolution, like the kernel's ELOOP limit.
const maxLinkHops = 40

// within maps the slash-separated member path rel onto the filesystem below
// root, following symlinks that earlier members created. Any step that leaves
// root fails with UNSAFE_ARCHIVE_ENTRY. Missing components are taken as
// plain directories.
func within(root, rel string) (string, error) {
	hops := 0
	return walk(root, root, rel, &hops)
}

func walk(root, cur, rel string, hops *int) (string, error) {
	for _, part := range strings.Split(rel, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if cur == root {
				return "", errors.New(errors.ErrCodeUnsafeArchiveEntry, "path %q escapes the workspace", rel)
			}
			cur = filepath.Dir(cur)
			continue
		}

		next := filepath.Join(cur, part)
		fi, err := os.Lstat(next)
		if err != nil || fi.Mode()&os.ModeSymlink == 0 {
			cur = next
			continue
		}

		*hops++
		if *hops > maxLinkHops {
			return "", errors.New(errors.ErrCodeUnsafeArchiveEntry, "too many levels of symbolic links in %q", rel)
		}
		link, err := os.Readlink(next)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeInternal, err, "read symlink %s", next)
		}
		if filepath.IsAbs(link) {
			return "", errors.New(errors.ErrCodeUnsafeArchiveEntry, "symlink %s points to absolute path %q", next, link)
		}
		if cur, err = walk(root, cur, filepath.ToSlash(link), hops); err != nil {
			return "", err
		}
	}
	return cur, nil
}

// memberPath returns where member name is created: its parent directory is
// resolved through existing symlinks, the final component is not.
func memberPath(root, name string) (string, error) {
	name = strings.TrimSuffix(name, "/")
	parent, err := within(root, path.Dir(name))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUnsafeArchiveEntry, err, "archive entry %q", name)
	}
	return filepath.Join(parent, path.Base(name)), nil
}

// checkLinks verifies that every symlink in the extracted tree resolves
// inside root. Link targets may change meaning as later members arrive, so
// this runs once the whole archive is on disk.
func checkLinks(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "scan workspace")
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "scan workspace")
		}
		if _, err := within(root, filepath.ToSlash(rel)); err != nil {
			return errors.Wrap(errors.ErrCodeUnsafeArchiveEntry, err, "symlink %q", filepath.ToSlash(rel))
		}
		return nil
	})
}
