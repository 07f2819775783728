package archive

import (
	"archive/tar"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"

	"github.com/matzehuels/metaextract/pkg/errors"
)

func extractTar(h Handle, dest string, lim *limiter) error {
	f, err := os.Open(h.Path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeArchiveNotFound, err, "open archive %q", h.Path)
	}
	defer f.Close()

	r, err := decompress(f, h.Compression)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCorruptArchive, err, "%s stream of %q", h.Compression, h.Path)
	}
	defer r.Close()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		if stderrors.Is(err, tar.ErrInsecurePath) {
			return errors.Wrap(errors.ErrCodeUnsafeArchiveEntry, err, "tar %q member %q", h.Path, hdr.Name)
		}
		if err != nil {
			return errors.Wrap(errors.ErrCodeCorruptArchive, err, "read tar %q", h.Path)
		}
		if err := extractTarEntry(tr, hdr, dest, lim); err != nil {
			return err
		}
	}
}

func extractTarEntry(tr *tar.Reader, hdr *tar.Header, dest string, lim *limiter) error {
	name := hdr.Name
	if err := errors.ValidateEntryName(name); err != nil {
		return err
	}
	target, err := memberPath(dest, name)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		dir, err := within(dest, name)
		if err != nil {
			return err
		}
		return mkdir(dir)

	case tar.TypeReg:
		return writeFile(target, tr, hdr.FileInfo().Mode(), lim)

	case tar.TypeSymlink:
		if err := errors.ValidateLinkTarget(name, hdr.Linkname); err != nil {
			return err
		}
		// Resolve from the link's real location: its parent may itself be a link.
		hops := 0
		if _, err := walk(dest, filepath.Dir(target), filepath.ToSlash(hdr.Linkname), &hops); err != nil {
			return errors.Wrap(errors.ErrCodeUnsafeArchiveEntry, err, "link %q -> %q", name, hdr.Linkname)
		}
		if err := mkdir(filepath.Dir(target)); err != nil {
			return err
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "create symlink %s", name)
		}
		return nil

	case tar.TypeLink:
		// Hard link targets are archive member names, not relative paths.
		if err := errors.ValidateEntryName(hdr.Linkname); err != nil {
			return err
		}
		src, err := within(dest, hdr.Linkname)
		if err != nil {
			return errors.Wrap(errors.ErrCodeUnsafeArchiveEntry, err, "hard link %q -> %q", name, hdr.Linkname)
		}
		if err := mkdir(filepath.Dir(target)); err != nil {
			return err
		}
		_ = os.Remove(target)
		if err := os.Link(src, target); err != nil {
			return errors.Wrap(errors.ErrCodeCorruptArchive, err, "create hard link %s", name)
		}
		return nil

	default:
		// Devices, fifos and vendor extensions carry nothing a build script needs.
		return nil
	}
}
