package archive

import (
	"archive/zip"
	stderrors "errors"
	"strings"

	"github.com/matzehuels/metaextract/pkg/errors"
)

func extractZip(h Handle, dest string, lim *limiter) error {
	zr, err := zip.OpenReader(h.Path)
	if stderrors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return errors.Wrap(errors.ErrCodeUnsafeArchiveEntry, err, "zip %q", h.Path)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeCorruptArchive, err, "open zip %q", h.Path)
	}
	defer zr.Close()

	for _, f := range zr.File {
		// Archives written on Windows may use backslashes.
		name := strings.ReplaceAll(f.Name, `\`, "/")
		if err := errors.ValidateEntryName(name); err != nil {
			return err
		}
		target, err := memberPath(dest, name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			if err := mkdir(target); err != nil {
				return err
			}
			continue
		}

		if err := extractZipFile(f, target, lim); err != nil {
			return err
		}
	}
	return nil
}

// extractZipFile writes one member as a regular file. Symlink members are
// written as plain files holding the link text.
func extractZipFile(f *zip.File, target string, lim *limiter) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrap(errors.ErrCodeCorruptArchive, err, "open zip member %s", f.Name)
	}
	defer rc.Close()
	mode := f.Mode()
	if !mode.IsRegular() {
		mode = 0o644
	}
	return writeFile(target, rc, mode, lim)
}

