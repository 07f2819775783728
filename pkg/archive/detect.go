package archive

import (
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"io"
	"os"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/matzehuels/metaextract/pkg/errors"
)

// Format identifies the container format of an archive.
type Format string

// Supported container formats.
const (
	FormatTar     Format = "tar"
	FormatZip     Format = "zip"
	FormatUnknown Format = "unknown"
)

// Compression identifies the stream compression wrapped around a tar.
type Compression string

// Stream compressions recognized for tar archives.
const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
	CompressionXz    Compression = "xz"
	CompressionZstd  Compression = "zstd"
)

// Handle is an archive path together with its detected format.
// It is immutable once returned by Detect.
type Handle struct {
	Path        string
	Format      Format
	Compression Compression
}

const tarBlockSize = 512

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}

	magicZipLocal   = []byte("PK\x03\x04")
	magicZipEmpty   = []byte("PK\x05\x06")
	magicZipSpanned = []byte("PK\x07\x08")

	magicUstar = []byte("ustar")
)

// Detect inspects the content of path and reports its format.
// A path that does not reference an existing regular file fails with
// ErrCodeArchiveNotFound. Content that is neither tar nor zip yields a Handle
// with FormatUnknown and no error.
func Detect(path string) (Handle, error) {
	h := Handle{Path: path, Format: FormatUnknown, Compression: CompressionNone}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, errors.New(errors.ErrCodeArchiveNotFound, "archive %q does not exist", path)
		}
		return h, errors.Wrap(errors.ErrCodeArchiveNotFound, err, "cannot access archive %q", path)
	}
	if !info.Mode().IsRegular() {
		return h, errors.New(errors.ErrCodeArchiveNotFound, "archive %q is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return h, errors.Wrap(errors.ErrCodeArchiveNotFound, err, "open archive %q", path)
	}
	defer f.Close()

	head, err := readHead(f, tarBlockSize)
	if err != nil {
		return h, errors.Wrap(errors.ErrCodeCorruptArchive, err, "read archive %q", path)
	}

	if c := sniffCompression(head); c != CompressionNone {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return h, errors.Wrap(errors.ErrCodeCorruptArchive, err, "rewind archive %q", path)
		}
		if isCompressedTar(f, c) {
			h.Format, h.Compression = FormatTar, c
			return h, nil
		}
	} else if isTarHeader(head) {
		h.Format = FormatTar
		return h, nil
	}

	if isZip(head, f, info.Size()) {
		h.Format = FormatZip
	}
	return h, nil
}

func readHead(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:read], nil
	}
	return buf[:read], err
}

func sniffCompression(head []byte) Compression {
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return CompressionGzip
	case bytes.HasPrefix(head, magicBzip2):
		return CompressionBzip2
	case bytes.HasPrefix(head, magicXz):
		return CompressionXz
	case bytes.HasPrefix(head, magicZstd):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// decompress wraps r in a reader for the given stream compression.
func decompress(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case CompressionXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

func isCompressedTar(r io.Reader, c Compression) bool {
	rc, err := decompress(r, c)
	if err != nil {
		return false
	}
	defer rc.Close()
	head, err := readHead(rc, tarBlockSize)
	if err != nil {
		return false
	}
	return isTarHeader(head)
}

// isTarHeader reports whether block is the first header block of a tar
// archive: either a POSIX/GNU header carrying the ustar magic, or an old v7
// header whose checksum matches.
func isTarHeader(block []byte) bool {
	if len(block) < tarBlockSize {
		return false
	}
	if bytes.Equal(block[257:262], magicUstar) {
		return true
	}
	want, ok := parseOctal(block[148:156])
	if !ok {
		return false
	}
	var unsigned, signed int64
	for i, b := range block[:tarBlockSize] {
		if i >= 148 && i < 156 {
			b = ' '
		}
		unsigned += int64(b)
		signed += int64(int8(b))
	}
	return want == unsigned || want == signed
}

func parseOctal(field []byte) (int64, bool) {
	s := string(bytes.Trim(field, " \x00"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isZip(head []byte, r io.ReaderAt, size int64) bool {
	if bytes.HasPrefix(head, magicZipLocal) ||
		bytes.HasPrefix(head, magicZipEmpty) ||
		bytes.HasPrefix(head, magicZipSpanned) {
		return true
	}
	// Archives with a leading stub still carry a valid central directory.
	_, err := zip.NewReader(r, size)
	return err == nil
}
