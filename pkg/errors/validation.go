package errors

import (
	"path"
	"strings"
	"unicode"
)

// maxEntryNameLength bounds archive member names; tar and zip both allow
// longer names but no real source distribution needs them.
const maxEntryNameLength = 4096

// ValidateEntryName validates an archive member name before it is joined onto
// the workspace directory. It rejects names that could be used to write
// outside the workspace.
//
// Validation rules:
//   - Name cannot be empty
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No ".." path components
//
// Names are expected in slash form; callers convert backslashes first.
func ValidateEntryName(name string) error {
	if name == "" {
		return New(ErrCodeUnsafeArchiveEntry, "archive entry name cannot be empty")
	}

	if len(name) > maxEntryNameLength {
		return New(ErrCodeUnsafeArchiveEntry, "archive entry name too long (max %d characters)", maxEntryNameLength)
	}

	for _, r := range name {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeUnsafeArchiveEntry, "archive entry %q contains invalid characters", name)
		}
	}

	if strings.HasPrefix(name, "/") || hasDriveLetter(name) {
		return New(ErrCodeUnsafeArchiveEntry, "archive entry %q must be relative", name)
	}

	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return New(ErrCodeUnsafeArchiveEntry, "archive entry %q escapes the workspace", name)
		}
	}

	return nil
}

// ValidateLinkTarget validates the target of a symlink or hard link entry.
// The target is resolved relative to the directory holding the link and must
// stay inside the workspace.
func ValidateLinkTarget(name, target string) error {
	if target == "" {
		return New(ErrCodeUnsafeArchiveEntry, "link %q has an empty target", name)
	}
	if strings.HasPrefix(target, "/") || hasDriveLetter(target) {
		return New(ErrCodeUnsafeArchiveEntry, "link %q points to absolute path %q", name, target)
	}
	resolved := path.Clean(path.Join(path.Dir(name), target))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return New(ErrCodeUnsafeArchiveEntry, "link %q points outside the workspace (%q)", name, target)
	}
	return nil
}

// ValidateScriptName validates a build script filename.
// It must be a simple basename without path components.
func ValidateScriptName(filename string) error {
	if filename == "" {
		return New(ErrCodeInvalidInput, "build script name cannot be empty")
	}

	if strings.ContainsAny(filename, "/\\") {
		return New(ErrCodeInvalidInput, "build script name cannot contain path separators")
	}

	if filename == "." || filename == ".." {
		return New(ErrCodeInvalidInput, "build script name %q is not a file name", filename)
	}

	return nil
}

func hasDriveLetter(name string) bool {
	return len(name) >= 2 && name[1] == ':' &&
		((name[0] >= 'a' && name[0] <= 'z') || (name[0] >= 'A' && name[0] <= 'Z'))
}
