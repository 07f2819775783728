package buildscript

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
)

// EncodingHeader is the declaration prepended before the retry attempt.
const EncodingHeader = "# -*- coding: utf-8 -*-\n"

// codingDecl matches a PEP 263 source encoding declaration.
var codingDecl = regexp.MustCompile(`^[ \t\f]*#.*?coding[:=][ \t]*[-_.a-zA-Z0-9]+`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// HasEncodingDeclaration reports whether src already tells the interpreter
// its encoding: a UTF-8 byte order mark, or a coding comment on line 1 or 2.
func HasEncodingDeclaration(src []byte) bool {
	if bytes.HasPrefix(src, utf8BOM) {
		return true
	}
	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 4096), len(src)+1)
	for i := 0; i < 2 && sc.Scan(); i++ {
		if codingDecl.Match(sc.Bytes()) {
			return true
		}
	}
	return false
}

// InjectEncodingHeader prepends EncodingHeader to the file at path unless it
// already declares an encoding. It reports whether the file was changed.
// The file's permissions are preserved.
func InjectEncodingHeader(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat build script: %w", err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read build script: %w", err)
	}
	if HasEncodingDeclaration(src) {
		return false, nil
	}

	buf := make([]byte, 0, len(EncodingHeader)+len(src))
	buf = append(buf, EncodingHeader...)
	buf = append(buf, src...)
	if err := os.WriteFile(path, buf, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write build script: %w", err)
	}
	return true, nil
}
