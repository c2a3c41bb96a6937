package pathutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// HasHiddenSegments reports whether any path segment starts with a dot,
// such as ".git" or ".env". "." and ".." count as hidden too.
func HasHiddenSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// Within reports whether p, once cleaned, is root itself or lies beneath it.
// Both arguments are filesystem paths; root is expected to be clean and absolute.
func Within(root, p string) bool {
	root = filepath.Clean(root)
	p = filepath.Clean(p)
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(p, prefix)
}

// IsBenignMiss reports whether a filesystem error only means "nothing
// servable here": the file is absent, the name is too long, or a path
// segment is not a directory. Anything else is a real failure.
func IsBenignMiss(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ENAMETOOLONG) ||
		errors.Is(err, syscall.ENOTDIR)
}
