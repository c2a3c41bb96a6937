package static

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/combostatic/internal/pathutil"
)

// resolvePath maps a decoded URL path to a regular file beneath root.
//
// Returns:
// - file: absolute, symlink-resolved path of the file to serve
// - info: its stat data
// - err: non-nil only for failures that are not a plain miss
//
// A miss is reported as file == "" with a nil error.
func (h *Handler) resolvePath(urlPath string) (file string, info fs.FileInfo, err error) {
	p := urlPath
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	// basic rejection of ambiguous/unsafe paths
	if strings.Contains(p, "\x00") || strings.Contains(p, "\\") {
		return "", nil, nil
	}
	if pathutil.HasDotSegments(p) {
		return "", nil, nil
	}
	if !h.opts.Hidden && pathutil.HasHiddenSegments(p) {
		return "", nil, nil
	}

	rel := strings.TrimPrefix(path.Clean(p), "/")
	if strings.HasSuffix(p, "/") {
		if h.opts.DisableIndex {
			return "", nil, nil
		}
		rel = path.Join(rel, h.opts.Index)
	}

	file, info, err = h.stat(rel)
	if err != nil || file == "" {
		return "", nil, err
	}

	// directory -> <dir>/<index>
	if info.IsDir() {
		if h.opts.DisableIndex {
			return "", nil, nil
		}
		file, info, err = h.stat(path.Join(rel, h.opts.Index))
		if err != nil || file == "" {
			return "", nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return "", nil, nil
	}
	return file, info, nil
}

// stat resolves rel beneath root, following symlinks but refusing any target
// that leaves root.
func (h *Handler) stat(rel string) (string, fs.FileInfo, error) {
	joined := filepath.Join(h.root, filepath.FromSlash(rel))
	if !pathutil.Within(h.root, joined) {
		return "", nil, nil
	}
	target, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if pathutil.IsBenignMiss(err) {
			return "", nil, nil
		}
		return "", nil, err
	}
	if !pathutil.Within(h.root, target) {
		return "", nil, nil
	}
	info, err := os.Stat(target)
	if err != nil {
		if pathutil.IsBenignMiss(err) {
			return "", nil, nil
		}
		return "", nil, err
	}
	return target, info, nil
}
