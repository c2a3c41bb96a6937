package static

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/keithlinneman/combostatic/internal/httpmw"
	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/pathutil"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

type Handler struct {
	root string
	opts Options
}

func New(root string, opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %v", ErrInvalidOptions, root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %v", ErrInvalidOptions, root, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q: %v", ErrInvalidOptions, root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: root %q is not a directory", ErrInvalidOptions, root)
	}

	return &Handler{root: resolved, opts: opts}, nil
}

func (h *Handler) Root() string { return h.root }

// Middleware serves files for GET and HEAD and hands everything else, and
// every miss, to next.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	if h.opts.Defer {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.serveDeferred(w, r, next)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafe(r.Method) && h.serveFile(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) serveDeferred(w http.ResponseWriter, r *http.Request, next http.Handler) {
	buf := httpmw.NewResponseBuffer(w)
	next.ServeHTTP(buf, r)

	if !isSafe(r.Method) || answered(buf) {
		_ = buf.FlushTo(w)
		return
	}
	if h.serveFile(w, r) {
		return
	}
	_ = buf.FlushTo(w)
}

// answered reports whether downstream produced a response worth keeping.
// Writing nothing, or a 404, counts as not answering.
func answered(buf *httpmw.ResponseBuffer) bool {
	return buf.Written() && buf.Status() != http.StatusNotFound
}

// serveFile writes the file for r and reports whether it did. Plain misses
// return false so the caller can continue; other filesystem failures are
// answered with 500.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()

	file, info, err := h.resolvePath(r.URL.Path)
	if err != nil {
		h.fail(w, r, xerrors.Wrapf(err, "resolve %q", r.URL.Path))
		return true
	}
	if file == "" {
		return false
	}

	f, err := os.Open(file)
	if err != nil {
		if pathutil.IsBenignMiss(err) {
			// removed between stat and open
			return false
		}
		h.fail(w, r, xerrors.Wrapf(err, "open %q", r.URL.Path))
		return true
	}
	defer f.Close()

	log.FromContext(ctx).Debug(ctx, "static file", "path", r.URL.Path, "size", info.Size())

	if s, ok := w.(httpmw.FileInfoSetter); ok {
		s.SetFileInfo(info)
	}
	w.Header().Set("Cache-Control", cacheControl(h.opts.MaxAge))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log.FromContextOr(ctx, h.opts.Logger).Error(ctx, xerrors.EnsureTrace(err), "static file failed", "path", r.URL.Path)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func isSafe(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
