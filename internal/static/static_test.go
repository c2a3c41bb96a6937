package static

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/combostatic/internal/httpmw"
	"github.com/keithlinneman/combostatic/internal/log"
)

// ---------------------------------------------------------------------------
// test fixtures
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, root, rel, data string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// testRoot builds a site tree in a temp dir.
func testRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "index.html", "html index")
	writeFile(t, root, "index.txt", "text index")
	writeFile(t, root, "hello.txt", "world")
	writeFile(t, root, "css.css", "css")
	writeFile(t, root, "world/index.html", "html index")
	writeFile(t, root, "noindex/file.txt", "x")
	writeFile(t, root, ".hidden", "hidden")
	writeFile(t, root, ".dir/inside.txt", "inside")
	return root
}

func newTestHandler(t *testing.T, root string, opts Options) *Handler {
	t.Helper()
	opts.Logger = log.Nop()
	h, err := New(root, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

// teapot marks requests that reached the rest of the chain.
var teapot = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

var notFound = http.HandlerFunc(http.NotFound)

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

// ---------------------------------------------------------------------------
// New: validation
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{})
	if h.opts.Index != "index.html" {
		t.Fatalf("Index = %q", h.opts.Index)
	}
	if !filepath.IsAbs(h.Root()) {
		t.Fatalf("Root() not absolute: %q", h.Root())
	}
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), Options{})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
}

func TestNew_RootIsFile(t *testing.T) {
	root := testRoot(t)
	_, err := New(filepath.Join(root, "hello.txt"), Options{})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
}

func TestNew_BadIndex(t *testing.T) {
	for _, idx := range []string{"a/b.html", "..", `a\b`} {
		_, err := New(testRoot(t), Options{Index: idx})
		if !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("Index %q: err = %v, want ErrInvalidOptions", idx, err)
		}
	}
}

func TestNew_NegativeMaxAge(t *testing.T) {
	_, err := New(testRoot(t), Options{MaxAge: -time.Second})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
}

// ---------------------------------------------------------------------------
// Middleware: serving
// ---------------------------------------------------------------------------

func TestServe_File(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)
	rec := serve(h, http.MethodGet, "/hello.txt")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "world" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec.Header().Get("Last-Modified") == "" {
		t.Fatalf("Last-Modified missing")
	}
	if rec.Header().Get("Content-Length") != "5" {
		t.Fatalf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}
}

func TestServe_Head(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)
	rec := serve(h, http.MethodHead, "/css.css")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("HEAD body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != "3" {
		t.Fatalf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}
}

func TestServe_QueryIgnored(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)
	rec := serve(h, http.MethodGet, "/css.css?t=1")
	if rec.Code != http.StatusOK || rec.Body.String() != "css" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestServe_MissFallsThrough(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)
	rec := serve(h, http.MethodGet, "/nope.txt")
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want fall-through", rec.Code)
	}
}

func TestServe_PostFallsThrough(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(notFound)
	rec := serve(h, http.MethodPost, "/hello.txt")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServe_CacheControl(t *testing.T) {
	tests := []struct {
		maxAge time.Duration
		want   string
	}{
		{0, "max-age=0"},
		{time.Hour, "max-age=3600"},
		{1500 * time.Millisecond, "max-age=1"},
	}
	for _, tt := range tests {
		h := newTestHandler(t, testRoot(t), Options{MaxAge: tt.maxAge}).Middleware(teapot)
		rec := serve(h, http.MethodGet, "/hello.txt")
		if got := rec.Header().Get("Cache-Control"); got != tt.want {
			t.Fatalf("MaxAge %v: Cache-Control = %q, want %q", tt.maxAge, got, tt.want)
		}
	}
}

func TestServe_IfModifiedSince(t *testing.T) {
	root := testRoot(t)
	mod := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.Chtimes(filepath.Join(root, "hello.txt"), mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	h := newTestHandler(t, root, Options{}).Middleware(teapot)

	req := httptest.NewRequest(http.MethodGet, "/hello.txt", nil)
	req.Header.Set("If-Modified-Since", mod.Add(time.Hour).Format(http.TimeFormat))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec.Code)
	}
}

func TestServe_ReportsFileInfo(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)

	rec := httptest.NewRecorder()
	buf := httpmw.NewResponseBuffer(rec)
	h.ServeHTTP(buf, httptest.NewRequest(http.MethodGet, "/css.css", nil))

	fi := buf.FileInfo()
	if fi == nil {
		t.Fatalf("file info not reported")
	}
	if fi.Size() != 3 || fi.Name() != "css.css" {
		t.Fatalf("file info = %s/%d", fi.Name(), fi.Size())
	}
}

// ---------------------------------------------------------------------------
// Middleware: index resolution
// ---------------------------------------------------------------------------

func TestIndex_Root(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)
	rec := serve(h, http.MethodGet, "/")

	if rec.Code != http.StatusOK || rec.Body.String() != "html index" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestIndex_Custom(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{Index: "index.txt"}).Middleware(teapot)
	rec := serve(h, http.MethodGet, "/")

	if rec.Code != http.StatusOK || rec.Body.String() != "text index" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestIndex_Subdir(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)

	for _, p := range []string{"/world/", "/world"} {
		rec := serve(h, http.MethodGet, p)
		if rec.Code != http.StatusOK || rec.Body.String() != "html index" {
			t.Fatalf("%s: status = %d body = %q", p, rec.Code, rec.Body.String())
		}
	}
}

func TestIndex_MissingInDir(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)
	rec := serve(h, http.MethodGet, "/noindex/")
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want fall-through", rec.Code)
	}
}

func TestIndex_Disabled(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{DisableIndex: true}).Middleware(teapot)

	for _, p := range []string{"/", "/world/", "/world"} {
		rec := serve(h, http.MethodGet, p)
		if rec.Code != http.StatusTeapot {
			t.Fatalf("%s: status = %d, want fall-through", p, rec.Code)
		}
	}
	// plain files still work
	rec := serve(h, http.MethodGet, "/hello.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Middleware: path safety
// ---------------------------------------------------------------------------

func TestHidden_RejectedByDefault(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{}).Middleware(teapot)

	for _, p := range []string{"/.hidden", "/.dir/inside.txt"} {
		rec := serve(h, http.MethodGet, p)
		if rec.Code != http.StatusTeapot {
			t.Fatalf("%s: status = %d, want fall-through", p, rec.Code)
		}
	}
}

func TestHidden_Allowed(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{Hidden: true}).Middleware(teapot)

	rec := serve(h, http.MethodGet, "/.hidden")
	if rec.Code != http.StatusOK || rec.Body.String() != "hidden" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	rec = serve(h, http.MethodGet, "/.dir/inside.txt")
	if rec.Code != http.StatusOK || rec.Body.String() != "inside" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestResolvePath_Unsafe(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{Hidden: true})

	for _, p := range []string{
		"/../etc/passwd",
		"/world/../hello.txt",
		"/./hello.txt",
		"/hello.txt\x00",
		`/world\index.html`,
	} {
		file, _, err := h.resolvePath(p)
		if err != nil {
			t.Fatalf("%q: err = %v", p, err)
		}
		if file != "" {
			t.Fatalf("%q resolved to %q", p, file)
		}
	}
}

func TestResolvePath_SymlinkEscape(t *testing.T) {
	root := testRoot(t)
	outside := t.TempDir()
	writeFile(t, outside, "secret.txt", "secret")
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "hello.txt"), filepath.Join(root, "inside.txt")); err != nil {
		t.Skipf("symlink: %v", err)
	}

	h := newTestHandler(t, root, Options{})
	if file, _, _ := h.resolvePath("/link.txt"); file != "" {
		t.Fatalf("escaping symlink resolved to %q", file)
	}
	if file, _, _ := h.resolvePath("/inside.txt"); file == "" {
		t.Fatalf("symlink within root should resolve")
	}
}

func TestResolvePath_NotDir(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{})
	file, _, err := h.resolvePath("/hello.txt/more")
	if err != nil || file != "" {
		t.Fatalf("file = %q err = %v", file, err)
	}
}

// ---------------------------------------------------------------------------
// Middleware: defer mode
// ---------------------------------------------------------------------------

func TestDefer_ServesWhenDownstreamSilent(t *testing.T) {
	silent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := newTestHandler(t, testRoot(t), Options{Defer: true}).Middleware(silent)

	rec := serve(h, http.MethodGet, "/hello.txt")
	if rec.Code != http.StatusOK || rec.Body.String() != "world" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestDefer_ServesAfterDownstream404(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{Defer: true}).Middleware(notFound)

	rec := serve(h, http.MethodGet, "/hello.txt")
	if rec.Code != http.StatusOK || rec.Body.String() != "world" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestDefer_DownstreamBodyWins(t *testing.T) {
	hey := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hey"))
	})
	h := newTestHandler(t, testRoot(t), Options{Defer: true}).Middleware(hey)

	rec := serve(h, http.MethodGet, "/hello.txt")
	if rec.Code != http.StatusOK || rec.Body.String() != "hey" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestDefer_DownstreamNoContentWins(t *testing.T) {
	noContent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := newTestHandler(t, testRoot(t), Options{Defer: true}).Middleware(noContent)

	rec := serve(h, http.MethodGet, "/hello.txt")
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestDefer_DownstreamEmptyOKWins(t *testing.T) {
	emptyOK := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := newTestHandler(t, testRoot(t), Options{Defer: true}).Middleware(emptyOK)

	rec := serve(h, http.MethodGet, "/hello.txt")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestDefer_MissKeepsDownstream404(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{Defer: true}).Middleware(notFound)

	rec := serve(h, http.MethodGet, "/nope.txt")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDefer_PostNeverServes(t *testing.T) {
	h := newTestHandler(t, testRoot(t), Options{Defer: true}).Middleware(notFound)

	rec := serve(h, http.MethodPost, "/hello.txt")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
