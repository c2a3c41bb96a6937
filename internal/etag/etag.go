// Package etag is the outermost layer of the site pipeline. It attaches an
// ETag validator to successful responses and answers 304 when the client
// already holds the current representation. Generated bodies are buffered so
// they can be hashed; file-backed responses are tagged from stat data and
// streamed, leaving the conditional checks to http.ServeContent.
package etag

import (
	"crypto/md5"
	"encoding/base64"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/keithlinneman/combostatic/internal/httpmw"
)

type Options struct {
	// Weak marks validators computed from body bytes as weak (W/"...").
	// Validators derived from file stat data are always weak.
	Weak bool
}

// Compute returns the validator for an in-memory body:
// "<length hex>-<base64 md5, unpadded>".
func Compute(body []byte, weak bool) string {
	sum := md5.Sum(body)
	tag := `"` + strconv.FormatInt(int64(len(body)), 16) + "-" +
		base64.RawStdEncoding.EncodeToString(sum[:]) + `"`
	if weak {
		return "W/" + tag
	}
	return tag
}

// FromFileInfo returns a weak validator from file size and mtime (ms), the
// same inputs Last-Modified is built from, so the file is never hashed.
func FromFileInfo(fi fs.FileInfo) string {
	return `W/"` + strconv.FormatInt(fi.Size(), 16) + "-" +
		strconv.FormatInt(fi.ModTime().UnixMilli(), 16) + `"`
}

// Middleware tags next's response. Responses that are not 2xx, already
// carry an ETag, or have neither a body nor a backing file are passed
// through unchanged.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := httpmw.NewResponseBuffer(w)
			buf.StreamFiles(tagFile)
			next.ServeHTTP(buf, r)
			if buf.Streaming() {
				return
			}

			tag := validatorFor(buf, opts)
			if tag != "" {
				buf.Header().Set("ETag", tag)
				if isConditionalMethod(r.Method) && noneMatch(r.Header.Get("If-None-Match"), tag) {
					writeNotModified(w, buf.Header(), tag)
					return
				}
			}
			_ = buf.FlushTo(w)
		})
	}
}

// tagFile runs before the file handler writes anything, so the validator is
// visible to its If-None-Match and If-Range evaluation.
func tagFile(h http.Header, fi fs.FileInfo) {
	if h.Get("ETag") == "" {
		h.Set("ETag", FromFileInfo(fi))
	}
}

func validatorFor(buf *httpmw.ResponseBuffer, opts Options) string {
	status := buf.Status()
	if status == 0 && buf.Written() {
		status = http.StatusOK
	}
	if status < 200 || status > 299 {
		return ""
	}
	if buf.Header().Get("ETag") != "" {
		return ""
	}
	if fi := buf.FileInfo(); fi != nil {
		return FromFileInfo(fi)
	}
	if body := buf.Body(); len(body) > 0 {
		return Compute(body, opts.Weak)
	}
	return ""
}

func isConditionalMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead
}

// noneMatch reports whether an If-None-Match header value matches tag
// using the weak comparison function.
func noneMatch(header, tag string) bool {
	if header == "" {
		return false
	}
	want := opaque(tag)
	for _, cand := range strings.Split(header, ",") {
		cand = strings.TrimSpace(cand)
		if cand == "*" || (cand != "" && opaque(cand) == want) {
			return true
		}
	}
	return false
}

func opaque(tag string) string {
	return strings.TrimPrefix(tag, "W/")
}

// writeNotModified sends a 304 carrying only the metadata headers the
// client needs to refresh its cached copy.
func writeNotModified(w http.ResponseWriter, h http.Header, tag string) {
	dst := w.Header()
	for _, k := range []string{"Cache-Control", "Content-Location", "Date", "Expires", "Last-Modified", "Vary"} {
		if v := h.Values(k); len(v) > 0 {
			dst[k] = v
		}
	}
	dst.Del("Content-Type")
	dst.Del("Content-Length")
	dst.Set("ETag", tag)
	w.WriteHeader(http.StatusNotModified)
}
