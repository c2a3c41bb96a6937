package combine

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

// Applies reports whether r is a combine request this engine should answer.
func (e *Engine) Applies(r *http.Request) bool {
	return IsRequest(r, e.identifier)
}

// IsRequest reports whether r is a GET or HEAD whose decoded URL contains
// identifier.
func IsRequest(r *http.Request, identifier string) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return strings.Contains(DecodeURL(requestURI(r)), identifier)
}

// ItemCount is the number of items a combine request lists, 0 when r is
// not a combine request.
func ItemCount(r *http.Request, identifier string) int {
	if !IsRequest(r, identifier) {
		return 0
	}
	req, ok := parse(DecodeURL(requestURI(r)), identifier)
	if !ok {
		return 0
	}
	return len(req.Items)
}

// Middleware answers combine requests itself and hands every other request
// to next unchanged.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.Applies(r) {
			next.ServeHTTP(w, r)
			return
		}
		e.serve(w, r)
	})
}

func (e *Engine) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decoded := DecodeURL(requestURI(r))

	res, err := e.Combine(ctx, decoded)
	switch {
	case err == nil:
		e.observe("ok", res, len(res.Body))

		h := w.Header()
		if res.ContentType != "" {
			h.Set("Content-Type", res.ContentType)
		} else {
			// unsupported outer extension: declare nothing and do not let net/http sniff
			h["Content-Type"] = nil
		}
		h.Set("Content-Length", strconv.Itoa(len(res.Body)))
		h.Set("Last-Modified", res.LastModified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Body)

	case errors.Is(err, ErrNotFound):
		e.observe("not_found", res, 0)
		w.WriteHeader(http.StatusNotFound)

	default:
		e.observe("error", nil, 0)
		code := http.StatusInternalServerError
		var se *StatusError
		if errors.As(err, &se) {
			code = se.Code
		}
		log.FromContext(ctx).Error(ctx, xerrors.EnsureTrace(err), "combine request failed", "status", code)
		h := w.Header()
		h.Del("Content-Length")
		h.Del("Last-Modified")
		w.WriteHeader(code)
	}
}

func (e *Engine) observe(outcome string, res *Result, n int) {
	if e.observer == nil {
		return
	}
	var resolved, skipped int
	if res != nil {
		resolved, skipped = res.Resolved, res.Skipped
	}
	e.observer.ObserveCombine(outcome, resolved, skipped, n)
}

// requestURI is the raw path and query as the client sent it. The combine
// grammar lives across both, so r.URL.Path alone is not enough.
func requestURI(r *http.Request) string {
	if r.RequestURI != "" && !strings.Contains(r.RequestURI, "://") {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
