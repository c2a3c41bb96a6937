package httpmw

import "net/http"

// SecurityOptions controls the response hardening headers. The server only
// ever returns stylesheets, scripts and other static files, so the defaults
// lock down document behavior while CrossOrigin decides whether pages on
// other origins may load the bundles.
type SecurityOptions struct {
	// HSTS sends Strict-Transport-Security. Leave off for plain-HTTP
	// deployments behind nothing.
	HSTS bool

	// CrossOrigin relaxes Cross-Origin-Resource-Policy to "cross-origin" and
	// allows any origin via Access-Control-Allow-Origin, for CDN-style use.
	CrossOrigin bool
}

// SecurityHeaders adds hardening headers to every response. nosniff is always
// sent: a combined bundle whose outer extension is not css or js goes out
// without a Content-Type and must not be sniffed into something executable.
func SecurityHeaders(opts SecurityOptions) func(http.Handler) http.Handler {
	corp := "same-origin"
	if opts.CrossOrigin {
		corp = "cross-origin"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if opts.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
			h.Set("Cross-Origin-Resource-Policy", corp)
			if opts.CrossOrigin {
				h.Set("Access-Control-Allow-Origin", "*")
				h.Add("Vary", "Origin")
			}
			next.ServeHTTP(w, r)
		})
	}
}
