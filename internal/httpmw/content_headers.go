package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo describes the bundle currently extracted into the site root.
type ContentInfo interface {
	ContentVersion() string
	ContentHash() string
}

// shortHashLen is how much of the bundle hash goes into X-Content-Hash.
const shortHashLen = 12

// ContentHeaders stamps responses with the deployed bundle's version and a
// short hash, and records both on the request span. A nil info or empty
// fields add nothing.
func ContentHeaders(info ContentInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			version, hash := info.ContentVersion(), info.ContentHash()
			if version != "" {
				w.Header().Set("X-Content-Bundle-Version", version)
			}
			if hash != "" {
				short := hash
				if len(short) > shortHashLen {
					short = short[:shortHashLen]
				}
				w.Header().Set("X-Content-Hash", short)
			}

			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				if version != "" {
					span.SetAttributes(attribute.String("content.version", version))
				}
				if hash != "" {
					span.SetAttributes(attribute.String("content.hash", hash))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
