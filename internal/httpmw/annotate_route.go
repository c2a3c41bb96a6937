package httpmw

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RouteClassifier names the kind of request a catch-all route served, e.g.
// "combine" or "static". Returning "" leaves the route unlabelled.
type RouteClassifier func(*http.Request) string

// UnmatchedRoute is the label for requests with no pattern and no class.
const UnmatchedRoute = "unmatched"

// RouteLabel is a low-cardinality route name for r: the chi pattern when it
// is specific, otherwise the classifier's answer, otherwise UnmatchedRoute.
// The raw URL path is never used.
func RouteLabel(r *http.Request, classify RouteClassifier) string {
	pat := ""
	if rc := chi.RouteContext(r.Context()); rc != nil {
		pat = rc.RoutePattern()
	}
	if pat != "" && pat != "/*" {
		return pat
	}
	if classify != nil {
		if c := classify(r); c != "" {
			return c
		}
	}
	if pat != "" {
		return pat
	}
	return UnmatchedRoute
}

// AnnotateRoute sets the OTel http.route attribute and span name once the
// handler has run and chi has settled on a pattern.
func AnnotateRoute(classify RouteClassifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			span := trace.SpanFromContext(r.Context())
			if !span.IsRecording() {
				return
			}
			route := RouteLabel(r, classify)
			span.SetAttributes(attribute.String("http.route", route))
			span.SetName(r.Method + " " + route)
		})
	}
}
