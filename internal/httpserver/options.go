package httpserver

import (
	"net/http"

	"github.com/keithlinneman/combostatic/internal/health"
	"github.com/keithlinneman/combostatic/internal/httpmw"
	"github.com/keithlinneman/combostatic/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int // default 8080

	// Site answers every path not claimed by the health routes, usually the
	// sitehandler pipeline. nil serves 404 for everything else.
	Site http.Handler
	// Classify labels site requests for spans, metrics and access logs.
	Classify httpmw.RouteClassifier

	Health    health.Probe
	Readiness health.Probe

	Compress     bool
	Security     httpmw.SecurityOptions
	ClientIPOpts httpmw.ClientIPOptions
	ContentInfo  httpmw.ContentInfo // X-Content-Bundle-Version and X-Content-Hash

	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
}
