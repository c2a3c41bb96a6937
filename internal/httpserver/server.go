// Package httpserver runs the public listener: the site pipeline behind the
// request-scoped middleware stack, plus health probes for load balancers.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/combostatic/internal/health"
	"github.com/keithlinneman/combostatic/internal/httpmw"
	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

// maxRequestBody caps request bodies. Nothing served here reads one.
const maxRequestBody = 1024

var compressTypes = []string{
	"text/css",
	"text/javascript",
	"application/javascript",
	"text/html",
	"text/plain",
	"application/json",
	"image/svg+xml",
}

func isHealthPath(p string) bool {
	return p == "/-/healthy" || p == "/-/ready"
}

// NewHandler builds the public handler. main owns the *http.Server so it can
// drain and shut down.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	r := chi.NewRouter()
	if opts.Compress {
		r.Use(httpmw.WeakenEncodedETag)
		r.Use(middleware.Compress(5, compressTypes...))
	}
	r.Use(httpmw.AnnotateRoute(opts.Classify))
	r.Use(httpmw.AccessLog(opts.Classify))
	r.Use(httpmw.MaxBody(maxRequestBody))

	var site http.Handler
	if opts.Site != nil {
		site = httpmw.Scope("site")(opts.Site)
	}

	// the health paths are matched on URL.Path, which stops at the combine
	// identifier, so "/-/healthy??a.css" would land here without the guard
	guardHealth := func(h http.Handler) http.Handler {
		if site == nil || opts.Classify == nil {
			return h
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Classify(r) == "combine" {
				site.ServeHTTP(w, r)
				return
			}
			h.ServeHTTP(w, r)
		})
	}

	for _, m := range []string{http.MethodGet, http.MethodHead} {
		if opts.Health != nil {
			r.Method(m, "/-/healthy", guardHealth(health.HealthzHandler(opts.Health)))
		}
		if opts.Readiness != nil {
			r.Method(m, "/-/ready", guardHealth(health.ReadyzHandler(opts.Readiness)))
		}
	}

	// combine URLs put the item list in the query, so every path, "/"
	// included, goes to the site pipeline
	if site != nil {
		r.Handle("/*", site)
	}

	var h http.Handler = r
	h = httpmw.WithLogger(opts.Logger)(h)
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = httpmw.ContentHeaders(opts.ContentInfo)(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !isHealthPath(r.URL.Path)
		}),
		// AnnotateRoute renames the span once chi has matched
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + httpmw.RouteLabel(r, opts.Classify)
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)

	// limiter reads the address ClientIP resolved
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	if opts.UseRecoverMW {
		h = httpmw.Recover(opts.Logger, opts.OnPanic)(h)
	}
	return httpmw.SecurityHeaders(opts.Security)(h)
}

const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves NewHandler(opts) on opts.Port and returns stop(ctx) for
// graceful shutdown. stop is safe to call more than once.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)
	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen on addr=%v", addr)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 10*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
