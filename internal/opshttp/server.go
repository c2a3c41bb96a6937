// Package opshttp runs the operator-facing listener: health probes, the
// Prometheus scrape endpoint, build info and optional pprof. Everything but
// the health probes is restricted to loopback and private peers.
package opshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keithlinneman/combostatic/internal/health"
	"github.com/keithlinneman/combostatic/internal/httpmw"
	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

// NewHandler builds the ops router.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	r := chi.NewRouter()
	if opts.UseRecoverMW {
		r.Use(httpmw.Recover(L, opts.OnPanic))
	}
	r.Use(httpmw.Scope("ops"))

	for _, m := range []string{http.MethodGet, http.MethodHead} {
		r.Method(m, "/-/healthy", health.HealthzHandler(opts.Health))
		r.Method(m, "/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return requireNonPublicNetwork(L, next) })

		if opts.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", opts.Metrics)
		}
		if opts.BuildInfo != nil {
			r.Get("/-/version", versionHandler(opts.BuildInfo))
		}
		if opts.EnablePprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})

	return httpmw.WithLogger(L)(r)
}

func versionHandler(info any) http.HandlerFunc {
	body, err := json.MarshalIndent(info, "", "  ")
	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, "build info unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(append(body, '\n'))
	}
}

// requireNonPublicNetwork lets through only peers on loopback, link-local or
// private ranges. Anything unparseable is refused.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ap, err := netip.ParseAddrPort(r.RemoteAddr)
		if err != nil {
			L.Warn(r.Context(), "ops request from unparseable peer refused")
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		ip := ap.Addr().Unmap()
		if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast() {
			L.Warn(r.Context(), "ops request from public peer refused", "network.peer.address", ip.String())
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves the ops router on opts.Port and returns stop(ctx) for
// graceful shutdown. stop is safe to call more than once.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// profiles stream for up to 30s by default
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for ops port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr, "pprof", opts.EnablePprof)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
