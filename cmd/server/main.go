package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/combostatic/internal/cfg"
	"github.com/keithlinneman/combostatic/internal/content"
	"github.com/keithlinneman/combostatic/internal/health"
	"github.com/keithlinneman/combostatic/internal/httpmw"
	"github.com/keithlinneman/combostatic/internal/httpserver"
	"github.com/keithlinneman/combostatic/internal/log"
	"github.com/keithlinneman/combostatic/internal/metrics"
	"github.com/keithlinneman/combostatic/internal/opshttp"
	"github.com/keithlinneman/combostatic/internal/otelx"
	"github.com/keithlinneman/combostatic/internal/prof"
	"github.com/keithlinneman/combostatic/internal/ratelimit"
	"github.com/keithlinneman/combostatic/internal/sitehandler"
	v "github.com/keithlinneman/combostatic/internal/version"
)

const envPrefix = "COMBO_"

func main() {
	ctx := context.Background()
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// flags first, then .env and real env fill whatever the cli left unset
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	if err := cfg.LoadDotEnv(conf.EnvFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl := slog.LevelError
	if conf.StacktraceLevel != "" {
		if stackLvl, err = log.ParseLevel(conf.StacktraceLevel); err != nil {
			fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
			os.Exit(1)
		}
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	root, err := filepath.Abs(conf.Root)
	if err != nil {
		L.Error(ctx, err, "resolve root", "root", conf.Root)
		os.Exit(1)
	}

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"root", root,
		"identifier", conf.Identifier,
		"weak_etag", conf.WeakETag,
		"defer", conf.Defer,
		"hidden", conf.Hidden,
		"index", conf.Index,
		"disable_index", conf.DisableIndex,
		"max_age", conf.MaxAge,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"compress", conf.Compress,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_content_bundle", conf.EnableContentBundle,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)
	m.SetRouteClassifier(sitehandler.Classifier(conf.Identifier))

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// collector runs on localhost, so plaintext gRPC
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		SampleRatio: conf.TraceSample,
		ServiceName: v.AppName,
		Version:     vi.Version,
		Attributes:  []attribute.KeyValue{attribute.String("combostatic.root", root)},
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// the bundle, when enabled, must be in place before anything is served
	var bundle *content.Bundle
	if conf.EnableContentBundle {
		loader, err := content.NewFromAWS(ctx, content.Options{
			Logger:        L.With("component", "content"),
			SSMParam:      conf.ContentSSMParam,
			S3Bucket:      conf.ContentS3Bucket,
			S3Prefix:      conf.ContentS3Prefix,
			Root:          root,
			SigningKeyARN: conf.ContentSigningKeyARN,
			OnLoaded: func(b *content.Bundle, took time.Duration) {
				m.SetContentSource(content.SourceS3)
				m.SetContentBundle(b.SHA256)
				m.SetContentLoadedTimestamp(b.LoadedAt)
				m.ObserveBundleLoadDuration(took.Seconds())
			},
		})
		if err != nil {
			L.Error(ctx, err, "failed to create content loader")
			os.Exit(1)
		}
		bundle, err = loader.Load(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load content bundle")
			os.Exit(1)
		}
	} else {
		m.SetContentSource(content.SourceLocal)
	}

	siteHandler, err := sitehandler.NewHandler(root, sitehandler.Options{
		Logger:       L,
		Identifier:   conf.Identifier,
		Weak:         conf.WeakETag,
		Defer:        conf.Defer,
		Hidden:       conf.Hidden,
		Index:        conf.Index,
		DisableIndex: conf.DisableIndex,
		MaxAge:       conf.MaxAge,
		Observer:     m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	// readiness fails once draining starts or if the root disappears
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), health.DirProbe(root))

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithMaxVisitors(conf.MaxVisitors),
		// a combine url costs one token per file it names
		ratelimit.WithCost(sitehandler.Cost(conf.Identifier)),
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied()
		}),
		// logged once per ip until it is evicted from the table
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// a nil *Bundle inside the interface would still be non-nil
	var contentInfo httpmw.ContentInfo
	if bundle != nil {
		contentInfo = bundle
	}

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:    L,
		Port:      conf.HTTPPort,
		Site:      siteHandler,
		Classify:  sitehandler.Classifier(conf.Identifier),
		Health:    health.Fixed(true, ""),
		Readiness: readiness,
		Compress:  conf.Compress,
		Security: httpmw.SecurityOptions{
			HSTS:        conf.HSTS,
			CrossOrigin: conf.CrossOrigin,
		},
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		ContentInfo:  contentInfo,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}

	// ops listener rejects public clients and forwarded requests itself, in
	// case the network policy in front of it is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		BuildInfo:    vi,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		_ = siteHTTPStop(context.Background())
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		// worst case systemd kills us after its start timeout
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-sigCtx.Done()
	stop()

	L.Info(ctx, "shutdown signal received")
	gate.Set("draining")

	if conf.DrainDelay > 0 {
		L.Info(ctx, "draining before shutdown", "drain_delay", conf.DrainDelay.String())
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.DrainDelay):
			L.Info(ctx, "drain period complete")
		case <-forceCh:
			L.Warn(ctx, "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error { return siteHTTPStop(shutdownCtx) })
	eg.Go(func() error { return opsHTTPStop(shutdownCtx) })
	if err := eg.Wait(); err != nil {
		L.Error(ctx, err, "http shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(ctx, err, "otel shutdown")
	}
	stopProf()

	L.Info(ctx, "shutdown complete")
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return nil
}
