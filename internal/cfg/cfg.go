package cfg

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/combostatic/internal/log"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	EnvFile           string
	DrainDelay        time.Duration

	// site pipeline
	Root         string
	Identifier   string
	WeakETag     bool
	Defer        bool
	Index        string
	DisableIndex bool
	MaxAge       time.Duration
	Hidden       bool

	// public listener
	Compress    bool
	HSTS        bool
	CrossOrigin bool
	TrustedHops int
	MaxVisitors int

	// per-ip limiter in front of the site pipeline
	RateLimitRPS   float64
	RateLimitBurst int

	// optional content bundle extracted into Root at startup
	EnableContentBundle  bool
	ContentSSMParam      string
	ContentS3Bucket      string
	ContentS3Prefix      string
	ContentSigningKeyARN string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.StringVar(&c.EnvFile, "env-file", ".env", "dotenv file read before env vars are applied (missing file is ignored)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 15*time.Second, "how long readiness fails before listeners shut down")

	fs.StringVar(&c.Root, "root", ".", "directory to serve files from")
	fs.StringVar(&c.Identifier, "identifier", "??", "substring that marks a combine url")
	fs.BoolVar(&c.WeakETag, "weak-etag", false, "mark body-hash ETags as weak")
	fs.BoolVar(&c.Defer, "defer", false, "let downstream handlers answer before serving files")
	fs.StringVar(&c.Index, "index", "index.html", "file served for directory requests")
	fs.BoolVar(&c.DisableIndex, "disable-index", false, "never serve an index file for directories")
	fs.DurationVar(&c.MaxAge, "max-age", 0, "Cache-Control max-age for static files")
	fs.BoolVar(&c.Hidden, "hidden", false, "allow serving dotfiles")

	fs.BoolVar(&c.Compress, "compress", true, "gzip/deflate text responses when the client accepts it (compressed responses drop Content-Length and carry weak ETags)")
	fs.BoolVar(&c.HSTS, "hsts", false, "send Strict-Transport-Security")
	fs.BoolVar(&c.CrossOrigin, "cross-origin", false, "allow pages on other origins to load served files")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For is trusted")
	fs.IntVar(&c.MaxVisitors, "ratelimit-max-visitors", 100000, "max client addresses tracked by the limiter (0 = unlimited)")

	fs.Float64Var(&c.RateLimitRPS, "ratelimit-rps", 10, "per-ip request refill rate per second")
	fs.IntVar(&c.RateLimitBurst, "ratelimit-burst", 50, "per-ip burst size")

	fs.BoolVar(&c.EnableContentBundle, "enable-content-bundle", false, "download the content bundle named in SSM from S3 and extract it into -root")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "", "ssm parameter name to get content bundle hash from")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "", "s3 bucket name to get content bundle from")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "", "s3 prefix (key) to get content bundle from")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key ARN for content bundle signature verification")
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone, so real env still beats the file.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > env file > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_DELAY must not be negative (got %s)", c.DrainDelay))
	}

	// Site pipeline
	if c.Root == "" {
		errs = append(errs, fmt.Errorf("ROOT is required"))
	}
	// a comma would be swallowed by the item list split
	if c.Identifier == "" || strings.Contains(c.Identifier, ",") {
		errs = append(errs, fmt.Errorf("invalid IDENTIFIER %q (non-empty, no commas)", c.Identifier))
	}
	if !c.DisableIndex && (c.Index == "" || strings.ContainsAny(c.Index, `/\`)) {
		errs = append(errs, fmt.Errorf("invalid INDEX %q (plain file name)", c.Index))
	}
	if c.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("MAX_AGE must not be negative (got %s)", c.MaxAge))
	}

	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..8 (got %d)", c.TrustedHops))
	}

	// Rate limiting
	if c.MaxVisitors < 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_MAX_VISITORS must not be negative (got %d)", c.MaxVisitors))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_RPS must be > 0 (got %g)", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
	}

	if c.EnableContentBundle {
		// Content config
		if c.ContentSSMParam == "" {
			errs = append(errs, fmt.Errorf("CONTENT_SSM_PARAM is required when ENABLE_CONTENT_BUNDLE=true"))
		}
		if c.ContentS3Bucket == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_BUCKET is required when ENABLE_CONTENT_BUNDLE=true"))
		}
		if c.ContentS3Prefix == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_PREFIX is required when ENABLE_CONTENT_BUNDLE=true"))
		}
		// fail closed: a bundle extracted into the served root must be signed
		if c.ContentSigningKeyARN == "" {
			errs = append(errs, fmt.Errorf("CONTENT_SIGNING_KEY_ARN is required when ENABLE_CONTENT_BUNDLE=true"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
