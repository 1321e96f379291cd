package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names when reading the environment.
const EnvPrefix = "LMEDGE_"

type App struct {
	LogJSON         bool
	LogLevel        string
	HTTPPort        int
	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
	StacktraceLevel string
	MaxErrorLinks   int

	ShutdownDrain time.Duration

	Environment  string
	PublicOrigin string
	SiteURL      string
	TrustedHops  int

	RateLimitBackend    string
	RateLimitMaxEntries int
	RateLimitPageLimit  int
	RateLimitAPILimit   int
	RedisAddr           string
	RedisPassword       string
	RedisDB             int

	UpstreamURL     string
	RendererURL     string
	ContentCacheTTL time.Duration
	CSPOverlayFile  string
	CSPReportBucket string
	CSPReportPrefix string

	GiscusRepo       string
	GiscusRepoID     string
	GiscusCategory   string
	GiscusCategoryID string
	GiscusMapping    string
	GiscusTheme      string
	GiscusLang       string
	GiscusReactions  bool
	GiscusMetadata   bool
	GiscusLazy       bool

	AuthURL                  string
	AuthSecret               string
	AuthSecretSSMParam       string
	RevalidateSecret         string
	RevalidateSecretSSMParam string
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
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth rendered in logs (0 disables, max 64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 20*time.Second, "how long readiness fails before listeners close on shutdown")

	fs.StringVar(&c.Environment, "environment", "production", "production|development|test, non-production relaxes CSP")
	fs.StringVar(&c.PublicOrigin, "public-origin", "", "public scheme://host used for CSP report endpoints (derived from request when empty)")
	fs.StringVar(&c.SiteURL, "site-url", "http://localhost:3000", "canonical site url used in feed links")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted reverse proxies in front of this server (0..10)")

	fs.StringVar(&c.RateLimitBackend, "ratelimit-backend", "memory", "memory|redis")
	fs.IntVar(&c.RateLimitMaxEntries, "ratelimit-max-entries", 100_000, "max tracked clients for the memory backend")
	fs.IntVar(&c.RateLimitPageLimit, "ratelimit-limit", 60, "requests per client per minute for page routes")
	fs.IntVar(&c.RateLimitAPILimit, "ratelimit-api-limit", 30, "requests per client per minute for /api routes")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis host:port for the redis rate limit backend")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")

	fs.StringVar(&c.UpstreamURL, "upstream-url", "", "content API origin (scheme://host[:port])")
	fs.StringVar(&c.RendererURL, "renderer-url", "", "rendering service to reverse proxy page requests to")
	fs.DurationVar(&c.ContentCacheTTL, "content-cache-ttl", 5*time.Minute, "TTL for cached content API responses (0 disables)")
	fs.StringVar(&c.CSPOverlayFile, "csp-overlay-file", "", "YAML file with extra CSP sources")
	fs.StringVar(&c.CSPReportBucket, "csp-report-s3-bucket", "", "s3 bucket to archive CSP violation reports to")
	fs.StringVar(&c.CSPReportPrefix, "csp-report-s3-prefix", "edge/csp-reports", "s3 prefix (key) for archived CSP reports")

	fs.StringVar(&c.GiscusRepo, "giscus-repo", "", "comment widget repository (owner/repo)")
	fs.StringVar(&c.GiscusRepoID, "giscus-repo-id", "", "comment widget repository id (R_...)")
	fs.StringVar(&c.GiscusCategory, "giscus-category", "", "comment widget discussion category")
	fs.StringVar(&c.GiscusCategoryID, "giscus-category-id", "", "comment widget discussion category id (DIC_...)")
	fs.StringVar(&c.GiscusMapping, "giscus-mapping", "pathname", "comment widget page to discussion mapping")
	fs.StringVar(&c.GiscusTheme, "giscus-theme", "preferred_color_scheme", "comment widget theme")
	fs.StringVar(&c.GiscusLang, "giscus-lang", "en", "comment widget language")
	fs.BoolVar(&c.GiscusReactions, "giscus-reactions", true, "comment widget reactions enabled")
	fs.BoolVar(&c.GiscusMetadata, "giscus-metadata", false, "comment widget emits discussion metadata")
	fs.BoolVar(&c.GiscusLazy, "giscus-lazy", true, "comment widget loads lazily")

	fs.StringVar(&c.AuthURL, "auth-url", "", "auth provider callback base url")
	fs.StringVar(&c.AuthSecret, "auth-secret", "", "auth provider secret")
	fs.StringVar(&c.AuthSecretSSMParam, "auth-secret-ssm-param", "", "ssm parameter name to read auth-secret from")
	fs.StringVar(&c.RevalidateSecret, "revalidate-secret", "", "shared secret for /api/revalidate")
	fs.StringVar(&c.RevalidateSecretSSMParam, "revalidate-secret-ssm-param", "", "ssm parameter name to read revalidate-secret from")
}

// EnvKey returns the environment variable consulted for flag name.
func EnvKey(prefix, name string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(name), "-", "_")
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// IsProduction reports whether the configured environment is production.
func (c App) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
// Integration settings (upstream, comments, auth) are advisory and checked by
// IntegrationValidator instead.
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
	if c.MaxErrorLinks < 0 || c.MaxErrorLinks > 64 {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 0..64 (got %d)", c.MaxErrorLinks))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL, scheme and tenant)
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

	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "production", "development", "test":
	default:
		errs = append(errs, fmt.Errorf("invalid ENVIRONMENT %q (must be production|development|test)", c.Environment))
	}

	if c.PublicOrigin != "" && !isHTTPOrigin(c.PublicOrigin) {
		errs = append(errs, fmt.Errorf("PUBLIC_ORIGIN must be an absolute http(s) URL (got %q)", c.PublicOrigin))
	}
	if c.SiteURL != "" && !isHTTPOrigin(c.SiteURL) {
		errs = append(errs, fmt.Errorf("SITE_URL must be an absolute http(s) URL (got %q)", c.SiteURL))
	}
	if c.RendererURL != "" && !isHTTPOrigin(c.RendererURL) {
		errs = append(errs, fmt.Errorf("RENDERER_URL must be an absolute http(s) URL (got %q)", c.RendererURL))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}
	if c.ShutdownDrain < 0 || c.ShutdownDrain > 5*time.Minute {
		errs = append(errs, fmt.Errorf("SHUTDOWN_DRAIN must be 0..5m (got %s)", c.ShutdownDrain))
	}
	if c.ContentCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("CONTENT_CACHE_TTL must not be negative (got %s)", c.ContentCacheTTL))
	}

	if c.RateLimitPageLimit < 1 || c.RateLimitPageLimit > 10_000 {
		errs = append(errs, fmt.Errorf("RATELIMIT_LIMIT must be 1..10000 (got %d)", c.RateLimitPageLimit))
	}
	if c.RateLimitAPILimit < 1 || c.RateLimitAPILimit > 10_000 {
		errs = append(errs, fmt.Errorf("RATELIMIT_API_LIMIT must be 1..10000 (got %d)", c.RateLimitAPILimit))
	}

	// Rate limit backend
	switch c.RateLimitBackend {
	case "memory":
		if c.RateLimitMaxEntries < 1 {
			errs = append(errs, fmt.Errorf("RATELIMIT_MAX_ENTRIES must be >= 1 (got %d)", c.RateLimitMaxEntries))
		}
	case "redis":
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0 (got %d)", c.RedisDB))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_BACKEND %q (must be memory|redis)", c.RateLimitBackend))
	}

	if c.CSPReportBucket != "" && c.CSPReportPrefix == "" {
		errs = append(errs, fmt.Errorf("CSP_REPORT_S3_PREFIX is required when CSP_REPORT_S3_BUCKET is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func isHTTPOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
