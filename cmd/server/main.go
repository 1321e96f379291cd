package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-edge/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-edge/internal/cms"
	"github.com/keithlinneman/linnemanlabs-edge/internal/contenthttp"
	"github.com/keithlinneman/linnemanlabs-edge/internal/cspreport"
	"github.com/keithlinneman/linnemanlabs-edge/internal/edge"
	"github.com/keithlinneman/linnemanlabs-edge/internal/health"
	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-edge/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-edge/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-edge/internal/policy"
	"github.com/keithlinneman/linnemanlabs-edge/internal/prof"
	"github.com/keithlinneman/linnemanlabs-edge/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-edge/internal/renderer"
	"github.com/keithlinneman/linnemanlabs-edge/internal/revalidate"
	"github.com/keithlinneman/linnemanlabs-edge/internal/upstream"
	v "github.com/keithlinneman/linnemanlabs-edge/internal/version"
)

const (
	appName   = "linnemanlabs-edge"
	component = "server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading LMEDGE_* variables (missing file ignored)")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%s)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildID, vi.BuildDate, vi.GoVersion, vi.DirtyLabel())
		os.Exit(0)
	}

	if err := cfg.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "dotenv:", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Commit:          vi.ShortCommit(),
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
		MaxErrorLinks:   conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.DirtyLabel(),
		"environment", conf.Environment,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"upstream_url", conf.UpstreamURL,
		"renderer_url", conf.RendererURL,
		"ratelimit_backend", conf.RateLimitBackend,
		"trusted_hops", conf.TrustedHops,
		"content_cache_ttl", conf.ContentCacheTTL,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, component, vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component":   component,
			"version":     vi.Version,
			"commit":      vi.ShortCommit(),
			"environment": conf.Environment,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		Sample:      conf.TraceSample,
		Service:     appName,
		Component:   component,
		Version:     vi.Version,
		Environment: conf.Environment,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	// AWS is only needed for SSM secrets and the CSP report archive
	var awsCfg *aws.Config
	if conf.NeedsSecrets() || conf.CSPReportBucket != "" {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config, SSM secrets and CSP report archive disabled")
		} else {
			awsCfg = &c
		}
	}
	if awsCfg != nil && conf.NeedsSecrets() {
		if err := cfg.ResolveSecrets(ctx, &conf, ssm.NewFromConfig(*awsCfg)); err != nil {
			L.Error(ctx, err, "failed to resolve secrets from SSM")
		}
	}

	report := cfg.NewIntegrationValidator().Validate(conf)
	report.Log(ctx, L)
	m.SetConfigWarnings(len(report.Warnings))

	var gate health.ShutdownGate
	readiness := []health.Probe{gate.Probe()}

	var store ratelimit.Store
	var redisClient redis.UniversalClient
	switch conf.RateLimitBackend {
	case "redis":
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{conf.RedisAddr},
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		defer redisClient.Close()
		if err := ratelimit.Ping(ctx, redisClient); err != nil {
			// not fatal, the limiter fails open and readiness reports it
			L.Error(ctx, err, "redis unreachable at startup", "redis_addr", conf.RedisAddr)
		}
		store = ratelimit.NewRedisStore(redisClient, ratelimit.DefaultRedisPrefix)
		readiness = append(readiness, health.Named("redis", health.WithTimeout(
			health.CheckFunc(func(ctx context.Context) error { return ratelimit.Ping(ctx, redisClient) }),
			500*time.Millisecond,
		)))
	default:
		store = ratelimit.NewMemoryStore(ratelimit.WithMaxEntries(conf.RateLimitMaxEntries))
	}

	limiter := ratelimit.New(
		ratelimit.WithStore(store),
		ratelimit.WithLogger(L),
		ratelimit.WithDefaultLimit(conf.RateLimitPageLimit),
		ratelimit.WithCategoryLimit("api", conf.RateLimitAPILimit),
		ratelimit.WithOnDenied(func(k ratelimit.ClientKey, r ratelimit.Reason) {
			m.IncRateLimitDenied(k.Category, r.String())
		}),
		// one line per offender per window
		ratelimit.WithOnFirstDenied(func(k ratelimit.ClientKey) {
			L.Warn(ctx, "rate limit triggered", "client.address", k.Address, "category", k.Category)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new clients until entries expire")
		}),
		ratelimit.WithOnStoreError(func(error) { m.IncRateLimitStoreError() }),
	)

	up := upstream.NewClient(upstream.Options{
		Origin: conf.UpstreamURL,
		Logger: L,
		OnOutcome: func(o upstream.Outcome) {
			m.ObserveUpstream(o.Label(), o.Duration)
		},
	})

	table := policy.DefaultTable(up.Origin().String())
	if conf.CSPOverlayFile != "" {
		ov, err := policy.LoadOverlay(conf.CSPOverlayFile)
		if err != nil {
			L.Error(ctx, err, "failed to load CSP overlay, using the default policy", "file", conf.CSPOverlayFile)
		} else {
			table = ov.Apply(table)
		}
	}

	cache := contenthttp.NewCache(conf.ContentCacheTTL, contenthttp.WithOnInvalidate(m.AddCacheInvalidations))
	contentAPI := contenthttp.NewAPI(&contenthttp.Options{
		Logger:  L,
		Source:  cms.New(up, L),
		Cache:   cache,
		SiteURL: conf.SiteURL,
		Giscus: contenthttp.Giscus{
			Enabled:    conf.GiscusEnabled(),
			Repo:       conf.GiscusRepo,
			RepoID:     conf.GiscusRepoID,
			Category:   conf.GiscusCategory,
			CategoryID: conf.GiscusCategoryID,
			Mapping:    conf.GiscusMapping,
			Theme:      conf.GiscusTheme,
			Lang:       conf.GiscusLang,
			Reactions:  conf.GiscusReactions,
			Metadata:   conf.GiscusMetadata,
			Lazy:       conf.GiscusLazy,
		},
	})

	var sink cspreport.Sink
	if conf.CSPReportBucket != "" && awsCfg != nil {
		s3Sink, err := cspreport.NewS3Sink(s3.NewFromConfig(*awsCfg), conf.CSPReportBucket, conf.CSPReportPrefix)
		if err != nil {
			L.Error(ctx, err, "CSP report archive disabled")
		} else {
			sink = s3Sink
		}
	}
	reports := cspreport.NewHandler(cspreport.Options{Logger: L, Metrics: m, Sink: sink})
	// outlives ctx so reports received while draining are still archived
	reportsCtx, stopReports := context.WithCancel(context.Background())
	defer stopReports()
	reportsDone := make(chan struct{})
	go func() {
		defer close(reportsDone)
		reports.Run(reportsCtx)
	}()

	revalidateAPI := revalidate.NewHandler(revalidate.Options{
		Secret:      conf.RevalidateSecret,
		Invalidator: cache,
		Logger:      L,
		Metrics:     m,
	})

	// page requests go to the renderer, or get the built-in 404 page
	fallback := renderer.NotFound(nil)
	if conf.RendererURL != "" {
		fallback, err = renderer.New(renderer.Options{Target: conf.RendererURL, Logger: L})
		if err != nil {
			L.Error(ctx, err, "failed to create renderer proxy")
			os.Exit(1)
		}
	}

	probes := &health.API{Liveness: health.Fixed(true, ""), Readiness: health.All(readiness...)}

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		EdgeMW: edge.Middleware(edge.Options{
			Table:        table,
			Environment:  policy.ParseEnvironment(conf.Environment),
			PublicOrigin: conf.PublicOrigin,
			Limiter:      limiter,
		}),
		Routes:   []httpserver.RouteRegistrar{probes, contentAPI, reports, revalidateAPI},
		Fallback: fallback,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// the security group limits the admin port to monitoring, opshttp
	// also refuses public peers in case that is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Liveness:    probes.Liveness,
		Readiness:   probes.Readiness,
		BuildInfo:   &vi,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "err", err)
	}

	<-ctx.Done()
	stop()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Close("draining")
	L.Info(bg, "readiness failing, waiting for load balancer to drain", "drain", conf.ShutdownDrain)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.ShutdownDrain):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 15*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	stopReports()
	select {
	case <-reportsDone:
	case <-shutdownCtx.Done():
		L.Warn(bg, "csp report queue did not drain before shutdown timeout")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
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
