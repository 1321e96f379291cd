package cspreport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/policy"
)

const (
	// MaxBodyBytes bounds a single report submission.
	MaxBodyBytes = 64 << 10

	defaultLogEvery = time.Second
	defaultLogBurst = 20
	defaultQueue    = 256
)

// knownDirectives bounds the directive label on metrics.
var knownDirectives = map[string]bool{
	"default-src": true, "script-src": true, "script-src-elem": true, "script-src-attr": true,
	"style-src": true, "style-src-elem": true, "style-src-attr": true, "img-src": true,
	"connect-src": true, "frame-src": true, "font-src": true, "media-src": true,
	"object-src": true, "worker-src": true, "manifest-src": true, "child-src": true,
	"frame-ancestors": true, "base-uri": true, "form-action": true,
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncCSPReport(directive string)
	IncCSPReportRejected(reason string)
	IncCSPReportDropped()
}

// Sink archives accepted violations. Store is called off the request path.
type Sink interface {
	Store(ctx context.Context, receivedAt time.Time, vs []Violation) error
}

type Options struct {
	Logger  log.Logger
	Metrics Metrics

	// Sink is optional. Batches are queued and written by Run.
	Sink Sink
	// QueueSize bounds pending sink batches, further batches are dropped.
	QueueSize int

	// LogEvery and LogBurst throttle the per-violation warning logs.
	LogEvery time.Duration
	LogBurst int

	Now func() time.Time
}

type batch struct {
	at time.Time
	vs []Violation
}

// Handler serves POST /api/csp-report.
type Handler struct {
	logger  log.Logger
	metrics Metrics
	sink    Sink
	queue   chan batch
	logs    *rate.Limiter
	now     func() time.Time
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.LogEvery <= 0 {
		opts.LogEvery = defaultLogEvery
	}
	if opts.LogBurst <= 0 {
		opts.LogBurst = defaultLogBurst
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Handler{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		sink:    opts.Sink,
		logs:    rate.NewLimiter(rate.Every(opts.LogEvery), opts.LogBurst),
		now:     opts.Now,
	}
	if h.sink != nil {
		n := opts.QueueSize
		if n <= 0 {
			n = defaultQueue
		}
		h.queue = make(chan batch, n)
	}
	return h
}

// RegisterRoutes mounts the handler at the report path advertised in the
// CSP report-uri and Report-To headers. All methods reach ServeHTTP so it
// can answer 405 itself.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(httpmw.Scope("csp-report"), httpmw.NoStore).Handle(policy.ReportPath, h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.reject(w, http.StatusRequestEntityTooLarge, "too_large")
			return
		}
		h.reject(w, http.StatusBadRequest, "read_error")
		return
	}

	vs, err := Parse(r.Header.Get("Content-Type"), body)
	switch {
	case errors.Is(err, ErrUnsupportedType):
		h.reject(w, http.StatusUnsupportedMediaType, "content_type")
		return
	case err != nil:
		log.FromContext(ctx).Debug(ctx, "csp report rejected", "error", err.Error())
		h.reject(w, http.StatusBadRequest, "malformed")
		return
	}

	at := h.now()
	for _, v := range vs {
		d := v.Directive()
		if h.metrics != nil {
			if !knownDirectives[d] {
				d = "other"
			}
			h.metrics.IncCSPReport(d)
		}
		if h.logs.Allow() {
			log.FromContext(ctx).Warn(ctx, "csp violation",
				"blocked_uri", v.BlockedURI,
				"violated_directive", v.ViolatedDirective,
				"document_uri", v.DocumentURI,
				"referrer", v.Referrer,
				"disposition", v.Disposition,
			)
		}
	}
	h.enqueue(ctx, batch{at: at, vs: vs})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(`{"received":true}`))
}

func (h *Handler) reject(w http.ResponseWriter, status int, reason string) {
	if h.metrics != nil {
		h.metrics.IncCSPReportRejected(reason)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Failed to process CSP report"})
}

func (h *Handler) enqueue(ctx context.Context, b batch) {
	if h.queue == nil {
		return
	}
	select {
	case h.queue <- b:
	default:
		if h.metrics != nil {
			h.metrics.IncCSPReportDropped()
		}
		log.FromContext(ctx).Debug(ctx, "csp report sink queue full, dropping batch", "violations", len(b.vs))
	}
}

// Run writes queued batches to the sink until ctx is done, then drains
// what is left with a short grace period. It returns immediately when no
// sink is configured.
func (h *Handler) Run(ctx context.Context) {
	if h.queue == nil {
		return
	}
	for {
		select {
		case b := <-h.queue:
			h.store(ctx, b)
		case <-ctx.Done():
			h.drain()
			return
		}
	}
}

func (h *Handler) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case b := <-h.queue:
			h.store(ctx, b)
		default:
			return
		}
	}
}

func (h *Handler) store(ctx context.Context, b batch) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.sink.Store(sctx, b.at, b.vs); err != nil {
		if h.metrics != nil {
			h.metrics.IncCSPReportDropped()
		}
		h.logger.Error(ctx, err, "archive csp reports", "violations", len(b.vs))
	}
}
