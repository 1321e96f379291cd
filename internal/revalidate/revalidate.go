// Package revalidate serves the cache invalidation webhook the CMS calls
// after content changes.
package revalidate

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/pathutil"
)

// Path is where the webhook is mounted.
const Path = "/api/revalidate"

const (
	maxBodyBytes = 16 << 10
	maxPaths     = 100

	// after failBurst bad secrets, one more attempt is allowed per failEvery
	failEvery = 10 * time.Second
	failBurst = 10
)

// Invalidator drops cached content for the given site paths.
type Invalidator interface {
	Invalidate(ctx context.Context, paths []string)
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncRevalidate(result string)
}

type Options struct {
	Secret      string
	Invalidator Invalidator
	Logger      log.Logger
	Metrics     Metrics
}

type Handler struct {
	secret  [sha256.Size]byte
	enabled bool
	inv     Invalidator
	logger  log.Logger
	metrics Metrics
	fails   *rate.Limiter
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Handler{
		secret:  sha256.Sum256([]byte(opts.Secret)),
		enabled: opts.Secret != "",
		inv:     opts.Invalidator,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		fails:   rate.NewLimiter(rate.Every(failEvery), failBurst),
	}
}

type postBody struct {
	Secret string   `json:"secret"`
	Path   string   `json:"path"`
	Paths  []string `json:"paths"`
}

type response struct {
	Revalidated bool     `json:"revalidated"`
	Paths       []string `json:"paths"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(httpmw.Scope("revalidate"), httpmw.NoStore).Handle(Path, h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		secret string
		paths  []string
	)
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		secret = q.Get("secret")
		paths = q["path"]
	case http.MethodPost:
		var b postBody
		// an unreadable body is treated as an empty one and fails auth
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err == nil {
			_ = json.Unmarshal(raw, &b)
		}
		secret = b.Secret
		paths = b.Paths
		if len(paths) == 0 && b.Path != "" {
			paths = []string{b.Path}
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.fails.Tokens() < 1 {
		h.count("throttled")
		w.Header().Set("Retry-After", strconv.Itoa(int(failEvery/time.Second)))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	if !h.authorized(secret) {
		h.fails.Allow()
		h.count("unauthorized")
		log.FromContext(ctx).Warn(ctx, "revalidate rejected", "secret_configured", h.enabled)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	paths = Normalize(paths)
	if h.inv != nil {
		h.inv.Invalidate(ctx, paths)
	}
	h.count("ok")
	log.FromContext(ctx).Info(ctx, "revalidated", "paths", paths)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(response{Revalidated: true, Paths: paths})
}

// authorized compares digests so the comparison time does not depend on
// the length of the guess. No configured secret rejects everything.
func (h *Handler) authorized(got string) bool {
	if !h.enabled || got == "" {
		return false
	}
	sum := sha256.Sum256([]byte(got))
	return subtle.ConstantTimeCompare(sum[:], h.secret[:]) == 1
}

func (h *Handler) count(result string) {
	if h.metrics != nil {
		h.metrics.IncRevalidate(result)
	}
}

// Normalize cleans, deduplicates and bounds paths, keeping first-seen order.
// Empty input yields ["/"].
func Normalize(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = pathutil.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) == maxPaths {
			break
		}
	}
	if len(out) == 0 {
		return []string{"/"}
	}
	return out
}
