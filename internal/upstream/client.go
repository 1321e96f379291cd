package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 8 << 20
)

// Outcome is reported once per Fetch. Kind is 0 on success.
type Outcome struct {
	URL      *url.URL
	Kind     Kind
	Status   int
	Duration time.Duration
}

// Label is "ok" for a successful fetch, else the rejection kind.
func (o Outcome) Label() string {
	if o.Kind == 0 {
		return "ok"
	}
	return o.Kind.String()
}

type Options struct {
	// Origin is the raw configured origin, validated with ParseOrigin.
	Origin string

	// HTTPClient overrides the default otelhttp-instrumented client.
	HTTPClient *http.Client

	Timeout      time.Duration
	MaxBodyBytes int64
	Logger       log.Logger

	// OnOutcome is called after every Fetch, for metrics.
	OnOutcome func(Outcome)
}

type Client struct {
	origin    *url.URL
	hc        *http.Client
	timeout   time.Duration
	maxBody   int64
	logger    log.Logger
	onOutcome func(Outcome)
}

func NewClient(opts Options) *Client {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	c := &Client{
		origin:    ParseOrigin(opts.Origin, L),
		hc:        opts.HTTPClient,
		timeout:   opts.Timeout,
		maxBody:   opts.MaxBodyBytes,
		logger:    L,
		onOutcome: opts.OnOutcome,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxBody <= 0 {
		c.maxBody = DefaultMaxBodyBytes
	}
	if c.hc == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		c.hc = &http.Client{Transport: otelhttp.NewTransport(tr)}
	} else {
		hc := *c.hc
		c.hc = &hc
	}
	// redirects are returned as-is and rejected on status
	c.hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

// Origin returns a copy of the validated origin.
func (c *Client) Origin() *url.URL {
	u := *c.origin
	return &u
}

// URL builds a request URL on the client's origin.
func (c *Client) URL(path string, params ...Param) *url.URL {
	return BuildURL(c.origin, path, params...)
}

// Fetch performs one validated GET of u and decodes it with shape. On any
// failure it returns the zero T and a *FetchError.
func Fetch[T any](ctx context.Context, c *Client, u *url.URL, shape Shape[T]) (T, error) {
	start := time.Now()
	out, status, err := fetch(ctx, c, u, shape)

	oc := Outcome{URL: u, Status: status, Duration: time.Since(start), Kind: KindOf(err)}
	if c.onOutcome != nil {
		c.onOutcome(oc)
	}
	if err != nil {
		c.logger.Warn(ctx, "upstream response rejected",
			"kind", oc.Kind.String(),
			"url", redact(u),
			"status", status,
			"error", err.Error(),
		)
		var zero T
		return zero, err
	}
	return out, nil
}

func fetch[T any](ctx context.Context, c *Client, u *url.URL, shape Shape[T]) (T, int, error) {
	var zero T
	target := redact(u)
	reject := func(k Kind, status int, err error) (T, int, error) {
		return zero, status, &FetchError{Kind: k, URL: target, Status: status, Err: err}
	}

	if !sameOrigin(c.origin, u) {
		return reject(KindOriginMismatch, 0, xerrors.Newf("url does not resolve to %s", c.origin))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return reject(KindNetwork, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return reject(KindTimeout, 0, err)
		}
		return reject(KindNetwork, 0, err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status < 200 || status > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return reject(KindHTTPStatus, status, xerrors.Newf("unexpected status %d", status))
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return reject(KindContentType, status, xerrors.Newf("content type %q is not json", resp.Header.Get("Content-Type")))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		if isTimeout(ctx, err) {
			return reject(KindTimeout, status, err)
		}
		return reject(KindNetwork, status, err)
	}
	if int64(len(body)) > c.maxBody {
		return reject(KindMalformedBody, status, xerrors.Newf("body exceeds %d bytes", c.maxBody))
	}
	if !json.Valid(body) {
		return reject(KindMalformedBody, status, xerrors.New("body is not valid json"))
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return reject(KindSchemaMismatch, status, xerrors.New("top level is not an object"))
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return reject(KindSchemaMismatch, status, err)
	}

	out, err := shape(top)
	if err != nil {
		return reject(KindSchemaMismatch, status, err)
	}
	return out, status, nil
}

func isJSON(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}
