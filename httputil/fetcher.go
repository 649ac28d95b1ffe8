package httputil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxResponseBytes caps how much of a body we read; retail pages beyond
// this are junk or an anti-bot tarpit.
const maxResponseBytes = 8 << 20

type FailureKind string

const (
	// FailureTransient covers timeouts, resets and 429/5xx; retried with
	// backoff until the attempt budget runs out.
	FailureTransient FailureKind = "transient"
	// FailurePermanent covers 403/404 and TLS handshake failures.
	// Blocking is a structural signal, not a blip, so no retry.
	FailurePermanent FailureKind = "permanent"
)

// FetchError is the tagged failure a caller uses to decide whether a
// store is blocked or merely degraded.
type FetchError struct {
	Kind   FailureKind
	Status int // 0 when the failure happened below HTTP
	err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed (%s): HTTP %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.err)
}

func (e *FetchError) Unwrap() error { return e.err }

// IsPermanent reports whether err is a FetchError marking the host as
// blocked or gone rather than temporarily degraded.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FailurePermanent
}

// Request describes one fetch. MinDelay is the politeness budget for the
// request's host; zero falls back to the fetcher default.
type Request struct {
	URL      string
	Method   string
	Headers  map[string]string
	Body     io.Reader
	MinDelay time.Duration
}

// Response is a fully-read successful response.
type Response struct {
	Body   []byte
	Status int
}

// Fetcher is the shared fetch layer: one pooled http.Client for the
// process, a politeness limiter per host, and bounded retry with
// exponential backoff and jitter. Safe for concurrent use.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	minDelay   time.Duration
	maxRetries uint64
	hosts      *hostLimiters
}

// hostLimiters is shared by pointer so retry-budget clones of a Fetcher
// still serialize politely against the same hosts.
type hostLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (h *hostLimiters) get(host string, minDelay time.Duration) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(minDelay), 1)
		h.limiters[host] = l
	}
	return l
}

type Option func(*Fetcher)

func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = uint64(n)
		}
	}
}

func WithMinDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.minDelay = d }
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithClient swaps the underlying http.Client; tests use this to point
// at httptest servers with short timeouts.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func NewFetcher(opts ...Option) *Fetcher {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     60 * time.Second,
		ForceAttemptHTTP2:   false,
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		userAgent:  defaultUserAgent,
		minDelay:   time.Second,
		maxRetries: 3,
		hosts:      &hostLimiters{limiters: make(map[string]*rate.Limiter)},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithRetries returns a fetcher with a different retry budget that
// shares this one's connection pool and host limiters.
func (f *Fetcher) WithRetries(n int) *Fetcher {
	if n < 0 || uint64(n) == f.maxRetries {
		return f
	}
	clone := &Fetcher{
		client:     f.client,
		userAgent:  f.userAgent,
		minDelay:   f.minDelay,
		maxRetries: uint64(n),
		hosts:      f.hosts,
	}
	return clone
}

// Fetch performs one request with politeness and retry. On success the
// whole body is returned; on failure the error is a *FetchError whose
// kind tells the caller whether retrying later makes sense.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, &FetchError{Kind: FailurePermanent, err: fmt.Errorf("parse url: %w", err)}
	}

	if err := f.limiter(u.Host, req.MinDelay).Wait(ctx); err != nil {
		return nil, &FetchError{Kind: FailureTransient, err: err}
	}

	var resp *Response
	operation := func() error {
		r, err := f.doOnce(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxInterval = 10 * time.Second

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, f.maxRetries), ctx))
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		// Context expiry surfaces here when the backoff loop is cut short.
		return nil, &FetchError{Kind: FailureTransient, err: err}
	}
	return resp, nil
}

func (f *Fetcher) doOnce(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, req.Body)
	if err != nil {
		return nil, backoff.Permanent(&FetchError{Kind: FailurePermanent, err: err})
	}

	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-NZ,en;q=0.9")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, classifyNetError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, &FetchError{Kind: FailureTransient, Status: resp.StatusCode, err: err}
		}
		return &Response{Body: body, Status: resp.StatusCode}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Kind: FailureTransient, Status: resp.StatusCode}

	default:
		// 403, 404 and the rest of 4xx: retrying would only get us
		// blocked harder.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, backoff.Permanent(&FetchError{Kind: FailurePermanent, Status: resp.StatusCode})
	}
}

func classifyNetError(err error) error {
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return backoff.Permanent(&FetchError{Kind: FailurePermanent, err: err})
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FailureTransient, err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(&FetchError{Kind: FailureTransient, err: err})
	}

	// Connection resets and other url.Errors are worth another try.
	return &FetchError{Kind: FailureTransient, err: err}
}

// limiter returns the per-host limiter, creating it on first use. The
// interval of the first request to a host wins for the pool lifetime;
// stores do not share hosts in practice.
func (f *Fetcher) limiter(host string, minDelay time.Duration) *rate.Limiter {
	if minDelay <= 0 {
		minDelay = f.minDelay
	}
	return f.hosts.get(host, minDelay)
}
