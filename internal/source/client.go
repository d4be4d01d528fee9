// Package source fetches raw NAV payloads from the upstream endpoints. Every
// fetch walks an ordered list of URL variants; 404 moves on to the next
// variant, other failures are retried with exponential backoff first.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"navfeed/internal/config"
	"navfeed/internal/domain"
	"navfeed/internal/metrics"
	"navfeed/internal/util"
)

// Window is the lookback requested from the per-instrument export.
type Window struct {
	Months int
}

// Variant is one candidate URL for a payload.
type Variant struct {
	Name string
	URL  string
	// Host overrides the Host header; used when URL targets an IP address.
	Host string
	// Insecure skips TLS verification for the variant.
	Insecure bool
}

// errNotFound marks a 404 on one variant.
var errNotFound = errors.New("not found")

// Client fetches payloads over HTTP. It never touches the stores.
type Client struct {
	cfg      config.Source
	http     *http.Client
	insecure *http.Client
	limiter  *util.RateLimiter
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for verified requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client for the given source configuration.
func New(cfg config.Source, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin, 2),
		log:     slog.Default().With("component", "source"),
	}
	for _, o := range opts {
		o(c)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // direct-IP fallback has no matching certificate
	c.insecure = &http.Client{Transport: transport}
	return c
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// archivePrefixes lists every file-name spelling seen on the archive host,
// with and without a separator before the date.
var archivePrefixes = []string{
	"NAV_File_", "NAV_FILE_", "NAV_file_", "NAV%20File%20", "NAV%20FILE%20", "nav%20file%20",
	"NAV_File", "NAV_FILE", "NAV_file", "NAV%20File", "NAV%20FILE", "nav%20file",
}

// DailyArchiveVariants returns the candidate URLs of the archive for d: every
// file-name spelling on the archive host, then the same names against the
// direct-IP fallback host.
func (c *Client) DailyArchiveVariants(d domain.Date) []Variant {
	stamp := d.Format("02012006")
	names := make([]string, len(archivePrefixes))
	for i, p := range archivePrefixes {
		names[i] = p + stamp + ".zip"
	}

	variants := make([]Variant, 0, 2*len(names))
	for _, n := range names {
		variants = append(variants, Variant{Name: "archive/" + n, URL: c.cfg.ArchiveBase + "/" + n})
	}

	if c.cfg.FallbackHost == "" {
		return variants
	}
	base, err := url.Parse(c.cfg.ArchiveBase)
	if err != nil {
		return variants
	}
	host := c.cfg.ArchiveHost
	if host == "" {
		host = base.Host
	}
	base.Host = c.cfg.FallbackHost
	for _, n := range names {
		variants = append(variants, Variant{
			Name:     "fallback/" + n,
			URL:      base.String() + "/" + n,
			Host:     host,
			Insecure: c.cfg.InsecureFallback,
		})
	}
	return variants
}

// FetchDailyArchive downloads the zip archive published for d.
func (c *Client) FetchDailyArchive(ctx context.Context, d domain.Date) ([]byte, error) {
	body, v, err := c.fetchFirst(ctx, "archive", c.DailyArchiveVariants(d))
	if err != nil {
		return nil, err
	}
	c.log.Debug("archive fetched", "date", d, "variant", v.Name, "bytes", len(body))
	return body, nil
}

// FetchInstrumentHistory downloads the NAV export of one scheme.
func (c *Client) FetchInstrumentHistory(ctx context.Context, key domain.Key, w Window) ([]byte, error) {
	q := url.Values{}
	q.Set("navcatdataxls", key.Manager)
	q.Set("navyearselxls", strconv.Itoa(w.Months))
	q.Set("navsubdataxls", key.Instrument)
	v := Variant{Name: "export", URL: c.cfg.ExportURL + "?" + q.Encode()}

	body, _, err := c.fetchFirst(ctx, "export", []Variant{v})
	return body, err
}

// FetchInstrumentList downloads the latest NAV list covering every scheme.
func (c *Client) FetchInstrumentList(ctx context.Context) ([]byte, error) {
	body, _, err := c.fetchFirst(ctx, "list", []Variant{{Name: "list", URL: c.cfg.ListURL}})
	return body, err
}

// ---------------------------------------------------------------------------
// Variant chain
// ---------------------------------------------------------------------------

// fetchFirst tries variants in order and returns the first body. When every
// variant answered 404 the result is domain.ErrUnavailable; otherwise the
// last transient error is returned as a *domain.NetworkError.
func (c *Client) fetchFirst(ctx context.Context, endpoint string, variants []Variant) ([]byte, Variant, error) {
	var lastErr error
	var lastURL string
	for _, v := range variants {
		var body []byte
		err := util.Retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBaseDelay, func() error {
			b, err := c.fetchOnce(ctx, endpoint, v)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
		if err == nil {
			return body, v, nil
		}
		if ctx.Err() != nil {
			return nil, v, ctx.Err()
		}
		if errors.Is(err, errNotFound) {
			continue
		}
		c.log.Warn("variant failed", "endpoint", endpoint, "variant", v.Name, "error", err)
		lastErr, lastURL = err, v.URL
	}
	if lastErr == nil {
		return nil, Variant{}, domain.ErrUnavailable
	}
	return nil, Variant{}, &domain.NetworkError{URL: lastURL, Err: lastErr}
}

// fetchOnce performs one paced request. 404 and empty bodies are permanent
// for the variant; everything else may be retried.
func (c *Client) fetchOnce(ctx context.Context, endpoint string, v Variant) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, util.Permanent(err)
	}
	if err := util.Sleep(ctx, util.Jitter(c.cfg.MinDelay, c.cfg.MaxDelay)); err != nil {
		return nil, util.Permanent(err)
	}

	reqCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, v.URL, nil)
	if err != nil {
		return nil, util.Permanent(err)
	}
	if v.Host != "" {
		req.Host = v.Host
	}
	c.setHeaders(req, endpoint)

	hc := c.http
	if v.Insecure {
		hc = c.insecure
	}

	start := time.Now()
	resp, err := hc.Do(req)
	metrics.SourceLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SourceRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.SourceRequests.WithLabelValues(endpoint, "not_found").Inc()
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, util.Permanent(errNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.SourceRequests.WithLabelValues(endpoint, "error").Inc()
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: status %d", v.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.SourceRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%s: reading body: %w", v.Name, err)
	}
	if len(body) == 0 {
		metrics.SourceRequests.WithLabelValues(endpoint, "not_found").Inc()
		return nil, util.Permanent(errNotFound)
	}
	metrics.SourceRequests.WithLabelValues(endpoint, "ok").Inc()
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, endpoint string) {
	if n := len(c.cfg.UserAgents); n > 0 {
		req.Header.Set("User-Agent", c.cfg.UserAgents[rand.IntN(n)])
	}
	switch endpoint {
	case "archive":
		req.Header.Set("Accept", "application/zip,application/octet-stream,*/*")
	default:
		req.Header.Set("Accept", "application/vnd.ms-excel,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,text/plain,*/*")
		if c.cfg.Referer != "" {
			req.Header.Set("Referer", c.cfg.Referer)
		}
	}
}
