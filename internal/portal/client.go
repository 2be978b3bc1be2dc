package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"VolumeSentinel/internal/config"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
	// maxBody caps how much of a response is read.
	maxBody = 4 << 20
)

// Client talks to the subscriber portal. It is safe for concurrent use;
// per-login cookie state lives in Session.
type Client struct {
	BaseURL   *url.URL
	Timeout   time.Duration
	transport *http.Transport
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// NewClient creates a portal client with optional proxy support and a shared request rate limit.
func NewClient(cfg config.PortalConfig, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		BaseURL:   base,
		Timeout:   timeout,
		transport: transport,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.With().Str("component", "portal").Logger(),
	}, nil
}

// SetProxyPool routes every request through a random proxy of pool. It must
// be called before the first request; an empty pool changes nothing.
func (c *Client) SetProxyPool(pool *ProxyPool) {
	if pool.Len() == 0 {
		return
	}
	c.transport.Proxy = pool.Proxy
	c.logger.Info().Int("proxies", pool.Len()).Msg("Using proxy pool")
}

// newSession creates an unauthenticated session with its own cookie jar.
func (c *Client) newSession(mode config.AuthMode) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Session{
		Mode: mode,
		jar:  jar,
		http: &http.Client{
			Timeout:   c.Timeout,
			Transport: c.transport,
			Jar:       jar,
		},
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.BaseURL.ResolveReference(&url.URL{Path: path}).String()
}

// do sends the request through the rate limiter using the session's cookies.
// Transport failures are wrapped with ErrNetwork.
func (c *Client) do(ctx context.Context, s *Session, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", ErrNetwork, err)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := s.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.URL.Path, err)
	}
	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Msg("portal request")
	return resp, nil
}

// get issues a GET and returns status, final URL and body.
func (c *Client) get(ctx context.Context, s *Session, target string, header http.Header) (int, *url.URL, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.do(ctx, s, req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, resp.Request.URL, nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	return resp.StatusCode, resp.Request.URL, body, nil
}

// statusError maps an unexpected HTTP status to an error class.
func statusError(op string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w", op, status, ErrAuthExpired)
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return fmt.Errorf("%s: status %d: %w", op, status, ErrNetwork)
	default:
		return fmt.Errorf("%s: unexpected status %d: %w", op, status, ErrMalformedResponse)
	}
}

func jsonHeaders(base *url.URL, referer string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("X-HR", "true")
	h.Set("Referer", base.ResolveReference(&url.URL{Path: referer}).String())
	return h
}
