package portal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"VolumeSentinel/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ProxyPool hands out a random outbound proxy per request. An empty pool
// connects directly.
type ProxyPool struct {
	urls []*url.URL
}

// NewProxyPool creates a pool from parsed proxy URLs.
func NewProxyPool(urls []*url.URL) *ProxyPool {
	return &ProxyPool{urls: urls}
}

// Len returns the number of proxies in the pool.
func (p *ProxyPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.urls)
}

// Proxy picks a proxy for req. It matches http.Transport.Proxy.
func (p *ProxyPool) Proxy(*http.Request) (*url.URL, error) {
	if p.Len() == 0 {
		return nil, nil
	}
	return p.urls[rand.IntN(len(p.urls))], nil
}

// ParseProxyLine parses ip:port or ip:port:user:pass into an HTTP proxy URL.
func ParseProxyLine(line string) (*url.URL, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	switch len(parts) {
	case 2:
		return &url.URL{Scheme: "http", Host: parts[0] + ":" + parts[1]}, nil
	case 4:
		return &url.URL{
			Scheme: "http",
			Host:   parts[0] + ":" + parts[1],
			User:   url.UserPassword(parts[2], parts[3]),
		}, nil
	default:
		return nil, fmt.Errorf("proxy %q: expected ip:port or ip:port:user:pass", line)
	}
}

// ReadProxyList reads one proxy per line. Blank lines and # comments are skipped.
func ReadProxyList(r io.Reader) ([]*url.URL, error) {
	var urls []*url.URL
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := ParseProxyLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		urls = append(urls, u)
	}
	return urls, sc.Err()
}

type webshareList struct {
	Results []struct {
		ProxyAddress string `json:"proxy_address"`
		Port         int    `json:"port"`
		Username     string `json:"username"`
		Password     string `json:"password"`
	} `json:"results"`
}

// FetchWebshareProxies downloads the proxy list of a Webshare account,
// retrying with backoff until ctx ends or a few attempts have failed.
func FetchWebshareProxies(ctx context.Context, client *http.Client, apiURL, token string) ([]*url.URL, error) {
	var list webshareList
	op := func() error {
		list = webshareList{}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Token "+token)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("webshare: status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("webshare: status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&list); err != nil {
			return backoff.Permanent(fmt.Errorf("decode webshare list: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)); err != nil {
		return nil, err
	}

	urls := make([]*url.URL, 0, len(list.Results))
	for _, r := range list.Results {
		u := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", r.ProxyAddress, r.Port)}
		if r.Username != "" {
			u.User = url.UserPassword(r.Username, r.Password)
		}
		urls = append(urls, u)
	}
	return urls, nil
}

// LoadProxyPool builds the pool from Webshare when enabled, otherwise from the
// proxy file. Without either it returns an empty pool.
func LoadProxyPool(ctx context.Context, cfg config.PortalConfig, logger zerolog.Logger) (*ProxyPool, error) {
	switch {
	case cfg.UseWebshare:
		client := &http.Client{Timeout: cfg.Timeout()}
		urls, err := FetchWebshareProxies(ctx, client, cfg.WebshareURL, cfg.WebshareAPIKey)
		if err != nil {
			return NewProxyPool(nil), fmt.Errorf("load webshare proxies: %w", err)
		}
		logger.Info().Int("proxies", len(urls)).Msg("Loaded Webshare proxies")
		return NewProxyPool(urls), nil
	case cfg.ProxyFile != "":
		f, err := os.Open(cfg.ProxyFile)
		if err != nil {
			return NewProxyPool(nil), fmt.Errorf("open proxy file: %w", err)
		}
		defer f.Close()
		urls, err := ReadProxyList(f)
		if err != nil {
			return NewProxyPool(nil), fmt.Errorf("read proxy file %s: %w", cfg.ProxyFile, err)
		}
		logger.Info().Int("proxies", len(urls)).Str("file", cfg.ProxyFile).Msg("Loaded proxy list")
		return NewProxyPool(urls), nil
	default:
		return NewProxyPool(nil), nil
	}
}
