package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/model"
)

func topUpPath(contractID string) string {
	return "/service/mssa/contracts/" + url.PathEscape(contractID) + "/consumption/highspeed-volume"
}

// csrfToken reads the anti-forgery token the portal embeds in its pages.
func (c *Client) csrfToken(ctx context.Context, s *Session) (string, error) {
	page := usagesPagePath
	if s.Mode == config.AuthGuestLink {
		page = guestLandingPath
	}
	status, _, body, err := c.get(ctx, s, c.endpoint(page), nil)
	if err != nil {
		return "", fmt.Errorf("fetch csrf page: %w", err)
	}
	if status != http.StatusOK {
		return "", statusError("fetch csrf page", status)
	}
	token := parseCSRFToken(body)
	if token == "" {
		if hasLoginForm(body) {
			return "", fmt.Errorf("csrf page redirected to login: %w", ErrAuthExpired)
		}
		return "", fmt.Errorf("no csrf token on %s: %w", page, ErrMalformedResponse)
	}
	return token, nil
}

// TriggerTopUp books one more unit of high-speed volume. A refusal by the
// portal is reported as an unsuccessful result, not as an error.
func (c *Client) TriggerTopUp(ctx context.Context, s *Session, contractID string) (model.TopUpResult, error) {
	if s == nil {
		return model.TopUpResult{}, fmt.Errorf("trigger top-up: no session: %w", ErrAuthExpired)
	}
	token, err := c.csrfToken(ctx, s)
	if err != nil {
		return model.TopUpResult{}, fmt.Errorf("trigger top-up: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(topUpPath(contractID)), nil)
	if err != nil {
		return model.TopUpResult{}, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range jsonHeaders(c.BaseURL, usagesPagePath) {
		req.Header[k] = vs
	}
	req.Header.Set("Origin", c.BaseURL.Scheme+"://"+c.BaseURL.Host)
	req.Header.Set("X-CSRF-TOKEN", token)

	resp, err := c.do(ctx, s, req)
	if err != nil {
		return model.TopUpResult{}, fmt.Errorf("trigger top-up: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	now := time.Now()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return model.TopUpResult{Success: true, Message: "high-speed volume increased by 1 GB", At: now}, nil
	case resp.StatusCode == http.StatusBadRequest:
		return model.TopUpResult{Success: false, Message: "top-up not unlocked yet", At: now}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return model.TopUpResult{}, statusError("trigger top-up", resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return model.TopUpResult{}, statusError("trigger top-up", resp.StatusCode)
	default:
		return model.TopUpResult{Success: false, Message: fmt.Sprintf("portal answered status %d", resp.StatusCode), At: now}, nil
	}
}
