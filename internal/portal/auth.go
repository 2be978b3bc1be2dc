package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"VolumeSentinel/internal/config"

	"github.com/google/uuid"
)

const (
	authorizePath    = "/oauth2/authorization/authorization-code-grant"
	guestLandingPath = "/unlimited-highspeed"
	usagesPagePath   = "/usages.html"

	sessionCookie = "SESSION"
	loginCookie   = "ciam-ust"
)

// CredentialsAuth logs in with username and password through the portal's
// single sign-on form.
type CredentialsAuth struct {
	Client   *Client
	Username string
	Password string
}

// Authenticate runs the sign-on flow and returns a session carrying the portal cookie.
func (a *CredentialsAuth) Authenticate(ctx context.Context) (*Session, error) {
	s, err := a.Client.newSession(config.AuthCredentials)
	if err != nil {
		return nil, err
	}
	s.ID = uuid.NewString()
	s.CreatedAt = time.Now()

	status, pageURL, body, err := a.Client.get(ctx, s, a.Client.endpoint(authorizePath), nil)
	if err != nil {
		return nil, fmt.Errorf("open login page: %w", err)
	}
	if status >= 500 {
		return nil, fmt.Errorf("open login page: status %d: %w", status, ErrNetwork)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("open login page: status %d: %w", status, ErrAuth)
	}

	form, ok := parseLoginForm(body)
	if !ok {
		if s.HasCookie(a.Client.BaseURL, sessionCookie) && s.HasCookie(a.Client.BaseURL, loginCookie) {
			return s, nil
		}
		return nil, fmt.Errorf("login form not found: %w", ErrAuth)
	}

	action, err := pageURL.Parse(form.Action)
	if err != nil {
		return nil, fmt.Errorf("login form action %q: %w", form.Action, ErrMalformedResponse)
	}
	values := url.Values{}
	for k, v := range form.Fields {
		values.Set(k, v)
	}
	values.Set("username", a.Username)
	values.Set("password", a.Password)

	var req *http.Request
	if form.Method == http.MethodGet {
		action.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, action.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, action.String(), strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Referer", pageURL.String())

	resp, err := a.Client.do(ctx, s, req)
	if err != nil {
		return nil, fmt.Errorf("submit login: %w", err)
	}
	defer resp.Body.Close()
	result, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("submit login: status %d: %w", resp.StatusCode, ErrNetwork)
	}
	if hasLoginForm(result) {
		return nil, fmt.Errorf("credentials rejected: %w", ErrAuth)
	}
	if !s.HasCookie(a.Client.BaseURL, sessionCookie) {
		return nil, fmt.Errorf("no %s cookie after login (status %d): %w", sessionCookie, resp.StatusCode, ErrAuth)
	}
	return s, nil
}

// GuestAuth opens a personal guest link. The link covers exactly one contract;
// if ContractID is empty it is read from the landing page.
type GuestAuth struct {
	Client     *Client
	GuestURL   string
	ContractID string
}

// Authenticate follows the guest link and resolves the contract it belongs to.
func (a *GuestAuth) Authenticate(ctx context.Context) (*Session, error) {
	s, err := a.Client.newSession(config.AuthGuestLink)
	if err != nil {
		return nil, err
	}
	s.ID = uuid.NewString()
	s.CreatedAt = time.Now()

	status, _, _, err := a.Client.get(ctx, s, a.GuestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open guest link: %w", err)
	}
	if status >= 500 {
		return nil, fmt.Errorf("open guest link: status %d: %w", status, ErrNetwork)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("open guest link: status %d: %w", status, ErrAuth)
	}

	s.ContractID = a.ContractID
	if s.ContractID == "" {
		id, err := a.Client.ResolveGuestContract(ctx, s)
		if err != nil {
			return nil, err
		}
		s.ContractID = id
	}
	return s, nil
}

// ResolveGuestContract reads the contract id from the guest landing page.
func (c *Client) ResolveGuestContract(ctx context.Context, s *Session) (string, error) {
	status, _, body, err := c.get(ctx, s, c.endpoint(guestLandingPath), nil)
	if err != nil {
		return "", fmt.Errorf("resolve guest contract: %w", err)
	}
	if status != http.StatusOK {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return "", fmt.Errorf("resolve guest contract: status %d: %w", status, ErrAuth)
		}
		return "", statusError("resolve guest contract", status)
	}
	id := parseBodyContractID(body)
	if id == "" {
		return "", fmt.Errorf("resolve guest contract: no data-contract-id: %w", ErrMalformedResponse)
	}
	return id, nil
}
