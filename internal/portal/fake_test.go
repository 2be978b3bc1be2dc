package portal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"VolumeSentinel/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testCSRF     = "csrf-123"
	testContract = "555"
	loginPage    = `<html><body><form id="kc-form-login" action="/auth/login-actions/authenticate?code=abc" method="post">
<input type="hidden" name="credentialId" value="">
<input type="text" name="username"><input type="password" name="password">
</form></body></html>`
)

// fakePortal mimics the pieces of the subscriber portal the client talks to.
type fakePortal struct {
	srv *httptest.Server

	mu          sync.Mutex
	sessions    map[string]bool
	logins      int
	usageBody   string
	usageStatus int
	usageDelay  time.Duration
	topupStatus int
	topups      int
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	f := &fakePortal{
		sessions:    map[string]bool{},
		usageStatus: http.StatusOK,
		topupStatus: http.StatusNoContent,
		usageBody: `{"dataVolume":{"dataUpdatedAt":"2026-03-01T10:00:00Z","highSpeedLimit":{"value":10,"unit":"GB"},
"totalConsumption":{"value":8.5,"unit":"GB"},"resetDay":"17",
"unlimitedRefill":{"actions":{"refill-highspeed-volume":{"href":"/refill"}},"bookedRefillPackages":[{"total":{"value":1},"used":{"value":1}}]}}}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+authorizePath, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth/login", http.StatusFound)
	})
	mux.HandleFunc("GET /auth/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("POST /auth/login-actions/authenticate", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, hasCredID := r.PostForm["credentialId"]
		if r.URL.Query().Get("code") != "abc" || !hasCredID ||
			r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "secret" {
			fmt.Fprint(w, loginPage)
			return
		}
		f.startSession(w)
		http.SetCookie(w, &http.Cookie{Name: loginCookie, Value: "1", Path: "/"})
		http.Redirect(w, r, usagesPagePath, http.StatusFound)
	})
	mux.HandleFunc("GET /mc/{token}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("token") != "guesttoken" {
			http.NotFound(w, r)
			return
		}
		f.startSession(w)
		http.Redirect(w, r, guestLandingPath, http.StatusFound)
	})
	mux.HandleFunc("GET "+usagesPagePath, func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			fmt.Fprint(w, loginPage)
			return
		}
		fmt.Fprintf(w, `<html><head><meta name="_csrf" content="%s"></head><body></body></html>`, testCSRF)
	})
	mux.HandleFunc("GET "+guestLandingPath, func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, `<html><head><meta name="_csrf" content="%s"></head><body data-contract-id="%s"></body></html>`, testCSRF, testContract)
	})
	usage := func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.mu.Lock()
		status, body, delay := f.usageStatus, f.usageBody, f.usageDelay
		f.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
	mux.HandleFunc("GET /service/mssa/contracts/{id}/consumption/aggregations", usage)
	mux.HandleFunc("GET /service/mssa/contracts/{id}/consumption/aggregations/data-volume-for-landingpage", usage)
	mux.HandleFunc("POST /service/mssa/contracts/{id}/consumption/highspeed-volume", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) || r.Header.Get("X-CSRF-TOKEN") != testCSRF {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.mu.Lock()
		f.topups++
		status := f.topupStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePortal) startSession(w http.ResponseWriter) {
	f.mu.Lock()
	f.logins++
	id := fmt.Sprintf("sess-%d", f.logins)
	f.sessions[id] = true
	f.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
}

func (f *fakePortal) authorized(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[c.Value]
}

// expireAll invalidates every session handed out so far.
func (f *fakePortal) expireAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = map[string]bool{}
}

func (f *fakePortal) set(fn func(f *fakePortal)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakePortal) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(config.PortalConfig{BaseURL: f.srv.URL, TimeoutSeconds: 5}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func (f *fakePortal) topupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topups
}
