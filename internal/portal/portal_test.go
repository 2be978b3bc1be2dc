package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginCredentials(t *testing.T, f *fakePortal, c *Client) *Session {
	t.Helper()
	auth := &CredentialsAuth{Client: c, Username: "alice", Password: "secret"}
	s, err := auth.Authenticate(context.Background())
	require.NoError(t, err)
	return s
}

func TestCredentialsAuth_LoginAndUsage(t *testing.T) {
	f := newFakePortal(t)
	c := f.client(t)

	s := loginCredentials(t, f, c)
	assert.Equal(t, config.AuthCredentials, s.Mode)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.HasCookie(c.BaseURL, sessionCookie))

	snap, err := c.GetUsage(context.Background(), s, "111")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, snap.RemainingGB, 1e-9)
	assert.Equal(t, 10.0, snap.TotalGB)
	assert.Equal(t, 8.5, snap.ConsumedGB)
	assert.Equal(t, 17, snap.ResetDay)
	assert.Equal(t, 1, snap.RefillPackages)
	assert.Equal(t, model.TopUpAvailable, snap.TopUp)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), snap.Timestamp.UTC())
}

func TestCredentialsAuth_Rejected(t *testing.T) {
	f := newFakePortal(t)
	auth := &CredentialsAuth{Client: f.client(t), Username: "alice", Password: "wrong"}

	_, err := auth.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, KindAuth, Classify(err))
}

func TestGuestAuth_ResolvesContract(t *testing.T) {
	f := newFakePortal(t)
	f.set(func(f *fakePortal) {
		f.usageBody = `{"dataUpdatedAt":"2026-03-01T10:00:00Z","highSpeedLimit":{"value":5},"totalConsumption":{"value":4.25}}`
	})
	c := f.client(t)
	auth := &GuestAuth{Client: c, GuestURL: f.srv.URL + "/mc/guesttoken"}

	s, err := auth.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.AuthGuestLink, s.Mode)
	assert.Equal(t, testContract, s.ContractID)

	snap, err := c.GetUsage(context.Background(), s, s.ContractID)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, snap.RemainingGB, 1e-9)
	assert.Equal(t, model.TopUpUnknown, snap.TopUp)
}

func TestGuestAuth_BadLink(t *testing.T) {
	f := newFakePortal(t)
	auth := &GuestAuth{Client: f.client(t), GuestURL: f.srv.URL + "/mc/unknown"}

	_, err := auth.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestGetUsage_ErrorClasses(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakePortal)
		want  Kind
	}{
		{"expired session", func(f *fakePortal) { f.sessions = map[string]bool{} }, KindAuth},
		{"server error", func(f *fakePortal) { f.usageStatus = http.StatusBadGateway }, KindNetwork},
		{"not json", func(f *fakePortal) { f.usageBody = "<html>maintenance</html>" }, KindMalformed},
		{"missing limit", func(f *fakePortal) { f.usageBody = `{"dataVolume":{"totalConsumption":{"value":1}}}` }, KindMalformed},
		{"consumption above limit", func(f *fakePortal) {
			f.usageBody = `{"dataVolume":{"highSpeedLimit":{"value":5},"totalConsumption":{"value":6}}}`
		}, KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakePortal(t)
			c := f.client(t)
			s := loginCredentials(t, f, c)
			f.set(tt.setup)

			_, err := c.GetUsage(context.Background(), s, "111")
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err), "err: %v", err)
		})
	}
}

func TestGetUsage_TimeoutIsNetworkError(t *testing.T) {
	f := newFakePortal(t)
	c := f.client(t)
	s := loginCredentials(t, f, c)
	f.set(func(f *fakePortal) { f.usageDelay = 2 * time.Second })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.GetUsage(ctx, s, "111")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, Classify(err))
}

func TestTriggerTopUp(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantSuccess bool
		wantKind    Kind
	}{
		{"booked", http.StatusNoContent, true, KindNone},
		{"not unlocked", http.StatusBadRequest, false, KindNone},
		{"unexpected status", http.StatusConflict, false, KindNone},
		{"forbidden", http.StatusForbidden, false, KindAuth},
		{"server error", http.StatusInternalServerError, false, KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakePortal(t)
			c := f.client(t)
			s := loginCredentials(t, f, c)
			f.set(func(f *fakePortal) { f.topupStatus = tt.status })

			res, err := c.TriggerTopUp(context.Background(), s, "111")
			assert.Equal(t, tt.wantKind, Classify(err), "err: %v", err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			if err == nil {
				assert.NotEmpty(t, res.Message)
			}
			assert.Equal(t, 1, f.topupCount())
		})
	}
}

func TestTriggerTopUp_ExpiredSessionSeesLoginPage(t *testing.T) {
	f := newFakePortal(t)
	c := f.client(t)
	s := loginCredentials(t, f, c)
	f.expireAll()

	_, err := c.TriggerTopUp(context.Background(), s, "111")
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Zero(t, f.topupCount())
}

func TestParseUsage_Clamp(t *testing.T) {
	now := time.Now()
	snap, err := parseUsage([]byte(`{"dataVolume":{"highSpeedLimit":{"value":5},"totalConsumption":{"value":5.001},"unlimitedRefill":{"actions":{}}}}`), now)
	require.NoError(t, err)
	assert.Zero(t, snap.RemainingGB)
	assert.Equal(t, now, snap.Timestamp, "fetch time is used without dataUpdatedAt")
	assert.Equal(t, model.TopUpUnavailable, snap.TopUp)
}

func TestParseUsage_TopUpOfferedWithoutHref(t *testing.T) {
	snap, err := parseUsage([]byte(`{"dataVolume":{"highSpeedLimit":{"value":5},"totalConsumption":{"value":4.5},
		"unlimitedRefill":{"actions":{"refill-highspeed-volume":{}}}}}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.TopUpAvailable, snap.TopUp)
}

func TestParseUsage_TelephonyAndMessages(t *testing.T) {
	snap, err := parseUsage([]byte(`{
		"dataVolume":{"highSpeedLimit":{"value":10},"totalConsumption":{"value":2}},
		"telephony":{"isFlatRate":true,"totalConsumption":{"value":5430,"unit":"SECONDS"},"resetDay":"14"},
		"messages":{"isFlatRate":false,"totalConsumption":{"value":12.0},"resetDay":14}}`), time.Now())
	require.NoError(t, err)

	require.NotNil(t, snap.Telephony)
	assert.True(t, snap.Telephony.FlatRate)
	assert.Equal(t, 5430.0, snap.Telephony.Seconds)
	assert.InDelta(t, 90.5, snap.Telephony.Minutes(), 1e-9)
	assert.Equal(t, 14, snap.Telephony.ResetDay)

	require.NotNil(t, snap.Messages)
	assert.False(t, snap.Messages.FlatRate)
	assert.Equal(t, 12, snap.Messages.Count)
	assert.Equal(t, 14, snap.Messages.ResetDay)
}

func TestParseUsage_GuestFormatHasNoAllowances(t *testing.T) {
	snap, err := parseUsage([]byte(`{"highSpeedLimit":{"value":10},"totalConsumption":{"value":2},"resetDay":3}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 8.0, snap.RemainingGB)
	assert.Nil(t, snap.Telephony)
	assert.Nil(t, snap.Messages)

	snap, err = parseUsage([]byte(`{"dataVolume":{"highSpeedLimit":{"value":10},"totalConsumption":{"value":2}},"telephony":"n/a"}`), time.Now())
	require.NoError(t, err)
	assert.Nil(t, snap.Telephony, "an unreadable block is ignored")
}

type countingAuth struct {
	calls atomic.Int32
	fail  atomic.Bool
	delay time.Duration
}

func (a *countingAuth) Authenticate(ctx context.Context) (*Session, error) {
	n := a.calls.Add(1)
	time.Sleep(a.delay)
	if a.fail.Load() {
		return nil, fmt.Errorf("login %d: %w", n, ErrAuth)
	}
	return &Session{ID: fmt.Sprintf("s%d", n), Mode: config.AuthCredentials}, nil
}

func TestSessionManager_DeduplicatesConcurrentReauth(t *testing.T) {
	auth := &countingAuth{delay: 20 * time.Millisecond}
	m := NewSessionManager(auth, zerolog.Nop())

	first, err := m.Current(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Session, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Reauthenticate(context.Background(), first)
			if err == nil {
				results[i] = s
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), auth.calls.Load(), "one initial login and one refresh")
	for _, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, results[0], s)
		assert.NotEqual(t, first, s)
	}

	// A loop still holding the first session gets the replacement without a login.
	again, err := m.Reauthenticate(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, results[0], again)
	assert.Equal(t, int32(2), auth.calls.Load())
	assert.Equal(t, 2, m.Logins())
}

func TestSessionManager_FailureKeepsNoSession(t *testing.T) {
	auth := &countingAuth{}
	auth.fail.Store(true)
	m := NewSessionManager(auth, zerolog.Nop())

	_, err := m.Current(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))

	auth.fail.Store(false)
	s, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s2", s.ID)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindAuth, Classify(fmt.Errorf("x: %w", ErrAuthExpired)))
	assert.Equal(t, KindNetwork, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindMalformed, Classify(fmt.Errorf("x: %w", ErrMalformedResponse)))
	assert.Equal(t, KindOther, Classify(errors.New("boom")))
}
