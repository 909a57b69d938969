package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"coinsafe/pkg/metrics"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves /api/balance behind a bearer check and /auth/refresh.
type fakeBackend struct {
	valid         string
	refreshStatus int
	refreshBody   string

	apiCalls     atomic.Int32
	refreshCalls atomic.Int32
	bodies       []string
	requestIDs   []string
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/balance", func(w http.ResponseWriter, r *http.Request) {
		f.apiCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.bodies = append(f.bodies, string(body))
		f.requestIDs = append(f.requestIDs, r.Header.Get(RequestIDHeader))
		if r.Header.Get("Authorization") != "Bearer "+f.valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"balance": 42}`))
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		var req struct {
			Refresh string `json:"refresh"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Refresh != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(f.refreshStatus)
		_, _ = w.Write([]byte(f.refreshBody))
	})
	mux.HandleFunc("/api/broken", func(w http.ResponseWriter, r *http.Request) {
		f.apiCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeBackend, pair Pair) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(NewCredentials(pair), srv.URL+"/auth/refresh"), srv
}

func TestDo_RefreshAndRetry(t *testing.T) {
	f := &fakeBackend{valid: "newtok", refreshStatus: http.StatusOK, refreshBody: `{"access": "newtok"}`}
	c, srv := newTestClient(t, f, Pair{Access: "expired", Refresh: "refresh-1"})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/balance", strings.NewReader(`{"walletAddress":"T1"}`))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"balance": 42}`, string(body))

	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Equal(t, int32(2), f.apiCalls.Load())
	assert.Equal(t, []string{`{"walletAddress":"T1"}`, `{"walletAddress":"T1"}`}, f.bodies, "body must be replayed")
	require.Len(t, f.requestIDs, 2)
	assert.NotEmpty(t, f.requestIDs[0])
	assert.Equal(t, f.requestIDs[0], f.requestIDs[1])

	assert.Equal(t, Pair{Access: "newtok", Refresh: "refresh-1"}, c.Credentials().Pair())
}

func TestDo_SecondUnauthorizedIsReturned(t *testing.T) {
	// Refresh succeeds but the backend still refuses the new token.
	f := &fakeBackend{valid: "never", refreshStatus: http.StatusOK, refreshBody: `{"access": "newtok"}`}
	c, srv := newTestClient(t, f, Pair{Access: "expired", Refresh: "refresh-1"})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/balance", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Equal(t, int32(2), f.apiCalls.Load())
	assert.Equal(t, "refresh-1", c.Credentials().Refresh())
}

func TestDo_RefreshRejectedClearsCredentials(t *testing.T) {
	f := &fakeBackend{valid: "newtok", refreshStatus: http.StatusBadRequest, refreshBody: `{"detail": "token is invalid or expired"}`}
	c, srv := newTestClient(t, f, Pair{Access: "expired", Refresh: "refresh-1"})
	m := metrics.New()
	c.metrics = m

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/balance", nil)
	resp, err := c.Do(req)

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, Pair{}, c.Credentials().Pair())
	assert.False(t, c.Credentials().LoggedIn())
	assert.Equal(t, int32(1), f.apiCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("failed")))
}

func TestDo_RefreshResponseWithoutAccess(t *testing.T) {
	f := &fakeBackend{valid: "newtok", refreshStatus: http.StatusOK, refreshBody: `{}`}
	c, srv := newTestClient(t, f, Pair{Access: "expired", Refresh: "refresh-1"})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/balance", nil)
	_, err := c.Do(req)

	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, Pair{}, c.Credentials().Pair())
}

func TestDo_NoRefreshToken(t *testing.T) {
	f := &fakeBackend{valid: "newtok", refreshStatus: http.StatusOK, refreshBody: `{"access": "newtok"}`}
	c, srv := newTestClient(t, f, Pair{Access: "expired"})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/balance", nil)
	_, err := c.Do(req)

	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(0), f.refreshCalls.Load())
	assert.Equal(t, int32(1), f.apiCalls.Load())
	assert.Equal(t, "expired", c.Credentials().Access())
}

func TestDo_NonUnauthorizedPassesThrough(t *testing.T) {
	f := &fakeBackend{valid: "tok", refreshStatus: http.StatusOK, refreshBody: `{"access": "x"}`}
	c, srv := newTestClient(t, f, Pair{Access: "tok", Refresh: "refresh-1"})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/broken", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), f.apiCalls.Load())
	assert.Equal(t, int32(0), f.refreshCalls.Load())
}

func TestDo_TransportErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	creds := NewCredentials(Pair{Access: "tok", Refresh: "refresh-1"})
	c := NewClient(creds, url+"/auth/refresh")
	req, _ := http.NewRequest(http.MethodGet, url+"/api/balance", nil)
	_, err := c.Do(req)

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRefreshFailed))
	assert.Equal(t, Pair{Access: "tok", Refresh: "refresh-1"}, creds.Pair())
}

func TestDo_ReadsCredentialsAtCallTime(t *testing.T) {
	f := &fakeBackend{valid: "rotated", refreshStatus: http.StatusOK, refreshBody: `{"access": "x"}`}
	c, srv := newTestClient(t, f, Pair{Access: "old", Refresh: "refresh-1"})

	c.Credentials().SetAccess("rotated")
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/balance", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), f.refreshCalls.Load())
}

func TestCredentials_Expiry(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	creds := NewCredentials(Pair{Access: signed, Refresh: "r"})
	got, ok := creds.AccessExpiry()
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	tok, err := creds.Token()
	require.NoError(t, err)
	assert.Equal(t, signed, tok.AccessToken)
	assert.True(t, exp.Equal(tok.Expiry))

	creds.Set(Pair{Access: "opaque", Refresh: "r"})
	_, ok = creds.AccessExpiry()
	assert.False(t, ok)

	creds.Clear()
	_, err = creds.Token()
	assert.ErrorIs(t, err, ErrNoAccessToken)
}

func TestDo_FailedRefreshKeepsReplacedPair(t *testing.T) {
	var creds *Credentials
	fresh := Pair{Access: "fresh-access", Refresh: "fresh-refresh"}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/balance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		// A wallet restore lands while the refresh is in flight.
		creds.Set(fresh)
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	creds = NewCredentials(Pair{Access: "expired", Refresh: "refresh-1"})
	c := NewClient(creds, srv.URL+"/auth/refresh")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/balance", nil)
	resp, err := c.Do(req)

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, fresh, creds.Pair())
}

func TestDo_RefreshedAccessDoesNotOverwriteReplacedPair(t *testing.T) {
	var creds *Credentials
	fresh := Pair{Access: "fresh-access", Refresh: "fresh-refresh"}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"balance": 1}`))
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		creds.Set(fresh)
		_, _ = w.Write([]byte(`{"access": "old-wallet-access"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	creds = NewCredentials(Pair{Access: "expired", Refresh: "refresh-1"})
	c := NewClient(creds, srv.URL+"/auth/refresh")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/balance", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fresh, creds.Pair())
}

func TestCredentials_ConditionalUpdates(t *testing.T) {
	creds := NewCredentials(Pair{Access: "a", Refresh: "r"})

	assert.False(t, creds.SetAccessIf("other", "x"))
	assert.Equal(t, "a", creds.Access())
	assert.True(t, creds.SetAccessIf("r", "b"))
	assert.Equal(t, Pair{Access: "b", Refresh: "r"}, creds.Pair())

	assert.False(t, creds.ClearIf("other"))
	assert.True(t, creds.LoggedIn())
	assert.True(t, creds.ClearIf("r"))
	assert.Equal(t, Pair{}, creds.Pair())
}

func TestDo_WithoutRefreshReturnsFirstUnauthorized(t *testing.T) {
	f := &fakeBackend{valid: "newtok", refreshStatus: http.StatusOK, refreshBody: `{"access": "newtok"}`}
	c, srv := newTestClient(t, f, Pair{Access: "expired", Refresh: "refresh-1"})

	req, err := http.NewRequestWithContext(WithoutRefresh(context.Background()), http.MethodPost, srv.URL+"/api/balance", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), f.refreshCalls.Load())
	assert.Equal(t, Pair{Access: "expired", Refresh: "refresh-1"}, c.Credentials().Pair())
}
