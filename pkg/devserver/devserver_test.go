package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"coinsafe/pkg/auth"
	"coinsafe/pkg/metrics"
	"coinsafe/pkg/models"
	"coinsafe/pkg/rpc"
	"coinsafe/pkg/validation"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phrase = "abandon ability able about above absent absorb abstract absurd abuse access accident"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBackend(t *testing.T) (*Server, *httptest.Server, *clock) {
	t.Helper()
	clk := &clock{t: time.Now()}
	cfg := DefaultConfig()
	cfg.Now = clk.Now
	s := New(cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv, clk
}

func newAPI(srv *httptest.Server, pair auth.Pair, m *metrics.Metrics) (*rpc.API, *auth.Credentials) {
	creds := auth.NewCredentials(pair)
	client := auth.NewClient(creds, srv.URL+"/auth/refresh", auth.WithMetrics(m))
	return rpc.NewAPI(client, srv.URL, srv.URL, 5*time.Second), creds
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestAuthMiddleware(t *testing.T) {
	s, srv, clk := newTestBackend(t)
	access, _, err := s.Issue("TAddr")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		after time.Duration
		want  int
	}{
		{"no token", "", 0, http.StatusUnauthorized},
		{"garbage", "not-a-jwt", 0, http.StatusUnauthorized},
		{"valid", access, 0, http.StatusOK},
		{"expired", access, 2 * time.Minute, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk.Advance(tt.after)
			resp := postJSON(t, srv.URL+"/prices", tt.token, map[string]string{"ids": "tether"})
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRefreshEndpoint(t *testing.T) {
	s, srv, _ := newTestBackend(t)
	access, refresh, err := s.Issue("TAddr")
	require.NoError(t, err)

	// An access token is not accepted as a refresh token.
	resp := postJSON(t, srv.URL+"/auth/refresh", "", map[string]string{"refresh": access})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/auth/refresh", "", map[string]string{"refresh": refresh})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Access string `json:"access"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Access)
	assert.NotEqual(t, access, out.Access)
}

func TestExpiredAccessIsRefreshedOnce(t *testing.T) {
	s, srv, clk := newTestBackend(t)
	access, refresh, err := s.Issue("TAddr")
	require.NoError(t, err)

	m := metrics.New()
	api, creds := newAPI(srv, auth.Pair{Access: access, Refresh: refresh}, m)

	prices, err := api.FetchPrices(context.Background(), []string{"tether", "just"})
	require.NoError(t, err)
	assert.Equal(t, 0.03, prices["just"].USD)
	assert.Equal(t, access, creds.Access())

	clk.Advance(2 * time.Minute)
	prices, err = api.FetchPrices(context.Background(), []string{"tether"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, prices["tether"].USD)
	assert.NotEqual(t, access, creds.Access())
	assert.Equal(t, refresh, creds.Refresh())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("ok")))

	// The refreshed token is reused without another refresh.
	_, err = api.FetchPrices(context.Background(), []string{"tether"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("ok")))
}

func TestExpiredRefreshClearsSession(t *testing.T) {
	s, srv, clk := newTestBackend(t)
	access, refresh, err := s.Issue("TAddr")
	require.NoError(t, err)

	m := metrics.New()
	api, creds := newAPI(srv, auth.Pair{Access: access, Refresh: refresh}, m)

	clk.Advance(48 * time.Hour)
	_, err = api.FetchPrices(context.Background(), []string{"tether"})
	require.ErrorIs(t, err, auth.ErrRefreshFailed)
	assert.False(t, creds.LoggedIn())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("failed")))
}

func TestWalletFlow(t *testing.T) {
	_, srv, _ := newTestBackend(t)
	ctx := context.Background()

	open, _ := newAPI(srv, auth.Pair{}, nil)
	restored, err := open.RestoreWallet(ctx, phrase)
	require.NoError(t, err)
	assert.Len(t, restored.Address, 34)
	assert.Equal(t, phrase, restored.Mnemonic.Phrase)

	again, err := open.RestoreWallet(ctx, phrase)
	require.NoError(t, err)
	assert.Equal(t, restored.Address, again.Address)

	api, _ := newAPI(srv, auth.Pair{Access: restored.Access, Refresh: restored.Refresh}, nil)
	usdt := DefaultConfig().StableContract

	dep, err := api.Deposit(ctx, models.DepositRequest{AmountKES: "1290", PhoneNumber: "254712345678", WalletAddress: restored.Address})
	require.NoError(t, err)
	assert.Equal(t, "STK_SENT", dep.Status)

	balances, err := api.FetchBalances(ctx, restored.Address, "mainnet", []models.TokenRef{{Contract: usdt, Decimals: 6}})
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, 10.0, balances[0].Balance)

	const other = "TXotherAddress0000000000000000000"
	res, err := api.Transfer(ctx, models.TransferRequest{ToAddress: other, Amount: "4", PrivateKey: restored.PrivateKey})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TxHash)

	_, err = api.Transfer(ctx, models.TransferRequest{ToAddress: other, Amount: "100", PrivateKey: restored.PrivateKey})
	assert.ErrorIs(t, err, rpc.ErrTransferRejected)

	_, err = api.Withdraw(ctx, models.WithdrawRequest{Amount: "1", PhoneNumber: "254712345678", PrivateKey: restored.PrivateKey})
	require.NoError(t, err)

	balances, err = api.FetchBalances(ctx, restored.Address, "mainnet", []models.TokenRef{{Contract: usdt, Decimals: 6}})
	require.NoError(t, err)
	assert.Equal(t, 5.0, balances[0].Balance)

	txs, err := api.FetchTransactions(ctx, "mainnet", restored.Address, usdt)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	summary, err := api.FetchChainSummary(ctx, restored.Address, "mainnet")
	require.NoError(t, err)
	assert.Equal(t, 100.0, summary.Balance)
	assert.InDelta(t, 12.0, summary.TotalUSD, 1e-9)
}

func TestDeriveWalletIsStable(t *testing.T) {
	a1, k1 := deriveWallet(phrase)
	a2, k2 := deriveWallet(phrase)
	assert.Equal(t, a1, a2)
	assert.Equal(t, k1, k2)
	assert.Len(t, a1, 34)
	assert.Equal(t, byte('T'), a1[0])

	other, _ := deriveWallet("zoo " + phrase)
	assert.NotEqual(t, a1, other)
}

func TestOnboardingFlow(t *testing.T) {
	_, srv, _ := newTestBackend(t)
	ctx := context.Background()
	const phone = "254712345678"

	open, _ := newAPI(srv, auth.Pair{}, nil)
	created, err := open.CreateWallet(ctx)
	require.NoError(t, err)
	require.NoError(t, validation.Mnemonic(created.Mnemonic.Phrase))
	require.NoError(t, validation.Address(validation.FormatTron, created.Address))
	assert.NotEmpty(t, created.PrivateKey)

	reg, err := open.Register(ctx, models.RegisterRequest{PhoneNumber: phone, Password: "s3cret", WalletAddress: created.Address})
	require.NoError(t, err)
	assert.Equal(t, rpc.StatusAccountCreated, reg.Status)
	assert.NotEmpty(t, reg.AccessToken())
	assert.NotEmpty(t, reg.Refresh)

	_, err = open.Register(ctx, models.RegisterRequest{PhoneNumber: phone, Password: "other", WalletAddress: created.Address})
	var apiErr *rpc.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	// A wrong password answers 401 without spending the stored refresh token.
	m := metrics.New()
	api, creds := newAPI(srv, auth.Pair{Access: reg.AccessToken(), Refresh: reg.Refresh}, m)
	_, err = api.Login(ctx, models.LoginRequest{PhoneNumber: phone, Password: "wrong"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TokenRefresh.WithLabelValues("failed")))
	assert.True(t, creds.LoggedIn())

	login, err := api.Login(ctx, models.LoginRequest{PhoneNumber: phone, Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, created.Address, login.WalletAddress)
	assert.NotEmpty(t, login.Access)

	_, err = api.Deposit(ctx, models.DepositRequest{AmountKES: "1290", PhoneNumber: phone, WalletAddress: created.Address})
	require.NoError(t, err)
	wd, err := api.Withdraw(ctx, models.WithdrawRequest{Amount: "2", PhoneNumber: phone, PrivateKey: created.PrivateKey})
	require.NoError(t, err)

	history, err := api.PaymentHistory(ctx, created.Address)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "WITHDRAWAL", history[0].Type)
	assert.Equal(t, wd.TxHash, history[0].TxHash)
	assert.Equal(t, 2.0, history[0].Amount)
	assert.Equal(t, "DEPOSIT", history[1].Type)
	assert.Equal(t, 1290.0, history[1].DisplayAmount())
	assert.Equal(t, 10.0, history[1].Amount)
	assert.Equal(t, "COMPLETED", history[1].Status)

	_, err = api.PaymentHistory(ctx, "TXotherAddress0000000000000000000")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestNewMnemonicIsValid(t *testing.T) {
	for i := 0; i < 20; i++ {
		require.NoError(t, validation.Mnemonic(newMnemonic()))
	}
}
