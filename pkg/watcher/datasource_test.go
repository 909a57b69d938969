package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"coinsafe/pkg/auth"
	"coinsafe/pkg/cache"
	"coinsafe/pkg/config"
	"coinsafe/pkg/models"
	"coinsafe/pkg/rpc"
	"coinsafe/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const evmAddress = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

// newJSONRPC answers eth_getBalance with 2.5 ether and every eth_call with 500 units of a 6-decimal token.
func newJSONRPC(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		result := "0x0"
		switch req.Method {
		case "eth_getBalance":
			result = "0x22B1C8C1227A0000"
		case "eth_call":
			result = "0x000000000000000000000000000000000000000000000000000000001dcd6500"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type oracleCounts struct {
	prices, balances, chain atomic.Int32
}

func newOracleServer(t *testing.T, counts *oracleCounts) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/prices":
			counts.prices.Add(1)
			_, _ = w.Write([]byte(`{"usd-coin": {"usd": 1}, "ethereum": {"usd": 2000}}`))
		case "/balances":
			counts.balances.Add(1)
			_, _ = w.Write([]byte(`[]`))
		case "/trx-data":
			counts.chain.Add(1)
			_, _ = w.Write([]byte(`{"price": 0, "balance": 0, "totalUSD": 0}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRealDataSource_EVMNetworkReadsRPC(t *testing.T) {
	node := newJSONRPC(t)
	counts := &oracleCounts{}
	oracle := newOracleServer(t, counts)

	cfg, err := config.LoadConfig(strings.NewReader(fmt.Sprintf(`{
		"network": "arbitrum-dev",
		"networks": [{
			"name": "arbitrum-dev",
			"address_format": "evm",
			"rpc_urls": [%q],
			"tokens": [{"id": "usd-coin", "symbol": "USDC", "contract": "0x1234567890123456789012345678901234567890", "decimals": 6}]
		}]
	}`, node.URL)))
	require.NoError(t, err)

	creds := auth.NewCredentials(auth.Pair{Access: "a", Refresh: "r"})
	client := auth.NewClient(creds, oracle.URL+"/auth/refresh")
	ds := &RealDataSource{API: rpc.NewAPI(client, oracle.URL, oracle.URL, time.Second)}

	w := New(cfg, store.New(nil), creds, ds)
	require.NoError(t, w.SetWallet(context.Background(), models.Wallet{Address: evmAddress}, creds.Pair()))

	results, err := w.Refresh(context.Background())
	require.NoError(t, err)
	for _, r := range cache.Resources {
		assert.Equal(t, cache.Fetched, results[r].Outcome, r)
	}

	tokens := w.Tokens()
	require.Len(t, tokens, 1)
	assert.InDelta(t, 500.0, tokens[0].Balance, 1e-9)
	assert.Equal(t, 1.0, tokens[0].Price)

	summary := w.ChainSummary()
	assert.InDelta(t, 2.5, summary.Balance, 1e-9)
	assert.Equal(t, 2000.0, summary.Price)
	assert.InDelta(t, 5000.0, summary.TotalUSD, 1e-6)

	// Token and native balances come from the node, never from the oracle.
	assert.Zero(t, counts.balances.Load())
	assert.Zero(t, counts.chain.Load())
	assert.Equal(t, int32(2), counts.prices.Load())
}

func TestRealDataSource_TronNetworkUsesOracle(t *testing.T) {
	counts := &oracleCounts{}
	oracle := newOracleServer(t, counts)

	cfg, err := config.LoadConfig(strings.NewReader(`{}`))
	require.NoError(t, err)
	creds := auth.NewCredentials(auth.Pair{Access: "a", Refresh: "r"})
	ds := &RealDataSource{API: rpc.NewAPI(auth.NewClient(creds, oracle.URL+"/auth/refresh"), oracle.URL, oracle.URL, time.Second)}

	w := New(cfg, store.New(nil), creds, ds)
	require.NoError(t, w.SetWallet(context.Background(), models.Wallet{Address: testAddress}, creds.Pair()))

	_, err = w.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), counts.balances.Load())
	assert.Equal(t, int32(1), counts.chain.Load())
}
