package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coinsafe/pkg/auth"
	"coinsafe/pkg/models"
)

var DefaultTimeout = 15 * time.Second

var (
	ErrTransferRejected = errors.New("transfer rejected by backend")
	ErrDepositNotSent   = errors.New("deposit request was not sent to the phone")
	ErrRegisterRejected = errors.New("registration rejected by backend")
)

// StatusAccountCreated is the registration status of a new account.
const StatusAccountCreated = "Account Created"

// Doer sends HTTP requests. *auth.Client and *http.Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx answer from the oracle or the backend.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// API talks to the price/balance oracle and to the wallet backend.
type API struct {
	doer       Doer
	oracleURL  string
	backendURL string
	timeout    time.Duration
}

func NewAPI(doer Doer, oracleURL, backendURL string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &API{
		doer:       doer,
		oracleURL:  strings.TrimRight(oracleURL, "/"),
		backendURL: strings.TrimRight(backendURL, "/"),
		timeout:    timeout,
	}
}

// FetchPrices returns USD quotes for the given CoinGecko ids.
func (a *API) FetchPrices(ctx context.Context, ids []string) (models.Prices, error) {
	var out models.Prices
	body := map[string]string{"ids": strings.Join(ids, ",")}
	if err := a.call(ctx, http.MethodPost, a.oracleURL+"/prices", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchBalances returns the balance of each token contract held by address.
func (a *API) FetchBalances(ctx context.Context, address, network string, tokens []models.TokenRef) ([]models.TokenBalance, error) {
	body := struct {
		WalletAddress string            `json:"walletAddress"`
		ListOfTokens  []models.TokenRef `json:"listOfTokens"`
		Network       string            `json:"network"`
	}{address, tokens, network}
	if body.ListOfTokens == nil {
		body.ListOfTokens = []models.TokenRef{}
	}

	var out []models.TokenBalance
	if err := a.call(ctx, http.MethodPost, a.oracleURL+"/balances", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchChainSummary returns the native coin price, balance and USD value for address.
func (a *API) FetchChainSummary(ctx context.Context, address, network string) (models.ChainSummary, error) {
	body := map[string]string{"walletAddress": address, "network": network}
	var out models.ChainSummary
	err := a.call(ctx, http.MethodPost, a.oracleURL+"/trx-data", body, &out)
	return out, err
}

// FetchTransactions lists the history of address, limited to one token contract when given.
func (a *API) FetchTransactions(ctx context.Context, network, address, contract string) ([]models.Transaction, error) {
	u := fmt.Sprintf("%s/transactions/%s/%s", a.oracleURL, url.PathEscape(network), url.PathEscape(address))
	if contract != "" {
		u += "/" + url.PathEscape(contract)
	}
	var out struct {
		Data []models.Transaction `json:"data"`
	}
	if err := a.call(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// RestoreWallet exchanges a mnemonic for the wallet keys and a fresh credential pair.
func (a *API) RestoreWallet(ctx context.Context, mnemonic string) (models.RestoredWallet, error) {
	var out models.RestoredWallet
	body := map[string]string{"mnemonic": mnemonic}
	err := a.call(ctx, http.MethodPost, a.backendURL+"/api/wallet/restore/", body, &out)
	return out, err
}

// CreateWallet asks the backend to generate a new wallet.
func (a *API) CreateWallet(ctx context.Context) (models.NewWallet, error) {
	var out models.NewWallet
	err := a.call(auth.WithoutRefresh(ctx), http.MethodGet, a.backendURL+"/api/wallet/create/", nil, &out)
	return out, err
}

// Register creates the phone account for a wallet and returns its first credentials.
func (a *API) Register(ctx context.Context, req models.RegisterRequest) (models.RegisterResult, error) {
	var out models.RegisterResult
	if err := a.call(auth.WithoutRefresh(ctx), http.MethodPost, a.backendURL+"/api/auth/register/", req, &out); err != nil {
		return out, err
	}
	if out.Status != StatusAccountCreated || out.AccessToken() == "" {
		return out, fmt.Errorf("%w: status %q", ErrRegisterRejected, out.Status)
	}
	return out, nil
}

// Login exchanges phone and password for a new credential pair.
func (a *API) Login(ctx context.Context, req models.LoginRequest) (models.LoginResult, error) {
	var out models.LoginResult
	err := a.call(auth.WithoutRefresh(ctx), http.MethodPost, a.backendURL+"/api/auth/login/", req, &out)
	return out, err
}

// PaymentHistory lists the M-Pesa deposits and withdrawals of a wallet, newest first.
func (a *API) PaymentHistory(ctx context.Context, address string) ([]models.Payment, error) {
	u := a.backendURL + "/api/payments/history/?" + url.Values{"wallet_address": {address}}.Encode()
	var out []models.Payment
	if err := a.call(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Transfer(ctx context.Context, req models.TransferRequest) (models.TransferResult, error) {
	var out models.TransferResult
	if err := a.call(ctx, http.MethodPost, a.backendURL+"/api/wallet/transfer/", req, &out); err != nil {
		return out, err
	}
	if !out.Result {
		if out.Error != "" {
			return out, fmt.Errorf("%w: %s", ErrTransferRejected, out.Error)
		}
		return out, ErrTransferRejected
	}
	return out, nil
}

func (a *API) Withdraw(ctx context.Context, req models.WithdrawRequest) (models.WithdrawResult, error) {
	var out models.WithdrawResult
	err := a.call(ctx, http.MethodPost, a.backendURL+"/api/wallet/withdraw/", req, &out)
	return out, err
}

// Deposit starts an M-Pesa STK push. The backend answers STK_SENT once the phone was prompted.
func (a *API) Deposit(ctx context.Context, req models.DepositRequest) (models.DepositResult, error) {
	var out models.DepositResult
	if err := a.call(ctx, http.MethodPost, a.backendURL+"/api/payments/pay/", req, &out); err != nil {
		return out, err
	}
	if out.Status != "STK_SENT" {
		return out, fmt.Errorf("%w: status %q", ErrDepositNotSent, out.Status)
	}
	return out, nil
}

// Ping checks the backend answers at all. Any HTTP status counts as reachable.
func (a *API) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.backendURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := a.doer.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (a *API) call(ctx context.Context, method, endpoint string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.doer.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(endpoint, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func newAPIError(endpoint string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))

	var payload struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		switch {
		case payload.Error != "":
			msg = payload.Error
		case payload.Detail != "":
			msg = payload.Detail
		case payload.Message != "":
			msg = payload.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg}
}
