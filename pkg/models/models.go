package models

import (
	"encoding/json"
	"time"
)

// Quote is a single price entry returned by the oracle.
type Quote struct {
	USD float64 `json:"usd"`
}

// Prices maps a token id (CoinGecko style) to its quote.
type Prices map[string]Quote

// TokenRef identifies a token contract for a balance lookup.
type TokenRef struct {
	Contract string `json:"contract"`
	Decimals int    `json:"decimals"`
}

// TokenBalance is one entry of the balance-list response, keyed by contract address.
type TokenBalance struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
}

// ChainSummary holds the native coin figures for the active wallet.
type ChainSummary struct {
	Price    float64 `json:"price"`
	Balance  float64 `json:"balance"`
	TotalUSD float64 `json:"totalUSD"`
}

// Token is a configured token merged with the last known price and balance.
type Token struct {
	ID       string  `json:"id"`
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Contract string  `json:"contract"`
	Decimals int     `json:"decimals"`
	Price    float64 `json:"price"`
	Balance  float64 `json:"balance"`
}

// Ref returns the contract reference used by the balance endpoint.
func (t Token) Ref() TokenRef {
	return TokenRef{Contract: t.Contract, Decimals: t.Decimals}
}

// Wallet is the locally known wallet identity.
type Wallet struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key,omitempty"`
}

// Mnemonic is a recovery phrase. The backend sends it either as a bare string or
// as {"phrase": "..."}; both decode.
type Mnemonic struct {
	Phrase string `json:"phrase"`
}

func (m *Mnemonic) UnmarshalJSON(data []byte) error {
	var phrase string
	if err := json.Unmarshal(data, &phrase); err == nil {
		m.Phrase = phrase
		return nil
	}
	var obj struct {
		Phrase string `json:"phrase"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	m.Phrase = obj.Phrase
	return nil
}

// RestoredWallet is the backend response to a mnemonic restore.
type RestoredWallet struct {
	Address    string   `json:"address"`
	PrivateKey string   `json:"privateKey"`
	Mnemonic   Mnemonic `json:"mnemonic"`
	Access     string   `json:"access"`
	Refresh    string   `json:"refresh"`
}

// NewWallet is a freshly generated wallet. It has no credentials until registered.
type NewWallet struct {
	Address    string   `json:"address"`
	PrivateKey string   `json:"privateKey"`
	Mnemonic   Mnemonic `json:"mnemonic"`
}

// RegisterRequest links a phone account to a wallet address.
type RegisterRequest struct {
	PhoneNumber   string `json:"phone_number"`
	Password      string `json:"password"`
	WalletAddress string `json:"wallet_address"`
}

// RegisterResult is the backend answer to a registration. Older backends return the
// access token as "token".
type RegisterResult struct {
	Status  string `json:"status"`
	Token   string `json:"token,omitempty"`
	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`
}

// AccessToken returns the issued access token under either name.
func (r RegisterResult) AccessToken() string {
	if r.Access != "" {
		return r.Access
	}
	return r.Token
}

// LoginRequest authenticates a registered phone account.
type LoginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// LoginResult carries a fresh credential pair for the account's wallet.
type LoginResult struct {
	Access        string `json:"access"`
	Refresh       string `json:"refresh"`
	WalletAddress string `json:"wallet_address"`
}

// Payment is an M-Pesa deposit or withdrawal recorded by the backend.
type Payment struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"` // DEPOSIT or WITHDRAWAL
	AmountKES   float64   `json:"amount_kes,omitempty"`
	Amount      float64   `json:"amount,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Status      string    `json:"status"` // PENDING, COMPLETED, FAILED, PAID_BUT_FAILED
	TxHash      string    `json:"tx_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DisplayAmount is the KES amount when recorded, else the token amount.
func (p Payment) DisplayAmount() float64 {
	if p.AmountKES != 0 {
		return p.AmountKES
	}
	return p.Amount
}

// Transaction is a history entry for an address.
type Transaction struct {
	Hash      string  `json:"hash"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    float64 `json:"amount"`
	Timestamp int64   `json:"timestamp"`
	Status    string  `json:"status,omitempty"`
}

// TransferRequest is the payload for a peer transfer.
type TransferRequest struct {
	ToAddress  string `json:"to_address"`
	Amount     string `json:"amount"`
	PrivateKey string `json:"privateKey"`
}

// TransferResult is the backend answer to a transfer.
type TransferResult struct {
	Result bool   `json:"result"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DepositRequest starts an M-Pesa STK push that mints tokens into the wallet.
type DepositRequest struct {
	AmountKES     string `json:"amount_kes"`
	PhoneNumber   string `json:"phone_number"`
	WalletAddress string `json:"wallet_address"`
}

// DepositResult is the backend answer to a deposit.
type DepositResult struct {
	Status string `json:"status"`
}

// WithdrawRequest burns tokens and pays out KES to a phone number.
type WithdrawRequest struct {
	Amount      string `json:"amount"`
	PhoneNumber string `json:"phone_number"`
	PrivateKey  string `json:"privateKey"`
}

// WithdrawResult is the backend answer to a withdrawal.
type WithdrawResult struct {
	TxHash string `json:"tx_hash"`
}

// NetworkCheck holds the result of probing one configured network.
type NetworkCheck struct {
	Name            string     `json:"name"`
	ConfigChainID   int64      `json:"config_chain_id,omitempty"`
	RPCs            []RPCCheck `json:"rpcs,omitempty"`
	Inconsistent    bool       `json:"inconsistent"`
	ChainIDUpdated  bool       `json:"chain_id_updated"`
	ObservedChainID int64      `json:"observed_chain_id,omitempty"`
}

// RPCCheck is the outcome of checking a single RPC URL.
type RPCCheck struct {
	URL     string `json:"url"`
	Status  string `json:"status"` // "ok" or "error"
	ChainID int64  `json:"chain_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CheckReport is the output of the configuration check.
type CheckReport struct {
	ConfigPath      string         `json:"config_path"`
	ValidStructure  bool           `json:"valid_structure"`
	StructureErrors []string       `json:"structure_errors,omitempty"`
	BackendURL      string         `json:"backend_url"`
	BackendOK       bool           `json:"backend_ok"`
	BackendError    string         `json:"backend_error,omitempty"`
	Networks        []NetworkCheck `json:"networks,omitempty"`
	ConfigUpdated   bool           `json:"config_updated"`
	SaveError       string         `json:"save_error,omitempty"`
	DryRun          bool           `json:"dry_run"`
	Failures        []string       `json:"failures,omitempty"`
}

// PortfolioPoint is a timestamped total value used for the history graph.
type PortfolioPoint struct {
	Timestamp time.Time
	Value     float64
}
