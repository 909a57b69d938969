package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"coinsafe/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var EVMTimeout = 10 * time.Second

// ErrNoRPC is returned when an EVM network has no RPC URLs configured.
var ErrNoRPC = errors.New("no rpc urls configured")

// balanceOf(address)
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// FetchChainID asks rpcURL for its chain id.
func FetchChainID(ctx context.Context, rpcURL string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, EVMTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Int64(), nil
}

// FetchEVMBalances reads ERC-20 balances of address, trying each RPC URL in turn.
func FetchEVMBalances(ctx context.Context, rpcURLs []string, address string, tokens []models.TokenRef) ([]models.TokenBalance, error) {
	var lastErr error = ErrNoRPC
	for _, rpcURL := range rpcURLs {
		out, err := withClient(ctx, rpcURL, func(ctx context.Context, client *ethclient.Client) ([]models.TokenBalance, error) {
			account := common.HexToAddress(address)
			res := make([]models.TokenBalance, 0, len(tokens))
			for _, t := range tokens {
				bal, err := tokenBalance(ctx, client, t, account)
				if err != nil {
					return nil, fmt.Errorf("balanceOf %s: %w", t.Contract, err)
				}
				f, _ := bal.Float64()
				res = append(res, models.TokenBalance{Address: t.Contract, Balance: f})
			}
			return res, nil
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// FetchNativeBalance returns the native coin balance of address in whole units.
func FetchNativeBalance(ctx context.Context, rpcURLs []string, address string) (float64, error) {
	var lastErr error = ErrNoRPC
	for _, rpcURL := range rpcURLs {
		out, err := withClient(ctx, rpcURL, func(ctx context.Context, client *ethclient.Client) (float64, error) {
			wei, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
			if err != nil {
				return 0, err
			}
			f, _ := scale(wei, 18).Float64()
			return f, nil
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func withClient[T any](ctx context.Context, rpcURL string, fn func(context.Context, *ethclient.Client) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, EVMTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return zero, err
	}
	defer client.Close()
	return fn(ctx, client)
}

func tokenBalance(ctx context.Context, client *ethclient.Client, token models.TokenRef, account common.Address) (*big.Float, error) {
	data := make([]byte, 4+32)
	copy(data[0:4], balanceOfSelector)
	copy(data[4+12:], account.Bytes())

	contract := common.HexToAddress(token.Contract)
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return scale(new(big.Int).SetBytes(result), token.Decimals), nil
}

func scale(v *big.Int, decimals int) *big.Float {
	f := new(big.Float).SetInt(v)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return f.Quo(f, divisor)
}
