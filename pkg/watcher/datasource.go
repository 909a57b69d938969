package watcher

import (
	"context"
	"fmt"

	"coinsafe/pkg/config"
	"coinsafe/pkg/models"
	"coinsafe/pkg/rpc"
)

// nativeEVMPriceID is the price id used for the native coin of EVM networks.
const nativeEVMPriceID = "ethereum"

// DataSource defines the interface for fetching polled data.
type DataSource interface {
	FetchPrices(ctx context.Context, ids []string) (models.Prices, error)
	FetchBalances(ctx context.Context, network config.NetworkConfig, address string, tokens []models.TokenRef) ([]models.TokenBalance, error)
	FetchChainSummary(ctx context.Context, network config.NetworkConfig, address string) (models.ChainSummary, error)
}

// RealDataSource implements DataSource with the oracle for Tron networks and
// direct RPC reads for EVM networks.
type RealDataSource struct {
	API *rpc.API
}

func (d *RealDataSource) FetchPrices(ctx context.Context, ids []string) (models.Prices, error) {
	return d.API.FetchPrices(ctx, ids)
}

func (d *RealDataSource) FetchBalances(ctx context.Context, network config.NetworkConfig, address string, tokens []models.TokenRef) ([]models.TokenBalance, error) {
	if network.AddressFormat == config.AddressFormatEVM {
		return rpc.FetchEVMBalances(ctx, network.RPCURLs, address, tokens)
	}
	return d.API.FetchBalances(ctx, address, network.Name, tokens)
}

func (d *RealDataSource) FetchChainSummary(ctx context.Context, network config.NetworkConfig, address string) (models.ChainSummary, error) {
	if network.AddressFormat != config.AddressFormatEVM {
		return d.API.FetchChainSummary(ctx, address, network.Name)
	}

	balance, err := rpc.FetchNativeBalance(ctx, network.RPCURLs, address)
	if err != nil {
		return models.ChainSummary{}, fmt.Errorf("native balance: %w", err)
	}
	prices, err := d.API.FetchPrices(ctx, []string{nativeEVMPriceID})
	if err != nil {
		return models.ChainSummary{}, fmt.Errorf("native price: %w", err)
	}
	price := prices[nativeEVMPriceID].USD
	return models.ChainSummary{Price: price, Balance: balance, TotalUSD: price * balance}, nil
}
