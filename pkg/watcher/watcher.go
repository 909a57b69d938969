package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coinsafe/pkg/auth"
	"coinsafe/pkg/cache"
	"coinsafe/pkg/config"
	"coinsafe/pkg/metrics"
	"coinsafe/pkg/models"
	"coinsafe/pkg/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrNoWallet       = errors.New("no wallet loaded")
)

const maxHistory = 100

// Result is the outcome of one resource during a refresh.
type Result struct {
	Outcome cache.Outcome
	Err     error
}

// Watcher owns the state store, the fetch cache and the credentials, and keeps the
// polled resources up to date for the active network and wallet.
type Watcher struct {
	cfg        *config.Config
	store      *store.Store
	cache      *cache.Cache
	creds      *auth.Credentials
	dataSource DataSource
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu       sync.RWMutex
	network  string
	wallet   models.Wallet
	history  []models.PortfolioPoint
	stopOnce sync.Once
	stopChan chan struct{}
}

type Option func(*Watcher)

func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// WithClock replaces the clock used by the watcher and its cache.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// New creates a watcher for the active network in cfg.
func New(cfg *config.Config, st *store.Store, creds *auth.Credentials, ds DataSource, opts ...Option) *Watcher {
	w := &Watcher{
		cfg:        cfg,
		store:      st,
		creds:      creds,
		dataSource: ds,
		log:        zerolog.Nop(),
		now:        time.Now,
		network:    cfg.Network,
		stopChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.cache = cache.New(st,
		cache.WithClock(w.now),
		cache.WithInFlightCeiling(cfg.InFlightCeiling()),
		cache.WithWindow(cache.ResourcePrices, cfg.PricesWindow()),
		cache.WithWindow(cache.ResourceBalances, cfg.BalancesWindow()),
		cache.WithWindow(cache.ResourceChainSummary, cfg.ChainWindow()),
		cache.WithLogger(w.log),
		cache.WithMetrics(w.metrics),
	)
	return w
}

// SetDataSource allows overriding the data source (useful for testing).
func (w *Watcher) SetDataSource(ds DataSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dataSource = ds
}

func (w *Watcher) source() DataSource {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dataSource
}

// Hydrate restores persisted state: credentials, network, wallet, watermarks and the
// last payloads. Missing keys are not an error.
func (w *Watcher) Hydrate(ctx context.Context) error {
	var errs []error

	var pair auth.Pair
	if ok, err := w.store.Hydrate(ctx, store.KeyCredentials, &pair); err != nil {
		errs = append(errs, err)
	} else if ok {
		w.creds.Set(pair)
	}

	var network string
	if ok, err := w.store.Hydrate(ctx, store.KeyNetwork, &network); err != nil {
		errs = append(errs, err)
	} else if _, known := w.cfg.NetworkByName(network); ok && known {
		w.mu.Lock()
		w.network = network
		w.mu.Unlock()
	}

	var wallet models.Wallet
	if ok, err := w.store.Hydrate(ctx, store.KeyWallet, &wallet); err != nil {
		errs = append(errs, err)
	} else if ok {
		w.mu.Lock()
		w.wallet = wallet
		w.mu.Unlock()
	}

	var prices models.Prices
	if _, err := w.store.Hydrate(ctx, store.KeyPrices, &prices); err != nil {
		errs = append(errs, err)
	}
	var balances []models.TokenBalance
	if _, err := w.store.Hydrate(ctx, store.KeyBalances, &balances); err != nil {
		errs = append(errs, err)
	}
	var summary models.ChainSummary
	if _, err := w.store.Hydrate(ctx, store.KeyChainSummary, &summary); err != nil {
		errs = append(errs, err)
	}

	var marks map[string]time.Time
	if ok, err := w.store.Hydrate(ctx, store.KeyWatermarks, &marks); err != nil {
		errs = append(errs, err)
	} else if ok {
		for _, r := range cache.Resources {
			if t, found := marks[string(r)]; found && !t.IsZero() {
				w.cache.Restore(r, t)
				w.log.Info().Str("resource", string(r)).Msgf("next update for %s in %s", r, cache.FormatCountdown(w.cache.NextUpdate(r)))
			}
		}
	}

	w.log.Info().Str("network", w.Network()).Bool("logged_in", w.creds.LoggedIn()).Msg("state hydrated")
	return errors.Join(errs...)
}

// Start begins the polling loop.
func (w *Watcher) Start(ctx context.Context) {
	go w.pollingLoop(ctx)
}

// Stop stops the polling loop. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *Watcher) pollingLoop(ctx context.Context) {
	// Initial fetch
	_, _ = w.Refresh(ctx)

	interval := w.cfg.PollInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = w.Refresh(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Refresh attempts every resource concurrently. Balances and the chain summary need a
// wallet and are left out while none is loaded. Errors are logged and joined.
func (w *Watcher) Refresh(ctx context.Context) (map[cache.Resource]Result, error) {
	resources := []cache.Resource{cache.ResourcePrices}
	if w.Wallet().Address != "" {
		resources = append(resources, cache.ResourceBalances, cache.ResourceChainSummary)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[cache.Resource]Result, len(resources))
	)
	for _, r := range resources {
		wg.Add(1)
		go func(r cache.Resource) {
			defer wg.Done()
			res := w.attempt(ctx, r)
			mu.Lock()
			results[r] = res
			mu.Unlock()
		}(r)
	}
	wg.Wait()

	var errs []error
	for _, r := range resources {
		if err := results[r].Err; err != nil {
			errs = append(errs, err)
		}
	}

	w.recordHistory()
	if err := w.Persist(ctx); err != nil {
		w.log.Error().Err(err).Msg("persist after refresh failed")
	}
	return results, errors.Join(errs...)
}

// RefreshResource attempts a single resource.
func (w *Watcher) RefreshResource(ctx context.Context, r cache.Resource) Result {
	if r != cache.ResourcePrices && w.Wallet().Address == "" {
		return Result{Outcome: cache.Failed, Err: ErrNoWallet}
	}
	res := w.attempt(ctx, r)
	if err := w.Persist(ctx); err != nil {
		w.log.Error().Err(err).Msg("persist after refresh failed")
	}
	return res
}

func (w *Watcher) attempt(ctx context.Context, r cache.Resource) Result {
	out, err := w.cache.Attempt(ctx, r, w.fetcher(r))
	if errors.Is(err, auth.ErrRefreshFailed) {
		w.log.Warn().Msg("session expired, restore wallet to continue")
	}
	return Result{Outcome: out, Err: err}
}

func (w *Watcher) fetcher(r cache.Resource) cache.Fetcher {
	network := w.ActiveNetwork()
	address := w.Wallet().Address
	ds := w.source()

	switch r {
	case cache.ResourcePrices:
		ids := priceIDs(network)
		return func(ctx context.Context) (any, error) {
			fresh, err := ds.FetchPrices(ctx, ids)
			if err != nil {
				return nil, err
			}
			known, _ := store.Lookup[models.Prices](w.store, store.KeyPrices)
			return mergePrices(known, fresh), nil
		}
	case cache.ResourceBalances:
		refs := make([]models.TokenRef, 0, len(network.Tokens))
		for _, t := range network.Tokens {
			refs = append(refs, models.TokenRef{Contract: t.Contract, Decimals: t.Decimals})
		}
		return func(ctx context.Context) (any, error) {
			fresh, err := ds.FetchBalances(ctx, network, address, refs)
			if err != nil {
				return nil, err
			}
			known, _ := store.Lookup[[]models.TokenBalance](w.store, store.KeyBalances)
			return mergeBalances(known, fresh), nil
		}
	case cache.ResourceChainSummary:
		return func(ctx context.Context) (any, error) {
			return ds.FetchChainSummary(ctx, network, address)
		}
	}
	return func(context.Context) (any, error) {
		return nil, fmt.Errorf("no fetcher for resource %s", r)
	}
}

// mergePrices overlays fresh quotes on the known ones. An id the oracle left out
// keeps its last known price.
func mergePrices(known, fresh models.Prices) models.Prices {
	out := make(models.Prices, len(known)+len(fresh))
	for id, q := range known {
		out[id] = q
	}
	for id, q := range fresh {
		out[id] = q
	}
	return out
}

// mergeBalances overlays fresh balances on the known ones by contract address.
// A contract missing from the response keeps its last known balance.
func mergeBalances(known, fresh []models.TokenBalance) []models.TokenBalance {
	out := make([]models.TokenBalance, 0, len(fresh)+len(known))
	out = append(out, fresh...)
	for _, k := range known {
		found := false
		for _, f := range fresh {
			if strings.EqualFold(f.Address, k.Address) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, k)
		}
	}
	return out
}

func priceIDs(network config.NetworkConfig) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0, len(network.Tokens))
	for _, t := range network.Tokens {
		if t.ID != "" && !seen[t.ID] {
			seen[t.ID] = true
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// SwitchNetwork makes name the active network. Every watermark is reset, the chain
// summary is emptied and the token list swapped, so the next refresh fetches everything.
func (w *Watcher) SwitchNetwork(ctx context.Context, name string) error {
	network, ok := w.cfg.NetworkByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}

	w.mu.Lock()
	w.network = name
	w.history = nil
	w.mu.Unlock()

	w.cache.InvalidateAll()
	w.store.Set(store.KeyNetwork, name)
	w.store.Set(store.KeyTokens, network.Tokens)
	w.store.Set(store.KeyChainSummary, models.ChainSummary{})
	w.store.Delete(store.KeyBalances)

	w.log.Info().Str("network", name).Msg("network switched")
	return w.Persist(ctx)
}

// Logout clears the credentials, the wallet and every payload.
func (w *Watcher) Logout(ctx context.Context) error {
	w.creds.Clear()

	w.mu.Lock()
	w.wallet = models.Wallet{}
	w.history = nil
	w.mu.Unlock()

	w.cache.InvalidateAll()
	w.store.Delete(store.KeyWallet)
	w.store.Delete(store.KeyBalances)
	w.store.Delete(store.KeyChainSummary)
	w.store.Delete(store.KeyPrices)

	w.log.Info().Msg("logged out")
	return w.Persist(ctx)
}

// SetWallet installs a wallet and its credential pair, e.g. after a restore.
func (w *Watcher) SetWallet(ctx context.Context, wallet models.Wallet, pair auth.Pair) error {
	w.creds.Set(pair)

	w.mu.Lock()
	w.wallet = wallet
	w.history = nil
	w.mu.Unlock()

	w.cache.InvalidateAll()
	w.store.Set(store.KeyWallet, wallet)
	w.store.Delete(store.KeyBalances)
	w.store.Delete(store.KeyChainSummary)

	w.log.Info().Str("address", wallet.Address).Msg("wallet loaded")
	return w.Persist(ctx)
}

// InvalidateBalances forces the next refresh to fetch balances and the chain summary,
// used after a transfer, deposit or withdrawal.
func (w *Watcher) InvalidateBalances() {
	w.cache.Invalidate(cache.ResourceBalances)
	w.cache.Invalidate(cache.ResourceChainSummary)
}

// Persist records credentials and watermarks in the store and flushes it.
func (w *Watcher) Persist(ctx context.Context) error {
	w.store.Set(store.KeyCredentials, w.creds.Pair())

	marks := make(map[string]time.Time, len(cache.Resources))
	for r, t := range w.cache.Watermarks() {
		marks[string(r)] = t
	}
	w.store.Set(store.KeyWatermarks, marks)
	return w.store.Flush(ctx)
}

func (w *Watcher) recordHistory() {
	if w.Wallet().Address == "" {
		return
	}
	total, _ := w.TotalUSD().Float64()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, models.PortfolioPoint{Timestamp: w.now(), Value: total})
	if len(w.history) > maxHistory {
		w.history = w.history[len(w.history)-maxHistory:]
	}
}

func (w *Watcher) Network() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.network
}

func (w *Watcher) ActiveNetwork() config.NetworkConfig {
	n, _ := w.cfg.NetworkByName(w.Network())
	return n
}

func (w *Watcher) Wallet() models.Wallet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wallet
}

func (w *Watcher) Credentials() *auth.Credentials { return w.creds }

func (w *Watcher) Store() *store.Store { return w.store }

func (w *Watcher) Cache() *cache.Cache { return w.cache }

func (w *Watcher) Config() *config.Config { return w.cfg }

// History returns the recorded total values, oldest first.
func (w *Watcher) History() []models.PortfolioPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]models.PortfolioPoint(nil), w.history...)
}

// ChainSummary returns the last fetched native coin summary.
func (w *Watcher) ChainSummary() models.ChainSummary {
	s, _ := store.Lookup[models.ChainSummary](w.store, store.KeyChainSummary)
	return s
}

// Tokens returns the active network's tokens merged with the last prices and balances.
func (w *Watcher) Tokens() []models.Token {
	network := w.ActiveNetwork()
	prices, _ := store.Lookup[models.Prices](w.store, store.KeyPrices)
	balances, _ := store.Lookup[[]models.TokenBalance](w.store, store.KeyBalances)

	out := make([]models.Token, 0, len(network.Tokens))
	for _, t := range network.Tokens {
		tok := models.Token{
			ID:       t.ID,
			Symbol:   t.Symbol,
			Name:     t.Name,
			Contract: t.Contract,
			Decimals: t.Decimals,
			Price:    prices[t.ID].USD,
		}
		for _, b := range balances {
			if strings.EqualFold(b.Address, t.Contract) {
				tok.Balance = b.Balance
				break
			}
		}
		out = append(out, tok)
	}
	return out
}

// TotalUSD is the value of all tokens plus the native coin.
func (w *Watcher) TotalUSD() decimal.Decimal {
	total := decimal.NewFromFloat(w.ChainSummary().TotalUSD)
	for _, t := range w.Tokens() {
		total = total.Add(decimal.NewFromFloat(t.Price).Mul(decimal.NewFromFloat(t.Balance)))
	}
	return total
}
