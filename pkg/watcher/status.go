package watcher

import (
	"time"

	"coinsafe/pkg/cache"
	"coinsafe/pkg/models"
)

// Status is a read-only view of the watcher for the API and the dashboard.
// It never carries secrets.
type Status struct {
	Network       string                    `json:"network"`
	NetworkLabel  string                    `json:"network_label"`
	Address       string                    `json:"address"`
	LoggedIn      bool                      `json:"logged_in"`
	SessionExpiry *time.Time                `json:"session_expiry,omitempty"`
	Tokens        []models.Token            `json:"tokens"`
	ChainSummary  models.ChainSummary       `json:"chain_summary"`
	TotalUSD      string                    `json:"total_usd"`
	Watermarks    map[cache.Resource]string `json:"watermarks"`
	NextUpdate    map[cache.Resource]string `json:"next_update"`
}

func (w *Watcher) Status() Status {
	network := w.ActiveNetwork()
	label := network.Label
	if label == "" {
		label = network.Name
	}
	s := Status{
		Network:      network.Name,
		NetworkLabel: label,
		Address:      w.Wallet().Address,
		LoggedIn:     w.creds.LoggedIn(),
		Tokens:       w.Tokens(),
		ChainSummary: w.ChainSummary(),
		TotalUSD:     w.TotalUSD().StringFixed(int32(w.cfg.FiatDecimals)),
		Watermarks:   make(map[cache.Resource]string, len(cache.Resources)),
		NextUpdate:   make(map[cache.Resource]string, len(cache.Resources)),
	}
	if exp, ok := w.creds.AccessExpiry(); ok {
		s.SessionExpiry = &exp
	}
	for r, t := range w.cache.Watermarks() {
		if t.IsZero() {
			s.Watermarks[r] = ""
		} else {
			s.Watermarks[r] = t.UTC().Format(time.RFC3339)
		}
		s.NextUpdate[r] = cache.FormatCountdown(w.cache.NextUpdate(r))
	}
	return s
}

// PublicWallet strips the private key before a wallet leaves the process.
func PublicWallet(wl models.Wallet) models.Wallet {
	return models.Wallet{Address: wl.Address}
}
