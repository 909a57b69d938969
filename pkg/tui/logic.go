package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"coinsafe/pkg/auth"
	"coinsafe/pkg/cache"
	"coinsafe/pkg/models"
	"coinsafe/pkg/store"
	"coinsafe/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

const sessionExpiredMessage = "Session expired: press l to log in or w to restore"

// isSessionError reports whether err means the stored credentials are no longer usable.
func isSessionError(err error) bool {
	return errors.Is(err, auth.ErrRefreshFailed) || errors.Is(err, auth.ErrNoRefreshToken)
}

func filterTransactions(txs []models.Transaction, address, filter string) []models.Transaction {
	if filter == "all" || filter == "" {
		return txs
	}
	var filtered []models.Transaction
	for _, tx := range txs {
		isFrom := strings.EqualFold(tx.From, address)
		if filter == "in" && !isFrom {
			filtered = append(filtered, tx)
		} else if filter == "out" && isFrom {
			filtered = append(filtered, tx)
		}
	}
	return filtered
}

func historyValues(points []models.PortfolioPoint) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		out = append(out, p.Value)
	}
	return out
}

// summarizeResults renders per-resource outcomes in a stable order, e.g.
// "prices fetched, balances skipped_fresh".
func summarizeResults(results map[cache.Resource]watcher.Result) string {
	keys := make([]string, 0, len(results))
	for r := range results {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, results[cache.Resource(k)].Outcome))
	}
	return strings.Join(parts, ", ")
}

// --- Commands ---

func listenForStore(sub store.Subscriber) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

func refreshCmd(w *watcher.Watcher) tea.Cmd {
	return func() tea.Msg {
		results, err := w.Refresh(context.Background())
		return refreshDoneMsg{results: results, err: err}
	}
}

func switchNetworkCmd(w *watcher.Watcher, name string) tea.Cmd {
	return func() tea.Msg {
		return networkSwitchedMsg{network: name, err: w.SwitchNetwork(context.Background(), name)}
	}
}

func logoutCmd(w *watcher.Watcher) tea.Cmd {
	return func() tea.Msg {
		return loggedOutMsg{err: w.Logout(context.Background())}
	}
}

func restoreCmd(actions Actions, mnemonic string) tea.Cmd {
	return func() tea.Msg {
		if actions.Restore == nil {
			return restoredMsg{err: errors.New("wallet restore is not available")}
		}
		return restoredMsg{err: actions.Restore(context.Background(), mnemonic)}
	}
}

func loginCmd(actions Actions, phone, password string) tea.Cmd {
	return func() tea.Msg {
		if actions.Login == nil {
			return loggedInMsg{err: errors.New("login is not available")}
		}
		return loggedInMsg{err: actions.Login(context.Background(), phone, password)}
	}
}

func paymentsCmd(w *watcher.Watcher, actions Actions) tea.Cmd {
	address := w.Wallet().Address
	return func() tea.Msg {
		if actions.Payments == nil {
			return paymentsMsg{err: errors.New("payment history is not available")}
		}
		payments, err := actions.Payments(context.Background(), address)
		return paymentsMsg{payments: payments, err: err}
	}
}

func transactionsCmd(w *watcher.Watcher, actions Actions) tea.Cmd {
	network := w.ActiveNetwork()
	address := w.Wallet().Address
	contract := ""
	if len(network.Tokens) > 0 {
		contract = network.Tokens[0].Contract
	}
	return func() tea.Msg {
		if actions.Transactions == nil {
			return txsMsg{err: errors.New("transaction history is not available")}
		}
		txs, err := actions.Transactions(context.Background(), network.Name, address, contract)
		return txsMsg{txs: txs, err: err}
	}
}
