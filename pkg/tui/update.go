package tui

import (
	"fmt"
	"strings"
	"time"

	"coinsafe/pkg/auth"
	"coinsafe/pkg/store"
	"coinsafe/pkg/validation"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

const statusTTL = 3 * time.Second

func (m *model) setStatus(msg string, isErr bool) tea.Cmd {
	m.statusMessage = msg
	m.statusIsError = isErr
	return clearStatusAfter(statusTTL)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case store.Event:
		// Re-subscribe to next event
		cmds = append(cmds, listenForStore(m.sub))
		switch msg.Key {
		case store.KeyCredentials:
			if pair, ok := msg.Value.(auth.Pair); ok && pair == (auth.Pair{}) && m.watcher.Wallet().Address != "" {
				m.sessionExpired = true
			}
		case store.KeyPrices, store.KeyBalances, store.KeyChainSummary:
			m.lastUpdate = time.Now()
		}

	case refreshDoneMsg:
		m.loading = false
		m.lastResults = msg.results
		switch {
		case isSessionError(msg.err):
			m.sessionExpired = true
			cmds = append(cmds, m.setStatus(sessionExpiredMessage, true))
		case msg.err != nil:
			cmds = append(cmds, m.setStatus(fmt.Sprintf("Refresh failed: %v", msg.err), true))
		default:
			if m.watcher.Credentials().LoggedIn() {
				m.sessionExpired = false
			}
			cmds = append(cmds, m.setStatus(summarizeResults(msg.results), false))
		}

	case networkSwitchedMsg:
		if msg.err != nil {
			cmds = append(cmds, m.setStatus(fmt.Sprintf("Network switch failed: %v", msg.err), true))
			break
		}
		m.txs = nil
		m.loading = true
		cmds = append(cmds, m.setStatus("Switched to "+msg.network, false), refreshCmd(m.watcher))

	case loggedOutMsg:
		m.sessionExpired = false
		m.txs = nil
		if msg.err != nil {
			cmds = append(cmds, m.setStatus(fmt.Sprintf("Logout failed: %v", msg.err), true))
		} else {
			cmds = append(cmds, m.setStatus("Logged out", false))
		}

	case restoredMsg:
		if msg.err != nil {
			m.loading = false
			cmds = append(cmds, m.setStatus(fmt.Sprintf("Restore failed: %v", msg.err), true))
			break
		}
		m.sessionExpired = false
		m.loading = true
		cmds = append(cmds, m.setStatus("Wallet restored", false), refreshCmd(m.watcher))

	case loggedInMsg:
		if msg.err != nil {
			m.loading = false
			cmds = append(cmds, m.setStatus(fmt.Sprintf("Login failed: %v", msg.err), true))
			break
		}
		m.sessionExpired = false
		m.loading = true
		cmds = append(cmds, m.setStatus("Logged in", false), refreshCmd(m.watcher))

	case paymentsMsg:
		if msg.err != nil {
			if isSessionError(msg.err) {
				m.sessionExpired = true
			}
			cmds = append(cmds, m.setStatus(fmt.Sprintf("Payments unavailable: %v", msg.err), true))
			break
		}
		m.payments = msg.payments

	case txsMsg:
		if msg.err != nil {
			if isSessionError(msg.err) {
				m.sessionExpired = true
			}
			cmds = append(cmds, m.setStatus(fmt.Sprintf("Transactions unavailable: %v", msg.err), true))
			break
		}
		m.txs = msg.txs
		m.txListIdx = 0

	case privacyTimeoutMsg:
		timeout := m.privacyTimeout()
		if timeout <= 0 || m.privacyMode {
			break
		}
		if idle := time.Since(m.lastInteraction); idle >= timeout {
			m.privacyMode = true
			cmds = append(cmds, m.setStatus("Privacy Mode enabled due to inactivity", false))
		} else {
			cmds = append(cmds, tea.Tick(timeout-idle, func(time.Time) tea.Msg { return privacyTimeoutMsg{} }))
		}

	case uiTickMsg:
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case clearStatusMsg:
		m.statusMessage = ""
		m.statusIsError = false

	case tea.KeyMsg:
		m.lastInteraction = time.Now()
		return m.handleKey(msg)
	}

	if m.loading {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if m.restoring {
		switch key {
		case "esc":
			m.restoring = false
			m.mnemonicInput.Blur()
			m.mnemonicInput.SetValue("")
			return m, nil
		case "enter":
			phrase := strings.Join(strings.Fields(m.mnemonicInput.Value()), " ")
			if err := validation.Mnemonic(phrase); err != nil {
				cmd := m.setStatus(err.Error(), true)
				return m, cmd
			}
			m.restoring = false
			m.mnemonicInput.Blur()
			m.mnemonicInput.SetValue("")
			m.loading = true
			return m, restoreCmd(m.actions, phrase)
		}
		var cmd tea.Cmd
		m.mnemonicInput, cmd = m.mnemonicInput.Update(msg)
		return m, cmd
	}

	if m.loggingIn {
		return m.handleLoginKey(msg)
	}

	if key == "?" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if m.showHelp {
		if key == "q" || key == "esc" {
			m.showHelp = false
		}
		return m, nil
	}

	if key == "P" {
		m.privacyMode = !m.privacyMode
		if !m.privacyMode {
			if timeout := m.privacyTimeout(); timeout > 0 {
				return m, tea.Tick(timeout, func(time.Time) tea.Msg { return privacyTimeoutMsg{} })
			}
		}
		return m, nil
	}

	if m.showTxList {
		return m.handleTxListKey(key)
	}

	if m.showPayments {
		if key == "h" || key == "q" || key == "esc" {
			m.showPayments = false
		}
		return m, nil
	}

	if m.showGraph {
		if key == "g" || key == "q" || key == "esc" {
			m.showGraph = false
		}
		return m, nil
	}

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.loading = true
		cmd := tea.Batch(m.setStatus("Refreshing data...", false), refreshCmd(m.watcher), m.spinner.Tick)
		return m, cmd
	case "n":
		next := m.watcher.Config().NextNetwork(m.watcher.Network())
		return m, switchNetworkCmd(m.watcher, next)
	case "g":
		m.showGraph = true
	case "w":
		m.restoring = true
		cmd := m.mnemonicInput.Focus()
		return m, cmd
	case "L":
		return m, logoutCmd(m.watcher)
	case "l":
		if m.watcher.Wallet().Address == "" {
			cmd := m.setStatus("Restore a wallet before logging in", true)
			return m, cmd
		}
		m.loggingIn = true
		m.passwordInput.Blur()
		cmd := m.phoneInput.Focus()
		return m, cmd
	case "h":
		if m.watcher.Wallet().Address == "" {
			cmd := m.setStatus("Restore a wallet to see payments", true)
			return m, cmd
		}
		m.showPayments = true
		m.payments = nil
		return m, paymentsCmd(m.watcher, m.actions)
	case "t":
		if m.watcher.Wallet().Address == "" {
			cmd := m.setStatus("Restore a wallet to see transactions", true)
			return m, cmd
		}
		m.showTxList = true
		return m, transactionsCmd(m.watcher, m.actions)
	case "c":
		addr := m.watcher.Wallet().Address
		if addr == "" {
			cmd := m.setStatus("No wallet loaded", true)
			return m, cmd
		}
		if err := clipboard.WriteAll(addr); err != nil {
			cmd := m.setStatus("Failed to copy to clipboard", true)
			return m, cmd
		}
		if m.privacyMode {
			cmd := m.setStatus("Full address copied (Privacy Mode active)!", false)
			return m, cmd
		}
		cmd := m.setStatus("Full address copied to clipboard!", false)
		return m, cmd
	}
	return m, nil
}

func (m *model) closeLogin() {
	m.loggingIn = false
	m.phoneInput.Blur()
	m.passwordInput.Blur()
	m.phoneInput.SetValue("")
	m.passwordInput.SetValue("")
}

func (m model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.closeLogin()
		return m, nil
	case "tab", "shift+tab", "up", "down":
		if m.phoneInput.Focused() {
			m.phoneInput.Blur()
			cmd := m.passwordInput.Focus()
			return m, cmd
		}
		m.passwordInput.Blur()
		cmd := m.phoneInput.Focus()
		return m, cmd
	case "enter":
		phone, err := validation.Phone(m.phoneInput.Value())
		if err != nil {
			cmd := m.setStatus(err.Error(), true)
			return m, cmd
		}
		password := m.passwordInput.Value()
		if err := validation.Password(password); err != nil {
			cmd := m.setStatus(err.Error(), true)
			return m, cmd
		}
		m.closeLogin()
		m.loading = true
		return m, loginCmd(m.actions, phone, password)
	}

	var cmd tea.Cmd
	if m.phoneInput.Focused() {
		m.phoneInput, cmd = m.phoneInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

func (m model) handleTxListKey(key string) (tea.Model, tea.Cmd) {
	txs := filterTransactions(m.txs, m.watcher.Wallet().Address, m.txFilter)
	switch key {
	case "q", "esc", "t":
		m.showTxList = false
	case "i":
		m.txFilter, m.txListIdx = "in", 0
	case "o":
		m.txFilter, m.txListIdx = "out", 0
	case "a":
		m.txFilter, m.txListIdx = "all", 0
	case "up", "k":
		if m.txListIdx > 0 {
			m.txListIdx--
		}
	case "down", "j":
		if m.txListIdx < len(txs)-1 {
			m.txListIdx++
		}
	case "enter":
		if m.txListIdx >= len(txs) {
			return m, nil
		}
		url := m.watcher.ActiveNetwork().TxURL(txs[m.txListIdx].Hash)
		if err := openURL(url); err != nil {
			cmd := m.setStatus(fmt.Sprintf("Cannot open transaction: %v", err), true)
			return m, cmd
		}
		cmd := m.setStatus("Opened in browser", false)
		return m, cmd
	}
	return m, nil
}
