package tui

import (
	"fmt"
	"strings"
	"time"

	"coinsafe/pkg/cache"
	"coinsafe/pkg/utils"
	"coinsafe/pkg/watcher"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/shopspring/decimal"
)

func (m model) View() string {
	switch {
	case m.showHelp:
		return m.viewHelp()
	case m.restoring:
		return m.viewRestore()
	case m.loggingIn:
		return m.viewLogin()
	case m.showPayments:
		return m.viewPayments()
	case m.showTxList:
		return m.viewTxList()
	case m.showGraph:
		return m.viewGraph()
	}
	return m.viewMain()
}

func (m model) place(content string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m model) viewMain() string {
	st := m.watcher.Status()
	cfg := m.watcher.Config()

	header := titleStyle.Render(fmt.Sprintf("CoinSafe - %s", st.NetworkLabel))

	var body []string
	if st.Address == "" {
		body = append(body, subtleStyle.Render("No wallet loaded. Press w to restore one from its recovery phrase."))
	} else {
		body = append(body, fmt.Sprintf("Address: %s", m.maskAddress(utils.ShortAddress(st.Address, 6, 4))))
	}
	if m.sessionExpired {
		body = append(body, errStyle.Render(sessionExpiredMessage))
	}

	total := utils.FormatUSD(decimal.RequireFromString(st.TotalUSD), cfg.FiatDecimals, m.privacyMode)
	body = append(body, "", totalStyle.Render(total), "")

	rows := []string{tableHeaderStyle.Render(fmt.Sprintf("%-6s %14s %10s %12s", "TOKEN", "BALANCE", "PRICE", "VALUE"))}
	for _, t := range st.Tokens {
		value := decimal.NewFromFloat(t.Price).Mul(decimal.NewFromFloat(t.Balance))
		rows = append(rows, fmt.Sprintf("%-6s %14s %10s %12s",
			t.Symbol,
			utils.FormatAmount(t.Balance, cfg.TokenDecimals, "", m.privacyMode),
			"$"+utils.FormatFloat(t.Price, cfg.TokenDecimals),
			utils.FormatUSD(value, cfg.FiatDecimals, m.privacyMode),
		))
	}
	if st.Address != "" {
		rows = append(rows, fmt.Sprintf("%-6s %14s %10s %12s",
			"native",
			utils.FormatAmount(st.ChainSummary.Balance, cfg.TokenDecimals, "", m.privacyMode),
			"$"+utils.FormatFloat(st.ChainSummary.Price, cfg.TokenDecimals),
			utils.FormatUSD(decimal.NewFromFloat(st.ChainSummary.TotalUSD), cfg.FiatDecimals, m.privacyMode),
		))
	}
	body = append(body, strings.Join(rows, "\n"), "", m.viewWatermarks(st))

	width := m.width - 4
	if width < 0 {
		width = 0
	}
	content := boxStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Center,
		append([]string{header}, body...)...,
	))

	return lipgloss.JoinVertical(lipgloss.Left, m.viewTopBar(), m.placeBelowBar(content, m.viewFooter()))
}

func (m model) viewWatermarks(st watcher.Status) string {
	var parts []string
	for _, r := range cache.Resources {
		next := st.NextUpdate[r]
		style := subtleStyle
		if m.watcher.Cache().InFlight(r) {
			next = "fetching"
			style = warnStyle
		} else if st.Watermarks[r] == "" {
			next = "due"
		}
		label := string(r)
		if res, ok := m.lastResults[r]; ok && res.Err != nil {
			style = errStyle
			label += "!"
		}
		parts = append(parts, style.Render(fmt.Sprintf("%s: %s", label, next)))
	}
	return strings.Join(parts, subtleStyle.Render(" | "))
}

func (m model) viewTopBar() string {
	spinnerView := ""
	if m.loading {
		spinnerView = m.spinner.View() + " "
	}
	last := "never"
	if !m.lastUpdate.IsZero() {
		last = m.lastUpdate.Format("15:04:05")
	}
	privacy := ""
	if m.privacyMode {
		privacy = "[private] "
	}
	left := subtleStyle.Render(" " + m.watcher.Network())
	right := subtleStyle.Render(fmt.Sprintf("%s%sLast updated: %s ", privacy, spinnerView, last))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, strings.Repeat(" ", gap), right)
}

func (m model) viewFooter() string {
	line := fmt.Sprintf("r:ref • n:net • t:txs • h:pay • g:graph • c:cpy • w:restore • l:login • L:logout • P:prv • ?:hlp • q:quit • v%s", Version)
	footer := subtleStyle.Render(line)
	if m.width > 0 {
		footer = subtleStyle.Width(m.width).Align(lipgloss.Center).Render(line)
	}
	if m.statusMessage != "" {
		style := infoStyle
		if m.statusIsError {
			style = errStyle
		}
		footer = lipgloss.JoinVertical(lipgloss.Center, style.Render(m.statusMessage), footer)
	}
	return footer
}

func (m model) placeBelowBar(content, footer string) string {
	h := m.height - 1
	if h < 0 {
		h = 0
	}
	return lipgloss.Place(m.width, h, lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewRestore() string {
	return m.place(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Restore Wallet"),
		"\n",
		"Enter your recovery phrase:",
		m.mnemonicInput.View(),
		"\n",
		m.statusLine(),
		subtleStyle.Render("Enter to restore • Esc to cancel"),
	)))
}

func (m model) viewLogin() string {
	return m.place(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Log In"),
		"\n",
		"Phone number:",
		m.phoneInput.View(),
		"Password:",
		m.passwordInput.View(),
		"\n",
		m.statusLine(),
		subtleStyle.Render("Tab to switch field • Enter to log in • Esc to cancel"),
	)))
}

func (m model) viewPayments() string {
	header := titleStyle.Render("M-Pesa Payments")

	rows := "No payments found."
	if len(m.payments) > 0 {
		var b strings.Builder
		b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%-10s %12s %-16s %s", "TYPE", "AMOUNT", "STATUS", "DATE")) + "\n")
		for _, p := range m.payments {
			unit := "KES"
			if p.AmountKES == 0 {
				unit = "USD"
			}
			fmt.Fprintf(&b, "%-10s %12s %-16s %s\n",
				p.Type,
				m.maskString(utils.FormatFloat(p.DisplayAmount(), 2)+" "+unit),
				p.Status,
				p.CreatedAt.Local().Format("2006-01-02 15:04"),
			)
		}
		rows = b.String()
	}

	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", rows))
	footer := subtleStyle.Render("h/q/esc: back")
	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", m.statusLine(), footer))
}

func (m model) statusLine() string {
	if m.statusMessage == "" {
		return ""
	}
	if m.statusIsError {
		return errStyle.Render(m.statusMessage)
	}
	return infoStyle.Render(m.statusMessage)
}

func (m model) viewGraph() string {
	header := titleStyle.Render("Portfolio Value")
	values := historyValues(m.watcher.History())

	var graph string
	switch {
	case m.privacyMode:
		graph = "Hidden while Privacy Mode is active."
	case len(values) < 2:
		graph = "Not enough data to draw graph."
	default:
		width := m.width - 20
		if width < 10 {
			width = 10
		}
		height := m.height - 12
		if height < 1 {
			height = 1
		}
		graph = asciigraph.Plot(values,
			asciigraph.Height(height),
			asciigraph.Width(width),
			asciigraph.Caption("Portfolio Value History (USD)"),
		)
	}

	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", graph))
	footer := subtleStyle.Render("g/q/esc: back")
	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer))
}

func (m model) viewTxList() string {
	address := m.watcher.Wallet().Address
	filterDisplay := "All"
	switch m.txFilter {
	case "in":
		filterDisplay = "Incoming"
	case "out":
		filterDisplay = "Outgoing"
	}
	header := titleStyle.Render(fmt.Sprintf("Transactions: %s (%s)", m.maskAddress(utils.ShortAddress(address, 6, 4)), filterDisplay))

	txs := filterTransactions(m.txs, address, m.txFilter)
	rows := "No transactions found."
	if len(txs) > 0 {
		var b strings.Builder
		b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("  %-12s %-12s %14s  %s", "HASH", "COUNTERPARTY", "AMOUNT", "TIME")) + "\n")
		for i, tx := range txs {
			cursor := "  "
			if i == m.txListIdx {
				cursor = "> "
			}
			counterparty := tx.To
			if !strings.EqualFold(tx.From, address) {
				counterparty = tx.From
			}
			when := time.UnixMilli(tx.Timestamp).Format("2006-01-02 15:04")
			fmt.Fprintf(&b, "%s%-12s %-12s %14s  %s\n",
				cursor,
				m.maskString(utils.TruncateString(tx.Hash, 12)),
				m.maskAddress(utils.TruncateString(counterparty, 12)),
				m.maskString(utils.FormatFloat(tx.Amount, m.watcher.Config().TokenDecimals)),
				when,
			)
		}
		rows = b.String()
	}

	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, header, "\n", rows))
	footer := subtleStyle.Render("i: in • o: out • a: all • enter: explorer • q/esc: back")
	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", m.statusLine(), footer))
}

func (m model) viewHelp() string {
	shortcuts := []string{
		"r: Refresh (skips data fetched within its window)",
		"n: Next network",
		"t: Transaction history",
		"h: M-Pesa payment history",
		"g: Portfolio graph",
		"c: Copy wallet address",
		"w: Restore wallet from recovery phrase",
		"l: Log in again with phone and password",
		"L: Log out",
		"P: Toggle Privacy Mode",
		"?: Toggle help",
		"q: Quit",
	}
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Keyboard Shortcuts"),
		"\n",
		strings.Join(shortcuts, "\n"),
	))
	return m.place(lipgloss.JoinVertical(lipgloss.Center, content, "\n", subtleStyle.Render("?/q/esc: close")))
}
