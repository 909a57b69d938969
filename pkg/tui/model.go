package tui

import (
	"context"
	"time"

	"coinsafe/pkg/cache"
	"coinsafe/pkg/models"
	"coinsafe/pkg/store"
	"coinsafe/pkg/watcher"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Version is set by Start()
var Version = "dev"

// Actions are the backend operations the dashboard can trigger besides refreshing.
type Actions struct {
	Restore      func(ctx context.Context, mnemonic string) error
	Login        func(ctx context.Context, phone, password string) error
	Transactions func(ctx context.Context, network, address, contract string) ([]models.Transaction, error)
	Payments     func(ctx context.Context, address string) ([]models.Payment, error)
}

// --- Messages ---

type clearStatusMsg struct{}
type uiTickMsg time.Time
type privacyTimeoutMsg struct{}

type refreshDoneMsg struct {
	results map[cache.Resource]watcher.Result
	err     error
}

type networkSwitchedMsg struct {
	network string
	err     error
}

type loggedOutMsg struct{ err error }

type restoredMsg struct{ err error }

type loggedInMsg struct{ err error }

type paymentsMsg struct {
	payments []models.Payment
	err      error
}

type txsMsg struct {
	txs []models.Transaction
	err error
}

// --- Model ---

type model struct {
	watcher *watcher.Watcher
	actions Actions
	sub     store.Subscriber

	width   int
	height  int
	loading bool
	spinner spinner.Model

	statusMessage  string
	statusIsError  bool
	sessionExpired bool
	lastResults    map[cache.Resource]watcher.Result
	lastUpdate     time.Time

	showHelp      bool
	showGraph     bool
	showTxList    bool
	restoring     bool
	mnemonicInput textinput.Model

	loggingIn     bool
	phoneInput    textinput.Model
	passwordInput textinput.Model

	showPayments bool
	payments     []models.Payment

	txs       []models.Transaction
	txFilter  string // "all", "in", "out"
	txListIdx int

	privacyMode     bool
	lastInteraction time.Time
}

func initialModel(w *watcher.Watcher, actions Actions) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "twelve word recovery phrase"
	ti.Width = 60
	ti.EchoMode = textinput.EchoPassword

	phone := textinput.New()
	phone.Placeholder = "0712 345 678"
	phone.Width = 30

	password := textinput.New()
	password.Placeholder = "password"
	password.Width = 30
	password.EchoMode = textinput.EchoPassword

	return model{
		watcher:         w,
		actions:         actions,
		sub:             w.Store().Subscribe(),
		loading:         true,
		spinner:         s,
		mnemonicInput:   ti,
		phoneInput:      phone,
		passwordInput:   password,
		txFilter:        "all",
		lastInteraction: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		listenForStore(m.sub),
		m.spinner.Tick,
		refreshCmd(m.watcher),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }),
	}
	if timeout := m.privacyTimeout(); timeout > 0 {
		cmds = append(cmds, tea.Tick(timeout, func(time.Time) tea.Msg { return privacyTimeoutMsg{} }))
	}
	return tea.Batch(cmds...)
}

func (m model) privacyTimeout() time.Duration {
	return time.Duration(m.watcher.Config().PrivacyTimeoutSeconds) * time.Second
}
