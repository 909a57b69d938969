package tui

import (
	"coinsafe/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

// Start runs the dashboard until the user quits.
func Start(w *watcher.Watcher, actions Actions, version string) error {
	Version = version
	m := initialModel(w, actions)
	defer w.Store().Unsubscribe(m.sub)

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
