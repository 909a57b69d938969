package tui

import (
	"errors"
	"os/exec"
	"runtime"

	"coinsafe/pkg/utils"
)

var errNoExplorer = errors.New("network has no block explorer configured")

func (m model) maskString(s string) string {
	if m.privacyMode {
		return utils.Mask
	}
	return s
}

// maskAddress keeps the address prefix so Tron (T...) and EVM (0x...) stay distinguishable.
func (m model) maskAddress(addr string) string {
	if !m.privacyMode || addr == "" {
		return addr
	}
	if len(addr) > 2 && addr[:2] == "0x" {
		return "0x**...**"
	}
	return addr[:1] + "**...**"
}

var openers = map[string][]string{
	"windows": {"cmd", "/c", "start"},
	"darwin":  {"open"},
}

// openURL hands a link to the platform's default handler without waiting for it.
func openURL(url string) error {
	if url == "" {
		return errNoExplorer
	}
	argv, ok := openers[runtime.GOOS]
	if !ok {
		argv = []string{"xdg-open"}
	}
	args := append(append([]string{}, argv[1:]...), url)
	return exec.Command(argv[0], args...).Start()
}
