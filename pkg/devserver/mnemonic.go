package devserver

import (
	"math/rand/v2"
	"strings"
)

// words is a slice of the BIP-39 English list, enough for throwaway dev phrases.
var words = []string{
	"abandon", "ability", "able", "about", "above", "absent", "absorb", "abstract",
	"absurd", "abuse", "access", "accident", "account", "accuse", "achieve", "acid",
	"acoustic", "acquire", "across", "act", "action", "actor", "actress", "actual",
	"adapt", "add", "addict", "address", "adjust", "admit", "adult", "advance",
	"advice", "aerobic", "affair", "afford", "afraid", "again", "age", "agent",
	"agree", "ahead", "aim", "air", "airport", "aisle", "alarm", "album",
	"alcohol", "alert", "alien", "all", "alley", "allow", "almost", "alone",
	"alpha", "already", "also", "alter", "always", "amateur", "amazing", "among",
}

// newMnemonic returns twelve distinct words.
func newMnemonic() string {
	picked := make([]string, 0, 12)
	for _, i := range rand.Perm(len(words))[:12] {
		picked = append(picked, words[i])
	}
	return strings.Join(picked, " ")
}
