package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Mask stands in for amounts while privacy mode is on.
const Mask = "****"

func TruncateString(str string, num int) string {
	if len(str) <= num {
		return str
	}
	if num <= 3 {
		return str[:num]
	}
	return str[:num-3] + "..."
}

// ShortAddress keeps head and tail characters of an address, e.g. TR7N...Lj6t.
func ShortAddress(addr string, head, tail int) string {
	if head < 0 || tail < 0 || len(addr) <= head+tail+3 {
		return addr
	}
	return addr[:head] + "..." + addr[len(addr)-tail:]
}

// AddCommas groups the integer part of a plain decimal string in thousands.
func AddCommas(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	integer, fraction, hasFraction := strings.Cut(s, ".")
	if len(integer) <= 3 {
		return sign + s
	}

	var b strings.Builder
	b.WriteString(sign)
	lead := len(integer) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(integer[:lead])
	for i := lead; i < len(integer); i += 3 {
		b.WriteByte(',')
		b.WriteString(integer[i : i+3])
	}
	if hasFraction {
		b.WriteByte('.')
		b.WriteString(fraction)
	}
	return b.String()
}

func FormatDecimal(d decimal.Decimal, places int) string {
	return AddCommas(d.StringFixed(int32(places)))
}

func FormatFloat(f float64, places int) string {
	return FormatDecimal(decimal.NewFromFloat(f), places)
}

// FormatUSD renders a dollar amount, or the mask when hidden is set.
func FormatUSD(d decimal.Decimal, places int, hidden bool) string {
	if hidden {
		return "$" + Mask
	}
	if d.IsNegative() {
		return "-$" + FormatDecimal(d.Abs(), places)
	}
	return "$" + FormatDecimal(d, places)
}

// FormatAmount renders a token amount with its symbol, or the mask when hidden is set.
func FormatAmount(f float64, places int, symbol string, hidden bool) string {
	v := FormatFloat(f, places)
	if hidden {
		v = Mask
	}
	if symbol == "" {
		return v
	}
	return v + " " + symbol
}
