// Package validation checks user supplied wallet input before it reaches the backend.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ErrInvalid matches every error returned by this package.
var ErrInvalid = errors.New("invalid input")

// Error is a validation failure carrying a message fit for the user.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, msg string) error {
	return &Error{Field: field, Message: msg}
}

const (
	FormatTron = "tron"
	FormatEVM  = "evm"
)

// MinDepositKES is the smallest M-Pesa deposit the backend accepts.
var MinDepositKES = decimal.NewFromInt(5)

var (
	alphanumeric = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	letters      = regexp.MustCompile(`^[a-zA-Z]+$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// Address checks addr against the network's address format.
func Address(format, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return invalid("address", "Please fill wallet address")
	}
	switch format {
	case FormatEVM:
		if !common.IsHexAddress(addr) {
			return invalid("address", "Wallet address must be a 0x-prefixed 40 character hex address")
		}
		return nil
	case FormatTron, "":
		if len(addr) != 34 {
			return invalid("address", "Wallet address must contain exactly 34 characters")
		}
		if !alphanumeric.MatchString(addr) {
			return invalid("address", "Wallet address must contain only letters and numbers")
		}
		if !strings.HasPrefix(addr, "T") {
			return invalid("address", "Wallet address must start with T")
		}
		return nil
	}
	return invalid("address", "Unknown address format "+format)
}

// Mnemonic checks a recovery phrase of 12, 15, 18, 21 or 24 unique words.
func Mnemonic(phrase string) error {
	if strings.TrimSpace(phrase) == "" {
		return invalid("mnemonic", "Please fill mnemonic phrase")
	}
	words := strings.Split(phrase, " ")
	switch len(words) {
	case 12, 15, 18, 21, 24:
	default:
		return invalid("mnemonic", "Mnemonic phrase must contain 12, 15, 18, 21 or 24 words")
	}

	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < 3 {
			return invalid("mnemonic", "Each word in mnemonic phrase must contain at least 3 characters")
		}
		if len(w) > 10 {
			return invalid("mnemonic", "Each word in mnemonic phrase must contain at most 10 characters")
		}
		if !letters.MatchString(w) {
			return invalid("mnemonic", "Each word in mnemonic phrase must contain only letters")
		}
		seen[w] = true
	}
	if len(seen) != len(words) {
		return invalid("mnemonic", "Mnemonic phrase must contain unique words")
	}
	return nil
}

// MinPasswordLength is the shortest account password accepted.
const MinPasswordLength = 8

// Password checks an account password.
func Password(s string) error {
	if s == "" {
		return invalid("password", "Please fill password")
	}
	if len(s) < MinPasswordLength {
		return invalid("password", fmt.Sprintf("Password must contain at least %d characters", MinPasswordLength))
	}
	return nil
}

// Amount parses a positive amount.
func Amount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, invalid("amount", "Please fill amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid("amount", "Amount must be a number")
	}
	if !d.IsPositive() {
		return decimal.Zero, invalid("amount", "Amount must be greater than 0")
	}
	return d, nil
}

// DepositAmount is Amount with the minimum deposit enforced.
func DepositAmount(s string) (decimal.Decimal, error) {
	d, err := Amount(s)
	if err != nil {
		return d, err
	}
	if d.LessThan(MinDepositKES) {
		return decimal.Zero, invalid("amount", "Minimum deposit is "+MinDepositKES.String()+" KES")
	}
	return d, nil
}

// NormalizePhone converts a Kenyan phone number to the 254XXXXXXXXX form.
// Numbers it does not recognise are returned as digits only.
func NormalizePhone(s string) string {
	digits := nonDigits.ReplaceAllString(s, "")
	switch {
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case len(digits) == 9:
		return "254" + digits
	}
	return digits
}

// Phone normalises s and checks the result is a full 254 number.
func Phone(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", invalid("phone", "Please fill phone number")
	}
	p := NormalizePhone(s)
	if len(p) != 12 || !strings.HasPrefix(p, "254") {
		return "", invalid("phone", "Phone number must be a valid Kenyan number")
	}
	return p, nil
}
