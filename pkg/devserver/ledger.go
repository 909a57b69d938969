package devserver

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPhoneTaken        = errors.New("phone number already registered")
	ErrBadCredentials    = errors.New("no active account found with the given credentials")
)

// ledger keeps token and native balances per address in memory.
type ledger struct {
	mu      sync.Mutex
	tokens  map[string]map[string]decimal.Decimal
	native  map[string]decimal.Decimal
	keys    map[string]string // private key -> address
	history map[string][]transfer

	accounts map[string]account // phone -> account
	payments map[string][]payment
}

type account struct {
	PasswordHash []byte
	Wallet       string
}

// payment is an M-Pesa deposit or payout as the history endpoint reports it.
type payment struct {
	ID          string
	Type        string
	AmountKES   decimal.Decimal
	Amount      decimal.Decimal
	PhoneNumber string
	Status      string
	TxHash      string
	CreatedAt   int64 // unix millis
}

type transfer struct {
	Hash      string
	From      string
	To        string
	Contract  string
	Amount    decimal.Decimal
	Timestamp int64
}

func newLedger() *ledger {
	return &ledger{
		tokens:  make(map[string]map[string]decimal.Decimal),
		native:  make(map[string]decimal.Decimal),
		keys:    make(map[string]string),
		history: make(map[string][]transfer),

		accounts: make(map[string]account),
		payments: make(map[string][]payment),
	}
}

// deriveWallet maps a mnemonic to a stable Tron-shaped address and a private key.
func deriveWallet(mnemonic string) (address, privateKey string) {
	hex := crypto.Keccak256Hash([]byte(mnemonic)).Hex()[2:]
	return "T" + hex[:33], hex
}

func (l *ledger) register(address, privateKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[privateKey] = address
}

func (l *ledger) owner(privateKey string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.keys[privateKey]
	return addr, ok
}

func (l *ledger) credit(address, contract string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tokens[address] == nil {
		l.tokens[address] = make(map[string]decimal.Decimal)
	}
	l.tokens[address][contract] = l.tokens[address][contract].Add(amount)
}

func (l *ledger) balance(address, contract string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens[address][contract]
}

func (l *ledger) setNative(address string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[address] = amount
}

func (l *ledger) nativeBalance(address string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.native[address]
}

// move debits from and credits to, recording the transfer for both sides.
// An empty to burns the amount.
func (l *ledger) move(t transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.tokens[t.From][t.Contract]
	if have.LessThan(t.Amount) {
		return ErrInsufficientFunds
	}
	l.tokens[t.From][t.Contract] = have.Sub(t.Amount)
	l.history[t.From] = append(l.history[t.From], t)
	if t.To != "" {
		if l.tokens[t.To] == nil {
			l.tokens[t.To] = make(map[string]decimal.Decimal)
		}
		l.tokens[t.To][t.Contract] = l.tokens[t.To][t.Contract].Add(t.Amount)
		l.history[t.To] = append(l.history[t.To], t)
	}
	return nil
}

func (l *ledger) transfers(address, contract string) []transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []transfer
	for _, t := range l.history[address] {
		if contract == "" || t.Contract == contract {
			out = append(out, t)
		}
	}
	return out
}

func (l *ledger) addAccount(phone, password, wallet string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[phone]; ok {
		return ErrPhoneTaken
	}
	l.accounts[phone] = account{PasswordHash: hash, Wallet: wallet}
	return nil
}

// authenticate returns the wallet registered for phone.
func (l *ledger) authenticate(phone, password string) (string, error) {
	l.mu.Lock()
	acc, ok := l.accounts[phone]
	l.mu.Unlock()
	if !ok {
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)); err != nil {
		return "", ErrBadCredentials
	}
	return acc.Wallet, nil
}

func (l *ledger) recordPayment(wallet string, p payment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payments[wallet] = append(l.payments[wallet], p)
}

// paymentHistory lists payments for wallet, newest first.
func (l *ledger) paymentHistory(wallet string) []payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.payments[wallet]
	out := make([]payment, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out
}
