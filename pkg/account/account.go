// Package account onboards a wallet: creating one with a phone account, logging back
// in, or restoring from a recovery phrase. Each path ends by loading the wallet and
// its credentials into the watcher.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coinsafe/pkg/auth"
	"coinsafe/pkg/models"
	"coinsafe/pkg/validation"
)

// ErrWalletMismatch is returned when a login belongs to a different wallet than the
// one stored locally.
var ErrWalletMismatch = errors.New("account belongs to a different wallet")

// ErrNoWallet is returned by Login when no wallet is stored locally.
var ErrNoWallet = errors.New("no wallet loaded, restore it from the recovery phrase first")

// Backend is the wallet backend as onboarding uses it. *rpc.API implements it.
type Backend interface {
	RestoreWallet(ctx context.Context, mnemonic string) (models.RestoredWallet, error)
	CreateWallet(ctx context.Context) (models.NewWallet, error)
	Register(ctx context.Context, req models.RegisterRequest) (models.RegisterResult, error)
	Login(ctx context.Context, req models.LoginRequest) (models.LoginResult, error)
}

// Loader receives the onboarded wallet. *watcher.Watcher implements it.
type Loader interface {
	Wallet() models.Wallet
	SetWallet(ctx context.Context, wallet models.Wallet, pair auth.Pair) error
}

// Restore exchanges a recovery phrase for the wallet keys and loads them.
func Restore(ctx context.Context, b Backend, l Loader, mnemonic string) error {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if err := validation.Mnemonic(mnemonic); err != nil {
		return err
	}
	restored, err := b.RestoreWallet(ctx, mnemonic)
	if err != nil {
		return err
	}
	wallet := models.Wallet{Address: restored.Address, PrivateKey: restored.PrivateKey}
	return l.SetWallet(ctx, wallet, auth.Pair{Access: restored.Access, Refresh: restored.Refresh})
}

// Create generates a wallet, registers phone against it and loads it. The returned
// wallet carries the recovery phrase, which the caller must show to the user once.
func Create(ctx context.Context, b Backend, l Loader, phone, password string) (models.NewWallet, error) {
	phone, err := validation.Phone(phone)
	if err != nil {
		return models.NewWallet{}, err
	}
	if err := validation.Password(password); err != nil {
		return models.NewWallet{}, err
	}

	created, err := b.CreateWallet(ctx)
	if err != nil {
		return models.NewWallet{}, fmt.Errorf("create wallet: %w", err)
	}
	reg, err := b.Register(ctx, models.RegisterRequest{
		PhoneNumber:   phone,
		Password:      password,
		WalletAddress: created.Address,
	})
	if err != nil {
		return created, fmt.Errorf("register %s: %w", phone, err)
	}

	wallet := models.Wallet{Address: created.Address, PrivateKey: created.PrivateKey}
	if err := l.SetWallet(ctx, wallet, auth.Pair{Access: reg.AccessToken(), Refresh: reg.Refresh}); err != nil {
		return created, err
	}
	return created, nil
}

// Login signs the stored wallet back in after its session ended. The private key
// never leaves the device, so a wallet must already be stored.
func Login(ctx context.Context, b Backend, l Loader, phone, password string) error {
	wallet := l.Wallet()
	if wallet.Address == "" {
		return ErrNoWallet
	}
	phone, err := validation.Phone(phone)
	if err != nil {
		return err
	}
	if password == "" {
		return validation.Password(password)
	}

	res, err := b.Login(ctx, models.LoginRequest{PhoneNumber: phone, Password: password})
	if err != nil {
		return err
	}
	if res.WalletAddress != "" && res.WalletAddress != wallet.Address {
		return fmt.Errorf("%w: %s", ErrWalletMismatch, res.WalletAddress)
	}
	return l.SetWallet(ctx, wallet, auth.Pair{Access: res.Access, Refresh: res.Refresh})
}
