package account

import (
	"context"
	"errors"
	"testing"

	"coinsafe/pkg/auth"
	"coinsafe/pkg/models"
	"coinsafe/pkg/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phrase = "abandon ability able about above absent absorb abstract absurd abuse access accident"

type fakeBackend struct {
	registered []models.RegisterRequest
	logins     []models.LoginRequest
	restored   []string

	registerErr error
	loginErr    error
	loginWallet string
}

func (f *fakeBackend) RestoreWallet(ctx context.Context, mnemonic string) (models.RestoredWallet, error) {
	f.restored = append(f.restored, mnemonic)
	return models.RestoredWallet{Address: "TXrestored", PrivateKey: "key", Access: "a1", Refresh: "r1"}, nil
}

func (f *fakeBackend) CreateWallet(ctx context.Context) (models.NewWallet, error) {
	return models.NewWallet{Address: "TXnew", PrivateKey: "newkey", Mnemonic: models.Mnemonic{Phrase: phrase}}, nil
}

func (f *fakeBackend) Register(ctx context.Context, req models.RegisterRequest) (models.RegisterResult, error) {
	f.registered = append(f.registered, req)
	if f.registerErr != nil {
		return models.RegisterResult{}, f.registerErr
	}
	return models.RegisterResult{Status: "Account Created", Token: "a2", Refresh: "r2"}, nil
}

func (f *fakeBackend) Login(ctx context.Context, req models.LoginRequest) (models.LoginResult, error) {
	f.logins = append(f.logins, req)
	if f.loginErr != nil {
		return models.LoginResult{}, f.loginErr
	}
	return models.LoginResult{Access: "a3", Refresh: "r3", WalletAddress: f.loginWallet}, nil
}

type fakeLoader struct {
	wallet models.Wallet
	pair   auth.Pair
	sets   int
}

func (f *fakeLoader) Wallet() models.Wallet { return f.wallet }

func (f *fakeLoader) SetWallet(ctx context.Context, wallet models.Wallet, pair auth.Pair) error {
	f.wallet, f.pair = wallet, pair
	f.sets++
	return nil
}

func TestRestore(t *testing.T) {
	b, l := &fakeBackend{}, &fakeLoader{}

	require.NoError(t, Restore(context.Background(), b, l, "  abandon ability able about above absent\n absorb abstract absurd abuse access accident "))
	assert.Equal(t, []string{phrase}, b.restored)
	assert.Equal(t, models.Wallet{Address: "TXrestored", PrivateKey: "key"}, l.wallet)
	assert.Equal(t, auth.Pair{Access: "a1", Refresh: "r1"}, l.pair)

	err := Restore(context.Background(), b, l, "too short")
	assert.ErrorIs(t, err, validation.ErrInvalid)
	assert.Len(t, b.restored, 1)
}

func TestCreate(t *testing.T) {
	b, l := &fakeBackend{}, &fakeLoader{}

	created, err := Create(context.Background(), b, l, "0712 345 678", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, phrase, created.Mnemonic.Phrase)
	require.Len(t, b.registered, 1)
	assert.Equal(t, models.RegisterRequest{PhoneNumber: "254712345678", Password: "s3cretpass", WalletAddress: "TXnew"}, b.registered[0])
	assert.Equal(t, models.Wallet{Address: "TXnew", PrivateKey: "newkey"}, l.wallet)
	assert.Equal(t, auth.Pair{Access: "a2", Refresh: "r2"}, l.pair)
}

func TestCreate_Rejected(t *testing.T) {
	t.Run("bad input never reaches the backend", func(t *testing.T) {
		b, l := &fakeBackend{}, &fakeLoader{}
		_, err := Create(context.Background(), b, l, "12", "s3cretpass")
		assert.ErrorIs(t, err, validation.ErrInvalid)
		_, err = Create(context.Background(), b, l, "0712345678", "short")
		assert.ErrorIs(t, err, validation.ErrInvalid)
		assert.Empty(t, b.registered)
	})

	t.Run("registration failure loads nothing", func(t *testing.T) {
		boom := errors.New("phone taken")
		b, l := &fakeBackend{registerErr: boom}, &fakeLoader{}
		created, err := Create(context.Background(), b, l, "0712345678", "s3cretpass")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "TXnew", created.Address)
		assert.Zero(t, l.sets)
	})
}

func TestLogin(t *testing.T) {
	stored := models.Wallet{Address: "TXstored", PrivateKey: "key"}

	t.Run("reloads the stored wallet with the new pair", func(t *testing.T) {
		b, l := &fakeBackend{loginWallet: "TXstored"}, &fakeLoader{wallet: stored}
		require.NoError(t, Login(context.Background(), b, l, "0712345678", "s3cretpass"))
		assert.Equal(t, stored, l.wallet)
		assert.Equal(t, auth.Pair{Access: "a3", Refresh: "r3"}, l.pair)
		assert.Equal(t, "254712345678", b.logins[0].PhoneNumber)
	})

	t.Run("requires a stored wallet", func(t *testing.T) {
		b, l := &fakeBackend{}, &fakeLoader{}
		assert.ErrorIs(t, Login(context.Background(), b, l, "0712345678", "s3cretpass"), ErrNoWallet)
		assert.Empty(t, b.logins)
	})

	t.Run("refuses another wallet's account", func(t *testing.T) {
		b, l := &fakeBackend{loginWallet: "TXother"}, &fakeLoader{wallet: stored}
		assert.ErrorIs(t, Login(context.Background(), b, l, "0712345678", "s3cretpass"), ErrWalletMismatch)
		assert.Zero(t, l.sets)
	})

	t.Run("backend rejection passes through", func(t *testing.T) {
		boom := errors.New("bad credentials")
		b, l := &fakeBackend{loginErr: boom}, &fakeLoader{wallet: stored}
		assert.ErrorIs(t, Login(context.Background(), b, l, "0712345678", "wrong"), boom)
		assert.Zero(t, l.sets)
	})
}
