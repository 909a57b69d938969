package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wallet struct {
	Address string `json:"address"`
}

func TestSetDoesNotPersistUntilFlush(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryAdapter()
	s := New(mem)

	s.Set(KeyWallet, wallet{Address: "TXabc"})
	_, err := mem.Load(ctx, KeyWallet)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{KeyWallet}, s.Dirty())

	require.NoError(t, s.Flush(ctx))
	data, err := mem.Load(ctx, KeyWallet)
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"TXabc"}`, string(data))
	assert.Empty(t, s.Dirty())
}

func TestDeleteIsFlushed(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryAdapter()
	s := New(mem)

	s.Set(KeyNetwork, "nile")
	require.NoError(t, s.Flush(ctx))
	s.Delete(KeyNetwork)
	require.NoError(t, s.Flush(ctx))

	_, err := mem.Load(ctx, KeyNetwork)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := s.Get(KeyNetwork)
	assert.False(t, ok)
}

type failingAdapter struct {
	*MemoryAdapter
	fail bool
}

func (f *failingAdapter) Save(ctx context.Context, key string, data []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryAdapter.Save(ctx, key, data)
}

func TestFlushFailureKeepsKeysDirty(t *testing.T) {
	ctx := context.Background()
	a := &failingAdapter{MemoryAdapter: NewMemoryAdapter(), fail: true}
	s := New(a)

	s.Set(KeyPrices, map[string]float64{"tether": 1})
	err := s.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save prices")
	assert.Equal(t, []string{KeyPrices}, s.Dirty())

	a.fail = false
	require.NoError(t, s.Flush(ctx))
	assert.Empty(t, s.Dirty())
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryAdapter()
	require.NoError(t, mem.Save(ctx, KeyWallet, []byte(`{"address":"TXrestored"}`)))
	s := New(mem)

	var w wallet
	found, err := s.Hydrate(ctx, KeyWallet, &w)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "TXrestored", w.Address)

	got, ok := Lookup[wallet](s, KeyWallet)
	assert.True(t, ok)
	assert.Equal(t, "TXrestored", got.Address)
	assert.Empty(t, s.Dirty(), "hydrated keys are not dirty")

	found, err = s.Hydrate(ctx, KeyTokens, &w)
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mem.Save(ctx, KeyNetwork, []byte(`{broken`)))
	var n string
	_, err = s.Hydrate(ctx, KeyNetwork, &n)
	assert.Error(t, err)
}

func TestLookupTypeMismatch(t *testing.T) {
	s := New(nil)
	s.Set(KeyNetwork, "mainnet")
	_, ok := Lookup[int](s, KeyNetwork)
	assert.False(t, ok)
	v, ok := Lookup[string](s, KeyNetwork)
	assert.True(t, ok)
	assert.Equal(t, "mainnet", v)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	s := New(nil)
	sub := s.Subscribe()

	s.Set(KeyNetwork, "nile")
	select {
	case ev := <-sub:
		assert.Equal(t, KeyNetwork, ev.Key)
		assert.Equal(t, "nile", ev.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	s.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
	s.mu.RLock()
	assert.Equal(t, 0, len(s.subscribers))
	s.mu.RUnlock()
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New(nil)
	_ = s.Subscribe()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			s.Set(KeyPrices, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked on a full subscriber")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New(nil)
	s.Set(KeyNetwork, "mainnet")
	snap := s.Snapshot()
	snap[KeyNetwork] = "changed"
	v, _ := s.Get(KeyNetwork)
	assert.Equal(t, "mainnet", v)
}

func TestFileAdapter(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	fa, err := NewFileAdapter(dir)
	require.NoError(t, err)

	_, err = fa.Load(ctx, KeyPrices)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fa.Save(ctx, KeyChainSummary, []byte(`{"price":0.1}`)))
	data, err := fa.Load(ctx, KeyChainSummary)
	require.NoError(t, err)
	assert.Equal(t, `{"price":0.1}`, string(data))
	_, err = os.Stat(filepath.Join(dir, "chain-summary.json"))
	assert.NoError(t, err)

	require.NoError(t, fa.Delete(ctx, KeyChainSummary))
	require.NoError(t, fa.Delete(ctx, KeyChainSummary))
	_, err = fa.Load(ctx, KeyChainSummary)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, fa.Save(ctx, "../escape", []byte("x")))
}

func TestStoreWithFileAdapterRoundTrip(t *testing.T) {
	ctx := context.Background()
	fa, err := NewFileAdapter(t.TempDir())
	require.NoError(t, err)

	s := New(fa)
	s.Set(KeyWallet, wallet{Address: "TXpersist"})
	require.NoError(t, s.Flush(ctx))

	restarted := New(fa)
	var w wallet
	found, err := restarted.Hydrate(ctx, KeyWallet, &w)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "TXpersist", w.Address)
}

func TestRedisAdapterUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisAdapterFromClient(client, "")
	defer func() { _ = r.Close() }()

	assert.Equal(t, "coinsafe:prices", r.key(KeyPrices))
	_, err := r.Load(context.Background(), KeyPrices)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestNewRedisAdapterBadURL(t *testing.T) {
	_, err := NewRedisAdapter(context.Background(), "not-a-url")
	assert.Error(t, err)
}
