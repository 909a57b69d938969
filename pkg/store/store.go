package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Keys used by the application.
const (
	KeyPrices       = "prices"
	KeyBalances     = "balances"
	KeyChainSummary = "chain-summary"
	KeyCredentials  = "credentials"
	KeyWatermarks   = "watermarks"
	KeyNetwork      = "network"
	KeyWallet       = "wallet"
	KeyTokens       = "tokens"
)

// ErrNotFound is returned by adapters for keys that were never saved.
var ErrNotFound = errors.New("store: key not found")

// Adapter persists serialized values by key.
type Adapter interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Event is sent to subscribers on every change. Value is nil for a deleted key.
type Event struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// Store is the process-wide observable key-value state. Writes stay in memory until
// Flush hands the changed keys to the adapter.
type Store struct {
	mu          sync.RWMutex
	values      map[string]any
	dirty       map[string]bool
	subscribers []Subscriber

	adapter Adapter
	log     zerolog.Logger
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns a store persisting through adapter. A nil adapter keeps everything in memory.
func New(adapter Adapter, opts ...Option) *Store {
	if adapter == nil {
		adapter = NewMemoryAdapter()
	}
	s := &Store{
		values:  make(map[string]any),
		dirty:   make(map[string]bool),
		adapter: adapter,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Lookup returns the value under key when it holds a T.
func Lookup[T any](s *Store, key string) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.dirty[key] = true
	s.mu.Unlock()
	s.notify(Event{Key: key, Value: value})
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	s.dirty[key] = true
	s.mu.Unlock()
	if existed {
		s.notify(Event{Key: key})
	}
}

// Snapshot returns a shallow copy of all values.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]any, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (s *Store) Subscribe() Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(Subscriber, 100)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(ch Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (s *Store) notify(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		select {
		case sub <- event:
		default:
			s.log.Debug().Str("key", event.Key).Msg("subscriber is slow, event dropped")
		}
	}
}

// Dirty lists keys changed since the last successful Flush.
func (s *Store) Dirty() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush writes every changed key to the adapter as JSON. Keys that fail stay dirty
// and the errors are joined.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := make(map[string]any, len(s.dirty))
	deleted := make([]string, 0)
	for k := range s.dirty {
		if v, ok := s.values[k]; ok {
			pending[k] = v
		} else {
			deleted = append(deleted, k)
		}
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	var errs []error
	failed := make([]string, 0)
	for k, v := range pending {
		data, err := json.Marshal(v)
		if err == nil {
			err = s.adapter.Save(ctx, k, data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", k, err))
			failed = append(failed, k)
		}
	}
	for _, k := range deleted {
		if err := s.adapter.Delete(ctx, k); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
			failed = append(failed, k)
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		for _, k := range failed {
			s.dirty[k] = true
		}
		s.mu.Unlock()
	}
	s.log.Debug().Int("saved", len(pending)).Int("deleted", len(deleted)).Int("failed", len(failed)).Msg("store flushed")
	return errors.Join(errs...)
}

// Hydrate loads key from the adapter into dst and, on success, places the decoded
// value (dst dereferenced) in memory without marking it dirty. It reports whether
// the key was found.
func (s *Store) Hydrate(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.adapter.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	s.mu.Lock()
	s.values[key] = deref(dst)
	s.mu.Unlock()
	return true, nil
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return v
}
