package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Pair is a snapshot of the access and refresh tokens.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Credentials is the shared, mutex-guarded credential pair. The access token may be
// replaced on its own; both tokens are only ever cleared together.
type Credentials struct {
	mu   sync.RWMutex
	pair Pair
}

func NewCredentials(p Pair) *Credentials {
	return &Credentials{pair: p}
}

func (c *Credentials) Pair() Pair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pair
}

func (c *Credentials) Access() string {
	return c.Pair().Access
}

func (c *Credentials) Refresh() string {
	return c.Pair().Refresh
}

// Set replaces both tokens, e.g. after login or wallet restore.
func (c *Credentials) Set(p Pair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pair = p
}

// SetAccess replaces the access token and leaves the refresh token alone.
func (c *Credentials) SetAccess(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pair.Access = tok
}

func (c *Credentials) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pair = Pair{}
}

// ClearIf clears both tokens only while refresh is still the stored refresh token.
// It reports whether anything was cleared.
func (c *Credentials) ClearIf(refresh string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pair.Refresh != refresh {
		return false
	}
	c.pair = Pair{}
	return true
}

// SetAccessIf stores access only while refresh is still the stored refresh token.
func (c *Credentials) SetAccessIf(refresh, access string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pair.Refresh != refresh {
		return false
	}
	c.pair.Access = access
	return true
}

func (c *Credentials) LoggedIn() bool {
	p := c.Pair()
	return p.Access != "" || p.Refresh != ""
}

// Token implements oauth2.TokenSource over the current access token.
func (c *Credentials) Token() (*oauth2.Token, error) {
	access := c.Access()
	if access == "" {
		return nil, ErrNoAccessToken
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if exp, ok := expiryOf(access); ok {
		tok.Expiry = exp
	}
	return tok, nil
}

// AccessExpiry reports the exp claim of the access token, if it carries one.
// The signature is not checked; the backend remains the authority.
func (c *Credentials) AccessExpiry() (time.Time, bool) {
	return expiryOf(c.Access())
}

func expiryOf(access string) (time.Time, bool) {
	if access == "" {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

var _ oauth2.TokenSource = (*Credentials)(nil)
