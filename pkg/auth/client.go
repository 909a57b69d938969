package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"coinsafe/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const RequestIDHeader = "X-Request-ID"

type retryMarker struct{}

// Retried reports whether ctx belongs to a request that was already re-issued after a refresh.
func Retried(ctx context.Context) bool {
	v, _ := ctx.Value(retryMarker{}).(bool)
	return v
}

// WithoutRefresh marks ctx so a 401 answer is returned as is. Login style endpoints
// use it, where a 401 means bad credentials rather than an expired token.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryMarker{}, true)
}

// Client sends requests with the current bearer token and recovers once from a 401
// by refreshing the access token.
type Client struct {
	creds      *Credentials
	refreshURL string
	http       *http.Client
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

// WithHTTPClient sets the underlying client. It is also used, without credentials,
// for the refresh call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(creds *Credentials, refreshURL string, opts ...Option) *Client {
	c := &Client{
		creds:      creds,
		refreshURL: refreshURL,
		http:       &http.Client{},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Credentials() *Credentials {
	return c.creds
}

// Do sends req. A 401 answer triggers at most one refresh followed by one retry, whose
// response is returned as is. Other responses and transport errors pass through untouched.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := replayable(req); err != nil {
		return nil, err
	}

	first := req.Clone(req.Context())
	c.authorize(first)
	resp, err := c.http.Do(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || Retried(req.Context()) {
		return resp, nil
	}
	discard(resp)

	retry := req.Clone(context.WithValue(req.Context(), retryMarker{}, true))
	retry.Header.Set(RequestIDHeader, first.Header.Get(RequestIDHeader))

	refresh := c.creds.Refresh()
	if refresh == "" {
		c.log.Warn().Str("url", req.URL.String()).Msg("access token rejected and no refresh token stored")
		return nil, ErrNoRefreshToken
	}

	c.log.Info().Str("url", req.URL.String()).Msg("access token expired, refreshing")
	access, err := c.refresh(req.Context(), refresh)
	if err != nil {
		c.metrics.ObserveRefresh("failed")
		if c.creds.ClearIf(refresh) {
			c.log.Warn().Err(err).Msg("refresh token rejected, credentials cleared")
		} else {
			c.log.Warn().Err(err).Msg("refresh token rejected, credentials replaced meanwhile")
		}
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	c.metrics.ObserveRefresh("ok")
	if !c.creds.SetAccessIf(refresh, access) {
		c.log.Info().Msg("credentials replaced during refresh, retrying with the new pair")
	} else {
		c.log.Info().Msg("token refreshed, retrying original request")
	}

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	c.authorize(retry)
	return c.http.Do(retry)
}

func (c *Client) authorize(req *http.Request) {
	if tok, err := c.creds.Token(); err == nil {
		tok.SetAuthHeader(req)
	} else {
		req.Header.Del("Authorization")
	}
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("refresh endpoint returned %s", resp.Status)
	}
	var out struct {
		Access string `json:"access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Access == "" {
		return "", errors.New("refresh response carries no access token")
	}
	return out.Access, nil
}

// replayable buffers the body so the request can be sent a second time.
func replayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
