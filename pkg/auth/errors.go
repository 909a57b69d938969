package auth

import "errors"

var (
	// ErrNoRefreshToken is returned when a request was rejected with 401 and there is
	// no refresh token to recover with. The caller should send the user to re-authenticate.
	ErrNoRefreshToken = errors.New("auth: no refresh token")

	// ErrRefreshFailed is returned when the refresh endpoint rejected the refresh token.
	// Both tokens have been cleared by the time it is returned.
	ErrRefreshFailed = errors.New("auth: token refresh failed")

	// ErrNoAccessToken is returned by Credentials.Token when nobody is logged in.
	ErrNoAccessToken = errors.New("auth: no access token")
)
