package shared

import "errors"

// Sentinel errors. Callers wrap them with %w and match with [errors.Is].
var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingCredentials = errors.New("spotify client credentials are not configured")

	// OAuth
	ErrAuthFailed     = errors.New("spotify authorization failed")
	ErrRefreshFailed  = errors.New("access token refresh failed")
	ErrNoRefreshToken = errors.New("credentials carry no refresh token")
	ErrInvalidState   = errors.New("unknown or expired login state")

	// Spotify Web API
	ErrAPIRequest         = errors.New("spotify request failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInvalidCursor      = errors.New("invalid next-page link")

	// Store
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("database operation failed")

	// Input
	ErrInvalidPolicy   = errors.New("invalid retention policy")
	ErrMissingArgument = errors.New("missing required argument")
	ErrInvalidArgument = errors.New("invalid argument")
)
