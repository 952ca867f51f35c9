package authkit

import "errors"

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the presented value.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenStale signals that the row was rotated by someone else between lookup and update.
	ErrRefreshTokenStale = errors.New("refresh_store.stale")
	// ErrRefreshTokenEmptyOpaque indicates that the provided opaque token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")
)
