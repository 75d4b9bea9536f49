package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session server and its clients
var (
	// OAuth flow errors
	ErrInvalidState           = errors.New("invalid or expired oauth state")
	ErrUpstreamExchangeFailed = errors.New("upstream authorization code exchange failed")

	// Session errors
	ErrNoActiveSession    = errors.New("no active session")
	ErrSessionNotFound    = errors.New("session not found")
	ErrServiceUnavailable = errors.New("session store unavailable")

	// Token refresh errors
	ErrTemporaryRefreshFailure = errors.New("temporary token refresh failure")
	ErrReauthRequired          = errors.New("re-authentication required")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines errors so that each remains matchable with Is
func Join(errs ...error) error {
	return errors.Join(errs...)
}
