package brix

import (
	"context"
	stderrors "errors"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials   = "auth_invalid_credentials"
	TextCodeEmailNotConfirmed    = "auth_email_not_confirmed"
	TextCodeRateLimited          = "auth_rate_limited"
	TextCodeConfirmationRequired = "auth_confirmation_required"
	TextCodeProfileNotFound      = "profile_not_found"
	TextCodeProfileStore         = "profile_store_error"
	TextCodeNoSession            = "no_active_session"
)

// ErrInvalidCredentials is returned when the provider rejects the email or password.
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrEmailNotConfirmed is returned when the account exists but the email was never confirmed.
var ErrEmailNotConfirmed = errors.New("email address not confirmed, check your inbox", errors.CategoryAuth).
	WithTextCode(TextCodeEmailNotConfirmed).
	WithCode(errors.CodeForbidden)

// ErrRateLimited is returned when the provider throttles authentication calls.
var ErrRateLimited = errors.New("too many attempts, try again later", errors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(errors.CodeBadRequest)

// ErrConfirmationRequired tells the caller a sign-up succeeded but the account
// needs an external confirmation step before a session exists. It is a signal,
// not a failure.
var ErrConfirmationRequired = errors.New("confirmation email sent, confirm your address to continue", errors.CategoryAuth).
	WithTextCode(TextCodeConfirmationRequired).
	WithCode(errors.CodeForbidden)

// ErrProfileNotFound is returned once the resolver exhausts every attempt
// without finding a profile row. The row is created by a backend trigger
// shortly after sign-up, so absence here usually means the trigger never ran
// or the account was never confirmed.
var ErrProfileNotFound = errors.New("profile not found after retries, contact support if this persists", errors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(errors.CodeNotFound)

// ErrNoSession is returned by operations that require an established session.
var ErrNoSession = errors.New("no active session", errors.CategoryAuth).
	WithTextCode(TextCodeNoSession).
	WithCode(errors.CodeUnauthorized)

// IsProfileNotFound reports whether err means the profile row does not exist.
func IsProfileNotFound(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrProfileNotFound) {
		return true
	}
	return errors.IsNotFound(err)
}

// IsTransientStoreError reports whether a store read is worth retrying:
// timeouts and operational failures, never validation or permission errors.
func IsTransientStoreError(err error) bool {
	if err == nil {
		return false
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if stderrors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var rich *errors.Error
	if errors.As(err, &rich) && rich.Category == errors.CategoryOperation {
		return true
	}

	return false
}

// IsStructuralStoreError reports whether err is a store failure that retrying
// cannot fix (malformed query, permission denial).
func IsStructuralStoreError(err error) bool {
	if err == nil {
		return false
	}
	return !IsProfileNotFound(err) && !IsTransientStoreError(err)
}

// userMessage extracts the human-readable text we surface in AuthState.Err.
func userMessage(err error) string {
	if err == nil {
		return ""
	}

	var rich *errors.Error
	if errors.As(err, &rich) && rich.Message != "" {
		return rich.Message
	}

	return err.Error()
}
