package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// Kind classifies every error returned by Engine methods.
type Kind uint8

const (
	// KindUnknown is reported by KindOf for errors that did not come from an Engine.
	KindUnknown Kind = iota
	// KindDuplicateAccount: signup for a (tenant, email) that already exists.
	KindDuplicateAccount
	// KindInvalidCredentials: unknown email, disabled account, or wrong password.
	KindInvalidCredentials
	// KindInvalid: refresh token malformed, consumed, revoked, or expired.
	KindInvalid
	// KindUnauthorized: access token rejected.
	KindUnauthorized
	// KindTransient: the store timed out or was unreachable. Nothing was mutated and the
	// call may be retried.
	KindTransient
	// KindInvalidRequest: input failed validation (password policy, email shape).
	KindInvalidRequest
	// KindRateLimited: login throttle tripped.
	KindRateLimited
	// KindNotReady: the Engine is nil or was not produced by Builder.Build.
	KindNotReady
	// KindInternal: a stored record could not be decoded or a dependency failed in a way
	// retrying will not fix.
	KindInternal
	// KindNotFound: the account or session named by an administrative call does not exist.
	KindNotFound
)

var kindNames = [...]string{
	KindUnknown:            "unknown",
	KindDuplicateAccount:   "duplicate_account",
	KindInvalidCredentials: "invalid_credentials",
	KindInvalid:            "invalid",
	KindUnauthorized:       "unauthorized",
	KindTransient:          "transient",
	KindInvalidRequest:     "invalid_request",
	KindRateLimited:        "rate_limited",
	KindNotReady:           "not_ready",
	KindInternal:           "internal",
	KindNotFound:           "not_found",
}

var kindMessages = [...]string{
	KindUnknown:            "unknown error",
	KindDuplicateAccount:   "account already exists",
	KindInvalidCredentials: "invalid credentials",
	KindInvalid:            "invalid refresh token",
	KindUnauthorized:       "unauthorized",
	KindTransient:          "temporarily unavailable",
	KindInvalidRequest:     "invalid request",
	KindRateLimited:        "too many attempts",
	KindNotReady:           "engine not initialized",
	KindInternal:           "internal error",
	KindNotFound:           "not found",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// Error is the concrete error type returned by Engine methods. Error() renders the
// operation and a fixed message only; the cause is reachable through Unwrap.
type Error struct {
	Kind Kind
	// Reason narrows Kind, e.g. "refresh_reuse" under KindInvalid.
	Reason string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := kindMessages[KindUnknown]
	if int(e.Kind) < len(kindMessages) {
		msg = kindMessages[e.Kind]
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Op != "" {
		return "authcore: " + e.Op + ": " + msg
	}
	return "authcore: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Reason when target carries one, so
// errors.Is(ErrRefreshReuse, ErrInvalid) holds but not the reverse.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	// ErrDuplicateAccount is returned by Signup.
	ErrDuplicateAccount = &Error{Kind: KindDuplicateAccount}
	// ErrInvalidCredentials is returned by Login and ChangePassword. Unknown email,
	// disabled account, and wrong password all return this exact value.
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	// ErrInvalid is returned by Refresh.
	ErrInvalid = &Error{Kind: KindInvalid}
	// ErrRefreshReuse is returned by Refresh when a consumed token is presented. The
	// session has been revoked. Matches ErrInvalid.
	ErrRefreshReuse = &Error{Kind: KindInvalid, Reason: "refresh_reuse"}
	// ErrUnauthorized is returned by Authenticate.
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	// ErrTokenExpired is returned by Authenticate for a correctly signed token past its
	// expiry. Matches ErrUnauthorized.
	ErrTokenExpired = &Error{Kind: KindUnauthorized, Reason: "token_expired"}
	// ErrTransient matches every error caused by store unavailability or cancellation.
	ErrTransient = &Error{Kind: KindTransient}
	// ErrInvalidRequest matches every input validation failure.
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	// ErrPasswordTooShort matches ErrInvalidRequest.
	ErrPasswordTooShort = &Error{Kind: KindInvalidRequest, Reason: "password_too_short"}
	// ErrPasswordTooLong matches ErrInvalidRequest.
	ErrPasswordTooLong = &Error{Kind: KindInvalidRequest, Reason: "password_too_long"}
	// ErrInvalidEmail matches ErrInvalidRequest.
	ErrInvalidEmail = &Error{Kind: KindInvalidRequest, Reason: "invalid_email"}
	// ErrRateLimited is returned by Login while the (tenant, email) pair is throttled.
	ErrRateLimited = &Error{Kind: KindRateLimited}
	// ErrEngineNotReady is returned by every method of a nil or unbuilt Engine.
	ErrEngineNotReady = &Error{Kind: KindNotReady}
	// ErrInternal matches failures that are neither caller errors nor transient.
	ErrInternal = &Error{Kind: KindInternal}
	// ErrNotFound matches both ErrAccountNotFound and ErrSessionNotFound.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrAccountNotFound is returned by DisableAccount and LogoutAll lookups.
	ErrAccountNotFound = &Error{Kind: KindNotFound, Reason: "account"}
	// ErrSessionNotFound is returned by Session.
	ErrSessionNotFound = &Error{Kind: KindNotFound, Reason: "session"}
)

func transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func internalError(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// isTransient reports whether err came from an unavailable store or an expired context.
func isTransient(err error) bool {
	return errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// mapError converts errors from the component packages into typed Engine errors. Caller
// errors map to the shared sentinels so identical failures compare equal.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case isTransient(err):
		return transient(op, err)
	case errors.Is(err, account.ErrDuplicate):
		return ErrDuplicateAccount
	case errors.Is(err, account.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, session.ErrAccountInactive):
		return ErrInvalidCredentials
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, account.ErrInvalidEmail):
		return ErrInvalidEmail
	case errors.Is(err, password.ErrPasswordTooShort):
		return ErrPasswordTooShort
	case errors.Is(err, password.ErrPasswordTooLong):
		return ErrPasswordTooLong
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, session.ErrRefreshReuse):
		return ErrRefreshReuse
	case errors.Is(err, session.ErrRefreshInvalid):
		return ErrInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalid), errors.Is(err, session.ErrSessionInvalid):
		return ErrUnauthorized
	default:
		return internalError(op, err)
	}
}
