package session

import "errors"

// Sign-in failures the user can act on.
var (
	ErrPopupClosed      = errors.New("sign-in was cancelled by the user")
	ErrDomainNotAllowed = errors.New("email domain is not allowed")
)

// AuthFailureKind classifies Identity Provider errors for display.
type AuthFailureKind string

const (
	AuthFailurePopupClosed      AuthFailureKind = "popup_closed"
	AuthFailureDomainNotAllowed AuthFailureKind = "domain_not_allowed"
	AuthFailureGeneric          AuthFailureKind = "generic"
)

// AuthFailure is the user-facing form of a sign-in error. It never ends the session.
type AuthFailure struct {
	Kind    AuthFailureKind `json:"kind"`
	Message string          `json:"message"`
}

// ClassifyAuthError maps err onto a fixed message.
func ClassifyAuthError(err error) AuthFailure {
	switch {
	case errors.Is(err, ErrPopupClosed):
		return AuthFailure{Kind: AuthFailurePopupClosed, Message: "The sign-in window was closed before finishing. Please try again."}
	case errors.Is(err, ErrDomainNotAllowed):
		return AuthFailure{Kind: AuthFailureDomainNotAllowed, Message: "This account's email domain is not allowed to sign in."}
	default:
		return AuthFailure{Kind: AuthFailureGeneric, Message: "Sign-in failed. Please try again."}
	}
}
