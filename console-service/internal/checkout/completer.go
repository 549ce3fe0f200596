// Package checkout finalises the redirect-based payment flow.
package checkout

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/snapquant/services/console-service/internal/session"
	"github.com/snapquant/services/shared/tier"
)

// DefaultRedirectDelay is how long the success state shows before moving to the console.
const DefaultRedirectDelay = 3 * time.Second

// SuccessPath is the provider's return URL.
const SuccessPath = "/checkout/success"

// State is the checkout page's visible state.
type State string

const (
	StateLoading         State = "loading"
	StateRedirectLogin   State = "redirect_login"
	StateRedirectConsole State = "redirect_console"
	StateSuccess         State = "success"
	StateError           State = "error"
)

// Result tells the caller what to show and where to go next.
type Result struct {
	State      State         `json:"state"`
	RedirectTo string        `json:"redirectTo,omitempty"`
	Delay      time.Duration `json:"-"`
	DelayMs    int64         `json:"delayMs,omitempty"`
	Message    string        `json:"message,omitempty"`
}

// Store writes the paid tier.
type Store interface {
	CompleteCheckout(ctx context.Context, userID, checkoutID string) error
}

// Session is the resolver surface checkout needs.
type Session interface {
	Snapshot() session.Snapshot
	ApplyConfirmedTier(t tier.Tier, status tier.Status)
}

// Completer handles visits to the checkout success route.
type Completer struct {
	store  Store
	delay  time.Duration
	logger *slog.Logger
}

// NewCompleter builds a Completer. A non-positive delay uses DefaultRedirectDelay.
func NewCompleter(store Store, delay time.Duration, logger *slog.Logger) *Completer {
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Completer{store: store, delay: delay, logger: logger}
}

// Complete writes {tier: pro, checkoutId} for the signed-in user. Signed-out visitors are sent
// to login with a return URL that keeps the checkout id.
func (c *Completer) Complete(ctx context.Context, sess Session, checkoutID string) Result {
	checkoutID = strings.TrimSpace(checkoutID)
	snap := sess.Snapshot()

	if !snap.AuthLoaded {
		return Result{State: StateLoading}
	}
	if !snap.SignedIn() {
		if checkoutID == "" {
			return Result{State: StateRedirectLogin, RedirectTo: "/login"}
		}
		return Result{State: StateRedirectLogin, RedirectTo: LoginReturnURL(checkoutID)}
	}
	if checkoutID == "" {
		return Result{State: StateRedirectConsole, RedirectTo: "/dashboard"}
	}

	if err := c.store.CompleteCheckout(ctx, snap.Identity.UserID, checkoutID); err != nil {
		c.logger.Error("checkout completion failed",
			slog.String("userId", snap.Identity.UserID),
			slog.String("checkoutId", checkoutID),
			slog.Any("error", err))
		return Result{
			State:      StateError,
			RedirectTo: "/pricing",
			Message:    "We could not confirm your payment. Please return to pricing and try again.",
		}
	}

	sess.ApplyConfirmedTier(tier.TierPro, tier.StatusActive)
	c.logger.Info("checkout completed", slog.String("userId", snap.Identity.UserID), slog.String("checkoutId", checkoutID))
	return Result{
		State:      StateSuccess,
		RedirectTo: "/dashboard",
		Delay:      c.delay,
		DelayMs:    c.delay.Milliseconds(),
	}
}

// LoginReturnURL is the login URL that resumes checkout after sign-in.
func LoginReturnURL(checkoutID string) string {
	next := SuccessPath + "?" + url.Values{"checkout_id": {checkoutID}}.Encode()
	return "/login?" + url.Values{"next": {next}}.Encode()
}

// SafeNext returns next when it is a local checkout resumption path, otherwise "".
func SafeNext(next string) string {
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" || u.Path != SuccessPath {
		return ""
	}
	return u.String()
}
