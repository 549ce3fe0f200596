// Package tier owns the Tier Record: the per-identity subscription document
// read by the console and written by checkout and payment webhooks.
package tier

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tier is the subscription level gating console access. The zero value is unset.
type Tier string

const (
	TierUnset   Tier = ""
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
)

// Status mirrors the payment provider's view of the subscription.
type Status string

const (
	StatusUnset    Status = ""
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Theme is the console colour scheme preference.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var (
	// ErrNotFound indicates no Tier Record exists for the lookup key.
	ErrNotFound = errors.New("tier record not found")
	// ErrMissingUserID indicates a required user id was absent.
	ErrMissingUserID = errors.New("user id is required")
	// ErrInvalidTier indicates an unknown tier value.
	ErrInvalidTier = errors.New("invalid tier")
	// ErrInvalidTheme indicates an unknown console theme.
	ErrInvalidTheme = errors.New("invalid console theme")
	// ErrCheckoutRequired is returned when pro is selected without a completed checkout.
	ErrCheckoutRequired = errors.New("pro tier requires a completed checkout")
	// ErrMissingCheckoutID indicates CompleteCheckout was called without an id.
	ErrMissingCheckoutID = errors.New("checkout id is required")
)

// ParseTier accepts the selectable tiers.
func ParseTier(raw string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(raw))); t {
	case TierStarter, TierPro:
		return t, nil
	default:
		return TierUnset, fmt.Errorf("%w: %q", ErrInvalidTier, raw)
	}
}

// ParseTheme accepts dark or light.
func ParseTheme(raw string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(raw))); t {
	case ThemeDark, ThemeLight:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTheme, raw)
	}
}

// Record is the persisted Tier Record, one per identity.
type Record struct {
	UserID             string     `firestore:"-" json:"userId"`
	Tier               Tier       `firestore:"tier,omitempty" json:"tier"`
	SubscriptionStatus Status     `firestore:"subscriptionStatus,omitempty" json:"subscriptionStatus"`
	Email              string     `firestore:"email,omitempty" json:"email,omitempty"`
	ExpiresAt          *time.Time `firestore:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	CheckoutID         string     `firestore:"checkoutId,omitempty" json:"checkoutId,omitempty"`
	SubscriptionID     string     `firestore:"subscriptionId,omitempty" json:"subscriptionId,omitempty"`
	SubscribedAt       string     `firestore:"subscribedAt,omitempty" json:"subscribedAt,omitempty"`
	CanceledAt         string     `firestore:"canceledAt,omitempty" json:"canceledAt,omitempty"`
	CurrentPeriodEnd   string     `firestore:"currentPeriodEnd,omitempty" json:"currentPeriodEnd,omitempty"`
	ConsoleTheme       Theme      `firestore:"consoleTheme,omitempty" json:"consoleTheme,omitempty"`
	LastWebhookEvent   string     `firestore:"lastWebhookEvent,omitempty" json:"lastWebhookEvent,omitempty"`
	LastWebhookAt      *time.Time `firestore:"lastWebhookAt,omitempty" json:"lastWebhookAt,omitempty"`
	UpdatedAt          time.Time  `firestore:"updatedAt,omitempty" json:"updatedAt"`
}

// Expired reports whether a pro record's paid period ended at or before now.
func (r Record) Expired(now time.Time) bool {
	return r.Tier == TierPro && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Update is a partial write. Only non-nil fields are merged; nothing else is touched.
type Update struct {
	Tier               *Tier
	SubscriptionStatus *Status
	Email              *string
	ExpiresAt          *time.Time
	CheckoutID         *string
	SubscriptionID     *string
	SubscribedAt       *string
	CanceledAt         *string
	CurrentPeriodEnd   *string
	ConsoleTheme       *Theme
	LastWebhookEvent   *string
	LastWebhookAt      *time.Time
}

// IsEmpty reports whether the update carries no fields.
func (u Update) IsEmpty() bool {
	return len(u.Fields()) == 0
}

// Fields returns the document keys and values carried by the update.
func (u Update) Fields() map[string]any {
	fields := make(map[string]any)
	if u.Tier != nil {
		fields["tier"] = string(*u.Tier)
	}
	if u.SubscriptionStatus != nil {
		fields["subscriptionStatus"] = string(*u.SubscriptionStatus)
	}
	if u.Email != nil {
		fields["email"] = *u.Email
	}
	if u.ExpiresAt != nil {
		fields["expiresAt"] = u.ExpiresAt.UTC()
	}
	if u.CheckoutID != nil {
		fields["checkoutId"] = *u.CheckoutID
	}
	if u.SubscriptionID != nil {
		fields["subscriptionId"] = *u.SubscriptionID
	}
	if u.SubscribedAt != nil {
		fields["subscribedAt"] = *u.SubscribedAt
	}
	if u.CanceledAt != nil {
		fields["canceledAt"] = *u.CanceledAt
	}
	if u.CurrentPeriodEnd != nil {
		fields["currentPeriodEnd"] = *u.CurrentPeriodEnd
	}
	if u.ConsoleTheme != nil {
		fields["consoleTheme"] = string(*u.ConsoleTheme)
	}
	if u.LastWebhookEvent != nil {
		fields["lastWebhookEvent"] = *u.LastWebhookEvent
	}
	if u.LastWebhookAt != nil {
		fields["lastWebhookAt"] = u.LastWebhookAt.UTC()
	}
	return fields
}

// ApplyTo merges the update into rec.
func (u Update) ApplyTo(rec *Record) {
	if u.Tier != nil {
		rec.Tier = *u.Tier
	}
	if u.SubscriptionStatus != nil {
		rec.SubscriptionStatus = *u.SubscriptionStatus
	}
	if u.Email != nil {
		rec.Email = *u.Email
	}
	if u.ExpiresAt != nil {
		t := u.ExpiresAt.UTC()
		rec.ExpiresAt = &t
	}
	if u.CheckoutID != nil {
		rec.CheckoutID = *u.CheckoutID
	}
	if u.SubscriptionID != nil {
		rec.SubscriptionID = *u.SubscriptionID
	}
	if u.SubscribedAt != nil {
		rec.SubscribedAt = *u.SubscribedAt
	}
	if u.CanceledAt != nil {
		rec.CanceledAt = *u.CanceledAt
	}
	if u.CurrentPeriodEnd != nil {
		rec.CurrentPeriodEnd = *u.CurrentPeriodEnd
	}
	if u.ConsoleTheme != nil {
		rec.ConsoleTheme = *u.ConsoleTheme
	}
	if u.LastWebhookEvent != nil {
		rec.LastWebhookEvent = *u.LastWebhookEvent
	}
	if u.LastWebhookAt != nil {
		t := u.LastWebhookAt.UTC()
		rec.LastWebhookAt = &t
	}
}

// Ptr returns a pointer to v for building Updates.
func Ptr[T any](v T) *T {
	return &v
}
