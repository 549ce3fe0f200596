// Package billing turns payment provider webhooks into Tier Record updates.
package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Kind is the closed set of event classes reconciliation acts on.
type Kind string

const (
	KindActivated Kind = "activated"
	KindCanceled  Kind = "canceled"
	KindOther     Kind = "other"
)

// Providers that can deliver events.
const (
	ProviderPolar  = "polar"
	ProviderStripe = "stripe"
)

// ErrMalformedEvent indicates the payload was not a JSON object with a type.
var ErrMalformedEvent = errors.New("malformed webhook event")

// KindOf maps a Standard Webhooks subscription event name to its Kind.
func KindOf(eventType string) Kind {
	switch eventType {
	case "subscription.created", "subscription.active", "subscription.updated":
		return KindActivated
	case "subscription.canceled", "subscription.revoked":
		return KindCanceled
	default:
		return KindOther
	}
}

// Event is a provider event normalised for reconciliation.
type Event struct {
	ID               string
	Provider         string
	Type             string
	Kind             Kind
	Email            string
	Status           string
	SubscriptionID   string
	CurrentPeriodEnd string
	OccurredAt       time.Time
}

// Payloads drift between event types, so each field is probed along an ordered list of paths.
var (
	emailPaths = []string{
		"data.customer.email",
		"data.subscription.customer.email",
		"data.email",
	}
	statusPaths = []string{
		"data.subscription.status",
		"data.status",
	}
	subscriptionIDPaths = []string{
		"data.subscription.id",
		"data.id",
	}
	periodEndPaths = []string{
		"data.subscription.current_period_end",
		"data.current_period_end",
	}
	occurredAtPaths = []string{
		"data.modified_at",
		"data.created_at",
	}
)

// ParseEvent decodes a Standard Webhooks body of the form {"type": ..., "data": {...}}.
func ParseEvent(provider, webhookID string, body []byte) (Event, error) {
	if !gjson.ValidBytes(body) {
		return Event{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Event{}, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}
	typ := root.Get("type")
	if typ.Type != gjson.String || strings.TrimSpace(typ.Str) == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	ev := Event{
		ID:               webhookID,
		Provider:         provider,
		Type:             typ.Str,
		Kind:             KindOf(typ.Str),
		Email:            strings.TrimSpace(firstString(root, emailPaths)),
		Status:           strings.ToLower(firstString(root, statusPaths)),
		SubscriptionID:   firstString(root, subscriptionIDPaths),
		CurrentPeriodEnd: firstString(root, periodEndPaths),
	}

	if ts, ok := parseTime(root.Get("timestamp").String()); ok {
		ev.OccurredAt = ts
	} else if ts, ok := parseTime(firstString(root, occurredAtPaths)); ok {
		ev.OccurredAt = ts
	}

	return ev, nil
}

// firstString returns the first non-empty string found along paths.
func firstString(root gjson.Result, paths []string) string {
	for _, path := range paths {
		if v := root.Get(path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
