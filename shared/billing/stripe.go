package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
)

// StripeSignatureHeader carries the t=...,v1=... signature.
const StripeSignatureHeader = "Stripe-Signature"

// CustomerEmailLookup resolves a Stripe customer id to its email address.
type CustomerEmailLookup func(ctx context.Context, customerID string) (string, error)

// StripeAdapter verifies Stripe webhooks and normalises subscription events.
type StripeAdapter struct {
	secret string
	lookup CustomerEmailLookup
}

// NewStripeAdapter builds an adapter. With an API key, customers that are not expanded
// in the payload are fetched from the Stripe customers API.
func NewStripeAdapter(webhookSecret, apiKey string) (*StripeAdapter, error) {
	if strings.TrimSpace(webhookSecret) == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	adapter := &StripeAdapter{secret: webhookSecret}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		sc := &client.API{}
		sc.Init(apiKey, nil)
		adapter.lookup = func(ctx context.Context, customerID string) (string, error) {
			params := &stripe.CustomerParams{}
			params.Context = ctx
			customer, err := sc.Customers.Get(customerID, params)
			if err != nil {
				return "", fmt.Errorf("get stripe customer %s: %w", customerID, err)
			}
			return customer.Email, nil
		}
	}
	return adapter, nil
}

// WithCustomerLookup replaces the customer email resolver.
func (a *StripeAdapter) WithCustomerLookup(lookup CustomerEmailLookup) *StripeAdapter {
	a.lookup = lookup
	return a
}

// Parse verifies the signature header and maps the event.
func (a *StripeAdapter) Parse(ctx context.Context, payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEvent(payload, signature, a.secret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{
		ID:         ev.ID,
		Provider:   ProviderStripe,
		Type:       ev.Type,
		Kind:       stripeKind(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}
	if out.Kind == KindOther || ev.Data == nil {
		return out, nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out.Status = string(sub.Status)
	out.SubscriptionID = sub.ID
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC().Format(time.RFC3339)
	}
	if sub.Customer != nil {
		out.Email = strings.TrimSpace(sub.Customer.Email)
		if out.Email == "" && sub.Customer.ID != "" && a.lookup != nil {
			email, err := a.lookup(ctx, sub.Customer.ID)
			if err != nil {
				return Event{}, err
			}
			out.Email = strings.TrimSpace(email)
		}
	}
	return out, nil
}

func stripeKind(eventType string) Kind {
	switch eventType {
	case "customer.subscription.created", "customer.subscription.updated":
		return KindActivated
	case "customer.subscription.deleted":
		return KindCanceled
	default:
		return KindOther
	}
}
