package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snapquant/services/shared/events"
	"github.com/snapquant/services/shared/tier"
)

// Outcome is what reconciliation did with an event.
type Outcome string

const (
	OutcomeSkippedNoEmail  Outcome = "skipped_no_email"
	OutcomeSkippedNoRecord Outcome = "skipped_no_record"
	OutcomePromoted        Outcome = "promoted"
	OutcomeDemoted         Outcome = "demoted"
	OutcomeIgnored         Outcome = "ignored"
)

// Reconciler applies normalised events to Tier Records by email lookup.
// Every write is a merge of absolute values so redelivery converges on the same document.
type Reconciler struct {
	repo   tier.Repository
	clock  tier.Clock
	logger *slog.Logger
}

// NewReconciler wires a reconciler over repo.
func NewReconciler(repo tier.Repository, clock tier.Clock, logger *slog.Logger) (*Reconciler, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if clock == nil {
		clock = tier.NewSystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, clock: clock, logger: logger}, nil
}

// Reconcile resolves ev to a Tier Record and applies it. Returned errors mean the provider should retry.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (events.TierChanged, Outcome, error) {
	change := events.TierChanged{
		Email:     ev.Email,
		Provider:  ev.Provider,
		EventType: ev.Type,
	}
	log := r.logger.With(
		slog.String("provider", ev.Provider),
		slog.String("eventType", ev.Type),
		slog.String("webhookId", ev.ID),
	)

	if ev.Email == "" {
		log.Warn("webhook event has no customer email")
		return change, OutcomeSkippedNoEmail, nil
	}

	rec, err := r.repo.FindByEmail(ctx, ev.Email)
	if errors.Is(err, tier.ErrNotFound) {
		log.Warn("no tier record for webhook email", slog.String("email", ev.Email))
		return change, OutcomeSkippedNoRecord, nil
	}
	if err != nil {
		return change, "", fmt.Errorf("find tier record by email: %w", err)
	}

	change.UserID = rec.UserID
	change.PreviousTier = string(rec.Tier)
	change.NewTier = string(rec.Tier)
	change.Status = string(rec.SubscriptionStatus)

	at := ev.OccurredAt
	if at.IsZero() {
		at = r.clock.Now()
	}
	at = at.UTC()
	change.At = at
	stamp := at.Format(time.RFC3339)

	var (
		update  tier.Update
		outcome Outcome
	)
	switch ev.Kind {
	case KindActivated:
		if ev.Status != string(tier.StatusActive) {
			log.Info("subscription event not active, ignoring", slog.String("status", ev.Status))
			return change, OutcomeIgnored, nil
		}
		update = tier.Update{
			Tier:               tier.Ptr(tier.TierPro),
			SubscriptionStatus: tier.Ptr(tier.StatusActive),
			SubscribedAt:       tier.Ptr(stamp),
		}
		if ev.SubscriptionID != "" {
			update.SubscriptionID = tier.Ptr(ev.SubscriptionID)
		}
		if ev.CurrentPeriodEnd != "" {
			update.CurrentPeriodEnd = tier.Ptr(ev.CurrentPeriodEnd)
			if end, ok := parseTime(ev.CurrentPeriodEnd); ok {
				update.ExpiresAt = tier.Ptr(end)
			}
		}
		outcome = OutcomePromoted
	case KindCanceled:
		update = tier.Update{
			Tier:               tier.Ptr(tier.TierStarter),
			SubscriptionStatus: tier.Ptr(tier.StatusCanceled),
			CanceledAt:         tier.Ptr(stamp),
		}
		outcome = OutcomeDemoted
	default:
		log.Info("unhandled webhook event")
		return change, OutcomeIgnored, nil
	}

	update.LastWebhookEvent = tier.Ptr(ev.Type)
	update.LastWebhookAt = tier.Ptr(at)

	if err := r.repo.Merge(ctx, rec.UserID, update); err != nil {
		return change, "", fmt.Errorf("apply webhook to tier record: %w", err)
	}

	change.NewTier = string(*update.Tier)
	change.Status = string(*update.SubscriptionStatus)
	log.Info("tier record reconciled",
		slog.String("userId", rec.UserID),
		slog.String("outcome", string(outcome)),
		slog.String("previousTier", change.PreviousTier),
		slog.String("newTier", change.NewTier),
	)
	return change, outcome, nil
}
