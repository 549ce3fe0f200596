package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snapquant/services/shared/billing"
	sharederrors "github.com/snapquant/services/shared/errors"
	"github.com/snapquant/services/shared/events"
	"github.com/snapquant/services/shared/logging"
	"github.com/snapquant/services/shared/metrics"
)

const (
	serviceTimeout = 15 * time.Second
	maxPayloadSize = 1 << 20
)

// Reconciler applies a normalised billing event to the Tier Store.
type Reconciler interface {
	Reconcile(ctx context.Context, ev billing.Event) (events.TierChanged, billing.Outcome, error)
}

// Dependencies are the collaborators behind the webhook routes.
// A nil Polar verifier accepts unsigned events; a nil Stripe adapter leaves /webhook/stripe unrouted.
type Dependencies struct {
	Reconciler Reconciler
	Polar      *billing.StandardWebhookVerifier
	Stripe     *billing.StripeAdapter
	Recorder   metrics.Recorder
}

type handler struct {
	deps   Dependencies
	logger *slog.Logger
}

// RegisterRoutes registers the payment provider endpoints.
func RegisterRoutes(r chi.Router, deps Dependencies, logger *slog.Logger) {
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{deps: deps, logger: logger}

	r.HandleFunc("/webhook", h.polar())
	if deps.Stripe != nil {
		r.HandleFunc("/webhook/stripe", h.stripe())
	}
}

func (h *handler) polar() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readPayload(w, r)
		if !ok {
			return
		}

		if h.deps.Polar != nil {
			if err := h.deps.Polar.Verify(r.Header, body); err != nil {
				h.reject(w, r, billing.ProviderPolar, err)
				return
			}
		}

		ev, err := billing.ParseEvent(billing.ProviderPolar, r.Header.Get(billing.HeaderWebhookID), body)
		if err != nil {
			h.fail(w, r, billing.ProviderPolar, "failed to parse webhook event", err)
			return
		}
		h.reconcile(w, r, ev)
	}
}

func (h *handler) stripe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readPayload(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
		defer cancel()

		ev, err := h.deps.Stripe.Parse(ctx, body, r.Header.Get(billing.StripeSignatureHeader))
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			h.reject(w, r, billing.ProviderStripe, err)
			return
		case err != nil:
			h.fail(w, r, billing.ProviderStripe, "failed to parse stripe event", err)
			return
		}
		h.reconcile(w, r, ev)
	}
}

// readPayload enforces POST and returns the raw body; signatures cover the exact bytes received.
// Bodies over maxPayloadSize are refused with 413 rather than truncated.
func readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		sharederrors.Write(w, r, sharederrors.CodeMethodNotAllowed, "method not allowed")
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sharederrors.Write(w, r, sharederrors.CodePayloadTooLarge, "payload too large")
			return nil, false
		}
		sharederrors.Write(w, r, sharederrors.CodeInternal, "failed to read payload")
		return nil, false
	}
	return body, true
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request, ev billing.Event) {
	ctx, cancel := context.WithTimeout(r.Context(), serviceTimeout)
	defer cancel()

	change, outcome, err := h.deps.Reconciler.Reconcile(ctx, ev)
	if err != nil {
		h.fail(w, r, ev.Provider, "failed to reconcile webhook event", err)
		return
	}
	h.deps.Recorder.WebhookEvent(ev.Provider, string(outcome))
	if change.Changed() {
		h.logger.Info("tier changed",
			slog.String("userId", change.UserID),
			slog.String("previousTier", change.PreviousTier),
			slog.String("newTier", change.NewTier),
			slog.String("provider", change.Provider),
		)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
}

func (h *handler) reject(w http.ResponseWriter, r *http.Request, provider string, err error) {
	h.deps.Recorder.WebhookEvent(provider, "invalid_signature")
	logging.FromContext(r.Context(), h.logger).Warn("webhook signature rejected",
		slog.String("provider", provider),
		slog.Any("error", err),
	)
	sharederrors.Write(w, r, sharederrors.CodeUnauthorized, "invalid signature")
}

// fail answers 500 so the provider redelivers.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, provider, message string, err error) {
	h.deps.Recorder.WebhookEvent(provider, "error")
	logging.FromContext(r.Context(), h.logger).Error(message,
		slog.String("provider", provider),
		slog.Any("error", err),
	)
	sharederrors.Write(w, r, sharederrors.CodeInternal, "webhook processing failed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
