package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/snapquant/services/shared/metrics"
)

// Service applies Tier Record rules on top of a Repository.
type Service struct {
	repo     Repository
	clock    Clock
	recorder metrics.Recorder
	logger   *slog.Logger
}

// NewService wires the tier service. Nil clock, recorder and logger fall back to defaults.
func NewService(repo Repository, clock Clock, recorder metrics.Recorder, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, clock: clock, recorder: recorder, logger: logger}, nil
}

// Load reads the record for userID, creating it with the caller's email when missing,
// refreshing a stale email and downgrading an expired pro subscription.
// Write failures during these side effects are logged; the read result is still returned.
func (s *Service) Load(ctx context.Context, userID, email string) (Record, error) {
	if strings.TrimSpace(userID) == "" {
		return Record{}, ErrMissingUserID
	}
	email = strings.TrimSpace(email)

	rec, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		rec = Record{UserID: userID, Email: email}
		if err := s.repo.Merge(ctx, userID, Update{Email: Ptr(email)}); err != nil {
			s.logger.Warn("failed to create tier record", slog.String("userId", userID), slog.Any("error", err))
		}
		return rec, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("load tier record: %w", err)
	}

	if email != "" && rec.Email != email {
		if err := s.repo.Merge(ctx, userID, Update{Email: Ptr(email)}); err != nil {
			s.logger.Warn("failed to refresh tier record email", slog.String("userId", userID), slog.Any("error", err))
		}
		rec.Email = email
	}

	return s.enforceExpiry(ctx, rec), nil
}

func (s *Service) enforceExpiry(ctx context.Context, rec Record) Record {
	if !rec.Expired(s.clock.Now()) {
		return rec
	}

	update := Update{Tier: Ptr(TierStarter), SubscriptionStatus: Ptr(StatusExpired)}
	if err := s.repo.Merge(ctx, rec.UserID, update); err != nil {
		s.logger.Warn("failed to persist tier expiry", slog.String("userId", rec.UserID), slog.Any("error", err))
	} else {
		s.recorder.TierExpiryDowngrade()
		s.logger.Info("pro subscription expired", slog.String("userId", rec.UserID))
	}
	update.ApplyTo(&rec)
	return rec
}

// Effective returns the record as readers should see it at the current time, without writing.
func (s *Service) Effective(rec Record) Record {
	if rec.Expired(s.clock.Now()) {
		rec.Tier = TierStarter
		rec.SubscriptionStatus = StatusExpired
	}
	return rec
}

// SelectTier records a user-initiated tier choice. Pro is only reachable through checkout.
func (s *Service) SelectTier(ctx context.Context, userID string, t Tier) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUserID
	}
	switch t {
	case TierStarter:
	case TierPro:
		return ErrCheckoutRequired
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTier, t)
	}
	return s.repo.Merge(ctx, userID, Update{Tier: Ptr(t)})
}

// CompleteCheckout promotes userID to pro and stamps the checkout identifier.
func (s *Service) CompleteCheckout(ctx context.Context, userID, checkoutID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUserID
	}
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return ErrMissingCheckoutID
	}
	return s.repo.Merge(ctx, userID, Update{
		Tier:               Ptr(TierPro),
		SubscriptionStatus: Ptr(StatusActive),
		CheckoutID:         Ptr(checkoutID),
	})
}

// SetTheme persists the console theme preference.
func (s *Service) SetTheme(ctx context.Context, userID string, theme Theme) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUserID
	}
	if _, err := ParseTheme(string(theme)); err != nil {
		return err
	}
	return s.repo.Merge(ctx, userID, Update{ConsoleTheme: Ptr(theme)})
}

// Delete removes the whole record.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUserID
	}
	return s.repo.Delete(ctx, userID)
}

// Watch streams effective records for userID until ctx ends.
func (s *Service) Watch(ctx context.Context, userID string) (<-chan Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUserID
	}
	src, err := s.repo.Watch(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("watch tier record: %w", err)
	}

	out := make(chan Record, 1)
	go func() {
		defer close(out)
		for rec := range src {
			select {
			case out <- s.Effective(rec):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
