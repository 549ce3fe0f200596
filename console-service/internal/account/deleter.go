// Package account removes a user's stored data.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapquant/services/shared/retry"
)

// DefaultRecentLoginWindow is how fresh a sign-in must be to delete an account.
const DefaultRecentLoginWindow = 5 * time.Minute

var (
	// ErrRequiresRecentLogin asks the user to sign in again before retrying.
	ErrRequiresRecentLogin = errors.New("account deletion requires a recent login")
	// ErrDeletionFailed is returned once retries are exhausted.
	ErrDeletionFailed = errors.New("account deletion failed")
)

// User is the verified identity requesting deletion.
type User struct {
	ID       string
	AuthTime time.Time
}

// RecordStore deletes the Tier Record.
type RecordStore interface {
	Delete(ctx context.Context, userID string) error
}

// ScriptPurger deletes archived scripts.
type ScriptPurger interface {
	Purge(ctx context.Context, userID string) error
}

// Deleter runs account deletion.
type Deleter struct {
	records RecordStore
	scripts ScriptPurger
	window  time.Duration
	policy  retry.Policy
	now     func() time.Time
	logger  *slog.Logger
}

// NewDeleter builds a Deleter. scripts may be nil when no archive is configured.
func NewDeleter(records RecordStore, scripts ScriptPurger, window time.Duration, policy retry.Policy, logger *slog.Logger) *Deleter {
	if window <= 0 {
		window = DefaultRecentLoginWindow
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deleter{
		records: records,
		scripts: scripts,
		window:  window,
		policy:  policy,
		now:     time.Now,
		logger:  logger,
	}
}

// Delete removes the Tier Record and archived scripts for user.
func (d *Deleter) Delete(ctx context.Context, user User) error {
	if user.AuthTime.IsZero() || d.now().Sub(user.AuthTime) > d.window {
		return ErrRequiresRecentLogin
	}

	policy := d.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		d.logger.Warn("account deletion attempt failed",
			slog.String("userId", user.ID),
			slog.Int("attempt", attempt),
			slog.Duration("retryIn", delay),
			slog.Any("error", err))
	}

	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := d.records.Delete(gctx, user.ID); err != nil {
				return fmt.Errorf("delete tier record: %w", err)
			}
			return nil
		})
		if d.scripts != nil {
			g.Go(func() error {
				if err := d.scripts.Purge(gctx, user.ID); err != nil {
					return fmt.Errorf("purge scripts: %w", err)
				}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		d.logger.Error("account deletion failed", slog.String("userId", user.ID), slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrDeletionFailed, err)
	}

	d.logger.Info("account deleted", slog.String("userId", user.ID))
	return nil
}
