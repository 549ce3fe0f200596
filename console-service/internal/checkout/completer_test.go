package checkout

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/snapquant/services/console-service/internal/session"
	"github.com/snapquant/services/shared/tier"
)

type fakeStore struct {
	completeFn func(ctx context.Context, userID, checkoutID string) error
}

func (f *fakeStore) CompleteCheckout(ctx context.Context, userID, checkoutID string) error {
	if f.completeFn != nil {
		return f.completeFn(ctx, userID, checkoutID)
	}
	return nil
}

type fakeSession struct {
	snap      session.Snapshot
	confirmed tier.Tier
	status    tier.Status
}

func (f *fakeSession) Snapshot() session.Snapshot { return f.snap }

func (f *fakeSession) ApplyConfirmedTier(t tier.Tier, status tier.Status) {
	f.confirmed = t
	f.status = status
}

func signedIn() *fakeSession {
	return &fakeSession{snap: session.Snapshot{
		AuthLoaded: true,
		Identity:   &session.Identity{UserID: "uid-1"},
		Tier:       tier.TierStarter,
	}}
}

func TestCompleteWritesProTier(t *testing.T) {
	repo := tier.NewMemoryRepository()
	svc, err := tier.NewService(repo, tier.NewSystemClock(), nil, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	sess := signedIn()

	got := NewCompleter(svc, 2*time.Second, nil).Complete(context.Background(), sess, "abc123")

	if got.State != StateSuccess || got.RedirectTo != "/dashboard" || got.Delay != 2*time.Second {
		t.Fatalf("unexpected result: %+v", got)
	}
	if sess.confirmed != tier.TierPro || sess.status != tier.StatusActive {
		t.Fatalf("expected session to show pro, got %q/%q", sess.confirmed, sess.status)
	}
	rec, err := repo.Get(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec.Tier != tier.TierPro || rec.CheckoutID != "abc123" {
		t.Fatalf("expected pro with checkout abc123, got %+v", rec)
	}
}

func TestCompleteFailureShowsError(t *testing.T) {
	store := &fakeStore{completeFn: func(context.Context, string, string) error {
		return errors.New("firestore unavailable")
	}}
	sess := signedIn()

	got := NewCompleter(store, 0, nil).Complete(context.Background(), sess, "abc123")

	if got.State != StateError || got.RedirectTo != "/pricing" || got.Message == "" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if sess.confirmed != tier.TierUnset {
		t.Fatal("failed write must not change the session tier")
	}
}

func TestCompleteRedirects(t *testing.T) {
	store := &fakeStore{completeFn: func(context.Context, string, string) error {
		t.Fatal("store must not be written")
		return nil
	}}
	c := NewCompleter(store, 0, nil)

	if got := c.Complete(context.Background(), &fakeSession{}, "abc123"); got.State != StateLoading {
		t.Fatalf("expected loading before auth, got %+v", got)
	}
	if got := c.Complete(context.Background(), signedIn(), "  "); got.State != StateRedirectConsole || got.RedirectTo != "/dashboard" {
		t.Fatalf("expected stray visit to go to console, got %+v", got)
	}

	got := c.Complete(context.Background(), &fakeSession{snap: session.Snapshot{AuthLoaded: true}}, "abc123")
	if got.State != StateRedirectLogin {
		t.Fatalf("expected login redirect, got %+v", got)
	}
	u, err := url.Parse(got.RedirectTo)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	next := SafeNext(u.Query().Get("next"))
	if next != "/checkout/success?checkout_id=abc123" {
		t.Fatalf("checkout id not preserved: %q", next)
	}
}

func TestSafeNextRejectsForeignTargets(t *testing.T) {
	for _, next := range []string{"https://evil.example/checkout/success", "//evil.example/checkout/success", "/dashboard", ""} {
		if got := SafeNext(next); got != "" {
			t.Fatalf("SafeNext(%q) = %q, want empty", next, got)
		}
	}
}
