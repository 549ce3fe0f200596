package tier

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeRepo struct {
	getFn    func(context.Context, string) (Record, error)
	mergeFn  func(context.Context, string, Update) error
	merges   []Update
	findFn   func(context.Context, string) (Record, error)
	deleteFn func(context.Context, string) error
	watchFn  func(context.Context, string) (<-chan Record, error)
}

func (f *fakeRepo) Get(ctx context.Context, userID string) (Record, error) {
	if f.getFn != nil {
		return f.getFn(ctx, userID)
	}
	return Record{}, ErrNotFound
}

func (f *fakeRepo) Merge(ctx context.Context, userID string, update Update) error {
	f.merges = append(f.merges, update)
	if f.mergeFn != nil {
		return f.mergeFn(ctx, userID, update)
	}
	return nil
}

func (f *fakeRepo) FindByEmail(ctx context.Context, email string) (Record, error) {
	if f.findFn != nil {
		return f.findFn(ctx, email)
	}
	return Record{}, ErrNotFound
}

func (f *fakeRepo) Delete(ctx context.Context, userID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, userID)
	}
	return nil
}

func (f *fakeRepo) Watch(ctx context.Context, userID string) (<-chan Record, error) {
	if f.watchFn != nil {
		return f.watchFn(ctx, userID)
	}
	return nil, errors.New("watchFn not provided")
}

func newTestService(t *testing.T, repo Repository, now time.Time) *Service {
	t.Helper()
	svc, err := NewService(repo, fixedClock{now: now}, nil, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestLoadCreatesMissingRecordAsUnset(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, repo, time.Now())

	rec, err := svc.Load(context.Background(), "user-new", "new@example.com")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if rec.Tier != TierUnset {
		t.Fatalf("expected unset tier, got %q", rec.Tier)
	}
	if len(repo.merges) != 1 || repo.merges[0].Email == nil || *repo.merges[0].Email != "new@example.com" {
		t.Fatalf("expected implicit create with email, got %+v", repo.merges)
	}
	if repo.merges[0].Tier != nil {
		t.Fatal("implicit create must not write a tier")
	}
}

func TestLoadPropagatesReadErrors(t *testing.T) {
	wantErr := errors.New("firestore unavailable")
	repo := &fakeRepo{getFn: func(context.Context, string) (Record, error) { return Record{}, wantErr }}
	svc := newTestService(t, repo, time.Now())

	if _, err := svc.Load(context.Background(), "user-1", ""); !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestLoadLazilyExpiresProIdempotently(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewMemoryRepository()
	ctx := context.Background()
	if err := repo.Merge(ctx, "user-pro", Update{
		Tier:               Ptr(TierPro),
		SubscriptionStatus: Ptr(StatusActive),
		Email:              Ptr("pro@example.com"),
		ExpiresAt:          Ptr(now.Add(-time.Hour)),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newTestService(t, repo, now)
	for i := 0; i < 2; i++ {
		rec, err := svc.Load(ctx, "user-pro", "pro@example.com")
		if err != nil {
			t.Fatalf("Load #%d returned error: %v", i+1, err)
		}
		if rec.Tier != TierStarter || rec.SubscriptionStatus != StatusExpired {
			t.Fatalf("Load #%d: expected starter/expired, got %s/%s", i+1, rec.Tier, rec.SubscriptionStatus)
		}
	}

	stored, err := repo.Get(ctx, "user-pro")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Tier != TierStarter || stored.SubscriptionStatus != StatusExpired {
		t.Fatalf("expected downgrade to be persisted, got %s/%s", stored.Tier, stored.SubscriptionStatus)
	}
	if stored.Email != "pro@example.com" {
		t.Fatal("expiry merge must preserve unrelated fields")
	}
}

func TestLoadKeepsActivePro(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{getFn: func(context.Context, string) (Record, error) {
		return Record{UserID: "u", Tier: TierPro, SubscriptionStatus: StatusActive, Email: "a@b.c", ExpiresAt: Ptr(now.Add(time.Hour))}, nil
	}}
	svc := newTestService(t, repo, now)

	rec, err := svc.Load(context.Background(), "u", "a@b.c")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if rec.Tier != TierPro {
		t.Fatalf("expected pro, got %s", rec.Tier)
	}
	if len(repo.merges) != 0 {
		t.Fatalf("expected no writes, got %+v", repo.merges)
	}
}

func TestSelectTierRejectsPro(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, time.Now())
	if err := svc.SelectTier(context.Background(), "u", TierPro); !errors.Is(err, ErrCheckoutRequired) {
		t.Fatalf("expected ErrCheckoutRequired, got %v", err)
	}
	if err := svc.SelectTier(context.Background(), "u", Tier("gold")); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
}

func TestCompleteCheckout(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(t, repo, time.Now())
	ctx := context.Background()

	if err := svc.CompleteCheckout(ctx, "user-1", ""); !errors.Is(err, ErrMissingCheckoutID) {
		t.Fatalf("expected ErrMissingCheckoutID, got %v", err)
	}
	if err := svc.CompleteCheckout(ctx, "user-1", "abc123"); err != nil {
		t.Fatalf("CompleteCheckout returned error: %v", err)
	}
	rec, _ := repo.Get(ctx, "user-1")
	if rec.Tier != TierPro || rec.CheckoutID != "abc123" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestWatchAppliesExpiryWithoutWriting(t *testing.T) {
	now := time.Now()
	src := make(chan Record, 1)
	src <- Record{UserID: "u", Tier: TierPro, ExpiresAt: Ptr(now.Add(-time.Minute))}
	close(src)

	repo := &fakeRepo{watchFn: func(context.Context, string) (<-chan Record, error) { return src, nil }}
	svc := newTestService(t, repo, now)

	ch, err := svc.Watch(context.Background(), "u")
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	rec := <-ch
	if rec.Tier != TierStarter || rec.SubscriptionStatus != StatusExpired {
		t.Fatalf("expected effective downgrade, got %s/%s", rec.Tier, rec.SubscriptionStatus)
	}
	if len(repo.merges) != 0 {
		t.Fatal("Watch must not write")
	}
}
