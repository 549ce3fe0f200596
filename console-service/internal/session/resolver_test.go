package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snapquant/services/shared/tier"
)

type fakeStore struct {
	loadFn   func(ctx context.Context, userID, email string) (tier.Record, error)
	selectFn func(ctx context.Context, userID string, t tier.Tier) error
	watchFn  func(ctx context.Context, userID string) (<-chan tier.Record, error)
}

func (f *fakeStore) Load(ctx context.Context, userID, email string) (tier.Record, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, userID, email)
	}
	return tier.Record{UserID: userID}, nil
}

func (f *fakeStore) SelectTier(ctx context.Context, userID string, t tier.Tier) error {
	if f.selectFn != nil {
		return f.selectFn(ctx, userID, t)
	}
	return nil
}

func (f *fakeStore) Watch(ctx context.Context, userID string) (<-chan tier.Record, error) {
	if f.watchFn != nil {
		return f.watchFn(ctx, userID)
	}
	return nil, errors.New("watch disabled")
}

// gatedLoads blocks each Load until the test releases that user's result.
type gatedLoads struct {
	mu      sync.Mutex
	gates   map[string]chan tier.Record
	started chan string
}

func newGatedLoads() *gatedLoads {
	return &gatedLoads{gates: make(map[string]chan tier.Record), started: make(chan string, 8)}
}

func (g *gatedLoads) gate(userID string) chan tier.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[userID]
	if !ok {
		ch = make(chan tier.Record, 1)
		g.gates[userID] = ch
	}
	return ch
}

func (g *gatedLoads) load(ctx context.Context, userID, _ string) (tier.Record, error) {
	g.started <- userID
	select {
	case rec := <-g.gate(userID):
		return rec, nil
	case <-ctx.Done():
		return tier.Record{}, ctx.Err()
	}
}

func (g *gatedLoads) awaitStart(t *testing.T, userID string) {
	t.Helper()
	select {
	case got := <-g.started:
		if got != userID {
			t.Fatalf("expected load for %s, got %s", userID, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("load for %s never started", userID)
	}
}

func TestResolverLoadingUntilFirstIdentityEvent(t *testing.T) {
	gates := newGatedLoads()
	r := NewResolver(&fakeStore{loadFn: gates.load}, nil)
	defer r.Close()

	if snap := r.Snapshot(); !snap.Loading() || snap.AuthLoaded {
		t.Fatalf("new resolver must be loading: %+v", snap)
	}

	r.HandleIdentity(&Identity{UserID: "alice"})
	gates.awaitStart(t, "alice")
	if snap := r.Snapshot(); !snap.Loading() || !snap.TierLoading {
		t.Fatalf("resolver must stay loading while the tier read is outstanding: %+v", snap)
	}

	gates.gate("alice") <- tier.Record{UserID: "alice", Tier: tier.TierPro}
	waitFor(t, r, func(s Snapshot) bool { return !s.Loading() })
	if snap := r.Snapshot(); snap.Tier != tier.TierPro {
		t.Fatalf("expected pro, got %q", snap.Tier)
	}
}

func TestResolverDiscardsStaleLoadAfterIdentityChange(t *testing.T) {
	gates := newGatedLoads()
	r := NewResolver(&fakeStore{loadFn: gates.load}, nil)
	defer r.Close()

	r.HandleIdentity(&Identity{UserID: "alice"})
	gates.awaitStart(t, "alice")

	r.HandleIdentity(&Identity{UserID: "bob"})
	gates.awaitStart(t, "bob")
	gates.gate("bob") <- tier.Record{UserID: "bob", Tier: tier.TierStarter}
	waitFor(t, r, func(s Snapshot) bool { return !s.Loading() })

	gates.gate("alice") <- tier.Record{UserID: "alice", Tier: tier.TierPro}
	drain(r)

	snap := r.Snapshot()
	if snap.Identity == nil || snap.Identity.UserID != "bob" || snap.Tier != tier.TierStarter {
		t.Fatalf("stale load overwrote session: %+v", snap)
	}
}

func TestResolverSignOutWinsOverInflightLoad(t *testing.T) {
	gates := newGatedLoads()
	r := NewResolver(&fakeStore{loadFn: gates.load}, nil)
	defer r.Close()

	r.HandleIdentity(&Identity{UserID: "alice"})
	gates.awaitStart(t, "alice")

	r.HandleIdentity(nil)
	snap := r.Snapshot()
	if snap.Loading() || snap.SignedIn() || snap.Tier != tier.TierUnset {
		t.Fatalf("sign-out must clear synchronously: %+v", snap)
	}

	gates.gate("alice") <- tier.Record{UserID: "alice", Tier: tier.TierPro}
	drain(r)

	if snap := r.Snapshot(); snap.SignedIn() || snap.Tier != tier.TierUnset {
		t.Fatalf("stale load resurrected the signed-out session: %+v", snap)
	}
}

func TestResolverLoadFailureIsUnset(t *testing.T) {
	store := &fakeStore{loadFn: func(context.Context, string, string) (tier.Record, error) {
		return tier.Record{}, errors.New("firestore unavailable")
	}}
	r := NewResolver(store, nil)
	defer r.Close()

	r.HandleIdentity(&Identity{UserID: "alice"})
	drain(r)

	snap := r.Snapshot()
	if snap.Loading() || snap.Tier != tier.TierUnset {
		t.Fatalf("expected resolved unset tier, got %+v", snap)
	}
}

func TestResolverApplyTierChangeIsOptimistic(t *testing.T) {
	release := make(chan struct{})
	var written tier.Tier
	store := &fakeStore{
		selectFn: func(_ context.Context, _ string, t tier.Tier) error {
			<-release
			written = t
			return errors.New("write rejected")
		},
	}
	r := NewResolver(store, nil)
	defer r.Close()

	if err := r.ApplyTierChange(tier.TierStarter); !errors.Is(err, ErrSignedOut) {
		t.Fatalf("expected ErrSignedOut, got %v", err)
	}

	r.HandleIdentity(&Identity{UserID: "alice"})
	waitFor(t, r, func(s Snapshot) bool { return !s.Loading() })

	if err := r.ApplyTierChange(tier.TierPro); !errors.Is(err, tier.ErrCheckoutRequired) {
		t.Fatalf("expected pro to require checkout, got %v", err)
	}
	if err := r.ApplyTierChange(tier.TierStarter); err != nil {
		t.Fatalf("ApplyTierChange returned error: %v", err)
	}
	if snap := r.Snapshot(); snap.Tier != tier.TierStarter || !snap.Optimistic {
		t.Fatalf("expected optimistic starter before the write completes: %+v", snap)
	}

	close(release)
	drain(r)
	if written != tier.TierStarter {
		t.Fatalf("expected background write of starter, got %q", written)
	}
	if snap := r.Snapshot(); snap.Tier != tier.TierStarter {
		t.Fatalf("failed background write must not surface: %+v", snap)
	}

	r.Refresh()
	drain(r)
	if snap := r.Snapshot(); snap.Tier != tier.TierUnset || snap.Optimistic {
		t.Fatalf("refresh must reconcile with the store: %+v", snap)
	}
}

func TestResolverAppliesWatchPushes(t *testing.T) {
	pushes := make(chan tier.Record, 1)
	store := &fakeStore{
		loadFn: func(_ context.Context, userID, _ string) (tier.Record, error) {
			return tier.Record{UserID: userID, Tier: tier.TierStarter}, nil
		},
		watchFn: func(ctx context.Context, _ string) (<-chan tier.Record, error) {
			out := make(chan tier.Record)
			go func() {
				defer close(out)
				for {
					select {
					case rec := <-pushes:
						out <- rec
					case <-ctx.Done():
						return
					}
				}
			}()
			return out, nil
		},
	}
	r := NewResolver(store, nil)
	defer r.Close()

	r.HandleIdentity(&Identity{UserID: "alice", Email: "alice@example.com"})
	waitFor(t, r, func(s Snapshot) bool { return !s.Loading() && s.Tier == tier.TierStarter })

	pushes <- tier.Record{UserID: "alice", Tier: tier.TierPro, SubscriptionStatus: tier.StatusActive}
	waitFor(t, r, func(s Snapshot) bool { return s.Tier == tier.TierPro })
}

func TestResolverConfirmedTierBeatsInflightLoad(t *testing.T) {
	gates := newGatedLoads()
	r := NewResolver(&fakeStore{loadFn: gates.load}, nil)
	defer r.Close()

	r.HandleIdentity(&Identity{UserID: "alice"})
	gates.awaitStart(t, "alice")

	r.ApplyConfirmedTier(tier.TierPro, tier.StatusActive)
	if snap := r.Snapshot(); snap.Loading() || snap.Tier != tier.TierPro {
		t.Fatalf("confirmed tier must settle the session: %+v", snap)
	}

	gates.gate("alice") <- tier.Record{UserID: "alice", Tier: tier.TierStarter}
	drain(r)

	if snap := r.Snapshot(); snap.Tier != tier.TierPro || snap.Status != tier.StatusActive {
		t.Fatalf("stale load overwrote the confirmed tier: %+v", snap)
	}
}

func TestResolverConfirmedTierKeepsWatching(t *testing.T) {
	feeds := make(chan chan tier.Record, 2)
	store := &fakeStore{
		loadFn: func(_ context.Context, userID, _ string) (tier.Record, error) {
			return tier.Record{UserID: userID, Tier: tier.TierStarter}, nil
		},
		watchFn: func(ctx context.Context, _ string) (<-chan tier.Record, error) {
			out := make(chan tier.Record, 1)
			feeds <- out
			go func() {
				<-ctx.Done()
				close(out)
			}()
			return out, nil
		},
	}
	r := NewResolver(store, nil)
	defer r.Close()

	r.HandleIdentity(&Identity{UserID: "alice"})
	waitFor(t, r, func(s Snapshot) bool { return !s.Loading() && s.Tier == tier.TierStarter })
	<-feeds

	r.ApplyConfirmedTier(tier.TierPro, tier.StatusActive)
	var feed chan tier.Record
	select {
	case feed = <-feeds:
	case <-time.After(time.Second):
		t.Fatal("watch was not restarted after the confirmed tier")
	}

	feed <- tier.Record{UserID: "alice", Tier: tier.TierStarter, SubscriptionStatus: tier.StatusCanceled}
	waitFor(t, r, func(s Snapshot) bool { return s.Status == tier.StatusCanceled })
}

// drain waits for background loads and writes. The store must not hold a live watch.
func drain(r *Resolver) {
	r.wg.Wait()
}

func waitFor(t *testing.T, r *Resolver, cond func(Snapshot) bool) {
	t.Helper()
	ch, unsubscribe := r.Subscribe()
	defer unsubscribe()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatal("resolver closed while waiting")
			}
			if cond(snap) {
				return
			}
		case <-timeout:
			t.Fatalf("condition not reached; last snapshot %+v", r.Snapshot())
		}
	}
}
