// Package session keeps each visitor's identity and tier coherent with the Tier Store.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/snapquant/services/shared/tier"
)

const loadTimeout = 10 * time.Second

// ErrSignedOut is returned by operations that need an identity.
var ErrSignedOut = errors.New("no signed-in identity")

// Identity is the Identity Provider's view of the signed-in user.
type Identity struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email,omitempty"`
	Name     string    `json:"name,omitempty"`
	AuthTime time.Time `json:"authTime"`
}

// TierStore is the slice of the tier service the resolver depends on.
type TierStore interface {
	Load(ctx context.Context, userID, email string) (tier.Record, error)
	SelectTier(ctx context.Context, userID string, t tier.Tier) error
	Watch(ctx context.Context, userID string) (<-chan tier.Record, error)
}

// Snapshot is an immutable copy of the session state handed to the route guard.
type Snapshot struct {
	AuthLoaded  bool        `json:"authLoaded"`
	Identity    *Identity   `json:"identity,omitempty"`
	Tier        tier.Tier   `json:"tier"`
	Status      tier.Status `json:"subscriptionStatus,omitempty"`
	Theme       tier.Theme  `json:"consoleTheme,omitempty"`
	TierLoading bool        `json:"tierLoading"`
	Optimistic  bool        `json:"optimistic"`
}

// Loading reports whether gated views must wait.
func (s Snapshot) Loading() bool {
	return !s.AuthLoaded || s.TierLoading
}

// SignedIn reports whether an identity is present.
func (s Snapshot) SignedIn() bool {
	return s.Identity != nil
}

// Resolver tracks one client session. Every identity event bumps a generation counter;
// asynchronous loads and watch pushes carry the generation and identity they were issued for
// and are dropped when either no longer matches.
type Resolver struct {
	store  TierStore
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       Snapshot
	generation  uint64
	stopWatch   context.CancelFunc
	subscribers map[chan Snapshot]struct{}
	closed      bool
}

// NewResolver returns a resolver in the initial loading state.
func NewResolver(store TierStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		store:       store,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Snapshot returns the current state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Resolver) snapshotLocked() Snapshot {
	s := r.state
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}

// HandleIdentity is the identity event entry point. A nil identity signs out synchronously;
// a non-nil identity starts a tier load and reports loading until it resolves.
func (r *Resolver) HandleIdentity(id *Identity) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	r.generation++
	gen := r.generation
	r.stopWatchLocked()

	if id == nil {
		r.state = Snapshot{AuthLoaded: true}
		r.publishLocked()
		r.mu.Unlock()
		return
	}

	identity := *id
	r.state = Snapshot{
		AuthLoaded:  true,
		Identity:    &identity,
		Tier:        tier.TierUnset,
		TierLoading: true,
	}
	r.publishLocked()
	r.startLoadLocked(gen, identity)
	r.mu.Unlock()
}

// Refresh re-reads the Tier Record for the current identity, replacing any optimistic tier.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	if r.closed || r.state.Identity == nil {
		r.mu.Unlock()
		return
	}
	r.generation++
	gen := r.generation
	r.stopWatchLocked()
	identity := *r.state.Identity
	r.state.TierLoading = true
	r.publishLocked()
	r.startLoadLocked(gen, identity)
	r.mu.Unlock()
}

func (r *Resolver) startLoadLocked(gen uint64, identity Identity) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.ctx, loadTimeout)
		rec, err := r.store.Load(ctx, identity.UserID, identity.Email)
		cancel()

		r.applyLoad(gen, identity.UserID, rec, err)
	}()
}

func (r *Resolver) applyLoad(gen uint64, userID string, rec tier.Record, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.currentLocked(gen, userID) {
		r.logger.Debug("discarding stale tier load", slog.String("userId", userID))
		return
	}

	r.state.TierLoading = false
	r.state.Optimistic = false
	if err != nil {
		r.logger.Warn("tier load failed, treating tier as unset", slog.String("userId", userID), slog.Any("error", err))
		r.state.Tier = tier.TierUnset
		r.state.Status = tier.StatusUnset
		r.publishLocked()
		return
	}

	r.state.Tier = rec.Tier
	r.state.Status = rec.SubscriptionStatus
	r.state.Theme = rec.ConsoleTheme
	r.publishLocked()
	r.startWatchLocked(gen, userID)
}

func (r *Resolver) startWatchLocked(gen uint64, userID string) {
	watchCtx, stop := context.WithCancel(r.ctx)
	r.stopWatch = stop
	r.wg.Add(1)
	go r.watch(watchCtx, gen, userID)
}

func (r *Resolver) watch(ctx context.Context, gen uint64, userID string) {
	defer r.wg.Done()

	ch, err := r.store.Watch(ctx, userID)
	if err != nil {
		r.logger.Warn("tier watch unavailable", slog.String("userId", userID), slog.Any("error", err))
		return
	}
	for rec := range ch {
		r.applyPush(gen, userID, rec)
	}
}

func (r *Resolver) applyPush(gen uint64, userID string, rec tier.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.currentLocked(gen, userID) {
		return
	}
	if r.state.Tier == rec.Tier && r.state.Status == rec.SubscriptionStatus && r.state.Theme == rec.ConsoleTheme {
		return
	}
	r.state.Tier = rec.Tier
	r.state.Status = rec.SubscriptionStatus
	r.state.Theme = rec.ConsoleTheme
	r.state.Optimistic = false
	r.publishLocked()
}

func (r *Resolver) currentLocked(gen uint64, userID string) bool {
	return !r.closed &&
		gen == r.generation &&
		r.state.Identity != nil &&
		r.state.Identity.UserID == userID
}

// ApplyTierChange shows t immediately and writes it to the Tier Store in the background.
// Write failures are logged; the next full load reconciles with the stored value.
func (r *Resolver) ApplyTierChange(t tier.Tier) error {
	if t == tier.TierPro {
		return tier.ErrCheckoutRequired
	}
	if t != tier.TierStarter {
		return tier.ErrInvalidTier
	}

	r.mu.Lock()
	if r.closed || r.state.Identity == nil {
		r.mu.Unlock()
		return ErrSignedOut
	}
	userID := r.state.Identity.UserID
	r.state.Tier = t
	r.state.Optimistic = true
	r.publishLocked()
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, loadTimeout)
		defer cancel()
		if err := r.store.SelectTier(ctx, userID, t); err != nil {
			r.logger.Warn("background tier write failed", slog.String("userId", userID), slog.String("tier", string(t)), slog.Any("error", err))
		}
	}()
	return nil
}

// ApplyConfirmedTier records a tier that has already been written, such as after checkout.
// Loads and watch pushes issued before the confirmation are discarded.
func (r *Resolver) ApplyConfirmedTier(t tier.Tier, status tier.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state.Identity == nil {
		return
	}
	r.generation++
	r.stopWatchLocked()

	r.state.Tier = t
	r.state.Status = status
	r.state.TierLoading = false
	r.state.Optimistic = false
	r.publishLocked()
	r.startWatchLocked(r.generation, r.state.Identity.UserID)
}

// ApplyTheme updates the theme shown for this session.
func (r *Resolver) ApplyTheme(theme tier.Theme) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.state.Identity == nil {
		return
	}
	r.state.Theme = theme
	r.publishLocked()
}

// Subscribe streams snapshots after every change. Slow readers only see the latest one.
// The returned func unsubscribes.
func (r *Resolver) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.subscribers[ch] = struct{}{}
	ch <- r.snapshotLocked()
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subscribers[ch]; ok {
				delete(r.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (r *Resolver) publishLocked() {
	snap := r.snapshotLocked()
	for ch := range r.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (r *Resolver) stopWatchLocked() {
	if r.stopWatch != nil {
		r.stopWatch()
		r.stopWatch = nil
	}
}

// Close cancels all background work and closes subscriber channels.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.stopWatchLocked()
	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
