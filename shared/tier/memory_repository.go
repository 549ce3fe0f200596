package tier

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.Mutex
	store    map[string]Record
	watchers map[string]map[chan Record]struct{}
	now      func() time.Time
}

// NewMemoryRepository returns an in-memory repository intended for local development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		store:    make(map[string]Record),
		watchers: make(map[string]map[chan Record]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryRepository) Get(_ context.Context, userID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *memoryRepository) Merge(_ context.Context, userID string, update Update) error {
	if update.IsEmpty() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store[userID]
	if !ok {
		rec = Record{UserID: userID}
	}
	update.ApplyTo(&rec)
	rec.UpdatedAt = r.now()
	r.store[userID] = rec

	for ch := range r.watchers[userID] {
		deliverLatest(ch, rec)
	}
	return nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Record, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Record{}, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.store {
		if rec.Email == email {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (r *memoryRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.store, userID)
	return nil
}

func (r *memoryRepository) Watch(ctx context.Context, userID string) (<-chan Record, error) {
	ch := make(chan Record, 1)

	r.mu.Lock()
	subs, ok := r.watchers[userID]
	if !ok {
		subs = make(map[chan Record]struct{})
		r.watchers[userID] = subs
	}
	subs[ch] = struct{}{}
	if rec, exists := r.store[userID]; exists {
		ch <- rec
	}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.watchers[userID], ch)
		if len(r.watchers[userID]) == 0 {
			delete(r.watchers, userID)
		}
		close(ch)
	}()

	return ch, nil
}

// deliverLatest replaces any undelivered value so slow watchers only see the newest record.
// Callers hold r.mu, which is the only place values are sent.
func deliverLatest(ch chan Record, rec Record) {
	select {
	case <-ch:
	default:
	}
	ch <- rec
}
