package account

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snapquant/services/shared/retry"
)

type fakeRecords struct {
	deleteFn func(ctx context.Context, userID string) error
}

func (f *fakeRecords) Delete(ctx context.Context, userID string) error {
	return f.deleteFn(ctx, userID)
}

type fakeScripts struct {
	purged atomic.Int32
}

func (f *fakeScripts) Purge(context.Context, string) error {
	f.purged.Add(1)
	return nil
}

func instantPolicy() retry.Policy {
	p := retry.Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestDeleteRequiresRecentLogin(t *testing.T) {
	records := &fakeRecords{deleteFn: func(context.Context, string) error {
		t.Fatal("record must not be deleted")
		return nil
	}}
	d := NewDeleter(records, nil, 5*time.Minute, instantPolicy(), nil)

	for _, authTime := range []time.Time{{}, time.Now().Add(-10 * time.Minute)} {
		if err := d.Delete(context.Background(), User{ID: "uid-1", AuthTime: authTime}); !errors.Is(err, ErrRequiresRecentLogin) {
			t.Fatalf("expected ErrRequiresRecentLogin, got %v", err)
		}
	}
}

func TestDeleteRemovesRecordAndScripts(t *testing.T) {
	var deleted string
	records := &fakeRecords{deleteFn: func(_ context.Context, userID string) error {
		deleted = userID
		return nil
	}}
	scripts := &fakeScripts{}

	d := NewDeleter(records, scripts, 0, instantPolicy(), nil)
	if err := d.Delete(context.Background(), User{ID: "uid-1", AuthTime: time.Now()}); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if deleted != "uid-1" || scripts.purged.Load() != 1 {
		t.Fatalf("expected record and scripts removed, got record=%q purges=%d", deleted, scripts.purged.Load())
	}
}

func TestDeleteRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	records := &fakeRecords{deleteFn: func(context.Context, string) error {
		calls.Add(1)
		return errors.New("unavailable")
	}}

	d := NewDeleter(records, &fakeScripts{}, 0, instantPolicy(), nil)
	err := d.Delete(context.Background(), User{ID: "uid-1", AuthTime: time.Now()})
	if !errors.Is(err, ErrDeletionFailed) {
		t.Fatalf("expected ErrDeletionFailed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDeleteRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	records := &fakeRecords{deleteFn: func(context.Context, string) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}}

	d := NewDeleter(records, nil, 0, instantPolicy(), nil)
	if err := d.Delete(context.Background(), User{ID: "uid-1", AuthTime: time.Now()}); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}
